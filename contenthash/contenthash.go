// Package contenthash derives the optional content-canonical fingerprint
// (dataHash) over a PDF's visible text layer. Unlike the document hash it
// survives raster-only edits: only the token bag of the text matters.
package contenthash

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"justifai.co/issuance/canonical"
	"justifai.co/issuance/hashkit"
	"justifai.co/issuance/pdf"
)

// Version tags the canonical payload shape.
const Version = 1

// MaxPages bounds text extraction.
const MaxPages = 20

var replacer = strings.NewReplacer(
	"‘", "'", "’", "'", "‚", "'", "‛", "'",
	"“", `"`, "”", `"`, "„", `"`, "‟", `"`,
	"–", "-", "—", "-", "―", "-", "−", "-",
	" ", " ", " ", " ", " ", " ", " ", " ",
)

// NormalizeText lowercases, NFKC-normalizes, and unifies smart quotes,
// dashes, and exotic spaces.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = replacer.Replace(s)
	return strings.ToLower(s)
}

// Tokenize splits normalized text into letter/digit runs and short
// punctuation runs. Long punctuation runs (rules, borders) are dropped, and
// fragmented single-letter runs are merged back into words.
func Tokenize(s string) []string {
	var tokens []string
	var cur []rune
	var curKind int // 0 none, 1 word, 2 punct

	flush := func() {
		if len(cur) == 0 {
			curKind = 0
			return
		}
		tok := string(cur)
		if curKind == 2 && len(cur) > 4 {
			// A long run of punctuation is decoration, not content.
			cur = cur[:0]
			curKind = 0
			return
		}
		tokens = append(tokens, tok)
		cur = cur[:0]
		curKind = 0
	}

	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			if curKind == 2 {
				flush()
			}
			cur = append(cur, r)
			curKind = 1
		case r == '.' || r == ',' || r == '-' || r == '/':
			if curKind == 1 {
				flush()
			}
			cur = append(cur, r)
			curKind = 2
		default:
			flush()
		}
	}
	flush()
	return mergeFragments(tokens)
}

// mergeFragments joins consecutive runs of single letters back into one
// word. Some PDF producers emit each glyph as its own text operation.
func mergeFragments(tokens []string) []string {
	var out []string
	i := 0
	for i < len(tokens) {
		if isSingleLetter(tokens[i]) {
			j := i
			for j < len(tokens) && isSingleLetter(tokens[j]) {
				j++
			}
			if j-i >= 2 {
				out = append(out, strings.Join(tokens[i:j], ""))
				i = j
				continue
			}
		}
		out = append(out, tokens[i])
		i++
	}
	return out
}

func isSingleLetter(tok string) bool {
	runes := []rune(tok)
	return len(runes) == 1 && unicode.IsLetter(runes[0])
}

// TokenCounts builds the token bag.
func TokenCounts(tokens []string) map[string]any {
	counts := make(map[string]any, len(tokens))
	for _, tok := range tokens {
		if n, ok := counts[tok].(int64); ok {
			counts[tok] = n + 1
		} else {
			counts[tok] = int64(1)
		}
	}
	return counts
}

// FromText hashes already-extracted text.
func FromText(text string) (string, error) {
	tokens := Tokenize(NormalizeText(text))
	payload := map[string]any{
		"v":          int64(Version),
		"counts":     TokenCounts(tokens),
		"tokenCount": int64(len(tokens)),
	}
	canon, err := canonical.Canonicalize(payload)
	if err != nil {
		return "", err
	}
	return hashkit.Keccak256Hex(canon), nil
}

// FromPDF extracts the text layer of up to MaxPages pages and hashes it.
func FromPDF(pdfBytes []byte) (string, error) {
	doc, err := pdf.Parse(pdfBytes)
	if err != nil {
		return "", err
	}
	return FromText(doc.Text(MaxPages))
}

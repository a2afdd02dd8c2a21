package pdf

import (
	"bytes"
	"strings"
	"time"
)

// PageText extracts the text-showing operands (Tj, ', ", TJ) of one page's
// content streams, in stream order, joined by spaces.
func (d *Document) PageText(pageIndex int) string {
	pages := d.Pages()
	if pageIndex < 0 || pageIndex >= len(pages) {
		return ""
	}
	page, _ := d.GetDict(pages[pageIndex])
	var parts []string
	for _, content := range d.contentStreams(page) {
		parts = append(parts, extractText(content)...)
	}
	return strings.Join(parts, " ")
}

// Text extracts the text layer of up to maxPages pages (0 = all), one line
// per page.
func (d *Document) Text(maxPages int) string {
	pages := d.Pages()
	if maxPages > 0 && len(pages) > maxPages {
		pages = pages[:maxPages]
	}
	var out []string
	for i := range pages {
		out = append(out, d.PageText(i))
	}
	return strings.Join(out, "\n")
}

func (d *Document) contentStreams(page Dict) [][]byte {
	var out [][]byte
	appendStream := func(v any) {
		if stm, ok := d.GetStream(v); ok {
			if plain, err := DecodeStream(d, stm); err == nil {
				out = append(out, plain)
			}
		}
	}
	switch contents := page["Contents"].(type) {
	case Array:
		for _, c := range contents {
			appendStream(c)
		}
	default:
		if arr, ok := d.GetArray(contents); ok {
			for _, c := range arr {
				appendStream(c)
			}
		} else {
			appendStream(contents)
		}
	}
	return out
}

// extractText scans a content stream for text-showing operators and returns
// their string operands in order.
func extractText(content []byte) []string {
	var out []string
	p := &parser{data: content}
	var pendingStrings []String
	var pendingArray Array

	flushOp := func(op string) {
		switch op {
		case "Tj", "'", `"`:
			for _, s := range pendingStrings {
				out = append(out, string(s))
			}
		case "TJ":
			var b strings.Builder
			for _, el := range pendingArray {
				if s, ok := el.(String); ok {
					b.Write([]byte(s))
				}
			}
			if b.Len() > 0 {
				out = append(out, b.String())
			}
		}
		pendingStrings = pendingStrings[:0]
		pendingArray = nil
	}

	for !p.eof() {
		p.skipWS()
		if p.eof() {
			break
		}
		c := p.data[p.pos]
		switch {
		case c == '(':
			if s, err := p.parseLiteralString(); err == nil {
				pendingStrings = append(pendingStrings, s)
			} else {
				p.pos++
			}
		case c == '<' && p.pos+1 < len(p.data) && p.data[p.pos+1] == '<':
			if _, err := p.parseDictOrStream(); err != nil {
				p.pos++
			}
		case c == '<':
			if s, err := p.parseHexString(); err == nil {
				pendingStrings = append(pendingStrings, s)
			} else {
				p.pos++
			}
		case c == '[':
			if arr, err := p.parseArray(); err == nil {
				pendingArray = arr
			} else {
				p.pos++
			}
		case c == '/':
			_, _ = p.parseName()
		case (c >= '0' && c <= '9') || c == '+' || c == '-' || c == '.':
			if _, err := p.parseNumberOrRef(); err != nil {
				p.pos++
			}
		default:
			start := p.pos
			for !p.eof() && !isWS(p.data[p.pos]) && !isDelim(p.data[p.pos]) {
				p.pos++
			}
			if p.pos == start {
				p.pos++
				continue
			}
			flushOp(string(p.data[start:p.pos]))
		}
	}
	return out
}

// NormalizeWhitespace collapses runs of whitespace to single spaces and
// trims; the text-equality heuristic compares under this normalization.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CountAnnotations counts page annotations across the document.
func (d *Document) CountAnnotations() int {
	n := 0
	for _, pageRef := range d.Pages() {
		page, _ := d.GetDict(pageRef)
		if annots, ok := d.GetArray(page["Annots"]); ok {
			n += len(annots)
		}
	}
	return n
}

// CountImages counts image XObjects across the document, SMasks excluded.
func (d *Document) CountImages() int {
	smasks := map[int]bool{}
	for _, obj := range d.Objects {
		if stm, ok := obj.(*Stream); ok {
			if ref, ok := stm.Dict["SMask"].(Ref); ok {
				smasks[ref.Num] = true
			}
		}
	}
	n := 0
	for num, obj := range d.Objects {
		stm, ok := obj.(*Stream)
		if !ok || smasks[num] {
			continue
		}
		if stm.Dict["Subtype"] == Name("Image") {
			n++
		}
	}
	return n
}

// StartxrefCount counts startxref markers in the original byte image; more
// than one indicates incremental updates.
func (d *Document) StartxrefCount() int {
	if d.Source == nil {
		return 1
	}
	return bytes.Count(d.Source, []byte("startxref"))
}

// Producer returns the Info dictionary's producer string.
func (d *Document) Producer() string {
	info, ok := d.GetDict(d.Trailer["Info"])
	if !ok {
		return ""
	}
	if s, ok := d.GetString(info["Producer"]); ok {
		return DecodeTextString(s)
	}
	return ""
}

// InfoDate returns a parsed Info date entry ("CreationDate", "ModDate").
func (d *Document) InfoDate(key string) (time.Time, bool) {
	info, ok := d.GetDict(d.Trailer["Info"])
	if !ok {
		return time.Time{}, false
	}
	s, ok := d.GetString(info[Name(key)])
	if !ok {
		return time.Time{}, false
	}
	return ParsePDFDate(DecodeTextString(s))
}

package pdf

import (
	"fmt"
	"strings"
	"time"
)

// Builder assembles a simple text-only PDF. It exists for the stub renderer
// and for tests; production rendering is an external collaborator.
type Builder struct {
	width    float64
	height   float64
	pages    [][]string
	producer string
	created  time.Time
}

// NewBuilder starts a document with the given page size in points.
func NewBuilder(width, height float64) *Builder {
	return &Builder{width: width, height: height, created: time.Now().UTC()}
}

// A4 page size in points.
const (
	A4Width  = 595.28
	A4Height = 841.89
)

// SetProducer overrides the Producer/Creator metadata.
func (b *Builder) SetProducer(producer string) *Builder {
	b.producer = producer
	return b
}

// SetCreated pins the creation timestamp (tests use a fixed clock).
func (b *Builder) SetCreated(t time.Time) *Builder {
	b.created = t.UTC()
	return b
}

// AddPage appends a page with the given text lines.
func (b *Builder) AddPage(lines ...string) *Builder {
	b.pages = append(b.pages, lines)
	return b
}

func escapeText(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "(", `\(`)
	s = strings.ReplaceAll(s, ")", `\)`)
	return s
}

// Build serializes the document.
func (b *Builder) Build() []byte {
	doc := &Document{Objects: make(map[int]any), Trailer: Dict{}}
	if len(b.pages) == 0 {
		b.pages = [][]string{nil}
	}

	fontRef := doc.Add(Dict{
		Name("Type"):     Name("Font"),
		Name("Subtype"):  Name("Type1"),
		Name("BaseFont"): Name("Helvetica"),
	})

	pagesDict := Dict{Name("Type"): Name("Pages")}
	pagesRef := doc.Add(pagesDict)

	var kids Array
	for _, lines := range b.pages {
		var content strings.Builder
		content.WriteString("BT\n/F1 12 Tf\n")
		y := b.height - 72
		for _, line := range lines {
			fmt.Fprintf(&content, "1 0 0 1 72 %.2f Tm\n(%s) Tj\n", y, escapeText(line))
			y -= 16
		}
		content.WriteString("ET\n")
		contentRef := doc.Add(NewFlateStream([]byte(content.String()), nil))

		page := Dict{
			Name("Type"):     Name("Page"),
			Name("Parent"):   pagesRef,
			Name("MediaBox"): Array{int64(0), int64(0), b.width, b.height},
			Name("Contents"): contentRef,
			Name("Resources"): Dict{
				Name("Font"): Dict{Name("F1"): fontRef},
			},
		}
		kids = append(kids, doc.Add(page))
	}
	pagesDict[Name("Kids")] = kids
	pagesDict[Name("Count")] = int64(len(kids))

	catRef := doc.Add(Dict{
		Name("Type"):  Name("Catalog"),
		Name("Pages"): pagesRef,
	})
	doc.Trailer["Root"] = catRef

	producer := b.producer
	if producer == "" {
		producer = DefaultProducer
	}
	date := pdfDate(b.created)
	doc.Trailer["Info"] = doc.Add(Dict{
		Name("Producer"):     String(producer),
		Name("Creator"):      String(producer),
		Name("CreationDate"): String(date),
		Name("ModDate"):      String(date),
	})
	return doc.Write()
}

// DefaultProducer is the library's own producer string; verification treats
// it as a benign producer alongside the issuer name.
const DefaultProducer = "justifai-pdf"

// SimpleTextPDF is a one-page convenience wrapper around Builder.
func SimpleTextPDF(lines ...string) []byte {
	return NewBuilder(A4Width, A4Height).AddPage(lines...).Build()
}

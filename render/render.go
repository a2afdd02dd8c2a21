// Package render declares the HTML-to-PDF collaborator interface the
// generate loop drives, plus the template parameter substitution both the
// real renderer and the stub share. Production rendering (a headless
// browser) lives outside this module.
package render

import (
	"bytes"
	"context"
	"html/template"
	"regexp"
	"strings"

	"justifai.co/issuance/model"
	"justifai.co/issuance/pdf"
)

// Renderer turns template HTML plus job data into PDF bytes. Rendering is
// I/O-bound (a browser page load) and must honor ctx cancellation.
type Renderer interface {
	Render(ctx context.Context, html string, data map[string]any) ([]byte, error)
}

// Expand substitutes {{name}} template parameters with job data values.
// Unknown parameters render empty.
func Expand(source string, data map[string]any) (string, error) {
	// Templates use bare {{name}} placeholders; html/template wants dotted
	// field access.
	normalized := placeholder.ReplaceAllString(source, "{{index . \"$1\"}}")
	tpl, err := template.New("certificate").Parse(normalized)
	if err != nil {
		return "", model.WrapError(model.KindValidation, "JF-RENDER-001", "template does not parse", err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", model.WrapError(model.KindValidation, "JF-RENDER-002", "template execution failed", err)
	}
	return buf.String(), nil
}

var placeholder = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Stub renders the expanded HTML's visible text into a minimal PDF. It
// stands in for the browser renderer in tests and local development.
type Stub struct{}

func (Stub) Render(ctx context.Context, html string, data map[string]any) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	expanded, err := Expand(html, data)
	if err != nil {
		return nil, err
	}
	return pdf.SimpleTextPDF(visibleLines(expanded)...), nil
}

var (
	styleBlock = regexp.MustCompile(`(?s)<style[^>]*>.*?</style>`)
	scriptTag  = regexp.MustCompile(`(?s)<script[^>]*>.*?</script>`)
	anyTag     = regexp.MustCompile(`<[^>]+>`)
)

// visibleLines strips markup and returns the non-empty text lines.
func visibleLines(html string) []string {
	html = styleBlock.ReplaceAllString(html, "")
	html = scriptTag.ReplaceAllString(html, "")
	html = strings.NewReplacer("</p>", "\n", "</h1>", "\n", "</h2>", "\n", "</h3>", "\n", "<br>", "\n", "<br/>", "\n", "</div>", "\n").Replace(html)
	html = anyTag.ReplaceAllString(html, "")
	var out []string
	for _, line := range strings.Split(html, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

package render

import (
	"context"
	"strings"
	"testing"

	"justifai.co/issuance/pdf"
)

func TestExpand(t *testing.T) {
	out, err := Expand("<h1>{{ name }}</h1><p>{{course}}</p>", map[string]any{"name": "Alice", "course": "Go"})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if !strings.Contains(out, "Alice") || !strings.Contains(out, "Go") {
		t.Fatalf("expansion lost values: %s", out)
	}
	// Unknown parameters render empty, not as errors.
	out, err = Expand("<p>{{missing}}</p>", map[string]any{})
	if err != nil {
		t.Fatalf("Expand missing: %v", err)
	}
	if strings.Contains(out, "missing") {
		t.Fatalf("placeholder leaked: %s", out)
	}
}

func TestExpandEscapesHTML(t *testing.T) {
	out, err := Expand("<p>{{name}}</p>", map[string]any{"name": "<script>alert(1)</script>"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "<script>alert") {
		t.Fatal("data injected unescaped markup")
	}
}

func TestStubRendersReadablePDF(t *testing.T) {
	stub := Stub{}
	out, err := stub.Render(context.Background(),
		"<style>.qr-placeholder{left:1px}</style><h1>Certificate</h1><p>Awarded to {{name}}</p>",
		map[string]any{"name": "Alice"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	doc, err := pdf.Parse(out)
	if err != nil {
		t.Fatalf("stub output does not parse: %v", err)
	}
	text := doc.Text(0)
	if !strings.Contains(text, "Certificate") || !strings.Contains(text, "Awarded to Alice") {
		t.Fatalf("text = %q", text)
	}
	if strings.Contains(text, "qr-placeholder") {
		t.Fatal("style block leaked into visible text")
	}
}

func TestStubHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (Stub{}).Render(ctx, "<p>x</p>", nil); err == nil {
		t.Fatal("canceled context not honored")
	}
}

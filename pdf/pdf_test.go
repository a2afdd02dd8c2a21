package pdf

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func buildSample(t *testing.T, lines ...string) *Document {
	t.Helper()
	raw := SimpleTextPDF(lines...)
	doc, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return doc
}

func TestBuildParseRoundTrip(t *testing.T) {
	doc := buildSample(t, "Certificate of Completion", "Awarded to Alice")
	if got := len(doc.Pages()); got != 1 {
		t.Fatalf("pages = %d, want 1", got)
	}
	text := doc.Text(0)
	if !strings.Contains(text, "Certificate of Completion") || !strings.Contains(text, "Awarded to Alice") {
		t.Fatalf("text extraction lost content: %q", text)
	}
	w, h, err := doc.PageSize(0)
	if err != nil {
		t.Fatalf("PageSize: %v", err)
	}
	if w != A4Width || h != A4Height {
		t.Fatalf("page size = %f x %f", w, h)
	}
}

func TestWriteIsSingleXref(t *testing.T) {
	doc := buildSample(t, "one")
	out := doc.Write()
	if bytes.Count(out, []byte("startxref")) != 1 {
		t.Fatal("writer must emit exactly one startxref")
	}
	// Reparse the written form.
	again, err := Parse(out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if again.StartxrefCount() != 1 {
		t.Fatalf("startxref count = %d", again.StartxrefCount())
	}
	if !strings.Contains(again.Text(0), "one") {
		t.Fatal("text lost across rewrite")
	}
}

func TestAttachAndExtract(t *testing.T) {
	doc := buildSample(t, "carrier")
	payload := []byte(`{"documentHash":"ab","merkleLeaf":"cd"}`)
	if err := doc.AttachFile("Justifai_Verification_Bundle.json", "application/json", payload); err != nil {
		t.Fatalf("AttachFile: %v", err)
	}
	original := []byte("%PDF-1.7 original bytes")
	if err := doc.AttachFile("Justifai_Original_PDF.pdf", "application/pdf", original); err != nil {
		t.Fatalf("AttachFile: %v", err)
	}

	reparsed, err := Parse(doc.Write())
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	files := reparsed.EmbeddedFiles()
	if len(files) != 2 {
		t.Fatalf("embedded files = %d, want 2", len(files))
	}
	byName := map[string][]byte{}
	for _, f := range files {
		byName[f.Name] = f.Data
	}
	if !bytes.Equal(byName["Justifai_Verification_Bundle.json"], payload) {
		t.Fatal("bundle bytes did not round-trip")
	}
	if !bytes.Equal(byName["Justifai_Original_PDF.pdf"], original) {
		t.Fatal("original PDF bytes did not round-trip")
	}
}

func TestUTF16NameDecoding(t *testing.T) {
	enc := utf16String("Justifai_Original_PDF.pdf")
	if enc[0] != 0xFE || enc[1] != 0xFF {
		t.Fatal("missing BOM")
	}
	if DecodeTextString(enc) != "Justifai_Original_PDF.pdf" {
		t.Fatal("UTF-16BE name did not decode")
	}
	if DecodeTextString(String("plain")) != "plain" {
		t.Fatal("plain string altered")
	}
}

func TestMarkerAnnotation(t *testing.T) {
	doc := buildSample(t, "page")
	if doc.HasMarkerAnnotation() {
		t.Fatal("fresh document carries marker")
	}
	if err := doc.AddMarkerAnnotation(0); err != nil {
		t.Fatalf("AddMarkerAnnotation: %v", err)
	}
	reparsed, err := Parse(doc.Write())
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if !reparsed.HasMarkerAnnotation() {
		t.Fatal("marker lost across rewrite")
	}
	if reparsed.CountAnnotations() != 1 {
		t.Fatalf("annotations = %d, want 1", reparsed.CountAnnotations())
	}
}

func TestDrawImageAddsOneImage(t *testing.T) {
	doc := buildSample(t, "page")
	if doc.CountImages() != 0 {
		t.Fatal("fresh document has images")
	}
	pngBytes := tinyPNG(t)
	if err := doc.DrawImagePNG(0, pngBytes, 100, 100, 96, 96); err != nil {
		t.Fatalf("DrawImagePNG: %v", err)
	}
	reparsed, err := Parse(doc.Write())
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if reparsed.CountImages() != 1 {
		t.Fatalf("images = %d, want 1", reparsed.CountImages())
	}
	// Drawing must not disturb the text layer.
	if NormalizeWhitespace(reparsed.Text(0)) != "page" {
		t.Fatalf("text layer changed: %q", reparsed.Text(0))
	}
}

func TestMetadata(t *testing.T) {
	doc := buildSample(t, "page")
	ts := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	doc.SetMetadata("Justifai Issuer", "Justifai Issuer", ts)
	reparsed, err := Parse(doc.Write())
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if reparsed.Producer() != "Justifai Issuer" {
		t.Fatalf("producer = %q", reparsed.Producer())
	}
	created, ok := reparsed.InfoDate("CreationDate")
	if !ok || !created.Equal(ts) {
		t.Fatalf("creation date = %v ok=%v", created, ok)
	}
	mod, ok := reparsed.InfoDate("ModDate")
	if !ok || !mod.Equal(ts) {
		t.Fatalf("mod date = %v ok=%v", mod, ok)
	}
}

func TestIncrementalUpdateDetection(t *testing.T) {
	raw := SimpleTextPDF("page")
	// Append a crude incremental update.
	tampered := append(append([]byte{}, raw...), []byte("\n999 0 obj\n<< /Type /Annot >>\nendobj\nstartxref\n0\n%%EOF\n")...)
	doc, err := Parse(tampered)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.StartxrefCount() != 2 {
		t.Fatalf("startxref count = %d, want 2", doc.StartxrefCount())
	}
}

func TestParseRejectsNonPDF(t *testing.T) {
	if _, err := Parse([]byte("hello world")); err == nil {
		t.Fatal("non-PDF accepted")
	}
}

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	return buildTinyPNG()
}

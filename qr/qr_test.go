package qr

import (
	"bytes"
	"strings"
	"testing"

	"justifai.co/issuance/hashkit"
)

func sampleContext() JobContext {
	ed := int64(1699833600)
	return JobContext{
		JobID:          "job-1",
		BatchID:        "batch-1",
		TenantID:       "tenant-1",
		TemplateID:     "tpl-1",
		TemplateHTML:   "<h1>{{name}}</h1>",
		TemplateParams: []string{"name"},
		Data:           map[string]any{"name": "Alice", "internal": "dropped"},
		DocumentHash:   hashkit.Keccak256Hex([]byte("pdf")),
		TxHash:         "0xabc",
		Network:        "amoy",
		MPU:            []string{"aa"},
		MPI:            []string{"bb", "cc"},
		IssuerID:       "tenant-1",
		MRI:            hashkit.Keccak256Hex([]byte("mri")),
		MRU:            hashkit.Keccak256Hex([]byte("mru")),
		Ed:             &ed,
		SI:             "deadbeef",
	}
}

func TestBuildPayload(t *testing.T) {
	p, err := Build(sampleContext())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.V != 2 {
		t.Fatalf("v = %d, want 2", p.V)
	}
	if p.TemplateHash != hashkit.Keccak256Hex([]byte("<h1>{{name}}</h1>")) {
		t.Fatal("templateHash is not keccak of the template source")
	}
	if _, ok := p.Fields["internal"]; ok {
		t.Fatal("undeclared field leaked into payload")
	}
	if p.Fields["name"] != "Alice" {
		t.Fatal("declared field missing")
	}
	if p.FieldsHash == "" || len(p.FieldsHash) != 64 {
		t.Fatalf("fieldsHash = %q", p.FieldsHash)
	}
	if p.Ei != nil {
		t.Fatal("unset Ei must serialize as null")
	}
}

func TestFieldsHashIsCanonical(t *testing.T) {
	h1, err := FieldsHash("tpl", "th", map[string]any{"b": "2", "a": "1"})
	if err != nil {
		t.Fatal(err)
	}
	h2, err := FieldsHash("tpl", "th", map[string]any{"a": "1", "b": "2"})
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("field order changed the fields hash")
	}
}

func TestSelectFieldsNoDeclaration(t *testing.T) {
	data := map[string]any{"x": 1}
	if got := SelectFields(data, nil); len(got) != 1 {
		t.Fatal("empty declaration must pass the whole input")
	}
}

func TestCompressRoundTrip(t *testing.T) {
	p, err := Build(sampleContext())
	if err != nil {
		t.Fatal(err)
	}
	frag, err := Compress(p)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if strings.ContainsAny(frag, "+/=") {
		t.Fatal("fragment is not base64url without padding")
	}
	back, err := Decompress(frag)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if back.JobID != p.JobID || back.FieldsHash != p.FieldsHash || back.MRU != p.MRU {
		t.Fatal("payload did not round-trip")
	}
	if back.Ed == nil || *back.Ed != *p.Ed {
		t.Fatal("Ed did not round-trip")
	}
	if _, err := Decompress("!!!"); err == nil {
		t.Fatal("garbage fragment accepted")
	}
}

func TestLinkContent(t *testing.T) {
	p, err := Build(sampleContext())
	if err != nil {
		t.Fatal(err)
	}
	link, err := LinkContent(p, "https://verify.justifai.co", "")
	if err != nil {
		t.Fatal(err)
	}
	if link != "https://verify.justifai.co/verify?jobId=job-1" {
		t.Fatalf("short link = %s", link)
	}
	full, err := LinkContent(p, "", "https://qr.justifai.co")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(full, "https://qr.justifai.co/verify?p=") {
		t.Fatalf("payload link = %s", full)
	}
	frag := strings.TrimPrefix(full, "https://qr.justifai.co/verify?p=")
	if _, err := Decompress(frag); err != nil {
		t.Fatalf("link fragment does not decompress: %v", err)
	}
}

func TestRenderPNG(t *testing.T) {
	png, err := RenderPNG("https://verify.justifai.co/verify?jobId=x", RenderOptions{})
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	if !bytes.HasPrefix(png, []byte{0x89, 'P', 'N', 'G'}) {
		t.Fatal("output is not a PNG")
	}
}

func TestRenderArtifactFallsBack(t *testing.T) {
	// Far beyond any QR capacity at any correction level.
	huge := strings.Repeat("justifai", 2000)
	png, encoded, err := RenderArtifact(huge, "job-9", "https://verify.justifai.co", "", RenderOptions{})
	if err != nil {
		t.Fatalf("RenderArtifact: %v", err)
	}
	if len(png) == 0 {
		t.Fatal("no PNG produced")
	}
	if encoded != "https://verify.justifai.co/verify?jobId=job-9" {
		t.Fatalf("fallback content = %s", encoded)
	}
}

func TestFallbackMinimalJSON(t *testing.T) {
	if FallbackMinimalJSON("j") != `{"jobId":"j"}` {
		t.Fatal("minimal fallback shape changed")
	}
}

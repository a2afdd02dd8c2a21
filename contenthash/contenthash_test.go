package contenthash

import (
	"reflect"
	"testing"

	"justifai.co/issuance/pdf"
)

func TestNormalizeUnifiesTypography(t *testing.T) {
	a := NormalizeText("“Alice” — Certificate")
	b := NormalizeText(`"alice" - certificate`)
	if a != b {
		t.Fatalf("typography variants differ: %q vs %q", a, b)
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("issued 2023-11-13 to alice.")
	want := []string{"issued", "2023", "-", "11", "-", "13", "to", "alice", "."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tokens = %v, want %v", got, want)
	}
}

func TestTokenizeDropsDecorations(t *testing.T) {
	got := Tokenize("name ---------- value")
	want := []string{"name", "value"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tokens = %v, want %v", got, want)
	}
}

func TestFragmentedLettersMerge(t *testing.T) {
	got := Tokenize("c e r t i f i c a t e")
	want := []string{"certificate"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tokens = %v, want %v", got, want)
	}
}

func TestHashIgnoresTokenOrder(t *testing.T) {
	h1, err := FromText("alpha beta gamma")
	if err != nil {
		t.Fatal(err)
	}
	h2, err := FromText("gamma alpha beta")
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("token order changed the bag hash")
	}
	h3, err := FromText("alpha beta beta gamma")
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h3 {
		t.Fatal("different multiplicity produced the same hash")
	}
}

func TestFromPDFStableAcrossRewrite(t *testing.T) {
	raw := pdf.SimpleTextPDF("Certificate of Completion", "Awarded to Alice")
	h1, err := FromPDF(raw)
	if err != nil {
		t.Fatalf("FromPDF: %v", err)
	}
	doc, err := pdf.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := FromPDF(doc.Write())
	if err != nil {
		t.Fatalf("FromPDF rewrite: %v", err)
	}
	if h1 != h2 {
		t.Fatal("dataHash changed across a content-preserving rewrite")
	}
}

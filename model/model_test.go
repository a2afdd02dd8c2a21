package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestBundleMarshalShape(t *testing.T) {
	ed := "2023-11-13T00:00:00Z"
	b := &Bundle{
		DocumentHash:           "aa",
		FingerprintHash:        "bb",
		IssuerSignature:        "cc",
		MerkleLeaf:             "dd",
		ExpiryDate:             &ed,
		MerkleRootIntermediate: "ee",
		MerkleRootUltimate:     "ff",
	}
	raw, err := MarshalBundle(b)
	if err != nil {
		t.Fatalf("MarshalBundle: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	// Null timestamps serialize as explicit nulls, not omitted keys.
	if string(m["invalidationExpiry"]) != "null" {
		t.Fatalf("invalidationExpiry = %s", m["invalidationExpiry"])
	}
	if string(m["expiryDate"]) != `"2023-11-13T00:00:00Z"` {
		t.Fatalf("expiryDate = %s", m["expiryDate"])
	}
}

func TestParseBundleRoundTrip(t *testing.T) {
	b := &Bundle{DocumentHash: "aa", MerkleLeaf: "bb", MerkleProofIntermediate: []string{"cc"}}
	raw, err := MarshalBundle(b)
	if err != nil {
		t.Fatal(err)
	}
	back, err := ParseBundle(raw)
	if err != nil {
		t.Fatalf("ParseBundle: %v", err)
	}
	if back.DocumentHash != "aa" || len(back.MerkleProofIntermediate) != 1 {
		t.Fatalf("bundle = %+v", back)
	}
}

func TestParseBundleRejectsUnrelatedJSON(t *testing.T) {
	if _, err := ParseBundle([]byte(`{"title":"just a pdf subject"}`)); err == nil {
		t.Fatal("unrelated JSON accepted as bundle")
	}
	if _, err := ParseBundle([]byte(`not json`)); err == nil {
		t.Fatal("garbage accepted")
	}
}

func TestLooksLikeBundle(t *testing.T) {
	if !LooksLikeBundle([]byte(`{"merkleRootIntermediate":"ab"}`)) {
		t.Fatal("bundle-ish JSON rejected")
	}
	if LooksLikeBundle([]byte(`{"other":"x"}`)) {
		t.Fatal("unrelated JSON recognized")
	}
	if LooksLikeBundle([]byte(`[1,2]`)) {
		t.Fatal("array recognized")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	base := NewError(KindMerkle, "JF-MERKLE-001", "boom")
	wrapped := WrapError(KindChain, "JF-CHAIN-002", "outer", base)
	if !IsKind(wrapped, KindChain) {
		t.Fatal("outer kind lost")
	}
	if RuleID(wrapped) != "JF-CHAIN-002" {
		t.Fatalf("rule id = %s", RuleID(wrapped))
	}
	if !errors.Is(wrapped, wrapped) || errors.Unwrap(wrapped) != base {
		t.Fatal("unwrap chain broken")
	}
	var e *Error
	if !errors.As(wrapped, &e) || e.Message != "outer" {
		t.Fatal("errors.As failed")
	}
	if IsKind(errors.New("plain"), KindChain) {
		t.Fatal("plain error matched a kind")
	}
}

func TestISOTime(t *testing.T) {
	if ISOTime(nil) != nil {
		t.Fatal("nil time must stay nil")
	}
	ts := time.Date(2026, 8, 6, 15, 4, 5, 0, time.FixedZone("X", 3600))
	got := ISOTime(&ts)
	if got == nil || !strings.HasSuffix(*got, "Z") || !strings.HasPrefix(*got, "2026-08-06T14:04:05") {
		t.Fatalf("iso = %v", got)
	}
}

func TestJobPredicates(t *testing.T) {
	j := &Job{Status: JobGenerated, CertificatePath: "a", QRCodePath: "b"}
	if !j.AwaitingAugment() {
		t.Fatal("job with artifacts and no augmented PDF must await augment")
	}
	j.CertificateWithQRPath = "c"
	if j.AwaitingAugment() {
		t.Fatal("augmented job still awaiting")
	}
	if (&Job{}).Signed() {
		t.Fatal("empty job reports signed")
	}
}

package model

import (
	"encoding/json"
	"time"
)

// Bundle is the verification bundle (VD) embedded into augmented PDFs and
// returned over the wire. It is self-contained: together with the original
// PDF bytes it proves issuance offline, and together with the recorded
// transaction it proves anchoring on chain.
//
// All hex strings are lowercase without 0x prefix. Dates are ISO-8601 UTC
// or null.
type Bundle struct {
	DocumentHash            string   `json:"documentHash"`
	DocumentFingerprint     string   `json:"documentFingerprint"`
	FingerprintHash         string   `json:"fingerprintHash"`
	IssuerSignature         string   `json:"issuerSignature"`
	MerkleLeaf              string   `json:"merkleLeaf"`
	ExpiryDate              *string  `json:"expiryDate"`
	InvalidationExpiry      *string  `json:"invalidationExpiry"`
	IssuerID                string   `json:"issuerId"`
	IssuerPublicKey         string   `json:"issuerPublicKey"`
	MerkleProofIntermediate []string `json:"merkleProofIntermediate"`
	MerkleRootIntermediate  string   `json:"merkleRootIntermediate"`
	MerkleRootUltimate      string   `json:"merkleRootUltimate"`
	MerkleProofUltimate     []string `json:"merkleProofUltimate"`
	TxHash                  string   `json:"txHash"`
	Network                 string   `json:"network"`
}

// ISOTime renders t as the bundle's date form, or nil for lifetime documents.
func ISOTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// MarshalBundle serializes the bundle to its canonical embedded form.
func MarshalBundle(b *Bundle) ([]byte, error) {
	return json.Marshal(b)
}

// ParseBundle decodes bundle JSON. It accepts any JSON object that contains
// at least one recognized crypto field, so legacy bundles parse too.
func ParseBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, WrapError(KindValidation, "JF-VAL-010", "malformed verification bundle JSON", err)
	}
	if b.DocumentHash == "" && b.FingerprintHash == "" && b.MerkleRootIntermediate == "" &&
		b.IssuerSignature == "" && b.MerkleLeaf == "" {
		return nil, NewError(KindValidation, "JF-VAL-011", "JSON carries no verification fields")
	}
	return &b, nil
}

// LooksLikeBundle reports whether raw JSON plausibly is a verification bundle.
func LooksLikeBundle(data []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	for _, k := range []string{"documentHash", "fingerprintHash", "merkleRootIntermediate", "issuerSignature", "merkleLeaf"} {
		if _, ok := probe[k]; ok {
			return true
		}
	}
	return false
}

// Package hashkit provides the hashing and signature primitives of the
// issuance pipeline: keccak-256 digests and secp256k1 signatures in the
// encodings the chain and external signers use.
package hashkit

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"

	"justifai.co/issuance/model"
)

// HashSize is the digest length in bytes.
const HashSize = 32

// Keccak256 returns the keccak-256 digest of data.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// Keccak256Hex returns the lowercase hex digest without 0x prefix, the form
// stored in the database and in verification bundles.
func Keccak256Hex(data ...[]byte) string {
	return hex.EncodeToString(Keccak256(data...))
}

// HexToBytes32 decodes a 32-byte hex value, accepting an optional 0x prefix
// and either case.
func HexToBytes32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := DecodeHex(s)
	if err != nil {
		return out, err
	}
	if len(b) != HashSize {
		return out, model.NewError(model.KindValidation, "JF-HASH-002", "expected 32-byte hex value")
	}
	copy(out[:], b)
	return out, nil
}

// DecodeHex decodes hex with or without a 0x prefix.
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return nil, model.WrapError(model.KindValidation, "JF-HASH-001", "invalid hex encoding", err)
	}
	return b, nil
}

// NormalizeHex lowercases hex and strips any 0x prefix. It does not validate.
func NormalizeHex(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
}

// With0x prefixes a bare hex string for the chain boundary.
func With0x(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return "0x" + NormalizeHex(s)
	}
	return "0x" + strings.ToLower(s)
}

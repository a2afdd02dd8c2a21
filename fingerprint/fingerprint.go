// Package fingerprint implements the document fingerprint codec.
//
// A fingerprint (DI) binds the document hash to its two expiry timestamps:
//
//	DI = H(d)[32] || Ed[int64 big-endian] || Ei[int64 big-endian]
//
// 48 bytes total. A missing timestamp encodes as 0 ("lifetime"). The encoding
// is the mandatory choke point for everything that is signed: identical
// inputs must produce byte-identical DI on any platform so the signed digest
// reproduces at verification time.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"justifai.co/issuance/hashkit"
	"justifai.co/issuance/model"
)

// Size is the encoded fingerprint length in bytes.
const Size = hashkit.HashSize + 8 + 8

// Fingerprint is a decoded document fingerprint.
type Fingerprint struct {
	DocumentHash [32]byte
	ExpiryDate   int64 // epoch seconds, 0 = lifetime
	Invalidation int64 // epoch seconds, 0 = lifetime
}

// Encode produces the canonical 48-byte fingerprint.
func Encode(documentHashHex string, expiry, invalidation int64) ([]byte, error) {
	h, err := hashkit.HexToBytes32(documentHashHex)
	if err != nil {
		return nil, model.WrapError(model.KindValidation, "JF-FP-001", "document hash must be 32-byte hex", err)
	}
	if expiry < 0 || invalidation < 0 {
		return nil, model.NewError(model.KindValidation, "JF-FP-002", "expiry timestamps must be non-negative")
	}
	out := make([]byte, Size)
	copy(out, h[:])
	binary.BigEndian.PutUint64(out[32:40], uint64(expiry))
	binary.BigEndian.PutUint64(out[40:48], uint64(invalidation))
	return out, nil
}

// EncodeHex returns the fingerprint as lowercase hex (96 chars).
func EncodeHex(documentHashHex string, expiry, invalidation int64) (string, error) {
	di, err := Encode(documentHashHex, expiry, invalidation)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(di), nil
}

// Decode splits a 48-byte fingerprint back into its components.
func Decode(di []byte) (Fingerprint, error) {
	var fp Fingerprint
	if len(di) != Size {
		return fp, model.NewError(model.KindValidation, "JF-FP-003", "fingerprint must be 48 bytes")
	}
	copy(fp.DocumentHash[:], di[:32])
	fp.ExpiryDate = int64(binary.BigEndian.Uint64(di[32:40]))
	fp.Invalidation = int64(binary.BigEndian.Uint64(di[40:48]))
	return fp, nil
}

// DecodeHex decodes a hex fingerprint.
func DecodeHex(diHex string) (Fingerprint, error) {
	raw, err := hashkit.DecodeHex(diHex)
	if err != nil {
		return Fingerprint{}, err
	}
	return Decode(raw)
}

// Hash returns keccak256(DI) as lowercase hex. This is the digest the issuer
// actually signs.
func Hash(di []byte) (string, error) {
	if len(di) != Size {
		return "", model.NewError(model.KindValidation, "JF-FP-003", "fingerprint must be 48 bytes")
	}
	return hashkit.Keccak256Hex(di), nil
}

// EpochSeconds converts a timestamp in any accepted intake form to epoch
// seconds. Accepted forms:
//
//   - nil / empty string: 0 (lifetime)
//   - integer epoch seconds (number or numeric string)
//   - epoch milliseconds (values >= 1e12 are treated as ms)
//   - ISO-8601 / RFC 3339 strings
//
// Sub-second precision is floored: seconds = floor(ms / 1000).
func EpochSeconds(v any) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return normalizeEpoch(t), nil
	case int:
		return normalizeEpoch(int64(t)), nil
	case float64:
		ms := int64(t)
		if t >= 1e12 {
			return normalizeEpoch(ms), nil
		}
		return normalizeEpoch(int64(t)), nil
	case *time.Time:
		if t == nil {
			return 0, nil
		}
		return floorUnix(*t), nil
	case time.Time:
		return floorUnix(t), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return normalizeEpoch(n), nil
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return floorUnix(ts), nil
			}
		}
		return 0, model.NewError(model.KindValidation, "JF-FP-004", "unparseable timestamp "+strconv.Quote(s))
	default:
		return 0, model.NewError(model.KindValidation, "JF-FP-005", "unsupported timestamp type")
	}
}

func normalizeEpoch(n int64) int64 {
	// Millisecond inputs are floored to seconds.
	if n >= 1_000_000_000_000 {
		return n / 1000
	}
	return n
}

func floorUnix(t time.Time) int64 {
	ms := t.UnixMilli()
	if ms < 0 {
		return 0
	}
	return ms / 1000
}

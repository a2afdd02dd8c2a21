package hashkit

import (
	"encoding/asn1"
	"encoding/hex"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"justifai.co/issuance/model"
)

// Signature intake accepts the three encodings external signers produce:
//
//   - DER (ASN.1 SEQUENCE of r, s)
//   - compact 64-byte r||s
//   - Ethereum-style 65-byte r||s||v with v in {0, 1, 27, 28}
//
// Internally everything is normalized to the 64-byte compact form; the
// recovery id is kept only when present.

type derSignature struct {
	R *big.Int
	S *big.Int
}

// NormalizeSignature decodes sigHex in any accepted form and returns the
// 64-byte r||s body plus the recovery id (-1 when the form carries none).
func NormalizeSignature(sigHex string) (body [64]byte, recovery int, err error) {
	raw, err := DecodeHex(sigHex)
	if err != nil {
		return body, -1, err
	}
	switch {
	case len(raw) == 64:
		copy(body[:], raw)
		return body, -1, nil
	case len(raw) == 65:
		v := int(raw[64])
		if v == 27 || v == 28 {
			v -= 27
		}
		if v != 0 && v != 1 {
			return body, -1, model.NewError(model.KindCrypto, "JF-CRYPTO-102", "invalid recovery id")
		}
		copy(body[:], raw[:64])
		return body, v, nil
	case len(raw) >= 8 && raw[0] == 0x30:
		var der derSignature
		rest, aerr := asn1.Unmarshal(raw, &der)
		if aerr != nil || len(rest) != 0 || der.R == nil || der.S == nil {
			return body, -1, model.WrapError(model.KindCrypto, "JF-CRYPTO-103", "malformed DER signature", aerr)
		}
		rb, sb := der.R.Bytes(), der.S.Bytes()
		if len(rb) > 32 || len(sb) > 32 {
			return body, -1, model.NewError(model.KindCrypto, "JF-CRYPTO-104", "DER signature component exceeds 32 bytes")
		}
		copy(body[32-len(rb):32], rb)
		copy(body[64-len(sb):64], sb)
		return body, -1, nil
	default:
		return body, -1, model.NewError(model.KindCrypto, "JF-CRYPTO-101", "unrecognized signature encoding")
	}
}

// normalizePublicKey returns the uncompressed 65-byte key for hex input in
// compressed (33), uncompressed (65), or headerless (64) form.
func normalizePublicKey(pubKeyHex string) ([]byte, error) {
	raw, err := DecodeHex(pubKeyHex)
	if err != nil {
		return nil, err
	}
	switch len(raw) {
	case 33:
		pk, derr := ethcrypto.DecompressPubkey(raw)
		if derr != nil {
			return nil, model.WrapError(model.KindCrypto, "JF-CRYPTO-111", "invalid compressed public key", derr)
		}
		return ethcrypto.FromECDSAPub(pk), nil
	case 65:
		if raw[0] != 0x04 {
			return nil, model.NewError(model.KindCrypto, "JF-CRYPTO-112", "invalid uncompressed public key header")
		}
		return raw, nil
	case 64:
		return append([]byte{0x04}, raw...), nil
	default:
		return nil, model.NewError(model.KindCrypto, "JF-CRYPTO-113", "invalid public key length")
	}
}

// Verify checks sigHex over the 32-byte digest hashHex with pubKeyHex.
// The digest is used as-is; no additional hashing is applied. Any parse
// failure yields false.
func Verify(hashHex, sigHex, pubKeyHex string) bool {
	digest, err := HexToBytes32(hashHex)
	if err != nil {
		return false
	}
	body, _, err := NormalizeSignature(sigHex)
	if err != nil {
		return false
	}
	pub, err := normalizePublicKey(pubKeyHex)
	if err != nil {
		return false
	}
	return ethcrypto.VerifySignature(pub, digest[:], body[:])
}

// RecoverPublicKey recovers the uncompressed signer key from a 65-byte
// recoverable signature. Signatures without a recovery id cannot be
// recovered from and return an error.
func RecoverPublicKey(hashHex, sigHex string) (string, error) {
	digest, err := HexToBytes32(hashHex)
	if err != nil {
		return "", err
	}
	body, recovery, err := NormalizeSignature(sigHex)
	if err != nil {
		return "", err
	}
	if recovery < 0 {
		return "", model.NewError(model.KindCrypto, "JF-CRYPTO-121", "signature carries no recovery id")
	}
	sig := make([]byte, 65)
	copy(sig, body[:])
	sig[64] = byte(recovery)
	pub, rerr := ethcrypto.Ecrecover(digest[:], sig)
	if rerr != nil {
		return "", model.WrapError(model.KindCrypto, "JF-CRYPTO-122", "public key recovery failed", rerr)
	}
	return hex.EncodeToString(pub), nil
}

// Sign signs the 32-byte digest hashHex with the private key and returns the
// compact 64-byte r||s form as hex, each component left-padded to 32 bytes.
func Sign(hashHex, privHex string) (string, error) {
	digest, err := HexToBytes32(hashHex)
	if err != nil {
		return "", err
	}
	priv, perr := ethcrypto.HexToECDSA(NormalizeHex(privHex))
	if perr != nil {
		return "", model.WrapError(model.KindCrypto, "JF-CRYPTO-131", "invalid private key", perr)
	}
	sig, serr := ethcrypto.Sign(digest[:], priv)
	if serr != nil {
		return "", model.WrapError(model.KindCrypto, "JF-CRYPTO-132", "signing failed", serr)
	}
	return hex.EncodeToString(sig[:64]), nil
}

// SignRecoverable signs like Sign but keeps the recovery id, producing the
// 65-byte Ethereum form. Issuers that want key auto-capture use this form.
func SignRecoverable(hashHex, privHex string) (string, error) {
	digest, err := HexToBytes32(hashHex)
	if err != nil {
		return "", err
	}
	priv, perr := ethcrypto.HexToECDSA(NormalizeHex(privHex))
	if perr != nil {
		return "", model.WrapError(model.KindCrypto, "JF-CRYPTO-131", "invalid private key", perr)
	}
	sig, serr := ethcrypto.Sign(digest[:], priv)
	if serr != nil {
		return "", model.WrapError(model.KindCrypto, "JF-CRYPTO-132", "signing failed", serr)
	}
	return hex.EncodeToString(sig), nil
}

// PublicKeyFromPrivate derives the uncompressed public key hex for privHex.
func PublicKeyFromPrivate(privHex string) (string, error) {
	priv, err := ethcrypto.HexToECDSA(NormalizeHex(privHex))
	if err != nil {
		return "", model.WrapError(model.KindCrypto, "JF-CRYPTO-131", "invalid private key", err)
	}
	return hex.EncodeToString(ethcrypto.FromECDSAPub(&priv.PublicKey)), nil
}

// Package keys is the KMS-lite issuer keystore: secp256k1 signing keys kept
// as 0600 hex files, with deterministic per-tenant derivation from a root
// seed so a single secret can issue for many tenants.
package keys

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"justifai.co/issuance/hashkit"
	"justifai.co/issuance/model"
)

// SeedSize is the root seed length in bytes.
const SeedSize = 32

// Generate creates a fresh signing key and returns it as hex.
func Generate() (string, error) {
	priv, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", model.WrapError(model.KindCrypto, "JF-KEYS-001", "key generation failed", err)
	}
	return hex.EncodeToString(ethcrypto.FromECDSA(priv)), nil
}

// DeriveTenantKey deterministically derives a tenant-scoped signing key from
// a root seed. The derivation is stable across versions; rotating the root
// seed rotates every tenant key.
func DeriveTenantKey(rootSeed []byte, tenantID string) (string, error) {
	if len(rootSeed) != SeedSize {
		return "", model.NewError(model.KindCrypto, "JF-KEYS-002", "root seed must be 32 bytes")
	}
	if tenantID == "" {
		return "", model.NewError(model.KindCrypto, "JF-KEYS-003", "tenant id is required")
	}
	// Domain-separated KDF; rejection-sample until the scalar is valid.
	material := rootSeed
	for i := 0; i < 16; i++ {
		sum := hashkit.Keccak256(material, []byte{0}, []byte("justifai-kms-lite-v1"), []byte{0}, []byte("tenant:"+tenantID))
		candidate := hex.EncodeToString(sum)
		if _, err := ethcrypto.HexToECDSA(candidate); err == nil {
			return candidate, nil
		}
		material = sum
	}
	return "", model.NewError(model.KindCrypto, "JF-KEYS-004", "derivation failed to produce a valid scalar")
}

// PublicKey returns the uncompressed hex public key for a stored private key.
func PublicKey(privHex string) (string, error) {
	return hashkit.PublicKeyFromPrivate(privHex)
}

// Save writes a key file with owner-only permissions. Existing files are
// never overwritten unless force is set.
func Save(path, privHex string, force bool) error {
	if _, err := ethcrypto.HexToECDSA(hashkit.NormalizeHex(privHex)); err != nil {
		return model.WrapError(model.KindCrypto, "JF-KEYS-005", "refusing to store an invalid key", err)
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return model.NewError(model.KindCrypto, "JF-KEYS-006", "key file already exists")
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(hashkit.NormalizeHex(privHex)+"\n"), 0o600)
}

// Load reads a key file written by Save.
func Load(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", model.WrapError(model.KindConfiguration, "JF-KEYS-007", "key file not found", err)
		}
		return "", err
	}
	privHex := strings.TrimSpace(string(b))
	if _, err := ethcrypto.HexToECDSA(hashkit.NormalizeHex(privHex)); err != nil {
		return "", model.WrapError(model.KindCrypto, "JF-KEYS-008", "key file is corrupt", err)
	}
	return hashkit.NormalizeHex(privHex), nil
}

// NewRootSeed returns a fresh random root seed.
func NewRootSeed() ([]byte, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return seed, nil
}

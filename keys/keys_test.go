package keys

import (
	"path/filepath"
	"testing"

	"justifai.co/issuance/hashkit"
)

func TestGenerateProducesUsableKey(t *testing.T) {
	priv, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	pub, err := PublicKey(priv)
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	digest := hashkit.Keccak256Hex([]byte("probe"))
	sig, err := hashkit.Sign(digest, priv)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !hashkit.Verify(digest, sig, pub) {
		t.Fatal("generated key cannot round-trip a signature")
	}
}

func TestDeriveTenantKeyDeterministic(t *testing.T) {
	seed := make([]byte, SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	k1, err := DeriveTenantKey(seed, "tenant-1")
	if err != nil {
		t.Fatalf("DeriveTenantKey: %v", err)
	}
	k2, err := DeriveTenantKey(seed, "tenant-1")
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Fatal("derivation is not deterministic")
	}
	other, err := DeriveTenantKey(seed, "tenant-2")
	if err != nil {
		t.Fatal(err)
	}
	if other == k1 {
		t.Fatal("different tenants derived the same key")
	}
	if _, err := DeriveTenantKey(seed[:16], "tenant-1"); err == nil {
		t.Fatal("short seed accepted")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	priv, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "keys", "issuer.key")
	if err := Save(path, priv, false); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// No silent overwrites.
	if err := Save(path, priv, false); err == nil {
		t.Fatal("existing key file overwritten")
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != priv {
		t.Fatal("key did not round-trip")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.key")); err == nil {
		t.Fatal("missing file loaded")
	}
}

func TestSaveRejectsGarbage(t *testing.T) {
	if err := Save(filepath.Join(t.TempDir(), "k"), "zz", false); err == nil {
		t.Fatal("invalid key stored")
	}
}

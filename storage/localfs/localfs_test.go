package localfs

import (
	"testing"

	"justifai.co/issuance/storage"
)

func TestStoreRetrieveRoundTrip(t *testing.T) {
	s, err := New(t.TempDir(), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data := []byte("%PDF-1.7 fake")
	key, err := s.Store(data, "tenant", "batch", "job")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if key != "certificates/tenant/batch/job.pdf" {
		t.Fatalf("key = %s", key)
	}
	got, err := s.Retrieve(key)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if string(got) != string(data) {
		t.Fatal("bytes did not round-trip")
	}
}

func TestStoreIsIdempotentForSameKey(t *testing.T) {
	s, err := New(t.TempDir(), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Store([]byte("one"), "t", "b", "j"); err != nil {
		t.Fatalf("first Store: %v", err)
	}
	key, err := s.Store([]byte("two"), "t", "b", "j")
	if err != nil {
		t.Fatalf("second Store: %v", err)
	}
	got, err := s.Retrieve(key)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if string(got) != "two" {
		t.Fatal("rewrite did not replace object")
	}
}

func TestRetrieveMissing(t *testing.T) {
	s, err := New(t.TempDir(), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Retrieve("certificates/t/b/missing.pdf"); !storage.IsNotFound(err) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := s.Retrieve("../escape"); err == nil {
		t.Fatal("traversal key accepted")
	}
}

func TestPublicURL(t *testing.T) {
	s, err := New(t.TempDir(), "https://cdn.example.com")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := s.PublicURL("qr-codes/t/b/j.png"); got != "https://cdn.example.com/qr-codes/t/b/j.png" {
		t.Fatalf("url = %s", got)
	}
}

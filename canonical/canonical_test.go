package canonical

import (
	"strings"
	"testing"
	"time"
)

func mustCanon(t *testing.T, v any) string {
	t.Helper()
	out, err := Canonicalize(v)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	return string(out)
}

func TestKeysSortedAndCompact(t *testing.T) {
	got := mustCanon(t, map[string]any{"b": 2, "a": 1, "c": 3})
	want := `{"_schema":1,"a":1,"b":2,"c":3}`
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestNullAndEmptyDropped(t *testing.T) {
	got := mustCanon(t, map[string]any{"keep": "x", "gone": nil, "empty": ""})
	want := `{"_schema":1,"keep":"x"}`
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestNFCNormalization(t *testing.T) {
	// "é" as combining sequence (e + U+0301) vs precomposed U+00E9.
	combining := map[string]any{"name": "José"}
	precomposed := map[string]any{"name": "José"}
	if mustCanon(t, combining) != mustCanon(t, precomposed) {
		t.Fatal("NFC-equivalent strings canonicalized differently")
	}
}

func TestPrimitiveArraysSorted(t *testing.T) {
	got := mustCanon(t, map[string]any{"tags": []any{"c", "a", "b"}, "nums": []any{3, 1, 2}})
	if !strings.Contains(got, `"nums":[1,2,3]`) || !strings.Contains(got, `"tags":["a","b","c"]`) {
		t.Fatalf("primitive arrays not sorted: %s", got)
	}
	// Object arrays keep their order.
	got = mustCanon(t, map[string]any{"rows": []any{map[string]any{"i": 2}, map[string]any{"i": 1}}})
	if !strings.Contains(got, `"rows":[{"i":2},{"i":1}]`) {
		t.Fatalf("object array reordered: %s", got)
	}
}

func TestDateNormalization(t *testing.T) {
	ts := time.Date(2023, 11, 13, 1, 2, 3, 0, time.FixedZone("X", 3600))
	got := mustCanon(t, map[string]any{"at": ts})
	if !strings.Contains(got, `"at":"2023-11-13T00:02:03Z"`) {
		t.Fatalf("time.Time not rendered as UTC ISO: %s", got)
	}
	// An ISO-looking string in a non-UTC offset re-parses to the same instant.
	fromString := mustCanon(t, map[string]any{"at": "2023-11-13T01:02:03+01:00"})
	if got != fromString {
		t.Fatalf("equivalent date strings disagree:\n%s\n%s", got, fromString)
	}
	// Non-dates stay untouched.
	plain := mustCanon(t, map[string]any{"v": "not-2023"})
	if !strings.Contains(plain, `"v":"not-2023"`) {
		t.Fatalf("plain string altered: %s", plain)
	}
}

func TestNumberNormalization(t *testing.T) {
	got := mustCanon(t, map[string]any{"i": int64(42), "f": 1.23456789012345})
	if !strings.Contains(got, `"i":42`) {
		t.Fatalf("integer altered: %s", got)
	}
	if !strings.Contains(got, `"f":1.2345678901`) {
		t.Fatalf("float not truncated to 10 decimals: %s", got)
	}
}

func TestIdempotence(t *testing.T) {
	in := map[string]any{
		"z":    []any{"b", "a"},
		"when": "2023-11-13T00:00:00.500Z",
		"n":    3.14159265358979,
		"sub":  map[string]any{"empty": "", "ok": int64(1)},
	}
	once, err := Canonicalize(in)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	twice, err := CanonicalizeJSON(once)
	if err != nil {
		t.Fatalf("CanonicalizeJSON: %v", err)
	}
	if string(once) != string(twice) {
		t.Fatalf("not idempotent:\n%s\n%s", once, twice)
	}
}

func TestSchemaKeyNotDuplicated(t *testing.T) {
	got := mustCanon(t, map[string]any{"_schema": int64(1), "a": int64(1)})
	if strings.Count(got, "_schema") != 1 {
		t.Fatalf("_schema duplicated: %s", got)
	}
}

func TestJSONIntake(t *testing.T) {
	out, err := CanonicalizeJSON([]byte(`{"b": 2, "a": {"x": null, "y": "v"}}`))
	if err != nil {
		t.Fatalf("CanonicalizeJSON: %v", err)
	}
	want := `{"_schema":1,"a":{"y":"v"},"b":2}`
	if string(out) != want {
		t.Fatalf("got %s want %s", out, want)
	}
	if _, err := CanonicalizeJSON([]byte(`{broken`)); err == nil {
		t.Fatal("malformed JSON accepted")
	}
}

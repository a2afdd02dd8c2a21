// Package canonical produces the byte-exact JSON form that feeds every hash
// in the pipeline. Hashing non-canonical JSON is forbidden; all callers pass
// through Canonicalize before digesting.
//
// Rules, applied recursively:
//
//  1. Strings are NFC-normalized.
//  2. Keys whose value is null or the empty string are dropped.
//  3. Object keys sort lexicographically.
//  4. Arrays of primitive strings or numbers sort; other arrays keep order.
//  5. Dates render as ISO-8601 UTC; ISO-looking strings re-parse to the same.
//  6. Integers pass unchanged; non-integers truncate to 10 decimal places.
//  7. Output is compact. The top-level object carries a _schema version key.
package canonical

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"justifai.co/issuance/model"
)

// SchemaVersion is the value injected under the top-level "_schema" key.
const SchemaVersion = 1

var isoLike = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}(:\d{2})?(\.\d+)?(Z|[+-]\d{2}:?\d{2})?$`)

// Canonicalize renders v in canonical form. v may be any JSON-representable
// Go value; maps, slices, strings, numbers, booleans, time.Time.
func Canonicalize(v any) ([]byte, error) {
	node, err := normalize(v)
	if err != nil {
		return nil, err
	}
	if m, ok := node.(map[string]any); ok {
		if _, present := m["_schema"]; !present {
			m["_schema"] = int64(SchemaVersion)
		}
	}
	var buf bytes.Buffer
	if err := write(&buf, node); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CanonicalizeJSON canonicalizes raw JSON bytes.
func CanonicalizeJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, model.WrapError(model.KindValidation, "JF-CANON-001", "malformed JSON", err)
	}
	return Canonicalize(v)
}

// normalize maps v onto the reduced node set: map[string]any, []any,
// string, int64, float64, bool, nil.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return t, nil
	case string:
		return normalizeString(t), nil
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		return t.UTC().Format(time.RFC3339Nano), nil
	case json.Number:
		return normalizeNumber(t.String())
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint64:
		return int64(t), nil
	case float32:
		return normalizeFloat(float64(t)), nil
	case float64:
		return normalizeFloat(t), nil
	case []string:
		arr := make([]any, len(t))
		for i, s := range t {
			arr[i] = s
		}
		return normalize(arr)
	case []any:
		out := make([]any, 0, len(t))
		for _, el := range t {
			n, err := normalize(el)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		sortPrimitiveArray(out)
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, el := range t {
			n, err := normalize(el)
			if err != nil {
				return nil, err
			}
			if dropped(n) {
				continue
			}
			out[norm.NFC.String(k)] = n
		}
		return out, nil
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		return normalize(m)
	default:
		// Fall back through encoding/json for struct values.
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, model.WrapError(model.KindValidation, "JF-CANON-002", "value is not JSON-representable", err)
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var generic any
		if err := dec.Decode(&generic); err != nil {
			return nil, model.WrapError(model.KindValidation, "JF-CANON-002", "value is not JSON-representable", err)
		}
		return normalize(generic)
	}
}

func dropped(n any) bool {
	if n == nil {
		return true
	}
	if s, ok := n.(string); ok && s == "" {
		return true
	}
	return false
}

func normalizeString(s string) string {
	s = norm.NFC.String(s)
	if isoLike.MatchString(s) {
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC().Format(time.RFC3339Nano)
			}
		}
	}
	return s
}

// normalizeNumber keeps integers as int64 and truncates non-integers to 10
// decimal places.
func normalizeNumber(s string) (any, error) {
	if !strings.ContainsAny(s, ".eE") {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, model.WrapError(model.KindValidation, "JF-CANON-003", "malformed number", err)
	}
	return normalizeFloat(f), nil
}

func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return int64(f)
	}
	return math.Trunc(f*1e10) / 1e10
}

func sortPrimitiveArray(arr []any) {
	if len(arr) < 2 {
		return
	}
	allStrings, allNumbers := true, true
	for _, el := range arr {
		switch el.(type) {
		case string:
			allNumbers = false
		case int64, float64:
			allStrings = false
		default:
			return
		}
	}
	switch {
	case allStrings:
		sort.Slice(arr, func(i, j int) bool { return arr[i].(string) < arr[j].(string) })
	case allNumbers:
		sort.Slice(arr, func(i, j int) bool { return numValue(arr[i]) < numValue(arr[j]) })
	}
}

func numValue(v any) float64 {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case float64:
		return t
	}
	return 0
}

func write(buf *bytes.Buffer, node any) error {
	switch t := node.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		enc, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(enc)
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
	case float64:
		buf.WriteString(strconv.FormatFloat(t, 'f', -1, 64))
	case []any:
		buf.WriteByte('[')
		for i, el := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := write(buf, el); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			enc, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(enc)
			buf.WriteByte(':')
			if err := write(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return model.NewError(model.KindValidation, "JF-CANON-004", "unexpected node type after normalization")
	}
	return nil
}

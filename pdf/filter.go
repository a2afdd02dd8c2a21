package pdf

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"io"

	"justifai.co/issuance/model"
)

// DecodeStream returns the stream's plain bytes, applying /Filter.
//
// Supported filters: FlateDecode (zlib-wrapped or raw deflate). Unfiltered
// streams pass through. Raw zlib payloads (0x78 header) also decode when no
// filter is declared, which some producers emit for embedded files.
func DecodeStream(doc *Document, s *Stream) ([]byte, error) {
	filters := filterNames(doc, s.Dict["Filter"])
	data := s.Raw
	if len(filters) == 0 {
		if looksZlib(data) {
			if plain, err := inflate(data); err == nil {
				return plain, nil
			}
		}
		return data, nil
	}
	for _, f := range filters {
		switch f {
		case "FlateDecode", "Fl":
			plain, err := inflate(data)
			if err != nil {
				return nil, model.WrapError(model.KindPDF, "JF-PDF-020", "FlateDecode failed", err)
			}
			data = plain
		default:
			return nil, model.NewError(model.KindPDF, "JF-PDF-021", "unsupported stream filter "+string(f))
		}
	}
	return data, nil
}

func filterNames(doc *Document, v any) []Name {
	switch t := doc.Get(v).(type) {
	case Name:
		return []Name{t}
	case Array:
		var out []Name
		for _, el := range t {
			if n, ok := doc.Get(el).(Name); ok {
				out = append(out, n)
			}
		}
		return out
	}
	return nil
}

func looksZlib(data []byte) bool {
	return len(data) > 2 && data[0] == 0x78
}

// inflate tries zlib first, then raw deflate.
func inflate(data []byte) ([]byte, error) {
	if r, err := zlib.NewReader(bytes.NewReader(data)); err == nil {
		defer r.Close()
		if plain, err := io.ReadAll(r); err == nil {
			return plain, nil
		}
	}
	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()
	return io.ReadAll(fr)
}

// FlateEncode compresses plain bytes for a /FlateDecode stream.
func FlateEncode(plain []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, _ = w.Write(plain)
	_ = w.Close()
	return buf.Bytes()
}

// NewFlateStream builds a compressed stream with the given extra dict keys.
func NewFlateStream(plain []byte, extra Dict) *Stream {
	d := Dict{Name("Filter"): Name("FlateDecode")}
	for k, v := range extra {
		d[k] = v
	}
	return &Stream{Dict: d, Raw: FlateEncode(plain)}
}

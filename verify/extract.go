package verify

import (
	"encoding/json"
	"strings"

	"justifai.co/issuance/model"
	"justifai.co/issuance/pdf"
)

// isOriginalAttachment recognizes the canonical original-PDF attachment name
// plus the legacy patterns older issuers wrote.
func isOriginalAttachment(name string) bool {
	lower := strings.ToLower(name)
	if strings.Contains(name, "Original_PDF") {
		return true
	}
	if lower == "original.pdf" {
		return true
	}
	if strings.HasPrefix(name, "LegitDoc_") && strings.HasSuffix(lower, ".pdf") {
		return true
	}
	return false
}

// ExtractOriginal recovers the embedded original certificate bytes.
func ExtractOriginal(doc *pdf.Document) ([]byte, bool) {
	ef, ok := doc.FindAttachment(func(name string, data []byte) bool {
		return isOriginalAttachment(name) && len(data) > 0
	})
	if !ok {
		return nil, false
	}
	return ef.Data, true
}

// ExtractBundle recovers the verification bundle: first any JSON attachment
// that parses into bundle fields, then (legacy) the Subject or Keywords
// metadata entries interpreted as JSON.
func ExtractBundle(doc *pdf.Document) (*model.Bundle, bool) {
	if ef, ok := doc.FindAttachment(func(name string, data []byte) bool {
		return model.LooksLikeBundle(data)
	}); ok {
		if b, err := model.ParseBundle(ef.Data); err == nil {
			return b, true
		}
	}
	for _, key := range []string{"Subject", "Keywords"} {
		if raw, ok := infoString(doc, key); ok && json.Valid([]byte(raw)) && model.LooksLikeBundle([]byte(raw)) {
			if b, err := model.ParseBundle([]byte(raw)); err == nil {
				return b, true
			}
		}
	}
	return nil, false
}

func infoString(doc *pdf.Document, key string) (string, bool) {
	info, ok := doc.GetDict(doc.Trailer["Info"])
	if !ok {
		return "", false
	}
	s, ok := doc.GetString(info[pdf.Name(key)])
	if !ok {
		return "", false
	}
	return pdf.DecodeTextString(s), true
}

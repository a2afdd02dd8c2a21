// Package qr builds the v2 verification payload, its compressed link form,
// and the QR PNG artifact.
package qr

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/url"

	"justifai.co/issuance/canonical"
	"justifai.co/issuance/hashkit"
	"justifai.co/issuance/model"
)

// Payload is the v2 QR payload. Key names are part of the wire format.
type Payload struct {
	V               int            `json:"v"`
	JobID           string         `json:"jobId"`
	BatchID         string         `json:"batchId"`
	TenantID        string         `json:"tenantId"`
	TemplateID      string         `json:"templateId"`
	TemplateHash    string         `json:"templateHash"`
	Fields          map[string]any `json:"fields"`
	FieldsHash      string         `json:"fieldsHash"`
	DocumentHash    string         `json:"documentHash"`
	TxHash          string         `json:"txHash"`
	Network         string         `json:"network"`
	MPU             []string       `json:"MPU"`
	MPI             []string       `json:"MPI"`
	IssuerID        string         `json:"issuerId"`
	IssuerPublicKey string         `json:"issuerPublicKey"`
	MRI             string         `json:"MRI"`
	MRU             string         `json:"MRU"`
	Ed              *int64         `json:"Ed"`
	Ei              *int64         `json:"Ei"`
	SI              string         `json:"SI"`
}

// TemplateHash hashes the template HTML source.
func TemplateHash(templateContent string) string {
	return hashkit.Keccak256Hex([]byte(templateContent))
}

// SelectFields restricts job input data to the parameter names the template
// declares. With no declared parameters the whole input passes through.
func SelectFields(data map[string]any, declared []string) map[string]any {
	if len(declared) == 0 {
		return data
	}
	out := make(map[string]any, len(declared))
	for _, name := range declared {
		if v, ok := data[name]; ok {
			out[name] = v
		}
	}
	return out
}

// FieldsHash digests the template binding: {templateId, templateHash, fields}
// in canonical form.
func FieldsHash(templateID, templateHash string, fields map[string]any) (string, error) {
	canon, err := canonical.Canonicalize(map[string]any{
		"templateId":   templateID,
		"templateHash": templateHash,
		"fields":       fields,
	})
	if err != nil {
		return "", err
	}
	return hashkit.Keccak256Hex(canon), nil
}

// Build assembles the payload for a job. MPI/MPU carry sibling hashes only;
// sorted-pair verification needs no position flags.
func Build(jc JobContext) (*Payload, error) {
	templateHash := TemplateHash(jc.TemplateHTML)
	fields := SelectFields(jc.Data, jc.TemplateParams)
	fh, err := FieldsHash(jc.TemplateID, templateHash, fields)
	if err != nil {
		return nil, err
	}
	return &Payload{
		V:               2,
		JobID:           jc.JobID,
		BatchID:         jc.BatchID,
		TenantID:        jc.TenantID,
		TemplateID:      jc.TemplateID,
		TemplateHash:    templateHash,
		Fields:          fields,
		FieldsHash:      fh,
		DocumentHash:    jc.DocumentHash,
		TxHash:          jc.TxHash,
		Network:         jc.Network,
		MPU:             jc.MPU,
		MPI:             jc.MPI,
		IssuerID:        jc.IssuerID,
		IssuerPublicKey: jc.IssuerPublicKey,
		MRI:             jc.MRI,
		MRU:             jc.MRU,
		Ed:              jc.Ed,
		Ei:              jc.Ei,
		SI:              jc.SI,
	}, nil
}

// JobContext is the flattened input Build needs; the scheduler assembles it
// from the store's typed aggregate.
type JobContext struct {
	JobID           string
	BatchID         string
	TenantID        string
	TemplateID      string
	TemplateHTML    string
	TemplateParams  []string
	Data            map[string]any
	DocumentHash    string
	TxHash          string
	Network         string
	MPU             []string
	MPI             []string
	IssuerID        string
	IssuerPublicKey string
	MRI             string
	MRU             string
	Ed              *int64
	Ei              *int64
	SI              string
}

// Compress produces deflateRaw(JSON(payload)) -> base64url without padding.
func Compress(p *Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", model.WrapError(model.KindValidation, "JF-QR-001", "payload not serializable", err)
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(raw); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decompress inverts Compress.
func Decompress(fragment string) (*Payload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(fragment)
	if err != nil {
		return nil, model.WrapError(model.KindValidation, "JF-QR-002", "payload fragment is not base64url", err)
	}
	r := flate.NewReader(bytes.NewReader(raw))
	defer r.Close()
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, model.WrapError(model.KindValidation, "JF-QR-003", "payload fragment does not inflate", err)
	}
	var p Payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, model.WrapError(model.KindValidation, "JF-QR-004", "payload fragment is not valid JSON", err)
	}
	return &p, nil
}

// LinkContent decides what the QR encodes.
//
// With a configured verify base URL the QR carries a short jobId link and the
// portal fetches the persisted payload. Otherwise the full compressed payload
// rides in the link itself.
func LinkContent(p *Payload, verifyBaseURL, qrBaseURL string) (string, error) {
	if verifyBaseURL != "" {
		return verifyBaseURL + "/verify?jobId=" + url.QueryEscape(p.JobID), nil
	}
	fragment, err := Compress(p)
	if err != nil {
		return "", err
	}
	base := qrBaseURL
	if base == "" {
		base = verifyBaseURL
	}
	return base + "/verify?p=" + fragment, nil
}

// FallbackShortLink is the first overflow fallback: portal URL plus jobId.
func FallbackShortLink(jobID, verifyBaseURL, qrBaseURL string) string {
	base := verifyBaseURL
	if base == "" {
		base = qrBaseURL
	}
	return base + "/verify?jobId=" + url.QueryEscape(jobID)
}

// FallbackMinimalJSON is the terminal overflow fallback.
func FallbackMinimalJSON(jobID string) string {
	raw, _ := json.Marshal(map[string]string{"jobId": jobID})
	return string(raw)
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a fresh entity id. Ids are opaque strings everywhere else.
func NewID() string { return uuid.NewString() }

// JobStatus is the lifecycle of a single certificate job.
type JobStatus string

const (
	JobPending        JobStatus = "Pending"
	JobProcessing     JobStatus = "Processing"
	JobPendingSigning JobStatus = "PendingSigning"
	JobGenerated      JobStatus = "Generated"
	JobFailed         JobStatus = "Failed"
)

// BatchStatus is the lifecycle of an issuance batch.
type BatchStatus string

const (
	BatchPending    BatchStatus = "Pending"
	BatchProcessing BatchStatus = "Processing"
	BatchCompleted  BatchStatus = "Completed"
	BatchFailed     BatchStatus = "Failed"
)

// SigningStatus tracks where a batch is in the signing lifecycle.
type SigningStatus string

const (
	SigningPending   SigningStatus = "PendingSigning"
	SigningSigned    SigningStatus = "Signed"
	SigningFinalized SigningStatus = "Finalized"
)

// Tenant is an issuing organization. IssuerPublicKey, when set, is the
// verification fallback for batches that carry no key of their own.
type Tenant struct {
	ID              string
	Name            string
	IssuerPublicKey string
	CreatedAt       time.Time
}

// QRPlacement positions the QR image on a rendered certificate.
// Units are CSS pixels (96 per inch) unless converted by the augmentor.
type QRPlacement struct {
	X         float64
	Y         float64
	Width     float64
	Height    float64
	PageIndex int
}

// Template is the HTML source a certificate is rendered from.
type Template struct {
	ID          string
	TenantID    string
	Name        string
	HTML        string
	Parameters  []string
	QRPlacement *QRPlacement
	CreatedAt   time.Time
}

// Batch groups jobs that share one intermediate Merkle tree.
//
// Invariants:
//   - MerkleRoot, once set, is immutable.
//   - MerkleRootUltimate set implies MerkleProofUltimate non-nil.
//   - Status == Completed implies TxHash != "" and every job augmented.
type Batch struct {
	ID              string
	TenantID        string
	TemplateID      string
	Status          BatchStatus
	SigningStatus   SigningStatus
	IssuerPublicKey string

	// ExpiryDate (Ed) and InvalidationExpiry (Ei); nil means lifetime.
	ExpiryDate         *time.Time
	InvalidationExpiry *time.Time

	MerkleRoot          string
	MerkleRootUltimate  string
	MerkleProofUltimate []string

	TxHash  string
	Network string

	FinalizedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Job is a single certificate inside a batch.
//
// Crypto fields are written in atomic groups: (DocumentHash, DocumentFingerprint,
// FingerprintHash) in one transition, (IssuerSignature, MerkleLeaf) in another.
type Job struct {
	ID      string
	BatchID string
	Data    map[string]any
	Status  JobStatus

	CertificatePath       string
	QRCodePath            string
	CertificateWithQRPath string

	DocumentHash            string
	DataHash                string
	DocumentFingerprint     string
	FingerprintHash         string
	IssuerSignature         string
	MerkleLeaf              string
	MerkleProofIntermediate []string
	MerkleProofUltimate     []string

	VerificationBundle *Bundle
	QRPayloadFragment  string

	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Signed reports whether the job carries an issuer signature and leaf.
func (j *Job) Signed() bool {
	return j.IssuerSignature != "" && j.MerkleLeaf != ""
}

// AwaitingAugment reports whether the job should be picked up by the PDF
// augmentation loop: it is Generated, its original PDF and QR artifact
// exist, and no augmented PDF has been produced (or it was cleared for
// re-augmentation). The batch's anchoring state is not checked here.
func (j *Job) AwaitingAugment() bool {
	return j.Status == JobGenerated &&
		j.CertificatePath != "" &&
		j.QRCodePath != "" &&
		j.CertificateWithQRPath == ""
}

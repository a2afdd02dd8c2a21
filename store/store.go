// Package store defines the typed state gateway the scheduler drives jobs
// and batches through. Implementations choose the relational backend; the
// contract is strongly consistent, status-guarded writes so that concurrent
// workers can never double-process or resurrect stale state.
package store

import (
	"context"
	"errors"

	"justifai.co/issuance/model"
)

var (
	// ErrNotFound is returned for unknown ids.
	ErrNotFound = errors.New("store: not found")
	// ErrStaleState is returned when a conditional update matched zero rows,
	// meaning another worker already moved the entity on.
	ErrStaleState = errors.New("store: stale state")
)

func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsStaleState(err error) bool { return errors.Is(err, ErrStaleState) }

// JobContext is the typed aggregate a pipeline stage loads in one call
// instead of navigating entity graphs.
type JobContext struct {
	Job      *model.Job
	Batch    *model.Batch
	Template *model.Template
	Tenant   *model.Tenant
}

// Gateway is the complete store surface the issuance pipeline needs.
type Gateway interface {
	// --- creation (intake and tests) ---

	CreateTenant(ctx context.Context, t *model.Tenant) error
	CreateTemplate(ctx context.Context, t *model.Template) error
	CreateBatch(ctx context.Context, b *model.Batch) error
	CreateJob(ctx context.Context, j *model.Job) error

	// --- lookups ---

	GetJob(ctx context.Context, id string) (*model.Job, error)
	GetBatch(ctx context.Context, id string) (*model.Batch, error)
	GetTemplate(ctx context.Context, id string) (*model.Template, error)
	GetTenant(ctx context.Context, id string) (*model.Tenant, error)
	LoadJobContext(ctx context.Context, jobID string) (*JobContext, error)
	ListJobs(ctx context.Context, batchID string) ([]*model.Job, error)

	// --- scheduler polls ---

	// ClaimPending atomically transitions up to limit oldest Pending jobs to
	// Processing and returns them. Race-safe: a job is returned to exactly
	// one caller.
	ClaimPending(ctx context.Context, limit int) ([]*model.Job, error)

	// FindPendingSignature returns the batch's PendingSigning jobs in
	// creation order.
	FindPendingSignature(ctx context.Context, batchID string) ([]*model.Job, error)

	// FindSignedJobs returns the batch's Generated jobs in creation order.
	// The ordering is load-bearing: intermediate Merkle leaves are taken in
	// this order.
	FindSignedJobs(ctx context.Context, batchID string) ([]*model.Job, error)

	// FindBatchesAwaitingMRI returns batches that have at least one
	// Generated job and no intermediate root yet.
	FindBatchesAwaitingMRI(ctx context.Context) ([]*model.Batch, error)

	// FindBatchesAwaitingMRU returns up to limit finalized batches without
	// an ultimate root, oldest finalizedAt first.
	FindBatchesAwaitingMRU(ctx context.Context, limit int) ([]*model.Batch, error)

	// FindBatchesAwaitingAnchor returns up to limit batches that carry an
	// ultimate root but no transaction yet (fresh ultimates and batches
	// whose anchoring previously failed), oldest finalizedAt first.
	FindBatchesAwaitingAnchor(ctx context.Context, limit int) ([]*model.Batch, error)

	// FindJobsAwaitingQR returns Generated jobs whose batch is anchored and
	// that have no QR artifact yet.
	FindJobsAwaitingQR(ctx context.Context, limit int) ([]*model.Job, error)

	// FindJobsAwaitingPDFAugment returns Generated jobs with a QR artifact,
	// an original PDF, and no augmented PDF.
	FindJobsAwaitingPDFAugment(ctx context.Context, limit int) ([]*model.Job, error)

	// --- transitions (conditional on current state, except SetBatchAnchored,
	// SetJobQRArtifact, SetJobBundle, ClearAugmentedPaths and FailJob, which
	// write unconditionally) ---

	// SetJobGenerated writes the P1 outcome: artifact path plus the crypto
	// fields, moving status Processing -> next (PendingSigning or Generated).
	SetJobGenerated(ctx context.Context, jobID string, next model.JobStatus, fields GeneratedFields) error

	// SubmitSignature validates PendingSigning, writes SI and L, and moves
	// the job to Generated.
	SubmitSignature(ctx context.Context, jobID, signatureHex, leafHex string) error

	// SetBatchIntermediate writes MRI once and each job's intermediate proof
	// in the same transaction; the batch becomes Finalized. A batch whose
	// root is already set is left untouched (ErrStaleState).
	SetBatchIntermediate(ctx context.Context, batchID, rootHex string, proofs map[string][]string) error

	// SetBatchUltimate writes MRU/MPU and mirrors the ultimate proof to the
	// batch's jobs. Conditional on MRU being unset.
	SetBatchUltimate(ctx context.Context, batchID, rootHex string, proof []string) error

	// SetBatchAnchored records the transaction after a successful submit.
	SetBatchAnchored(ctx context.Context, batchID, txHash, network string) error

	// SetBatchIssuerKey stores an auto-captured issuer key once.
	SetBatchIssuerKey(ctx context.Context, batchID, publicKeyHex string) error

	// SetJobQRArtifact writes the QR artifact path and payload fragment.
	SetJobQRArtifact(ctx context.Context, jobID, qrPath, payloadFragment string) error

	// SetJobBundle persists the regenerated verification bundle.
	SetJobBundle(ctx context.Context, jobID string, bundle *model.Bundle) error

	// SetJobAugmented writes the augmented PDF path.
	SetJobAugmented(ctx context.Context, jobID, augmentedPath string) error

	// ClearAugmentedPaths resets certificateWithQRPath for every job of the
	// batch so the augment loop re-runs after re-anchoring.
	ClearAugmentedPaths(ctx context.Context, batchID string) error

	// MarkBatchCompleted flips the batch to Completed when every job has an
	// augmented PDF and the batch is anchored; reports whether it did.
	MarkBatchCompleted(ctx context.Context, batchID string) (bool, error)

	// FailJob records a terminal P1 failure.
	FailJob(ctx context.Context, jobID, message string) error

	// ReleaseJob returns a Processing job to Pending (used on shutdown).
	ReleaseJob(ctx context.Context, jobID string) error
}

// GeneratedFields is the atomic field group P1 persists.
type GeneratedFields struct {
	CertificatePath     string
	DocumentHash        string
	DataHash            string
	DocumentFingerprint string
	FingerprintHash     string
	// Set only when a batch-scoped signing key produced SI immediately.
	IssuerSignature string
	MerkleLeaf      string
}

// Package memory is the in-process store used by tests and local
// development. It mirrors the postgres gateway's semantics, including the
// conditional status guards, under a single mutex.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"justifai.co/issuance/model"
	"justifai.co/issuance/store"
)

type Store struct {
	mu        sync.Mutex
	tenants   map[string]*model.Tenant
	templates map[string]*model.Template
	batches   map[string]*model.Batch
	jobs      map[string]*model.Job
	now       func() time.Time
}

func New() *Store {
	return &Store{
		tenants:   make(map[string]*model.Tenant),
		templates: make(map[string]*model.Template),
		batches:   make(map[string]*model.Batch),
		jobs:      make(map[string]*model.Job),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store clock; tests use a deterministic one.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func copyJob(j *model.Job) *model.Job {
	out := *j
	if j.Data != nil {
		out.Data = make(map[string]any, len(j.Data))
		for k, v := range j.Data {
			out.Data[k] = v
		}
	}
	out.MerkleProofIntermediate = append([]string(nil), j.MerkleProofIntermediate...)
	out.MerkleProofUltimate = append([]string(nil), j.MerkleProofUltimate...)
	if j.VerificationBundle != nil {
		b := *j.VerificationBundle
		b.MerkleProofIntermediate = append([]string(nil), j.VerificationBundle.MerkleProofIntermediate...)
		b.MerkleProofUltimate = append([]string(nil), j.VerificationBundle.MerkleProofUltimate...)
		out.VerificationBundle = &b
	}
	return &out
}

func copyBatch(b *model.Batch) *model.Batch {
	out := *b
	out.MerkleProofUltimate = append([]string(nil), b.MerkleProofUltimate...)
	return &out
}

func (s *Store) CreateTenant(_ context.Context, t *model.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	cp := *t
	s.tenants[t.ID] = &cp
	return nil
}

func (s *Store) CreateTemplate(_ context.Context, t *model.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	cp := *t
	cp.Parameters = append([]string(nil), t.Parameters...)
	if t.QRPlacement != nil {
		q := *t.QRPlacement
		cp.QRPlacement = &q
	}
	s.templates[t.ID] = &cp
	return nil
}

func (s *Store) CreateBatch(_ context.Context, b *model.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = model.NewID()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}
	if b.Status == "" {
		b.Status = model.BatchPending
	}
	if b.SigningStatus == "" {
		b.SigningStatus = model.SigningPending
	}
	s.batches[b.ID] = copyBatch(b)
	return nil
}

func (s *Store) CreateJob(_ context.Context, j *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.ID == "" {
		j.ID = model.NewID()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = s.now()
	}
	if j.Status == "" {
		j.Status = model.JobPending
	}
	s.jobs[j.ID] = copyJob(j)
	return nil
}

func (s *Store) GetJob(_ context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyJob(j), nil
}

func (s *Store) GetBatch(_ context.Context, id string) (*model.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyBatch(b), nil
}

func (s *Store) GetTemplate(_ context.Context, id string) (*model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	cp.Parameters = append([]string(nil), t.Parameters...)
	if t.QRPlacement != nil {
		q := *t.QRPlacement
		cp.QRPlacement = &q
	}
	return &cp, nil
}

func (s *Store) GetTenant(_ context.Context, id string) (*model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) LoadJobContext(ctx context.Context, jobID string) (*store.JobContext, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	batch, err := s.GetBatch(ctx, job.BatchID)
	if err != nil {
		return nil, err
	}
	jc := &store.JobContext{Job: job, Batch: batch}
	if tpl, err := s.GetTemplate(ctx, batch.TemplateID); err == nil {
		jc.Template = tpl
	}
	if tenant, err := s.GetTenant(ctx, batch.TenantID); err == nil {
		jc.Tenant = tenant
	}
	return jc, nil
}

func (s *Store) ListJobs(_ context.Context, batchID string) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobsWhere(func(j *model.Job) bool { return j.BatchID == batchID }), nil
}

// jobsWhere returns matching jobs in creation order. Callers hold the lock.
func (s *Store) jobsWhere(pred func(*model.Job) bool) []*model.Job {
	var out []*model.Job
	for _, j := range s.jobs {
		if pred(j) {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID < out[k].ID
	})
	return out
}

func (s *Store) ClaimPending(_ context.Context, limit int) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.jobsWhere(func(j *model.Job) bool { return j.Status == model.JobPending })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	for _, j := range pending {
		live := s.jobs[j.ID]
		live.Status = model.JobProcessing
		live.UpdatedAt = s.now()
		j.Status = model.JobProcessing
	}
	return pending, nil
}

func (s *Store) FindPendingSignature(_ context.Context, batchID string) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobsWhere(func(j *model.Job) bool {
		return j.BatchID == batchID && j.Status == model.JobPendingSigning
	}), nil
}

func (s *Store) FindSignedJobs(_ context.Context, batchID string) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobsWhere(func(j *model.Job) bool {
		return j.BatchID == batchID && j.Status == model.JobGenerated
	}), nil
}

func (s *Store) FindBatchesAwaitingMRI(_ context.Context) ([]*model.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Batch
	for _, b := range s.batches {
		if b.MerkleRoot != "" {
			continue
		}
		hasGenerated := false
		for _, j := range s.jobs {
			if j.BatchID == b.ID && j.Status == model.JobGenerated {
				hasGenerated = true
				break
			}
		}
		if hasGenerated {
			out = append(out, copyBatch(b))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (s *Store) FindBatchesAwaitingMRU(_ context.Context, limit int) ([]*model.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Batch
	for _, b := range s.batches {
		if b.SigningStatus == model.SigningFinalized && b.MerkleRoot != "" && b.MerkleRootUltimate == "" {
			out = append(out, copyBatch(b))
		}
	}
	sort.Slice(out, func(i, k int) bool {
		fi, fk := out[i].FinalizedAt, out[k].FinalizedAt
		switch {
		case fi == nil:
			return false
		case fk == nil:
			return true
		default:
			return fi.Before(*fk)
		}
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) FindBatchesAwaitingAnchor(_ context.Context, limit int) ([]*model.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Batch
	for _, b := range s.batches {
		if b.MerkleRootUltimate != "" && b.TxHash == "" {
			out = append(out, copyBatch(b))
		}
	}
	sort.Slice(out, func(i, k int) bool {
		fi, fk := out[i].FinalizedAt, out[k].FinalizedAt
		switch {
		case fi == nil:
			return false
		case fk == nil:
			return true
		default:
			return fi.Before(*fk)
		}
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) FindJobsAwaitingQR(_ context.Context, limit int) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	anchored := make(map[string]bool)
	for id, b := range s.batches {
		anchored[id] = b.MerkleRootUltimate != "" && b.TxHash != ""
	}
	out := s.jobsWhere(func(j *model.Job) bool {
		return j.Status == model.JobGenerated && j.QRCodePath == "" && anchored[j.BatchID]
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) FindJobsAwaitingPDFAugment(_ context.Context, limit int) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.jobsWhere(func(j *model.Job) bool { return j.AwaitingAugment() })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SetJobGenerated(_ context.Context, jobID string, next model.JobStatus, f store.GeneratedFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status != model.JobProcessing {
		return store.ErrStaleState
	}
	if next != model.JobPendingSigning && next != model.JobGenerated {
		return model.NewError(model.KindState, "JF-STATE-001", "P1 may only move jobs to PendingSigning or Generated")
	}
	j.CertificatePath = f.CertificatePath
	j.DocumentHash = f.DocumentHash
	j.DataHash = f.DataHash
	j.DocumentFingerprint = f.DocumentFingerprint
	j.FingerprintHash = f.FingerprintHash
	j.IssuerSignature = f.IssuerSignature
	j.MerkleLeaf = f.MerkleLeaf
	j.Status = next
	j.UpdatedAt = s.now()
	return nil
}

func (s *Store) SubmitSignature(_ context.Context, jobID, signatureHex, leafHex string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status != model.JobPendingSigning {
		return store.ErrStaleState
	}
	j.IssuerSignature = signatureHex
	j.MerkleLeaf = leafHex
	j.Status = model.JobGenerated
	j.UpdatedAt = s.now()
	return nil
}

func (s *Store) SetBatchIntermediate(_ context.Context, batchID, rootHex string, proofs map[string][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return store.ErrNotFound
	}
	if b.MerkleRoot != "" {
		return store.ErrStaleState
	}
	for jobID := range proofs {
		if _, ok := s.jobs[jobID]; !ok {
			return store.ErrNotFound
		}
	}
	b.MerkleRoot = rootHex
	b.SigningStatus = model.SigningFinalized
	now := s.now()
	b.FinalizedAt = &now
	b.UpdatedAt = now
	for jobID, proof := range proofs {
		j := s.jobs[jobID]
		j.MerkleProofIntermediate = append([]string(nil), proof...)
		j.UpdatedAt = now
	}
	return nil
}

func (s *Store) SetBatchUltimate(_ context.Context, batchID, rootHex string, proof []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return store.ErrNotFound
	}
	if b.MerkleRootUltimate != "" {
		return store.ErrStaleState
	}
	b.MerkleRootUltimate = rootHex
	b.MerkleProofUltimate = append([]string(nil), proof...)
	now := s.now()
	b.UpdatedAt = now
	for _, j := range s.jobs {
		if j.BatchID == batchID {
			j.MerkleProofUltimate = append([]string(nil), proof...)
			j.UpdatedAt = now
		}
	}
	return nil
}

func (s *Store) SetBatchAnchored(_ context.Context, batchID, txHash, network string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return store.ErrNotFound
	}
	b.TxHash = txHash
	b.Network = network
	b.UpdatedAt = s.now()
	return nil
}

func (s *Store) SetBatchIssuerKey(_ context.Context, batchID, publicKeyHex string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return store.ErrNotFound
	}
	if b.IssuerPublicKey != "" {
		return store.ErrStaleState
	}
	b.IssuerPublicKey = publicKeyHex
	b.UpdatedAt = s.now()
	return nil
}

func (s *Store) SetJobQRArtifact(_ context.Context, jobID, qrPath, payloadFragment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	j.QRCodePath = qrPath
	j.QRPayloadFragment = payloadFragment
	j.UpdatedAt = s.now()
	return nil
}

func (s *Store) SetJobBundle(_ context.Context, jobID string, bundle *model.Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	if bundle == nil {
		j.VerificationBundle = nil
	} else {
		b := *bundle
		j.VerificationBundle = &b
	}
	j.UpdatedAt = s.now()
	return nil
}

func (s *Store) SetJobAugmented(_ context.Context, jobID, augmentedPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status != model.JobGenerated {
		return store.ErrStaleState
	}
	j.CertificateWithQRPath = augmentedPath
	j.UpdatedAt = s.now()
	return nil
}

func (s *Store) ClearAugmentedPaths(_ context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, j := range s.jobs {
		if j.BatchID == batchID && j.CertificateWithQRPath != "" {
			j.CertificateWithQRPath = ""
			j.UpdatedAt = now
		}
	}
	return nil
}

func (s *Store) MarkBatchCompleted(_ context.Context, batchID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return false, store.ErrNotFound
	}
	if b.TxHash == "" || b.Status == model.BatchCompleted {
		return false, nil
	}
	for _, j := range s.jobs {
		if j.BatchID == batchID && (j.Status != model.JobGenerated || j.CertificateWithQRPath == "") {
			return false, nil
		}
	}
	b.Status = model.BatchCompleted
	b.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) FailJob(_ context.Context, jobID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	j.Status = model.JobFailed
	j.ErrorMessage = message
	j.UpdatedAt = s.now()
	return nil
}

func (s *Store) ReleaseJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status != model.JobProcessing {
		return store.ErrStaleState
	}
	j.Status = model.JobPending
	j.UpdatedAt = s.now()
	return nil
}

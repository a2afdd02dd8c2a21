// Package postgres is the relational backend of the state gateway.
//
// The job status transitions, the root writes, the issuer-key write and
// MarkBatchCompleted carry a WHERE guard on the current status (or on the
// field's absence) so stale workers observe zero rows changed instead of
// overwriting newer state. SetBatchAnchored, SetJobQRArtifact, SetJobBundle,
// ClearAugmentedPaths and FailJob match on id alone and write
// unconditionally. ClaimPending uses FOR UPDATE SKIP LOCKED so concurrent
// pollers never claim the same job.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"justifai.co/issuance/model"
	"justifai.co/issuance/store"
)

type Store struct {
	db *sql.DB
}

func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	issuer_public_key TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS templates (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL REFERENCES tenants(id),
	name TEXT NOT NULL DEFAULT '',
	html TEXT NOT NULL DEFAULT '',
	parameters JSONB NOT NULL DEFAULT '[]',
	qr_placement JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS batches (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL REFERENCES tenants(id),
	template_id TEXT NOT NULL REFERENCES templates(id),
	status TEXT NOT NULL DEFAULT 'Pending',
	signing_status TEXT NOT NULL DEFAULT 'PendingSigning',
	issuer_public_key TEXT NOT NULL DEFAULT '',
	expiry_date TIMESTAMPTZ,
	invalidation_expiry TIMESTAMPTZ,
	merkle_root TEXT NOT NULL DEFAULT '',
	merkle_root_ultimate TEXT NOT NULL DEFAULT '',
	merkle_proof_ultimate JSONB,
	tx_hash TEXT NOT NULL DEFAULT '',
	network TEXT NOT NULL DEFAULT '',
	finalized_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL REFERENCES batches(id),
	data JSONB NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'Pending',
	certificate_path TEXT NOT NULL DEFAULT '',
	qr_code_path TEXT NOT NULL DEFAULT '',
	certificate_with_qr_path TEXT NOT NULL DEFAULT '',
	document_hash TEXT NOT NULL DEFAULT '',
	data_hash TEXT NOT NULL DEFAULT '',
	document_fingerprint TEXT NOT NULL DEFAULT '',
	fingerprint_hash TEXT NOT NULL DEFAULT '',
	issuer_signature TEXT NOT NULL DEFAULT '',
	merkle_leaf TEXT NOT NULL DEFAULT '',
	merkle_proof_intermediate JSONB,
	merkle_proof_ultimate JSONB,
	verification_bundle JSONB,
	qr_payload_fragment TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_status_created_idx ON jobs (status, created_at);
CREATE INDEX IF NOT EXISTS jobs_batch_idx ON jobs (batch_id);
CREATE INDEX IF NOT EXISTS batches_signing_idx ON batches (signing_status, finalized_at);
`

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func now() time.Time { return time.Now().UTC() }

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func scanStrings(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	_ = json.Unmarshal(raw, &out)
	return out
}

func (s *Store) CreateTenant(ctx context.Context, t *model.Tenant) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, issuer_public_key, created_at) VALUES ($1,$2,$3,$4)`,
		t.ID, t.Name, t.IssuerPublicKey, t.CreatedAt)
	return err
}

func (s *Store) CreateTemplate(ctx context.Context, t *model.Template) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now()
	}
	params, err := marshalJSON(t.Parameters)
	if err != nil {
		return err
	}
	placement, err := marshalJSON(t.QRPlacement)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO templates (id, tenant_id, name, html, parameters, qr_placement, created_at)
		 VALUES ($1,$2,$3,$4,COALESCE($5,'[]'::jsonb),$6,$7)`,
		t.ID, t.TenantID, t.Name, t.HTML, params, placement, t.CreatedAt)
	return err
}

func (s *Store) CreateBatch(ctx context.Context, b *model.Batch) error {
	if b.ID == "" {
		b.ID = model.NewID()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now()
	}
	if b.Status == "" {
		b.Status = model.BatchPending
	}
	if b.SigningStatus == "" {
		b.SigningStatus = model.SigningPending
	}
	proof, err := marshalJSON(b.MerkleProofUltimate)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batches (id, tenant_id, template_id, status, signing_status, issuer_public_key,
			expiry_date, invalidation_expiry, merkle_root, merkle_root_ultimate, merkle_proof_ultimate,
			tx_hash, network, finalized_at, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)`,
		b.ID, b.TenantID, b.TemplateID, b.Status, b.SigningStatus, b.IssuerPublicKey,
		b.ExpiryDate, b.InvalidationExpiry, b.MerkleRoot, b.MerkleRootUltimate, proof,
		b.TxHash, b.Network, b.FinalizedAt, b.CreatedAt)
	return err
}

func (s *Store) CreateJob(ctx context.Context, j *model.Job) error {
	if j.ID == "" {
		j.ID = model.NewID()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now()
	}
	if j.Status == "" {
		j.Status = model.JobPending
	}
	data, err := marshalJSON(j.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, batch_id, data, status, created_at, updated_at)
		 VALUES ($1,$2,COALESCE($3,'{}'::jsonb),$4,$5,$5)`,
		j.ID, j.BatchID, data, j.Status, j.CreatedAt)
	return err
}

const jobColumns = `id, batch_id, data, status, certificate_path, qr_code_path,
	certificate_with_qr_path, document_hash, data_hash, document_fingerprint,
	fingerprint_hash, issuer_signature, merkle_leaf, merkle_proof_intermediate,
	merkle_proof_ultimate, verification_bundle, qr_payload_fragment, error_message,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*model.Job, error) {
	var j model.Job
	var data, mpi, mpu, bundle []byte
	err := r.Scan(&j.ID, &j.BatchID, &data, &j.Status, &j.CertificatePath, &j.QRCodePath,
		&j.CertificateWithQRPath, &j.DocumentHash, &j.DataHash, &j.DocumentFingerprint,
		&j.FingerprintHash, &j.IssuerSignature, &j.MerkleLeaf, &mpi,
		&mpu, &bundle, &j.QRPayloadFragment, &j.ErrorMessage,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &j.Data)
	}
	j.MerkleProofIntermediate = scanStrings(mpi)
	j.MerkleProofUltimate = scanStrings(mpu)
	if len(bundle) > 0 {
		var b model.Bundle
		if json.Unmarshal(bundle, &b) == nil {
			j.VerificationBundle = &b
		}
	}
	return &j, nil
}

const batchColumns = `id, tenant_id, template_id, status, signing_status, issuer_public_key,
	expiry_date, invalidation_expiry, merkle_root, merkle_root_ultimate, merkle_proof_ultimate,
	tx_hash, network, finalized_at, created_at, updated_at`

func scanBatch(r rowScanner) (*model.Batch, error) {
	var b model.Batch
	var proof []byte
	err := r.Scan(&b.ID, &b.TenantID, &b.TemplateID, &b.Status, &b.SigningStatus, &b.IssuerPublicKey,
		&b.ExpiryDate, &b.InvalidationExpiry, &b.MerkleRoot, &b.MerkleRootUltimate, &proof,
		&b.TxHash, &b.Network, &b.FinalizedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.MerkleProofUltimate = scanStrings(proof)
	return &b, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return j, err
}

func (s *Store) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	b, err := scanBatch(s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return b, err
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	var t model.Template
	var params, placement []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, html, parameters, qr_placement, created_at FROM templates WHERE id = $1`, id).
		Scan(&t.ID, &t.TenantID, &t.Name, &t.HTML, &params, &placement, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Parameters = scanStrings(params)
	if len(placement) > 0 {
		var q model.QRPlacement
		if json.Unmarshal(placement, &q) == nil {
			t.QRPlacement = &q
		}
	}
	return &t, nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	var t model.Tenant
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, issuer_public_key, created_at FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.IssuerPublicKey, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
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

func (s *Store) queryJobs(ctx context.Context, q string, args ...any) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) ListJobs(ctx context.Context, batchID string) ([]*model.Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE batch_id = $1 ORDER BY created_at, id`, batchID)
}

func (s *Store) ClaimPending(ctx context.Context, limit int) ([]*model.Job, error) {
	return s.queryJobs(ctx, `
		UPDATE jobs SET status = 'Processing', updated_at = $2
		WHERE id IN (
			SELECT id FROM jobs WHERE status = 'Pending'
			ORDER BY created_at, id LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, limit, now())
}

func (s *Store) FindPendingSignature(ctx context.Context, batchID string) ([]*model.Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE batch_id = $1 AND status = 'PendingSigning' ORDER BY created_at, id`,
		batchID)
}

func (s *Store) FindSignedJobs(ctx context.Context, batchID string) ([]*model.Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE batch_id = $1 AND status = 'Generated' ORDER BY created_at, id`,
		batchID)
}

func (s *Store) queryBatches(ctx context.Context, q string, args ...any) ([]*model.Batch, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) FindBatchesAwaitingMRI(ctx context.Context) ([]*model.Batch, error) {
	return s.queryBatches(ctx, `
		SELECT `+batchColumns+` FROM batches b
		WHERE b.merkle_root = ''
		  AND EXISTS (SELECT 1 FROM jobs j WHERE j.batch_id = b.id AND j.status = 'Generated')
		ORDER BY b.created_at`)
}

func (s *Store) FindBatchesAwaitingMRU(ctx context.Context, limit int) ([]*model.Batch, error) {
	return s.queryBatches(ctx, `
		SELECT `+batchColumns+` FROM batches
		WHERE signing_status = 'Finalized' AND merkle_root <> '' AND merkle_root_ultimate = ''
		ORDER BY finalized_at NULLS LAST LIMIT $1`, limit)
}

func (s *Store) FindBatchesAwaitingAnchor(ctx context.Context, limit int) ([]*model.Batch, error) {
	return s.queryBatches(ctx, `
		SELECT `+batchColumns+` FROM batches
		WHERE merkle_root_ultimate <> '' AND tx_hash = ''
		ORDER BY finalized_at NULLS LAST LIMIT $1`, limit)
}

func (s *Store) FindJobsAwaitingQR(ctx context.Context, limit int) ([]*model.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumnsQualified("j")+` FROM jobs j
		JOIN batches b ON b.id = j.batch_id
		WHERE j.status = 'Generated' AND j.qr_code_path = ''
		  AND b.merkle_root_ultimate <> '' AND b.tx_hash <> ''
		ORDER BY j.created_at, j.id LIMIT $1`, limit)
}

func (s *Store) FindJobsAwaitingPDFAugment(ctx context.Context, limit int) ([]*model.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumnsQualified("j")+` FROM jobs j
		WHERE j.status = 'Generated' AND j.qr_code_path <> ''
		  AND j.certificate_path <> '' AND j.certificate_with_qr_path = ''
		ORDER BY j.created_at, j.id LIMIT $1`, limit)
}

func jobColumnsQualified(alias string) string {
	cols := []string{"id", "batch_id", "data", "status", "certificate_path", "qr_code_path",
		"certificate_with_qr_path", "document_hash", "data_hash", "document_fingerprint",
		"fingerprint_hash", "issuer_signature", "merkle_leaf", "merkle_proof_intermediate",
		"merkle_proof_ultimate", "verification_bundle", "qr_payload_fragment", "error_message",
		"created_at", "updated_at"}
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + c
	}
	return out
}

// guarded runs an UPDATE and converts "zero rows" into ErrStaleState.
func (s *Store) guarded(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrStaleState
	}
	return nil
}

func (s *Store) SetJobGenerated(ctx context.Context, jobID string, next model.JobStatus, f store.GeneratedFields) error {
	if next != model.JobPendingSigning && next != model.JobGenerated {
		return model.NewError(model.KindState, "JF-STATE-001", "P1 may only move jobs to PendingSigning or Generated")
	}
	return s.guarded(ctx, `
		UPDATE jobs SET status = $2, certificate_path = $3, document_hash = $4, data_hash = $5,
			document_fingerprint = $6, fingerprint_hash = $7, issuer_signature = $8,
			merkle_leaf = $9, updated_at = $10
		WHERE id = $1 AND status = 'Processing'`,
		jobID, next, f.CertificatePath, f.DocumentHash, f.DataHash,
		f.DocumentFingerprint, f.FingerprintHash, f.IssuerSignature, f.MerkleLeaf, now())
}

func (s *Store) SubmitSignature(ctx context.Context, jobID, signatureHex, leafHex string) error {
	return s.guarded(ctx, `
		UPDATE jobs SET status = 'Generated', issuer_signature = $2, merkle_leaf = $3, updated_at = $4
		WHERE id = $1 AND status = 'PendingSigning'`,
		jobID, signatureHex, leafHex, now())
}

func (s *Store) SetBatchIntermediate(ctx context.Context, batchID, rootHex string, proofs map[string][]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ts := now()
	res, err := tx.ExecContext(ctx, `
		UPDATE batches SET merkle_root = $2, signing_status = 'Finalized', finalized_at = $3, updated_at = $3
		WHERE id = $1 AND merkle_root = ''`, batchID, rootHex, ts)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrStaleState
	}
	for jobID, proof := range proofs {
		raw, err := marshalJSON(proof)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET merkle_proof_intermediate = COALESCE($2,'[]'::jsonb), updated_at = $3 WHERE id = $1`,
			jobID, raw, ts)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("job %s missing while writing proofs: %w", jobID, store.ErrNotFound)
		}
	}
	return tx.Commit()
}

func (s *Store) SetBatchUltimate(ctx context.Context, batchID, rootHex string, proof []string) error {
	raw, err := marshalJSON(proof)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	ts := now()
	res, err := tx.ExecContext(ctx, `
		UPDATE batches SET merkle_root_ultimate = $2, merkle_proof_ultimate = COALESCE($3,'[]'::jsonb), updated_at = $4
		WHERE id = $1 AND merkle_root_ultimate = ''`, batchID, rootHex, raw, ts)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrStaleState
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET merkle_proof_ultimate = COALESCE($2,'[]'::jsonb), updated_at = $3 WHERE batch_id = $1`,
		batchID, raw, ts); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) SetBatchAnchored(ctx context.Context, batchID, txHash, network string) error {
	return s.guarded(ctx,
		`UPDATE batches SET tx_hash = $2, network = $3, updated_at = $4 WHERE id = $1`,
		batchID, txHash, network, now())
}

func (s *Store) SetBatchIssuerKey(ctx context.Context, batchID, publicKeyHex string) error {
	return s.guarded(ctx,
		`UPDATE batches SET issuer_public_key = $2, updated_at = $3 WHERE id = $1 AND issuer_public_key = ''`,
		batchID, publicKeyHex, now())
}

func (s *Store) SetJobQRArtifact(ctx context.Context, jobID, qrPath, payloadFragment string) error {
	return s.guarded(ctx,
		`UPDATE jobs SET qr_code_path = $2, qr_payload_fragment = $3, updated_at = $4 WHERE id = $1`,
		jobID, qrPath, payloadFragment, now())
}

func (s *Store) SetJobBundle(ctx context.Context, jobID string, bundle *model.Bundle) error {
	raw, err := marshalJSON(bundle)
	if err != nil {
		return err
	}
	return s.guarded(ctx,
		`UPDATE jobs SET verification_bundle = $2, updated_at = $3 WHERE id = $1`,
		jobID, raw, now())
}

func (s *Store) SetJobAugmented(ctx context.Context, jobID, augmentedPath string) error {
	return s.guarded(ctx,
		`UPDATE jobs SET certificate_with_qr_path = $2, updated_at = $3 WHERE id = $1 AND status = 'Generated'`,
		jobID, augmentedPath, now())
}

func (s *Store) ClearAugmentedPaths(ctx context.Context, batchID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET certificate_with_qr_path = '', updated_at = $2 WHERE batch_id = $1 AND certificate_with_qr_path <> ''`,
		batchID, now())
	return err
}

func (s *Store) MarkBatchCompleted(ctx context.Context, batchID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE batches b SET status = 'Completed', updated_at = $2
		WHERE b.id = $1 AND b.tx_hash <> '' AND b.status <> 'Completed'
		  AND NOT EXISTS (
			SELECT 1 FROM jobs j WHERE j.batch_id = b.id
			  AND (j.status <> 'Generated' OR j.certificate_with_qr_path = '')
		  )`, batchID, now())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) FailJob(ctx context.Context, jobID, message string) error {
	return s.guarded(ctx,
		`UPDATE jobs SET status = 'Failed', error_message = $2, updated_at = $3 WHERE id = $1`,
		jobID, message, now())
}

func (s *Store) ReleaseJob(ctx context.Context, jobID string) error {
	return s.guarded(ctx,
		`UPDATE jobs SET status = 'Pending', updated_at = $2 WHERE id = $1 AND status = 'Processing'`,
		jobID, now())
}

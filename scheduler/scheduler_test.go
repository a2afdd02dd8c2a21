package scheduler

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"justifai.co/issuance/anchor"
	"justifai.co/issuance/hashkit"
	"justifai.co/issuance/merkle"
	"justifai.co/issuance/model"
	"justifai.co/issuance/qr"
	"justifai.co/issuance/render"
	"justifai.co/issuance/storage/localfs"
	"justifai.co/issuance/store/memory"
	"justifai.co/issuance/verify"
)

type stubAnchorer struct {
	calls int
	fail  bool
	last  [32]byte
	tw    uint64
}

func (a *stubAnchorer) Anchor(_ context.Context, root [32]byte, timeWindow uint64) (*anchor.Receipt, error) {
	a.calls++
	if a.fail {
		return nil, model.NewError(model.KindChain, "JF-CHAIN-015", "rpc down")
	}
	a.last = root
	a.tw = timeWindow
	return &anchor.Receipt{TxHash: "0x" + strings.Repeat("cd", 32), Network: "amoy", BlockNumber: 42}, nil
}

type fixture struct {
	s  *Scheduler
	st *memory.Store
	an *stubAnchorer
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	st := memory.New()
	blobs, err := localfs.New(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	an := &stubAnchorer{}
	opts.VerifyBaseURL = "https://verify.justifai.co"
	s := New(st, blobs, render.Stub{}, an, opts)
	return &fixture{s: s, st: st, an: an}
}

func seedBatch(t *testing.T, f *fixture, jobs int) (batchID string, jobIDs []string) {
	t.Helper()
	ctx := context.Background()
	if err := f.st.CreateTenant(ctx, &model.Tenant{ID: "tenant", Name: "Acme University"}); err != nil {
		t.Fatal(err)
	}
	if err := f.st.CreateTemplate(ctx, &model.Template{
		ID: "tpl", TenantID: "tenant",
		HTML:       `<style>.qr-placeholder{left:400px;top:600px;width:96px;height:96px;}</style><h1>Certificate</h1><p>Awarded to {{name}}</p>`,
		Parameters: []string{"name"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.st.CreateBatch(ctx, &model.Batch{ID: "batch", TenantID: "tenant", TemplateID: "tpl"}); err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	names := []string{"A", "B", "C", "D"}
	for i := 0; i < jobs; i++ {
		id := "job-" + names[i]
		jobIDs = append(jobIDs, id)
		if err := f.st.CreateJob(ctx, &model.Job{
			ID: id, BatchID: "batch",
			Data:      map[string]any{"name": names[i]},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatal(err)
		}
	}
	return "batch", jobIDs
}

func (f *fixture) generate(t *testing.T, ctx context.Context) {
	t.Helper()
	if err := f.s.iterateGenerate(ctx); err != nil {
		t.Fatal(err)
	}
	f.s.drain.Wait()
}

func TestFullPipelineTwoJobSingleBatch(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	batchID, jobIDs := seedBatch(t, f, 2)
	privHex := strings.Repeat("77", 32)

	// P1: render and fingerprint.
	f.generate(t, ctx)
	leaves := make([]string, 0, 2)
	for _, id := range jobIDs {
		job, err := f.st.GetJob(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if job.Status != model.JobPendingSigning {
			t.Fatalf("job %s status = %s after P1", id, job.Status)
		}
		if len(job.DocumentHash) != 64 {
			t.Fatalf("document hash = %q", job.DocumentHash)
		}
		if len(job.DocumentFingerprint) != 96 {
			t.Fatalf("fingerprint hex length = %d, want 96", len(job.DocumentFingerprint))
		}
		// Null expiries encode as sixteen zero bytes.
		if !strings.HasSuffix(job.DocumentFingerprint, strings.Repeat("00", 16)) {
			t.Fatal("lifetime expiries not encoded as zero")
		}
		if job.CertificatePath == "" {
			t.Fatal("certificate not stored")
		}

		// P2: external signature intake.
		sig, err := hashkit.SignRecoverable(job.FingerprintHash, privHex)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.s.SubmitSignature(ctx, id, sig); err != nil {
			t.Fatalf("SubmitSignature: %v", err)
		}
		signed, _ := f.st.GetJob(ctx, id)
		if signed.Status != model.JobGenerated {
			t.Fatalf("job %s status = %s after P2", id, signed.Status)
		}
		sigBytes, _ := hashkit.DecodeHex(sig)
		if signed.MerkleLeaf != hashkit.Keccak256Hex(sigBytes) {
			t.Fatal("leaf is not keccak(SI)")
		}
		leaves = append(leaves, signed.MerkleLeaf)
	}

	// Issuer key was captured from the first recoverable signature.
	batch, _ := f.st.GetBatch(ctx, batchID)
	wantPub, _ := hashkit.PublicKeyFromPrivate(privHex)
	if batch.IssuerPublicKey != wantPub {
		t.Fatalf("issuer key = %q, want captured %q", batch.IssuerPublicKey, wantPub)
	}

	// P3: intermediate tree.
	if err := f.s.iterateIntermediate(ctx); err != nil {
		t.Fatal(err)
	}
	batch, _ = f.st.GetBatch(ctx, batchID)
	tree, err := merkle.BuildHex(leaves)
	if err != nil {
		t.Fatal(err)
	}
	if batch.MerkleRoot != tree.RootHex() {
		t.Fatalf("MRI = %s, want %s", batch.MerkleRoot, tree.RootHex())
	}
	if batch.SigningStatus != model.SigningFinalized {
		t.Fatal("batch not finalized after P3")
	}
	for _, id := range jobIDs {
		job, _ := f.st.GetJob(ctx, id)
		if !merkle.VerifyHex(job.MerkleLeaf, job.MerkleProofIntermediate, batch.MerkleRoot) {
			t.Fatalf("MPI for %s does not verify", id)
		}
	}

	// P4: ultimate tree and anchoring. Single batch pads with keccak(MRI).
	if err := f.s.iterateUltimate(ctx); err != nil {
		t.Fatal(err)
	}
	batch, _ = f.st.GetBatch(ctx, batchID)
	mriBytes, _ := hashkit.DecodeHex(batch.MerkleRoot)
	if len(batch.MerkleProofUltimate) != 1 || batch.MerkleProofUltimate[0] != hashkit.Keccak256Hex(mriBytes) {
		t.Fatalf("MPU = %v, want single keccak(MRI) sibling", batch.MerkleProofUltimate)
	}
	if !merkle.VerifyHex(batch.MerkleRoot, batch.MerkleProofUltimate, batch.MerkleRootUltimate) {
		t.Fatal("MPU does not verify")
	}
	if batch.TxHash == "" || batch.Network != "amoy" {
		t.Fatalf("batch not anchored: tx=%q net=%q", batch.TxHash, batch.Network)
	}
	if f.an.tw != uint64(batch.FinalizedAt.Unix()) {
		t.Fatalf("timeWindow = %d, want finalizedAt %d", f.an.tw, batch.FinalizedAt.Unix())
	}

	// P5: QR artifacts.
	if err := f.s.iterateQR(ctx); err != nil {
		t.Fatal(err)
	}
	for _, id := range jobIDs {
		job, _ := f.st.GetJob(ctx, id)
		if job.QRCodePath == "" {
			t.Fatalf("job %s has no QR artifact", id)
		}
		payload, err := qr.Decompress(job.QRPayloadFragment)
		if err != nil {
			t.Fatalf("stored fragment does not decompress: %v", err)
		}
		if payload.JobID != id || payload.MRU != batch.MerkleRootUltimate {
			t.Fatalf("payload mismatch: %+v", payload)
		}
		if payload.Fields["name"] == nil {
			t.Fatal("payload lost declared fields")
		}
	}

	// P6: augmentation and completion.
	if err := f.s.iterateAugment(ctx); err != nil {
		t.Fatal(err)
	}
	batch, _ = f.st.GetBatch(ctx, batchID)
	if batch.Status != model.BatchCompleted {
		t.Fatalf("batch status = %s, want Completed", batch.Status)
	}

	// The produced PDF verifies end to end.
	job, _ := f.st.GetJob(ctx, jobIDs[0])
	if job.CertificateWithQRPath == "" {
		t.Fatal("augmented path missing")
	}
	final, err := f.s.storage.Retrieve(job.CertificateWithQRPath)
	if err != nil {
		t.Fatal(err)
	}
	res := verify.Verify(ctx, final, verify.Options{
		Chain:          &chainFromAnchor{f.an},
		KnownProducers: []string{"Acme University"},
	})
	if !res.Valid {
		t.Fatalf("end-to-end verification failed: %v", res.Errors)
	}
}

// chainFromAnchor answers transaction lookups from what the stub anchored.
type chainFromAnchor struct{ an *stubAnchorer }

func (c *chainFromAnchor) VerifyTransaction(_ context.Context, txHash, expectedMRU string) (*anchor.Verification, error) {
	root := hashkit.NormalizeHex(expectedMRU)
	got := hex.EncodeToString(c.an.last[:])
	v := &anchor.Verification{BlockNumber: 42, MRUFromEvent: got}
	if expectedMRU == "" || got == root {
		v.Verified = true
		v.MRUMatches = expectedMRU != ""
	}
	return v, nil
}

func TestAutoSignSkipsExternalSigning(t *testing.T) {
	priv := strings.Repeat("55", 32)
	f := newFixture(t, Options{AutoSignKey: priv})
	ctx := context.Background()
	_, jobIDs := seedBatch(t, f, 1)

	f.generate(t, ctx)
	job, err := f.st.GetJob(ctx, jobIDs[0])
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != model.JobGenerated {
		t.Fatalf("status = %s, want Generated via auto-sign", job.Status)
	}
	pub, _ := hashkit.PublicKeyFromPrivate(priv)
	if !hashkit.Verify(job.FingerprintHash, job.IssuerSignature, pub) {
		t.Fatal("auto-signature does not verify")
	}
	batch, _ := f.st.GetBatch(ctx, "batch")
	if batch.IssuerPublicKey != pub {
		t.Fatal("issuer key not captured from auto-signature")
	}
}

func TestAnchorFailureRetries(t *testing.T) {
	f := newFixture(t, Options{AutoSignKey: strings.Repeat("66", 32)})
	f.an.fail = true
	ctx := context.Background()
	seedBatch(t, f, 1)

	f.generate(t, ctx)
	if err := f.s.iterateIntermediate(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.s.iterateUltimate(ctx); err != nil {
		t.Fatal(err)
	}
	batch, _ := f.st.GetBatch(ctx, "batch")
	if batch.MerkleRootUltimate == "" {
		t.Fatal("anchoring failure must not discard the ultimate root")
	}
	if batch.TxHash != "" {
		t.Fatal("failed anchor recorded a transaction")
	}

	// The next tick succeeds without rebuilding anything.
	f.an.fail = false
	if err := f.s.iterateUltimate(ctx); err != nil {
		t.Fatal(err)
	}
	anchored, _ := f.st.GetBatch(ctx, "batch")
	if anchored.TxHash == "" {
		t.Fatal("anchor retry did not record the transaction")
	}
	if anchored.MerkleRootUltimate != batch.MerkleRootUltimate {
		t.Fatal("retry changed the ultimate root")
	}
}

func TestGenerateDedupesInFlight(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	seedBatch(t, f, 1)

	if !f.s.markInFlight("job-A") {
		t.Fatal("first mark failed")
	}
	// The claim still transitions the job, but P1 must skip rendering it.
	f.generate(t, ctx)
	job, _ := f.st.GetJob(ctx, "job-A")
	if job.Status != model.JobProcessing {
		t.Fatalf("in-flight job advanced to %s", job.Status)
	}
	f.s.clearInFlight("job-A")
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, Options{
		JobInterval: 10 * time.Millisecond, MRIInterval: 10 * time.Millisecond,
		MRUInterval: 10 * time.Millisecond, QRInterval: 10 * time.Millisecond,
		AugmentInterval: 10 * time.Millisecond, DrainTimeout: time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.s.Run(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestFailedRenderMarksJobFailed(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	if err := f.st.CreateTenant(ctx, &model.Tenant{ID: "tenant"}); err != nil {
		t.Fatal(err)
	}
	if err := f.st.CreateTemplate(ctx, &model.Template{ID: "tpl", TenantID: "tenant", HTML: "{{#broken"}); err != nil {
		t.Fatal(err)
	}
	if err := f.st.CreateBatch(ctx, &model.Batch{ID: "batch", TenantID: "tenant", TemplateID: "tpl"}); err != nil {
		t.Fatal(err)
	}
	if err := f.st.CreateJob(ctx, &model.Job{ID: "job-X", BatchID: "batch"}); err != nil {
		t.Fatal(err)
	}
	f.generate(t, ctx)
	job, _ := f.st.GetJob(ctx, "job-X")
	if job.Status != model.JobFailed {
		t.Fatalf("status = %s, want Failed", job.Status)
	}
	if job.ErrorMessage == "" {
		t.Fatal("failure reason not recorded")
	}
}

package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"justifai.co/issuance/model"
	"justifai.co/issuance/store"
)

func seed(t *testing.T, s *Store, jobs int) (string, []string) {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateTenant(ctx, &model.Tenant{ID: "tenant"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateTemplate(ctx, &model.Template{ID: "tpl", TenantID: "tenant", HTML: "<h1>{{.name}}</h1>"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateBatch(ctx, &model.Batch{ID: "batch", TenantID: "tenant", TemplateID: "tpl"}); err != nil {
		t.Fatal(err)
	}
	ids := make([]string, 0, jobs)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < jobs; i++ {
		id := string(rune('a' + i))
		ids = append(ids, id)
		if err := s.CreateJob(ctx, &model.Job{ID: id, BatchID: "batch", CreatedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatal(err)
		}
	}
	return "batch", ids
}

func TestClaimPendingIsExclusive(t *testing.T) {
	s := New()
	_, ids := seed(t, s, 8)
	ctx := context.Background()

	var mu sync.Mutex
	claimed := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := s.ClaimPending(ctx, 2)
				if err != nil {
					t.Error(err)
					return
				}
				if len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					claimed[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != len(ids) {
		t.Fatalf("claimed %d jobs, want %d", len(claimed), len(ids))
	}
	for id, n := range claimed {
		if n != 1 {
			t.Fatalf("job %s claimed %d times", id, n)
		}
	}
}

func TestClaimOrderIsOldestFirst(t *testing.T) {
	s := New()
	_, ids := seed(t, s, 3)
	jobs, err := s.ClaimPending(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 || jobs[0].ID != ids[0] || jobs[1].ID != ids[1] {
		t.Fatalf("claim order wrong: %v", jobs)
	}
}

func TestSetJobGeneratedGuardsStatus(t *testing.T) {
	s := New()
	seed(t, s, 1)
	ctx := context.Background()

	fields := store.GeneratedFields{CertificatePath: "certificates/tenant/batch/a.pdf", DocumentHash: "aa"}
	// Not yet Processing.
	if err := s.SetJobGenerated(ctx, "a", model.JobPendingSigning, fields); !store.IsStaleState(err) {
		t.Fatalf("want ErrStaleState, got %v", err)
	}
	if _, err := s.ClaimPending(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.SetJobGenerated(ctx, "a", model.JobPendingSigning, fields); err != nil {
		t.Fatalf("SetJobGenerated: %v", err)
	}
	j, err := s.GetJob(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != model.JobPendingSigning || j.DocumentHash != "aa" {
		t.Fatalf("job after P1: %+v", j)
	}
	// Failed transition target.
	if err := s.SetJobGenerated(ctx, "a", model.JobFailed, fields); err == nil {
		t.Fatal("invalid target state accepted")
	}
}

func TestSubmitSignatureLifecycle(t *testing.T) {
	s := New()
	seed(t, s, 1)
	ctx := context.Background()

	if err := s.SubmitSignature(ctx, "a", "sig", "leaf"); !store.IsStaleState(err) {
		t.Fatalf("signature accepted while Pending: %v", err)
	}
	if _, err := s.ClaimPending(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.SetJobGenerated(ctx, "a", model.JobPendingSigning, store.GeneratedFields{}); err != nil {
		t.Fatal(err)
	}
	if err := s.SubmitSignature(ctx, "a", "sig", "leaf"); err != nil {
		t.Fatalf("SubmitSignature: %v", err)
	}
	j, _ := s.GetJob(ctx, "a")
	if j.Status != model.JobGenerated || j.IssuerSignature != "sig" || j.MerkleLeaf != "leaf" {
		t.Fatalf("job after signing: %+v", j)
	}
	// Double submit must fail.
	if err := s.SubmitSignature(ctx, "a", "sig2", "leaf2"); !store.IsStaleState(err) {
		t.Fatalf("double signature accepted: %v", err)
	}
}

func TestSetBatchIntermediateImmutableRoot(t *testing.T) {
	s := New()
	batchID, _ := seed(t, s, 2)
	ctx := context.Background()

	moveAllToGenerated(t, s, 2)

	proofs := map[string][]string{"a": {"p1"}, "b": {"p2"}}
	if err := s.SetBatchIntermediate(ctx, batchID, "root1", proofs); err != nil {
		t.Fatalf("SetBatchIntermediate: %v", err)
	}
	if err := s.SetBatchIntermediate(ctx, batchID, "root2", proofs); !store.IsStaleState(err) {
		t.Fatalf("MRI overwritten: %v", err)
	}
	b, _ := s.GetBatch(ctx, batchID)
	if b.MerkleRoot != "root1" || b.SigningStatus != model.SigningFinalized || b.FinalizedAt == nil {
		t.Fatalf("batch after finalize: %+v", b)
	}
	j, _ := s.GetJob(ctx, "a")
	if len(j.MerkleProofIntermediate) != 1 || j.MerkleProofIntermediate[0] != "p1" {
		t.Fatalf("job proof: %v", j.MerkleProofIntermediate)
	}
}

func moveAllToGenerated(t *testing.T, s *Store, n int) {
	t.Helper()
	ctx := context.Background()
	jobs, err := s.ClaimPending(ctx, n)
	if err != nil {
		t.Fatal(err)
	}
	for _, j := range jobs {
		if err := s.SetJobGenerated(ctx, j.ID, model.JobGenerated, store.GeneratedFields{
			CertificatePath: "certificates/tenant/batch/" + j.ID + ".pdf",
			IssuerSignature: "sig-" + j.ID,
			MerkleLeaf:      "leaf-" + j.ID,
		}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestUltimateAndCompletionFlow(t *testing.T) {
	s := New()
	batchID, _ := seed(t, s, 2)
	ctx := context.Background()
	moveAllToGenerated(t, s, 2)

	if err := s.SetBatchIntermediate(ctx, batchID, "mri", map[string][]string{"a": nil, "b": nil}); err != nil {
		t.Fatal(err)
	}

	batches, err := s.FindBatchesAwaitingMRU(ctx, 10)
	if err != nil || len(batches) != 1 {
		t.Fatalf("FindBatchesAwaitingMRU: %v %d", err, len(batches))
	}

	if err := s.SetBatchUltimate(ctx, batchID, "mru", []string{"sib"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetBatchAnchored(ctx, batchID, "0xtx", "amoy"); err != nil {
		t.Fatal(err)
	}

	// QR loop sees the jobs now.
	qrJobs, err := s.FindJobsAwaitingQR(ctx, 10)
	if err != nil || len(qrJobs) != 2 {
		t.Fatalf("FindJobsAwaitingQR: %v %d", err, len(qrJobs))
	}
	for _, j := range qrJobs {
		if err := s.SetJobQRArtifact(ctx, j.ID, "qr-codes/tenant/batch/"+j.ID+".png", "frag"); err != nil {
			t.Fatal(err)
		}
	}

	augJobs, err := s.FindJobsAwaitingPDFAugment(ctx, 10)
	if err != nil || len(augJobs) != 2 {
		t.Fatalf("FindJobsAwaitingPDFAugment: %v %d", err, len(augJobs))
	}

	// Not complete until every job is augmented.
	done, err := s.MarkBatchCompleted(ctx, batchID)
	if err != nil || done {
		t.Fatalf("batch completed early: %v %v", done, err)
	}
	for _, j := range augJobs {
		if err := s.SetJobAugmented(ctx, j.ID, "qr-embedded-certificates/tenant/batch/"+j.ID+"-with-qr.pdf"); err != nil {
			t.Fatal(err)
		}
	}
	done, err = s.MarkBatchCompleted(ctx, batchID)
	if err != nil || !done {
		t.Fatalf("batch not completed: %v %v", done, err)
	}

	// Re-anchor path: clearing augmented paths resurfaces the jobs.
	if err := s.ClearAugmentedPaths(ctx, batchID); err != nil {
		t.Fatal(err)
	}
	augJobs, err = s.FindJobsAwaitingPDFAugment(ctx, 10)
	if err != nil || len(augJobs) != 2 {
		t.Fatalf("after clear: %v %d", err, len(augJobs))
	}
}

func TestIssuerKeyCapturedOnce(t *testing.T) {
	s := New()
	batchID, _ := seed(t, s, 1)
	ctx := context.Background()
	if err := s.SetBatchIssuerKey(ctx, batchID, "04aabb"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetBatchIssuerKey(ctx, batchID, "04ccdd"); !store.IsStaleState(err) {
		t.Fatalf("issuer key overwritten: %v", err)
	}
	b, _ := s.GetBatch(ctx, batchID)
	if b.IssuerPublicKey != "04aabb" {
		t.Fatalf("issuer key = %s", b.IssuerPublicKey)
	}
}

func TestFindBatchesAwaitingMRI(t *testing.T) {
	s := New()
	seed(t, s, 1)
	ctx := context.Background()
	batches, err := s.FindBatchesAwaitingMRI(ctx)
	if err != nil || len(batches) != 0 {
		t.Fatalf("batch surfaced without generated jobs: %v", batches)
	}
	moveAllToGenerated(t, s, 1)
	batches, err = s.FindBatchesAwaitingMRI(ctx)
	if err != nil || len(batches) != 1 {
		t.Fatalf("FindBatchesAwaitingMRI: %v %d", err, len(batches))
	}
}

func TestReleaseJob(t *testing.T) {
	s := New()
	seed(t, s, 1)
	ctx := context.Background()
	if _, err := s.ClaimPending(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.ReleaseJob(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	jobs, err := s.ClaimPending(ctx, 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("released job not claimable: %v", err)
	}
}

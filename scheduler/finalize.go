package scheduler

import (
	"context"
	"encoding/hex"
	"time"

	"justifai.co/issuance/hashkit"
	"justifai.co/issuance/merkle"
	"justifai.co/issuance/model"
	"justifai.co/issuance/store"
)

// iterateIntermediate is P3: batches whose jobs are all signed get their
// intermediate tree. Leaves enter in job creation order; that ordering is
// what makes every stored proof reproducible.
func (s *Scheduler) iterateIntermediate(ctx context.Context) error {
	batches, err := s.store.FindBatchesAwaitingMRI(ctx)
	if err != nil {
		return err
	}
	for _, batch := range batches {
		if err := s.finalizeBatch(ctx, batch); err != nil {
			if store.IsStaleState(err) {
				continue // another worker finalized it first
			}
			s.logP3.Printf("batch %s: %v", batch.ID, err)
		}
	}
	return nil
}

func (s *Scheduler) finalizeBatch(ctx context.Context, batch *model.Batch) error {
	pending, err := s.store.FindPendingSignature(ctx, batch.ID)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return nil // not every job is signed yet
	}
	jobs, err := s.store.FindSignedJobs(ctx, batch.ID)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	leaves := make([]string, len(jobs))
	for i, job := range jobs {
		if job.MerkleLeaf == "" {
			return model.NewError(model.KindState, "JF-P3-001", "generated job without a merkle leaf")
		}
		leaves[i] = job.MerkleLeaf
	}
	tree, err := merkle.BuildHex(leaves)
	if err != nil {
		return err
	}
	proofs := make(map[string][]string, len(jobs))
	for i, job := range jobs {
		proof, err := tree.Proof(i)
		if err != nil {
			return err
		}
		proofs[job.ID] = hexProof(proof)
	}
	return s.store.SetBatchIntermediate(ctx, batch.ID, tree.RootHex(), proofs)
}

func hexProof(proof [][]byte) []string {
	out := make([]string, len(proof))
	for i, p := range proof {
		out[i] = hex.EncodeToString(p)
	}
	return out
}

// iterateUltimate is P4: build the cross-batch tree over fresh intermediate
// roots, then anchor every ultimate root that still lacks a transaction.
// Anchoring failure is non-fatal; the roots stay and the next tick retries.
func (s *Scheduler) iterateUltimate(ctx context.Context) error {
	if err := s.buildUltimate(ctx); err != nil {
		return err
	}
	return s.anchorPending(ctx)
}

func (s *Scheduler) buildUltimate(ctx context.Context) error {
	batches, err := s.store.FindBatchesAwaitingMRU(ctx, s.opts.BatchLimit)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		return nil
	}
	roots := make([]string, len(batches))
	for i, b := range batches {
		roots[i] = b.MerkleRoot
	}
	tree, err := merkle.BuildUltimate(roots)
	if err != nil {
		return err
	}
	for i, b := range batches {
		proof, err := tree.Proof(i)
		if err != nil {
			return err
		}
		if err := s.store.SetBatchUltimate(ctx, b.ID, tree.RootHex(), hexProof(proof)); err != nil {
			if store.IsStaleState(err) {
				continue
			}
			return err
		}
	}
	return nil
}

func (s *Scheduler) anchorPending(ctx context.Context) error {
	batches, err := s.store.FindBatchesAwaitingAnchor(ctx, s.opts.BatchLimit)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		return nil
	}
	if s.anchorer == nil {
		return nil // anchoring disabled; batches wait
	}

	// Batches sharing one ultimate root anchor with a single transaction.
	groups := map[string][]*model.Batch{}
	order := []string{}
	for _, b := range batches {
		if _, seen := groups[b.MerkleRootUltimate]; !seen {
			order = append(order, b.MerkleRootUltimate)
		}
		groups[b.MerkleRootUltimate] = append(groups[b.MerkleRootUltimate], b)
	}
	for _, rootHex := range order {
		group := groups[rootHex]
		root, err := hashkit.HexToBytes32(rootHex)
		if err != nil {
			s.logP4.Printf("root %s unparseable: %v", rootHex, err)
			continue
		}
		receipt, err := s.anchorer.Anchor(ctx, root, oldestFinalized(group))
		if err != nil {
			// Non-fatal: MRU and proofs stay; txHash stays empty; retry.
			s.logP4.Printf("anchoring %s failed (will retry): %v", rootHex[:16], err)
			continue
		}
		for _, b := range group {
			if err := s.store.SetBatchAnchored(ctx, b.ID, receipt.TxHash, receipt.Network); err != nil {
				s.logP4.Printf("batch %s: recording anchor failed: %v", b.ID, err)
				continue
			}
			if err := s.refreshBundles(ctx, b.ID); err != nil {
				s.logP4.Printf("batch %s: bundle refresh failed: %v", b.ID, err)
			}
			// Force P6 to re-run with bundles that now carry the anchor.
			if err := s.store.ClearAugmentedPaths(ctx, b.ID); err != nil {
				s.logP4.Printf("batch %s: clearing augmented paths failed: %v", b.ID, err)
			}
		}
	}
	return nil
}

// oldestFinalized is the anchoring time window: the earliest finalizedAt in
// the group, in epoch seconds.
func oldestFinalized(group []*model.Batch) uint64 {
	var oldest *time.Time
	for _, b := range group {
		if b.FinalizedAt == nil {
			continue
		}
		if oldest == nil || b.FinalizedAt.Before(*oldest) {
			oldest = b.FinalizedAt
		}
	}
	if oldest == nil {
		return uint64(time.Now().UTC().Unix())
	}
	return uint64(oldest.Unix())
}

// refreshBundles rebuilds and persists the verification bundle of every job
// in the batch from current state.
func (s *Scheduler) refreshBundles(ctx context.Context, batchID string) error {
	jobs, err := s.store.ListJobs(ctx, batchID)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if job.Status != model.JobGenerated {
			continue
		}
		jc, err := s.store.LoadJobContext(ctx, job.ID)
		if err != nil {
			return err
		}
		if err := s.store.SetJobBundle(ctx, job.ID, buildBundle(jc)); err != nil {
			return err
		}
	}
	return nil
}

// buildBundle assembles the embedded verification bundle from the typed
// aggregate.
func buildBundle(jc *store.JobContext) *model.Bundle {
	job, batch := jc.Job, jc.Batch
	issuerKey := batch.IssuerPublicKey
	if issuerKey == "" && jc.Tenant != nil {
		issuerKey = jc.Tenant.IssuerPublicKey
	}
	return &model.Bundle{
		DocumentHash:            job.DocumentHash,
		DocumentFingerprint:     job.DocumentFingerprint,
		FingerprintHash:         job.FingerprintHash,
		IssuerSignature:         job.IssuerSignature,
		MerkleLeaf:              job.MerkleLeaf,
		ExpiryDate:              model.ISOTime(batch.ExpiryDate),
		InvalidationExpiry:      model.ISOTime(batch.InvalidationExpiry),
		IssuerID:                batch.TenantID,
		IssuerPublicKey:         issuerKey,
		MerkleProofIntermediate: job.MerkleProofIntermediate,
		MerkleRootIntermediate:  batch.MerkleRoot,
		MerkleRootUltimate:      batch.MerkleRootUltimate,
		MerkleProofUltimate:     batch.MerkleProofUltimate,
		TxHash:                  batch.TxHash,
		Network:                 batch.Network,
	}
}

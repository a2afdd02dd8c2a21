package scheduler

import (
	"context"

	"justifai.co/issuance/contenthash"
	"justifai.co/issuance/fingerprint"
	"justifai.co/issuance/hashkit"
	"justifai.co/issuance/model"
	"justifai.co/issuance/store"
)

// iterateGenerate is P1: claim Pending jobs, render their PDFs, and bind
// the fingerprint. Claimed jobs render concurrently inside the bounded
// slot pool; the in-flight set dedupes retried claims within one tick.
func (s *Scheduler) iterateGenerate(ctx context.Context) error {
	jobs, err := s.store.ClaimPending(ctx, s.opts.ClaimLimit)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if !s.markInFlight(job.ID) {
			continue
		}
		select {
		case s.renderSlots <- struct{}{}:
		case <-ctx.Done():
			s.clearInFlight(job.ID)
			if rerr := s.store.ReleaseJob(context.Background(), job.ID); rerr != nil {
				s.logP1.Printf("job %s: release on shutdown failed: %v", job.ID, rerr)
			}
			return nil
		}
		s.drain.Add(1)
		go func(job *model.Job) {
			defer func() {
				<-s.renderSlots
				s.clearInFlight(job.ID)
				s.drain.Done()
			}()
			if err := s.generateJob(ctx, job); err != nil {
				s.logP1.Printf("job %s failed: %v", job.ID, err)
				if ferr := s.store.FailJob(context.Background(), job.ID, err.Error()); ferr != nil {
					s.logP1.Printf("job %s: failure not recorded: %v", job.ID, ferr)
				}
			}
		}(job)
	}
	return nil
}

func (s *Scheduler) generateJob(ctx context.Context, job *model.Job) error {
	jc, err := s.store.LoadJobContext(ctx, job.ID)
	if err != nil {
		return err
	}
	batch := jc.Batch

	// Uploaded documents skip rendering; everything else goes through the
	// renderer with the template's parameters bound.
	var pdfBytes []byte
	certPath := job.CertificatePath
	if certPath != "" {
		pdfBytes, err = s.storage.Retrieve(certPath)
		if err != nil {
			return model.WrapError(model.KindStorage, "JF-P1-001", "uploaded certificate unreadable", err)
		}
	} else {
		if jc.Template == nil {
			return model.NewError(model.KindValidation, "JF-P1-002", "job has no template and no uploaded PDF")
		}
		pdfBytes, err = s.renderer.Render(ctx, jc.Template.HTML, job.Data)
		if err != nil {
			return model.WrapError(model.KindPDF, "JF-P1-003", "certificate rendering failed", err)
		}
		certPath, err = s.storage.Store(pdfBytes, batch.TenantID, batch.ID, job.ID)
		if err != nil {
			return model.WrapError(model.KindStorage, "JF-P1-004", "certificate not storable", err)
		}
	}

	docHash := hashkit.Keccak256Hex(pdfBytes)
	ed, err := fingerprint.EpochSeconds(batch.ExpiryDate)
	if err != nil {
		return err
	}
	ei, err := fingerprint.EpochSeconds(batch.InvalidationExpiry)
	if err != nil {
		return err
	}
	diHex, err := fingerprint.EncodeHex(docHash, ed, ei)
	if err != nil {
		return err
	}
	di, _ := hashkit.DecodeHex(diHex)
	diHash, err := fingerprint.Hash(di)
	if err != nil {
		return err
	}

	// dataHash is best-effort; a PDF without a text layer is still issuable.
	dataHash := ""
	if dh, err := contenthash.FromPDF(pdfBytes); err == nil {
		dataHash = dh
	}

	fields := store.GeneratedFields{
		CertificatePath:     certPath,
		DocumentHash:        docHash,
		DataHash:            dataHash,
		DocumentFingerprint: diHex,
		FingerprintHash:     diHash,
	}
	next := model.JobPendingSigning
	if s.opts.AutoSignKey != "" {
		sig, err := hashkit.SignRecoverable(diHash, s.opts.AutoSignKey)
		if err != nil {
			return err
		}
		sigBytes, _ := hashkit.DecodeHex(sig)
		fields.IssuerSignature = sig
		fields.MerkleLeaf = hashkit.Keccak256Hex(sigBytes)
		next = model.JobGenerated
		s.captureIssuerKey(ctx, batch, diHash, sig)
	}
	return s.store.SetJobGenerated(ctx, job.ID, next, fields)
}

// SubmitSignature is the P2 intake: an external signer delivers SI for a
// PendingSigning job. The leaf derives from the signature alone. When the
// batch has no issuer key yet and the signature is recoverable, the key is
// captured from it after a verification round-trip.
func (s *Scheduler) SubmitSignature(ctx context.Context, jobID, signatureHex string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.JobPendingSigning {
		return model.NewError(model.KindState, "JF-P2-001", "job is not awaiting a signature")
	}
	sigBytes, err := hashkit.DecodeHex(signatureHex)
	if err != nil {
		return model.WrapError(model.KindValidation, "JF-P2-002", "signature is not valid hex", err)
	}
	if _, _, err := hashkit.NormalizeSignature(signatureHex); err != nil {
		return err
	}
	leaf := hashkit.Keccak256Hex(sigBytes)
	if err := s.store.SubmitSignature(ctx, jobID, hashkit.NormalizeHex(signatureHex), leaf); err != nil {
		return err
	}
	if batch, berr := s.store.GetBatch(ctx, job.BatchID); berr == nil {
		s.captureIssuerKey(ctx, batch, job.FingerprintHash, signatureHex)
	}
	return nil
}

// captureIssuerKey records the batch issuer key from the first valid
// recoverable signature. Best-effort: a batch that already has a key, or a
// signature without a recovery id, leaves state untouched.
func (s *Scheduler) captureIssuerKey(ctx context.Context, batch *model.Batch, digestHex, sigHex string) {
	if batch.IssuerPublicKey != "" || digestHex == "" {
		return
	}
	pub, err := hashkit.RecoverPublicKey(digestHex, sigHex)
	if err != nil {
		return
	}
	if !hashkit.Verify(digestHex, sigHex, pub) {
		return
	}
	if err := s.store.SetBatchIssuerKey(ctx, batch.ID, pub); err != nil && !store.IsStaleState(err) {
		s.logP1.Printf("batch %s: issuer key capture failed: %v", batch.ID, err)
	}
}

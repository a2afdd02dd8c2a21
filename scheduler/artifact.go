package scheduler

import (
	"context"

	"justifai.co/issuance/augment"
	"justifai.co/issuance/fingerprint"
	"justifai.co/issuance/model"
	"justifai.co/issuance/qr"
	"justifai.co/issuance/storage"
	"justifai.co/issuance/store"
)

// iterateQR is P5: anchored jobs get their QR payload and PNG artifact.
func (s *Scheduler) iterateQR(ctx context.Context) error {
	jobs, err := s.store.FindJobsAwaitingQR(ctx, s.opts.ClaimLimit)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := s.generateQR(ctx, job); err != nil {
			s.logP5.Printf("job %s: %v", job.ID, err)
		}
	}
	return nil
}

func (s *Scheduler) generateQR(ctx context.Context, job *model.Job) error {
	jc, err := s.store.LoadJobContext(ctx, job.ID)
	if err != nil {
		return err
	}
	payload, err := s.buildPayload(jc)
	if err != nil {
		return err
	}
	content, err := qr.LinkContent(payload, s.opts.VerifyBaseURL, s.opts.VerifyQRBaseURL)
	if err != nil {
		return err
	}
	png, _, err := qr.RenderArtifact(content, job.ID, s.opts.VerifyBaseURL, s.opts.VerifyQRBaseURL,
		qr.RenderOptions{Width: qr.DefaultPDFWidth})
	if err != nil {
		return err
	}
	path, err := s.storage.Store(png, jc.Batch.TenantID, jc.Batch.ID, job.ID,
		storage.WithFolder(storage.FolderQRCodes),
		storage.WithExtension(".png"),
		storage.WithContentType("image/png"))
	if err != nil {
		return model.WrapError(model.KindStorage, "JF-P5-001", "QR artifact not storable", err)
	}
	// The persisted fragment is always the full compressed payload; the
	// portal resolves short links through it.
	fragment, err := qr.Compress(payload)
	if err != nil {
		return err
	}
	return s.store.SetJobQRArtifact(ctx, job.ID, path, fragment)
}

func (s *Scheduler) buildPayload(jc *store.JobContext) (*qr.Payload, error) {
	job, batch := jc.Job, jc.Batch
	var templateHTML string
	var params []string
	templateID := batch.TemplateID
	if jc.Template != nil {
		templateHTML = jc.Template.HTML
		params = jc.Template.Parameters
	}
	issuerKey := batch.IssuerPublicKey
	if issuerKey == "" && jc.Tenant != nil {
		issuerKey = jc.Tenant.IssuerPublicKey
	}
	var ed, ei *int64
	if batch.ExpiryDate != nil {
		v, err := fingerprint.EpochSeconds(batch.ExpiryDate)
		if err != nil {
			return nil, err
		}
		ed = &v
	}
	if batch.InvalidationExpiry != nil {
		v, err := fingerprint.EpochSeconds(batch.InvalidationExpiry)
		if err != nil {
			return nil, err
		}
		ei = &v
	}
	return qr.Build(qr.JobContext{
		JobID:           job.ID,
		BatchID:         batch.ID,
		TenantID:        batch.TenantID,
		TemplateID:      templateID,
		TemplateHTML:    templateHTML,
		TemplateParams:  params,
		Data:            job.Data,
		DocumentHash:    job.DocumentHash,
		TxHash:          batch.TxHash,
		Network:         batch.Network,
		MPU:             batch.MerkleProofUltimate,
		MPI:             job.MerkleProofIntermediate,
		IssuerID:        batch.TenantID,
		IssuerPublicKey: issuerKey,
		MRI:             batch.MerkleRoot,
		MRU:             batch.MerkleRootUltimate,
		Ed:              ed,
		Ei:              ei,
		SI:              job.IssuerSignature,
	})
}

// iterateAugment is P6: jobs with a QR artifact get their final augmented
// PDF; a fully augmented, anchored batch completes.
func (s *Scheduler) iterateAugment(ctx context.Context) error {
	jobs, err := s.store.FindJobsAwaitingPDFAugment(ctx, s.opts.ClaimLimit)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := s.augmentJob(ctx, job); err != nil {
			s.logP6.Printf("job %s: %v", job.ID, err)
		}
	}
	return nil
}

func (s *Scheduler) augmentJob(ctx context.Context, job *model.Job) error {
	jc, err := s.store.LoadJobContext(ctx, job.ID)
	if err != nil {
		return err
	}
	original, err := s.storage.Retrieve(job.CertificatePath)
	if err != nil {
		return model.WrapError(model.KindStorage, "JF-P6-001", "original certificate unreadable", err)
	}
	png, err := s.storage.Retrieve(job.QRCodePath)
	if err != nil {
		return model.WrapError(model.KindStorage, "JF-P6-002", "QR artifact unreadable", err)
	}

	bundle := jc.Job.VerificationBundle
	if bundle == nil {
		bundle = buildBundle(jc)
		if err := s.store.SetJobBundle(ctx, job.ID, bundle); err != nil {
			return err
		}
	}

	issuer := s.opts.IssuerName
	if jc.Tenant != nil && jc.Tenant.Name != "" {
		issuer = jc.Tenant.Name
	}
	out, err := augment.Augment(augment.Input{
		Original:   original,
		Bundle:     bundle,
		QRPNG:      png,
		Placement:  augment.ResolvePlacement(jc.Template),
		IssuerName: issuer,
	})
	if err != nil {
		return err
	}
	path, err := s.storage.Store(out, jc.Batch.TenantID, jc.Batch.ID, job.ID+"-with-qr",
		storage.WithFolder(storage.FolderAugmented))
	if err != nil {
		return model.WrapError(model.KindStorage, "JF-P6-003", "augmented certificate not storable", err)
	}
	if err := s.store.SetJobAugmented(ctx, job.ID, path); err != nil {
		return err
	}
	done, err := s.store.MarkBatchCompleted(ctx, jc.Batch.ID)
	if err != nil {
		return err
	}
	if done {
		s.logP6.Printf("batch %s completed", jc.Batch.ID)
	}
	return nil
}

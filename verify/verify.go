// Package verify implements offline-plus-onchain verification of augmented
// certificate PDFs: it extracts the embedded original and bundle, recomputes
// every hash, checks the issuer signature and both Merkle proofs, verifies
// the anchoring transaction, and runs tamper heuristics on the carrying PDF.
package verify

import (
	"context"
	"fmt"
	"math"
	"time"

	"justifai.co/issuance/anchor"
	"justifai.co/issuance/fingerprint"
	"justifai.co/issuance/hashkit"
	"justifai.co/issuance/merkle"
	"justifai.co/issuance/model"
	"justifai.co/issuance/pdf"
	"justifai.co/issuance/qr"
)

// TxVerifier checks anchoring transactions; the chain client implements it,
// tests stub it.
type TxVerifier interface {
	VerifyTransaction(ctx context.Context, txHash, expectedMRU string) (*anchor.Verification, error)
}

// Options tune a verification run.
type Options struct {
	// IssuerPublicKey is the environment fallback signature key.
	IssuerPublicKey string
	// QRPayload, when the caller scanned one, contributes its issuer key.
	QRPayload *qr.Payload
	// Chain verifies the anchoring transaction; nil skips with a warning.
	Chain TxVerifier
	// KnownProducers are producer strings accepted without a warning
	// beyond the library default.
	KnownProducers []string
	// Now overrides the clock for the expiry check.
	Now time.Time
	// MaxDateDelta bounds the augmentation-date heuristics; default 60s.
	MaxDateDelta time.Duration
}

// Verify runs the full pipeline against a candidate PDF.
func Verify(ctx context.Context, candidate []byte, opts Options) *Result {
	res := newResult()
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	if opts.MaxDateDelta == 0 {
		opts.MaxDateDelta = 60 * time.Second
	}

	outer, err := pdf.Parse(candidate)
	if err != nil {
		res.fail(StepExtractOriginal, "candidate is not a readable PDF: "+err.Error())
		return res.finish()
	}

	// 1. Embedded original.
	original, haveOriginal := ExtractOriginal(outer)
	if haveOriginal {
		res.pass(StepExtractOriginal, "embedded original recovered")
	} else {
		// Degrade: hash the outer PDF itself and continue.
		original = candidate
		res.warn(StepExtractOriginal, "embedded original PDF not recoverable; verifying against the carrying PDF")
	}

	// 2. Verification bundle.
	bundle, haveBundle := ExtractBundle(outer)
	if !haveBundle {
		res.fail(StepExtractBundle, "no verification bundle found in attachments or metadata")
		return res.finish()
	}
	res.pass(StepExtractBundle, "verification bundle recovered")

	// 3. Document hash.
	docHash := hashkit.Keccak256Hex(original)
	if bundle.DocumentHash != "" && hashkit.NormalizeHex(bundle.DocumentHash) != docHash {
		// Deliberately a warning: the recorded hash may refer to an
		// original that could not be recovered byte-exactly.
		res.warn(StepDocumentHash, "recomputed document hash differs from the bundle")
		docHash = hashkit.NormalizeHex(bundle.DocumentHash)
	} else {
		res.pass(StepDocumentHash, docHash)
	}

	// 4. Fingerprint.
	ed, err := fingerprint.EpochSeconds(deref(bundle.ExpiryDate))
	if err != nil {
		res.fail(StepFingerprint, "bundle expiryDate unparseable")
		return res.finish()
	}
	ei, err := fingerprint.EpochSeconds(deref(bundle.InvalidationExpiry))
	if err != nil {
		res.fail(StepFingerprint, "bundle invalidationExpiry unparseable")
		return res.finish()
	}
	di, err := fingerprint.Encode(docHash, ed, ei)
	if err != nil {
		res.fail(StepFingerprint, "fingerprint reconstruction failed: "+err.Error())
		return res.finish()
	}
	diHash, _ := fingerprint.Hash(di)
	if bundle.FingerprintHash != "" && hashkit.NormalizeHex(bundle.FingerprintHash) != diHash {
		res.fail(StepFingerprint, "recomputed fingerprint hash differs from the bundle")
	} else {
		res.pass(StepFingerprint, diHash)
	}

	// 5. Issuer signature over H(DI).
	key := issuerKey(bundle, opts)
	switch {
	case bundle.IssuerSignature == "":
		res.fail(StepSignature, "bundle carries no issuer signature")
	case key == "":
		res.warn(StepSignature, "no issuer public key available; signature not checked")
	case hashkit.Verify(diHash, bundle.IssuerSignature, key):
		res.pass(StepSignature, "issuer signature valid")
	default:
		res.fail(StepSignature, "issuer signature does not verify against the fingerprint hash")
	}

	// 6. Merkle leaf.
	leaf := ""
	if bundle.IssuerSignature != "" {
		sigBytes, err := hashkit.DecodeHex(bundle.IssuerSignature)
		if err != nil {
			res.fail(StepMerkleMPI, "issuer signature is not valid hex")
		} else {
			leaf = hashkit.Keccak256Hex(sigBytes)
			if bundle.MerkleLeaf != "" && hashkit.NormalizeHex(bundle.MerkleLeaf) != leaf {
				res.fail(StepMerkleMPI, "recomputed merkle leaf differs from the bundle")
			}
		}
	}

	// 7. Intermediate proof.
	mri := hashkit.NormalizeHex(bundle.MerkleRootIntermediate)
	if leaf != "" && mri != "" {
		if merkle.VerifyHex(leaf, normalizeProof(bundle.MerkleProofIntermediate), mri) {
			res.pass(StepMerkleMPI, "intermediate proof valid")
		} else {
			res.fail(StepMerkleMPI, "intermediate merkle proof does not verify")
		}
	} else if mri == "" {
		res.fail(StepMerkleMPI, "bundle carries no intermediate root")
	}

	// 8. Ultimate proof. MRI == MRU with an empty proof is the single-batch
	// identity case; padded trees validate normally.
	mru := hashkit.NormalizeHex(bundle.MerkleRootUltimate)
	switch {
	case mru == "":
		res.warn(StepMerkleMPU, "bundle carries no ultimate root; batch may be awaiting anchoring")
	case mri == mru && len(bundle.MerkleProofUltimate) == 0:
		res.pass(StepMerkleMPU, "ultimate root equals intermediate root")
	case merkle.VerifyHex(mri, normalizeProof(bundle.MerkleProofUltimate), mru):
		res.pass(StepMerkleMPU, "ultimate proof valid")
	default:
		res.fail(StepMerkleMPU, "ultimate merkle proof does not verify")
	}

	// 9. On-chain anchor.
	verifyAnchor(ctx, res, bundle, mru, opts)

	// 10. Tamper heuristics on the carrying PDF.
	if haveOriginal {
		integrityChecks(res, outer, original, opts)
	} else {
		res.warn(StepIntegrity, "integrity heuristics skipped; no embedded original to compare against")
	}

	// Expiry.
	checkExpiry(res, ed, ei, opts.Now)

	return res.finish()
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func normalizeProof(proof []string) []string {
	out := make([]string, len(proof))
	for i, p := range proof {
		out[i] = hashkit.NormalizeHex(p)
	}
	return out
}

// issuerKey picks the verification key: bundle first, then the scanned QR
// payload, then the configured environment fallback.
func issuerKey(b *model.Bundle, opts Options) string {
	if b.IssuerPublicKey != "" {
		return b.IssuerPublicKey
	}
	if opts.QRPayload != nil && opts.QRPayload.IssuerPublicKey != "" {
		return opts.QRPayload.IssuerPublicKey
	}
	return opts.IssuerPublicKey
}

func verifyAnchor(ctx context.Context, res *Result, bundle *model.Bundle, mru string, opts Options) {
	if bundle.TxHash == "" {
		res.warn(StepAnchor, "bundle records no anchoring transaction")
		return
	}
	if opts.Chain == nil {
		res.warn(StepAnchor, "no chain client configured; anchor not checked")
		return
	}
	v, err := opts.Chain.VerifyTransaction(ctx, bundle.TxHash, mru)
	if err != nil {
		res.fail(StepAnchor, "anchor transaction lookup failed: "+err.Error())
		return
	}
	if !v.Verified {
		detail := v.Detail
		if detail == "" {
			detail = "anchor transaction did not verify"
		}
		res.fail(StepAnchor, detail)
		return
	}
	res.pass(StepAnchor, fmt.Sprintf("anchored in block %d", v.BlockNumber))
}

func integrityChecks(res *Result, outer *pdf.Document, original []byte, opts Options) {
	origDoc, err := pdf.Parse(original)
	if err != nil {
		res.warn(StepIntegrity, "embedded original does not parse; content comparison skipped")
		return
	}

	// a. Text layers must match under whitespace normalization.
	outerText := pdf.NormalizeWhitespace(outer.Text(0))
	origText := pdf.NormalizeWhitespace(origDoc.Text(0))
	if outerText != origText {
		res.fail(StepIntegrity, "visible text differs from the embedded original")
	}

	// b. Augmentation adds at most the marker annotation.
	if d := outer.CountAnnotations() - origDoc.CountAnnotations(); d > 1 {
		res.fail(StepIntegrity, fmt.Sprintf("%d annotations added beyond the marker", d-1))
	}

	// c. Augmentation adds at most the QR image.
	if d := outer.CountImages() - origDoc.CountImages(); d > 1 {
		res.fail(StepIntegrity, fmt.Sprintf("%d images added beyond the QR", d-1))
	}

	// d. Creation and modification dates should be one augmentation instant.
	if created, ok := outer.InfoDate("CreationDate"); ok {
		if modified, ok2 := outer.InfoDate("ModDate"); ok2 {
			if delta := modified.Sub(created); delta < 0 || delta > opts.MaxDateDelta {
				res.warn(StepIntegrity, "creation and modification dates diverge; document was edited after augmentation")
			}
		}
	}

	// e. Multiple startxref markers mean incremental edits on top of the
	// augmented form.
	if n := outer.StartxrefCount(); n > 1 {
		res.warn(StepIntegrity, fmt.Sprintf("%d startxref markers; PDF carries incremental updates", n))
	}

	// f. Unknown producer.
	if !producerKnown(outer.Producer(), opts.KnownProducers) {
		res.warn(StepIntegrity, "unrecognized PDF producer "+fmt.Sprintf("%q", outer.Producer()))
	}

	if _, ok := res.Steps[StepIntegrity]; !ok {
		res.pass(StepIntegrity, "content heuristics passed")
	}
}

func producerKnown(producer string, known []string) bool {
	if producer == pdf.DefaultProducer {
		return true
	}
	for _, k := range known {
		if producer == k {
			return true
		}
	}
	return false
}

func checkExpiry(res *Result, ed, ei int64, now time.Time) {
	nowSec := now.Unix()
	switch {
	case ei != 0 && nowSec > ei:
		res.fail(StepExpiry, "document invalidation expiry has passed")
	case ed != 0 && nowSec > ed:
		res.warn(StepExpiry, "document expiry date has passed")
	default:
		res.pass(StepExpiry, expiryDetail(ed, ei, now))
	}
}

func expiryDetail(ed, ei int64, now time.Time) string {
	if ed == 0 && ei == 0 {
		return "lifetime document"
	}
	soonest := ed
	if soonest == 0 || (ei != 0 && ei < soonest) {
		soonest = ei
	}
	days := math.Floor(time.Unix(soonest, 0).Sub(now).Hours() / 24)
	return fmt.Sprintf("valid for %d more days", int(days))
}

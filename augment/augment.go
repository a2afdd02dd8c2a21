// Package augment turns an original certificate PDF into its final
// distributable form: the original bytes and the verification bundle ride
// inside as file attachments, the QR image is drawn at the template's
// placement, and a hidden marker annotation identifies the augmentation.
package augment

import (
	"regexp"
	"strconv"
	"time"

	"justifai.co/issuance/model"
	"justifai.co/issuance/pdf"
)

// Canonical attachment names. Verification also recognizes legacy patterns;
// augmentation only ever writes these.
const (
	OriginalAttachmentName = "Justifai_Original_PDF.pdf"
	BundleAttachmentName   = "Justifai_Verification_Bundle.json"
)

// Placement positions the QR image in CSS pixels (96 per inch), origin at
// the page's top-left corner, as web-oriented templates declare it.
type Placement struct {
	X         float64
	Y         float64
	Width     float64
	Height    float64
	PageIndex int
}

// DefaultPlacement puts a 144 px QR in the lower-right area of an A4 page.
func DefaultPlacement() Placement {
	return Placement{X: 620, Y: 940, Width: 144, Height: 144}
}

// PxToPt converts CSS pixels to PDF points.
func PxToPt(px float64) float64 { return px * 72.0 / 96.0 }

// Input is everything one augmentation needs.
type Input struct {
	Original   []byte
	Bundle     *model.Bundle
	QRPNG      []byte
	Placement  Placement
	IssuerName string
	Now        time.Time
}

// Augment produces the distributable PDF. The output is always a clean
// single-xref rewrite of the original document.
func Augment(in Input) ([]byte, error) {
	doc, err := pdf.Parse(in.Original)
	if err != nil {
		return nil, model.WrapError(model.KindPDF, "JF-AUG-001", "original certificate does not parse", err)
	}

	if err := doc.AttachFile(OriginalAttachmentName, "application/pdf", in.Original); err != nil {
		return nil, model.WrapError(model.KindPDF, "JF-AUG-002", "attaching original PDF failed", err)
	}
	bundleJSON, err := model.MarshalBundle(in.Bundle)
	if err != nil {
		return nil, model.WrapError(model.KindPDF, "JF-AUG-003", "verification bundle not serializable", err)
	}
	if err := doc.AttachFile(BundleAttachmentName, "application/json", bundleJSON); err != nil {
		return nil, model.WrapError(model.KindPDF, "JF-AUG-004", "attaching verification bundle failed", err)
	}

	page := in.Placement.PageIndex
	pages := doc.Pages()
	if page < 0 || page >= len(pages) {
		page = 0
	}
	_, pageH, err := doc.PageSize(page)
	if err != nil {
		return nil, err
	}
	x := PxToPt(in.Placement.X)
	w := PxToPt(in.Placement.Width)
	h := PxToPt(in.Placement.Height)
	// CSS measures from the top edge; PDF from the bottom.
	y := pageH - PxToPt(in.Placement.Y) - h

	if len(in.QRPNG) > 0 {
		if err := doc.DrawImagePNG(page, in.QRPNG, x, y, w, h); err != nil {
			return nil, err
		}
	}
	if err := doc.AddMarkerAnnotation(page); err != nil {
		return nil, err
	}

	issuer := in.IssuerName
	if issuer == "" {
		issuer = pdf.DefaultProducer
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	doc.SetMetadata(issuer, issuer, now)
	return doc.Write(), nil
}

var (
	placeholderBlock = regexp.MustCompile(`(?s)\.qr-placeholder\s*\{([^}]*)\}`)
	cssProp          = regexp.MustCompile(`(?m)\b(left|top|width|height)\s*:\s*(-?\d+(?:\.\d+)?)px`)
)

// PlacementFromHTML recovers QR placement from a template's
// ".qr-placeholder" CSS block when no explicit coordinates exist.
func PlacementFromHTML(html string) (Placement, bool) {
	m := placeholderBlock.FindStringSubmatch(html)
	if m == nil {
		return Placement{}, false
	}
	p := DefaultPlacement()
	found := false
	for _, prop := range cssProp.FindAllStringSubmatch(m[1], -1) {
		v, err := strconv.ParseFloat(prop[2], 64)
		if err != nil {
			continue
		}
		found = true
		switch prop[1] {
		case "left":
			p.X = v
		case "top":
			p.Y = v
		case "width":
			p.Width = v
		case "height":
			p.Height = v
		}
	}
	return p, found
}

// ResolvePlacement picks the template's explicit placement, falls back to
// parsing its HTML, and finally to the default.
func ResolvePlacement(tpl *model.Template) Placement {
	if tpl != nil && tpl.QRPlacement != nil {
		q := tpl.QRPlacement
		return Placement{X: q.X, Y: q.Y, Width: q.Width, Height: q.Height, PageIndex: q.PageIndex}
	}
	if tpl != nil {
		if p, ok := PlacementFromHTML(tpl.HTML); ok {
			return p
		}
	}
	return DefaultPlacement()
}

package pdf

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"time"

	"justifai.co/issuance/model"
)

// MarkerAnnotationName tags the invisible annotation the augmentor adds so
// verification can account for it.
const MarkerAnnotationName = Name("JustifaiQR")

// annotHidden is the PDF annotation Hidden flag.
const annotHidden = 2

// DrawImagePNG places a PNG on the page at the given rectangle in PDF
// points, origin bottom-left. The image becomes a new XObject; drawing is
// appended as an extra content stream so existing content is untouched.
func (d *Document) DrawImagePNG(pageIndex int, pngBytes []byte, x, y, w, h float64) error {
	pages := d.Pages()
	if pageIndex < 0 || pageIndex >= len(pages) {
		return model.NewError(model.KindPDF, "JF-PDF-040", "page index out of range")
	}
	img, err := png.Decode(bytes.NewReader(pngBytes))
	if err != nil {
		return model.WrapError(model.KindPDF, "JF-PDF-041", "QR image is not a PNG", err)
	}
	imgRef, err := d.addImageXObject(img)
	if err != nil {
		return err
	}

	pageRef := pages[pageIndex]
	page, _ := d.GetDict(pageRef)

	// Register the XObject under a fresh resource name.
	resources, _ := d.GetDict(page["Resources"])
	if resources == nil {
		resources = Dict{}
	}
	xobjects, _ := d.GetDict(resources["XObject"])
	if xobjects == nil {
		xobjects = Dict{}
	}
	resName := Name(fmt.Sprintf("JfIm%d", len(xobjects)+1))
	xobjects[resName] = imgRef
	resources[Name("XObject")] = xobjects
	page[Name("Resources")] = resources

	content := fmt.Sprintf("q\n%f 0 0 %f %f %f cm\n/%s Do\nQ\n", w, h, x, y, resName)
	contentRef := d.Add(NewFlateStream([]byte(content), nil))

	switch existing := page["Contents"].(type) {
	case Array:
		page[Name("Contents")] = append(existing, contentRef)
	case nil:
		page[Name("Contents")] = contentRef
	default:
		page[Name("Contents")] = Array{existing, contentRef}
	}
	d.Objects[pageRef.Num] = page
	return nil
}

// addImageXObject encodes img as a DeviceRGB image XObject with an SMask
// when the image carries alpha.
func (d *Document) addImageXObject(img image.Image) (Ref, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	rgb := make([]byte, 0, w*h*3)
	alpha := make([]byte, 0, w*h)
	hasAlpha := false
	for yy := b.Min.Y; yy < b.Max.Y; yy++ {
		for xx := b.Min.X; xx < b.Max.X; xx++ {
			r, g, bl, a := img.At(xx, yy).RGBA()
			rgb = append(rgb, byte(r>>8), byte(g>>8), byte(bl>>8))
			alpha = append(alpha, byte(a>>8))
			if a>>8 != 0xff {
				hasAlpha = true
			}
		}
	}
	dict := Dict{
		Name("Type"):             Name("XObject"),
		Name("Subtype"):          Name("Image"),
		Name("Width"):            int64(w),
		Name("Height"):           int64(h),
		Name("ColorSpace"):       Name("DeviceRGB"),
		Name("BitsPerComponent"): int64(8),
	}
	if hasAlpha {
		smask := NewFlateStream(alpha, Dict{
			Name("Type"):             Name("XObject"),
			Name("Subtype"):          Name("Image"),
			Name("Width"):            int64(w),
			Name("Height"):           int64(h),
			Name("ColorSpace"):       Name("DeviceGray"),
			Name("BitsPerComponent"): int64(8),
		})
		dict[Name("SMask")] = d.Add(smask)
	}
	stream := NewFlateStream(rgb, dict)
	return d.Add(stream), nil
}

// AddMarkerAnnotation adds the tiny hidden annotation that marks a PDF as
// augmented by this system.
func (d *Document) AddMarkerAnnotation(pageIndex int) error {
	pages := d.Pages()
	if pageIndex < 0 || pageIndex >= len(pages) {
		return model.NewError(model.KindPDF, "JF-PDF-040", "page index out of range")
	}
	pageRef := pages[pageIndex]
	page, _ := d.GetDict(pageRef)
	annot := Dict{
		Name("Type"):    Name("Annot"),
		Name("Subtype"): Name("Text"),
		Name("Name"):    MarkerAnnotationName,
		Name("Rect"):    Array{int64(0), int64(0), int64(1), int64(1)},
		Name("F"):       int64(annotHidden),
	}
	annotRef := d.Add(annot)
	annots, _ := d.GetArray(page["Annots"])
	page[Name("Annots")] = append(annots, annotRef)
	d.Objects[pageRef.Num] = page
	return nil
}

// HasMarkerAnnotation reports whether any page carries the marker.
func (d *Document) HasMarkerAnnotation() bool {
	for _, pageRef := range d.Pages() {
		page, _ := d.GetDict(pageRef)
		annots, _ := d.GetArray(page["Annots"])
		for _, a := range annots {
			if annot, ok := d.GetDict(a); ok && annot["Name"] == MarkerAnnotationName {
				return true
			}
		}
	}
	return false
}

// SetMetadata overwrites the producer-identifying information fields and
// stamps both dates with now.
func (d *Document) SetMetadata(producer, creator string, now time.Time) {
	info := d.Info()
	date := pdfDate(now)
	info[Name("Producer")] = String(producer)
	info[Name("Creator")] = String(creator)
	info[Name("CreationDate")] = String(date)
	info[Name("ModDate")] = String(date)
}

func pdfDate(t time.Time) string {
	return t.UTC().Format("D:20060102150405Z")
}

// ParsePDFDate reads D:YYYYMMDDHHmmSS with optional zone suffix.
func ParsePDFDate(s string) (time.Time, bool) {
	for _, layout := range []string{
		"D:20060102150405Z",
		"D:20060102150405-07'00'",
		"D:20060102150405+07'00'",
		"D:20060102150405",
		"D:200601021504",
		"D:20060102",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

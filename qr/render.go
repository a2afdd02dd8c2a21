package qr

import (
	"image/color"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"justifai.co/issuance/model"
)

// Style selects the QR color scheme.
type Style string

const (
	StyleClassic     Style = "classic"
	StyleDark        Style = "dark"
	StyleTransparent Style = "transparent"
)

// RenderOptions control the PNG artifact.
type RenderOptions struct {
	Width      int
	Margin     int
	Style      Style
	DarkColor  color.Color
	LightColor color.Color
}

// DefaultWidth is the stored QR artifact width; DefaultPDFWidth the
// higher-resolution variant drawn into PDFs.
const (
	DefaultWidth    = 768
	DefaultPDFWidth = 1536
	DefaultMargin   = 8
)

// eclLadder is the adaptive error-correction ladder. Rendering walks it on
// "data too big" errors; lower correction levels fit more payload.
var eclLadder = []qrcode.RecoveryLevel{qrcode.Medium, qrcode.Low, qrcode.High, qrcode.Highest}

func (o *RenderOptions) fill() {
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Margin < 0 {
		o.Margin = DefaultMargin
	}
	if o.Style == "" {
		o.Style = StyleClassic
	}
	if o.DarkColor == nil || o.LightColor == nil {
		switch o.Style {
		case StyleDark:
			o.DarkColor = color.White
			o.LightColor = color.RGBA{R: 0x1a, G: 0x1a, B: 0x1a, A: 0xff}
		case StyleTransparent:
			o.DarkColor = color.Black
			o.LightColor = color.RGBA{}
		default:
			o.DarkColor = color.Black
			o.LightColor = color.White
		}
	}
}

func tooBig(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "too long") || strings.Contains(msg, "too big") ||
		strings.Contains(msg, "content length")
}

// RenderPNG encodes content with the adaptive ECL ladder. Only overflow
// moves the ladder; other errors abort.
func RenderPNG(content string, opts RenderOptions) ([]byte, error) {
	opts.fill()
	var lastErr error
	for _, level := range eclLadder {
		code, err := qrcode.New(content, level)
		if err != nil {
			lastErr = err
			if tooBig(err) {
				continue
			}
			return nil, model.WrapError(model.KindValidation, "JF-QR-010", "QR encoding failed", err)
		}
		code.ForegroundColor = opts.DarkColor
		code.BackgroundColor = opts.LightColor
		if opts.Margin == 0 {
			code.DisableBorder = true
		}
		png, err := code.PNG(opts.Width)
		if err != nil {
			lastErr = err
			if tooBig(err) {
				continue
			}
			return nil, model.WrapError(model.KindValidation, "JF-QR-011", "QR PNG rendering failed", err)
		}
		return png, nil
	}
	return nil, model.WrapError(model.KindValidation, "JF-QR-012", "payload exceeds QR capacity at every correction level", lastErr)
}

// RenderArtifact renders content, degrading to the short-link and then the
// minimal-JSON fallback on persistent overflow. It reports which content was
// finally encoded so callers can persist the real fragment.
func RenderArtifact(content, jobID, verifyBaseURL, qrBaseURL string, opts RenderOptions) (png []byte, encoded string, err error) {
	png, err = RenderPNG(content, opts)
	if err == nil {
		return png, content, nil
	}
	if !model.IsKind(err, model.KindValidation) {
		return nil, "", err
	}
	short := FallbackShortLink(jobID, verifyBaseURL, qrBaseURL)
	if png, err = RenderPNG(short, opts); err == nil {
		return png, short, nil
	}
	minimal := FallbackMinimalJSON(jobID)
	if png, err = RenderPNG(minimal, opts); err == nil {
		return png, minimal, nil
	}
	return nil, "", err
}

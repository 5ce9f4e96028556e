package qr

import (
	"context"
	"fmt"
	"image"
	"math"

	apperrors "github.com/anime-shed/omr-inspector-go/internal/errors"
	"github.com/anime-shed/omr-inspector-go/internal/logger"
	"github.com/anime-shed/omr-inspector-go/internal/raster"
	"github.com/anime-shed/omr-inspector-go/pkg/models"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/sirupsen/logrus"
)

// finder centres sit 3.5 modules inside the symbol, plus a 4 module quiet zone
const quietModules = 8

// Decoder finds and decodes every QR code on a sheet
type Decoder struct {
	hints map[gozxing.DecodeHintType]interface{}
}

// NewDecoder creates a decoder that tries hard on each region
func NewDecoder() *Decoder {
	return &Decoder{
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

type moduleSized interface {
	GetEstimatedModuleSize() float64
}

// decodeOne decodes a single code inside region of img, returning the
// payload in img coordinates.
func (d *Decoder) decodeOne(img raster.Image, region image.Rectangle) (models.QRPayload, bool) {
	crop := img.Crop(region)
	bmp, err := gozxing.NewBinaryBitmapFromImage(crop.ToImage())
	if err != nil {
		return models.QRPayload{}, false
	}
	res, err := qrcode.NewQRCodeReader().Decode(bmp, d.hints)
	if err != nil {
		return models.QRPayload{}, false
	}

	points := res.GetResultPoints()
	payload := models.QRPayload{
		Text:       res.GetText(),
		Format:     res.GetBarcodeFormat().String(),
		Confidence: finderConfidence(points),
		Bounds:     symbolBounds(points).Add(region.Min).Intersect(img.Bounds()),
	}
	if ec, ok := res.GetResultMetadata()[gozxing.ResultMetadataType_ERROR_CORRECTION_LEVEL]; ok {
		payload.ErrorCorrection = fmt.Sprint(ec)
	}
	return payload, true
}

// finderConfidence scores the finder triangle (bottom-left, top-left,
// top-right): equal legs at a right angle give 1.
func finderConfidence(points []gozxing.ResultPoint) float64 {
	if len(points) < 3 {
		return 0
	}
	bl, tl, tr := points[0], points[1], points[2]
	ax, ay := tr.GetX()-tl.GetX(), tr.GetY()-tl.GetY()
	bx, by := bl.GetX()-tl.GetX(), bl.GetY()-tl.GetY()
	la, lb := math.Hypot(ax, ay), math.Hypot(bx, by)
	if la == 0 || lb == 0 {
		return 0
	}
	ratio := math.Min(la, lb) / math.Max(la, lb)
	cos := (ax*bx + ay*by) / (la * lb)
	return ratio * (1 - math.Abs(cos))
}

// symbolBounds covers the whole symbol and its quiet zone around the finder centres
func symbolBounds(points []gozxing.ResultPoint) image.Rectangle {
	if len(points) == 0 {
		return image.Rectangle{}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	module := 0.0
	for _, p := range points {
		minX, maxX = math.Min(minX, p.GetX()), math.Max(maxX, p.GetX())
		minY, maxY = math.Min(minY, p.GetY()), math.Max(maxY, p.GetY())
		if ms, ok := p.(moduleSized); ok {
			module = math.Max(module, ms.GetEstimatedModuleSize())
		}
	}
	pad := quietModules * module
	if pad == 0 {
		pad = 0.6 * math.Max(maxX-minX, maxY-minY)
	}
	return image.Rect(
		int(math.Floor(minX-pad)), int(math.Floor(minY-pad)),
		int(math.Ceil(maxX+pad)), int(math.Ceil(maxY+pad)),
	)
}

// quadrants splits the image into four overlapping crops
func quadrants(b image.Rectangle) []image.Rectangle {
	w, h := b.Dx(), b.Dy()
	ox, oy := w/10, h/10
	midX, midY := b.Min.X+w/2, b.Min.Y+h/2
	return []image.Rectangle{
		image.Rect(b.Min.X, b.Min.Y, midX+ox, midY+oy),
		image.Rect(midX-ox, b.Min.Y, b.Max.X, midY+oy),
		image.Rect(b.Min.X, midY-oy, midX+ox, b.Max.Y),
		image.Rect(midX-ox, midY-oy, b.Max.X, b.Max.Y),
	}
}

// Decode returns the accepted payloads in discovery order. Each decoded
// symbol is painted white before the next attempt, and quadrant crops are
// searched once the full image yields nothing more.
func (d *Decoder) Decode(ctx context.Context, img raster.Image, settings models.Settings) ([]models.QRPayload, []models.Issue, error) {
	if !settings.QREnabled {
		return nil, nil, nil
	}

	maxCodes := settings.QRMaxCodes
	if maxCodes <= 0 {
		maxCodes = models.DefaultSettings().QRMaxCodes
	}

	work := img.Clone()
	seen := make(map[string]bool)
	var decoded []models.QRPayload

	search := func(region image.Rectangle) error {
		for len(decoded) < maxCodes {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, ok := d.decodeOne(work, region)
			if !ok {
				return nil
			}
			if p.Bounds.Empty() {
				return nil
			}
			work.Fill(p.Bounds, 255)
			if seen[p.Text] {
				continue
			}
			seen[p.Text] = true
			decoded = append(decoded, p)
		}
		return nil
	}

	if err := search(work.Bounds()); err != nil {
		return nil, nil, err
	}
	for _, q := range quadrants(work.Bounds()) {
		if err := search(q); err != nil {
			return nil, nil, err
		}
	}

	var payloads []models.QRPayload
	var issues []models.Issue
	for _, p := range decoded {
		if p.Confidence < settings.QRConfidence {
			issues = append(issues, models.Issue{
				Stage:     models.StageQR,
				Code:      "qr_low_confidence",
				Message:   fmt.Sprintf("QR payload %q decoded with low confidence", p.Text),
				Severity:  models.SeverityFlag,
				Measured:  p.Confidence,
				Threshold: settings.QRConfidence,
			})
			continue
		}
		payloads = append(payloads, p)
	}

	if len(payloads) == 0 {
		if settings.QRStrict {
			return nil, issues, apperrors.NewStageError(string(models.StageQR), apperrors.ErrorTypeQR, "no QR payload found", nil)
		}
		issues = append(issues, models.Issue{
			Stage:     models.StageQR,
			Code:      "qr_missing",
			Message:   "no QR payload found",
			Severity:  models.SeverityFlag,
			Threshold: 1,
		})
	}

	logger.WithFields(logrus.Fields{
		"decoded":  len(decoded),
		"accepted": len(payloads),
	}).Debug("QR decoding finished")

	return payloads, issues, nil
}

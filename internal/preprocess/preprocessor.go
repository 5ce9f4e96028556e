package preprocess

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	apperrors "github.com/anime-shed/omr-inspector-go/internal/errors"
	"github.com/anime-shed/omr-inspector-go/internal/logger"
	"github.com/anime-shed/omr-inspector-go/internal/raster"
	"github.com/anime-shed/omr-inspector-go/pkg/models"
	"github.com/anime-shed/omr-inspector-go/pkg/validation"

	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Output is the normalized sheet handed to the detection stages
type Output struct {
	Image       raster.Image
	Format      string
	SourceSize  image.Point
	Downscaled  bool
	SkewAngle   float64
	SkewApplied bool
	Corrected   bool
	Fiducials   Fiducials
	Metrics     validation.SheetMetrics
}

// Preprocessor decodes and normalizes scanned sheets
type Preprocessor struct {
	metrics   *metricsCalculator
	validator *validation.QualityValidator
}

// NewPreprocessor creates a preprocessor with default quality thresholds
func NewPreprocessor() *Preprocessor {
	return NewPreprocessorWithValidator(validation.NewQualityValidator())
}

// NewPreprocessorWithValidator creates a preprocessor with a custom validator
func NewPreprocessorWithValidator(v *validation.QualityValidator) *Preprocessor {
	return &Preprocessor{
		metrics:   newMetricsCalculator(),
		validator: v,
	}
}

// Decode turns encoded bytes into an RGBA raster. The header is read first
// so images over maxPixels are rejected before any pixel is allocated;
// maxPixels <= 0 disables the check.
func Decode(data []byte, maxPixels int) (raster.Image, string, error) {
	if len(data) == 0 {
		return raster.Image{}, "", apperrors.NewStageError(string(models.StagePreprocess), apperrors.ErrorTypeDecode, "empty image data", nil)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return raster.Image{}, "", apperrors.NewStageError(string(models.StagePreprocess), apperrors.ErrorTypeDecode, "failed to decode image header", err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); maxPixels > 0 && pixels > int64(maxPixels) {
		return raster.Image{}, "", apperrors.NewStageError(string(models.StagePreprocess), apperrors.ErrorTypeDecode,
			fmt.Sprintf("image of %dx%d exceeds the %d pixel limit", cfg.Width, cfg.Height, maxPixels), nil)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return raster.Image{}, "", apperrors.NewStageError(string(models.StagePreprocess), apperrors.ErrorTypeDecode, "failed to decode image", err)
	}
	return raster.FromImage(img), format, nil
}

// downscale shrinks images whose longer side exceeds maxDimension
func downscale(src raster.Image, maxDimension int) (raster.Image, bool) {
	longest := max(src.Width, src.Height)
	if maxDimension <= 0 || longest <= maxDimension {
		return src, false
	}
	scale := float64(maxDimension) / float64(longest)
	w := max(1, int(math.Round(float64(src.Width)*scale)))
	h := max(1, int(math.Round(float64(src.Height)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src.ToImage(), src.Bounds(), xdraw.Src, nil)
	return raster.FromImage(dst), true
}

// Process decodes the data and applies the configured normalization steps.
// Decode failures and cancellation are returned as errors; every other
// problem is reported as an issue alongside a usable raster.
func (p *Preprocessor) Process(ctx context.Context, data []byte, settings models.Settings) (Output, []models.Issue, error) {
	var out Output
	var issues []models.Issue
	cfg := settings.Preprocessing

	img, format, err := Decode(data, cfg.MaxPixels)
	if err != nil {
		return out, nil, err
	}
	out.Format = format
	out.SourceSize = image.Pt(img.Width, img.Height)

	img, out.Downscaled = downscale(img, cfg.MaxDimension)

	if cfg.Denoise {
		img = raster.Median3(img)
	}
	if cfg.Sharpen && cfg.SharpenAmount > 0 {
		img = raster.UnsharpMask(img, cfg.SharpenAmount)
	}
	if cfg.Contrast != 0 || cfg.Brightness != 0 {
		img = raster.AdjustContrast(img, cfg.Contrast, cfg.Brightness)
	}
	gray := raster.Grayscale(img)

	if err := ctx.Err(); err != nil {
		return out, issues, err
	}

	out.Metrics = p.metrics.Measure(gray)

	if cfg.SkewCorrection {
		est, err := detectSkew(ctx, gray, cfg.MaxSkewDegrees)
		if err != nil {
			return out, issues, err
		}
		if est.Found {
			angle := est.Angle
			out.SkewAngle = angle
			out.Metrics.SkewAngle = &angle
			gray, out.SkewApplied = correctSkew(gray, est)
		} else {
			issues = append(issues, models.Issue{
				Stage:     models.StagePreprocess,
				Code:      "skew_not_found",
				Message:   "no reliable line found for skew estimation",
				Severity:  models.SeverityFlag,
				Measured:  float64(est.Votes),
				Threshold: float64(est.MinVotes),
			})
		}
	}

	for _, qi := range p.validator.ValidateSheet(out.Metrics) {
		issues = append(issues, models.Issue{
			Stage:     models.StagePreprocess,
			Code:      qi.Type,
			Message:   qi.Message,
			Severity:  models.SeverityWarning,
			Measured:  qi.ActualValue,
			Threshold: qi.Threshold,
		})
	}

	if err := ctx.Err(); err != nil {
		return out, issues, err
	}

	if cfg.PerspectiveCorrection {
		corrected, fid, issue := p.correctPerspective(gray, settings)
		out.Fiducials = fid
		if issue != nil {
			issues = append(issues, *issue)
		} else {
			gray = corrected
			out.Corrected = true
		}
	}

	out.Image = gray
	logger.WithFields(logrus.Fields{
		"format":      out.Format,
		"width":       gray.Width,
		"height":      gray.Height,
		"skew_angle":  out.SkewAngle,
		"perspective": out.Corrected,
		"issues":      len(issues),
	}).Debug("Sheet preprocessed")

	return out, issues, nil
}

// correctPerspective maps the four fiducial centres onto the output layout.
// It fails closed: any doubt leaves the raster untouched and returns a flag.
func (p *Preprocessor) correctPerspective(gray raster.Image, settings models.Settings) (raster.Image, Fiducials, *models.Issue) {
	cfg := settings.Preprocessing
	fid := findFiducials(gray, settings.MaxBubbleSize)

	notFound := func(msg string, measured, threshold float64) *models.Issue {
		return &models.Issue{
			Stage:     models.StagePreprocess,
			Code:      "perspective_not_found",
			Message:   msg,
			Severity:  models.SeverityFlag,
			Measured:  measured,
			Threshold: threshold,
		}
	}

	if !fid.Complete() {
		lowest := 1.0
		for i := range fid.Confidence {
			lowest = math.Min(lowest, fid.Confidence[i])
		}
		return gray, fid, notFound(fmt.Sprintf("fiducial markers not found: %v", fid.Missing()), lowest, MinFiducialConfidence)
	}

	area, convex := quadArea(fid.Centers)
	share := area / float64(gray.Width*gray.Height)
	if !convex || share < 0.25 {
		return gray, fid, notFound("fiducial markers form a degenerate quadrilateral", share, 0.25)
	}

	layout := newSheetLayout(cfg.OutputWidth, cfg.SheetAspect)
	h, err := solveHomography(layout.Corners, fid.Centers)
	if err != nil {
		return gray, fid, notFound(err.Error(), 0, 0)
	}
	warped, err := warpPerspective(gray, h, layout.Width, layout.Height)
	if err != nil {
		return gray, fid, notFound(err.Error(), 0, 0)
	}
	return warped, fid, nil
}

package preprocess

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/png"
	"math"
	"testing"

	apperrors "github.com/anime-shed/omr-inspector-go/internal/errors"
	"github.com/anime-shed/omr-inspector-go/internal/raster"
	"github.com/anime-shed/omr-inspector-go/pkg/models"
)

// tiltedLines draws three parallel 4px lines through the image at angle degrees
func tiltedLines(width, height int, angle float64) raster.Image {
	img := raster.NewGray(width, height, 255)
	rad := angle * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	cx, cy := float64(width)/2, float64(height)/2
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			d := -(float64(x)+0.5-cx)*sin + (float64(y)+0.5-cy)*cos
			for _, off := range []float64{-150, 0, 150} {
				if math.Abs(d-off) <= 2 {
					img.SetGray(x, y, 0)
				}
			}
		}
	}
	return img
}

func encodePNG(t *testing.T, img raster.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img.ToImage()); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

// markedPage draws four solid 48px corner markers centred at the positions an
// identity warp expects for a 1000px-wide output with aspect 1.4.
func markedPage() raster.Image {
	img := raster.NewGray(1000, 1360, 255)
	for _, c := range []image.Point{{50, 50}, {950, 50}, {950, 1310}, {50, 1310}} {
		img.Fill(image.Rect(c.X-24, c.Y-24, c.X+24, c.Y+24), 0)
	}
	// a mark in the body to check the warp preserves content
	img.Fill(image.Rect(400, 600, 420, 620), 0)
	return img
}

func plainSettings() models.Settings {
	s := models.DefaultSettings()
	s.Preprocessing.Denoise = false
	s.Preprocessing.Sharpen = false
	s.Preprocessing.SkewCorrection = false
	s.Preprocessing.PerspectiveCorrection = false
	s.Preprocessing.SheetAspect = 1.4
	return s
}

func TestDetectSkew_RecoversTilt(t *testing.T) {
	tests := []struct {
		name  string
		angle float64
	}{
		{"positive", 3},
		{"negative", -4.5},
		{"level", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := tiltedLines(800, 600, tt.angle)

			est, err := detectSkew(context.Background(), img, 15)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !est.Found {
				t.Fatalf("Expected a line to be found, votes %d < %d", est.Votes, est.MinVotes)
			}
			if math.Abs(est.Angle-tt.angle) > 0.3 {
				t.Errorf("Expected angle near %v, got %v", tt.angle, est.Angle)
			}

			corrected, _ := correctSkew(img, est)
			again, err := detectSkew(context.Background(), corrected, 15)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if math.Abs(again.Angle) > 0.3 {
				t.Errorf("Expected corrected image to be level, got %v", again.Angle)
			}
		})
	}
}

func TestDetectSkew_UniformImage(t *testing.T) {
	est, err := detectSkew(context.Background(), raster.NewGray(400, 300, 200), 15)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if est.Found {
		t.Errorf("Expected no line on a uniform image, got angle %v", est.Angle)
	}
}

func TestDetectSkew_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := detectSkew(ctx, tiltedLines(400, 300, 2), 15)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestProcess_DecodeError(t *testing.T) {
	p := NewPreprocessor()

	for _, data := range [][]byte{nil, []byte("definitely not an image")} {
		_, _, err := p.Process(context.Background(), data, models.DefaultSettings())
		if !apperrors.IsType(err, apperrors.ErrorTypeDecode) {
			t.Errorf("Expected decode error, got %v", err)
		}
	}
}

// withPNGSize rewrites the IHDR dimensions of an encoded PNG, leaving the
// pixel data as is; only the header claims the new size.
func withPNGSize(t *testing.T, data []byte, width, height uint32) []byte {
	t.Helper()
	out := append([]byte(nil), data...)
	// signature (8) + chunk length (4) + "IHDR" (4)
	binary.BigEndian.PutUint32(out[16:], width)
	binary.BigEndian.PutUint32(out[20:], height)
	binary.BigEndian.PutUint32(out[29:], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestDecode_PixelLimit(t *testing.T) {
	small := encodePNG(t, raster.NewGray(100, 100, 200))

	tests := []struct {
		name      string
		data      []byte
		maxPixels int
		wantErr   bool
	}{
		{"within limit", small, 10000, false},
		{"over limit", small, 9999, true},
		{"no limit", small, 0, false},
		{"header claims 144 MP", withPNGSize(t, small, 12000, 12000), models.DefaultMaxPixels, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, _, err := Decode(tt.data, tt.maxPixels)
			if tt.wantErr {
				if !apperrors.IsType(err, apperrors.ErrorTypeDecode) {
					t.Fatalf("Expected decode error, got %v", err)
				}
				if !img.Empty() {
					t.Error("Expected no raster for a rejected image")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if img.Width != 100 || img.Height != 100 {
				t.Errorf("Expected 100x100, got %dx%d", img.Width, img.Height)
			}
		})
	}
}

func TestProcess_PixelLimitIsFatal(t *testing.T) {
	p := NewPreprocessor()
	settings := plainSettings()
	settings.Preprocessing.MaxPixels = 50 * 50

	_, _, err := p.Process(context.Background(), encodePNG(t, raster.NewGray(60, 60, 200)), settings)
	if !apperrors.IsType(err, apperrors.ErrorTypeDecode) {
		t.Errorf("Expected decode error, got %v", err)
	}
}

func TestProcess_Downscale(t *testing.T) {
	p := NewPreprocessor()
	settings := plainSettings()
	settings.Preprocessing.MaxDimension = 500

	out, _, err := p.Process(context.Background(), encodePNG(t, raster.NewGray(1000, 400, 128)), settings)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !out.Downscaled {
		t.Error("Expected image to be downscaled")
	}
	if out.Image.Width != 500 || out.Image.Height != 200 {
		t.Errorf("Expected 500x200, got %dx%d", out.Image.Width, out.Image.Height)
	}
	if out.Format != "png" {
		t.Errorf("Expected png format, got %q", out.Format)
	}
}

func TestProcess_SkewNotFoundIsFlagged(t *testing.T) {
	p := NewPreprocessor()
	settings := plainSettings()
	settings.Preprocessing.SkewCorrection = true

	out, issues, err := p.Process(context.Background(), encodePNG(t, raster.NewGray(800, 1000, 250)), settings)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.SkewApplied {
		t.Error("Expected no rotation without a reliable line")
	}
	if !hasIssue(issues, "skew_not_found", models.SeverityFlag) {
		t.Errorf("Expected skew_not_found flag, got %v", issues)
	}
}

func TestProcess_PerspectiveFailsClosed(t *testing.T) {
	p := NewPreprocessor()
	settings := plainSettings()
	settings.Preprocessing.PerspectiveCorrection = true

	page := markedPage()
	// remove the bottom-right marker
	page.Fill(image.Rect(926, 1286, 974, 1334), 255)

	out, issues, err := p.Process(context.Background(), encodePNG(t, page), settings)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.Corrected {
		t.Error("Expected no correction with a missing fiducial")
	}
	if !hasIssue(issues, "perspective_not_found", models.SeverityFlag) {
		t.Errorf("Expected perspective_not_found flag, got %v", issues)
	}
	if out.Image.Width != page.Width || out.Image.Height != page.Height {
		t.Errorf("Expected uncorrected %dx%d raster, got %dx%d", page.Width, page.Height, out.Image.Width, out.Image.Height)
	}
}

func TestProcess_PerspectiveIdentity(t *testing.T) {
	p := NewPreprocessor()
	settings := plainSettings()
	settings.Preprocessing.PerspectiveCorrection = true

	page := markedPage()
	out, issues, err := p.Process(context.Background(), encodePNG(t, page), settings)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if hasIssue(issues, "perspective_not_found", models.SeverityFlag) {
		t.Fatalf("Expected fiducials to be found, got %v", issues)
	}
	if !out.Corrected {
		t.Fatal("Expected perspective correction to be applied")
	}
	if out.Image.Width != 1000 || out.Image.Height != 1360 {
		t.Fatalf("Expected 1000x1360, got %dx%d", out.Image.Width, out.Image.Height)
	}

	for _, pt := range []image.Point{{410, 610}, {50, 50}, {950, 1310}} {
		if v := out.Image.GrayAt(pt.X, pt.Y); v > 10 {
			t.Errorf("Expected dark pixel at %v, got %d", pt, v)
		}
	}
	if v := out.Image.GrayAt(500, 300); v < 245 {
		t.Errorf("Expected paper at (500,300), got %d", v)
	}
}

func TestWarpPerspective_Translation(t *testing.T) {
	src := raster.NewGray(60, 40, 255)
	src.Fill(image.Rect(30, 20, 32, 22), 0)

	// destination p reads source p + (10, 5)
	h := Homography{1, 0, 10, 0, 1, 5, 0, 0, 1}
	out, err := warpPerspective(src, h, 50, 30)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.Width != 50 || out.Height != 30 {
		t.Fatalf("Expected 50x30, got %dx%d", out.Width, out.Height)
	}
	if v := out.GrayAt(20, 15); v > 10 {
		t.Errorf("Expected the dark block shifted to (20,15), got %d", v)
	}
	if v := out.GrayAt(30, 20); v < 245 {
		t.Errorf("Expected paper at (30,20), got %d", v)
	}
}

func TestSolveHomography_MapsCorners(t *testing.T) {
	from := [4]Point{{0, 0}, {100, 0}, {100, 140}, {0, 140}}
	to := [4]Point{{10, 5}, {120, 12}, {115, 160}, {3, 150}}

	h, err := solveHomography(from, to)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for i := range from {
		got := h.Apply(from[i])
		if math.Abs(got.X-to[i].X) > 1e-6 || math.Abs(got.Y-to[i].Y) > 1e-6 {
			t.Errorf("Corner %d: expected %v, got %v", i, to[i], got)
		}
	}
}

func TestQuadArea(t *testing.T) {
	square := [4]Point{{0, 0}, {10, 0}, {10, 10}, {0, 10}}
	area, convex := quadArea(square)
	if area != 100 || !convex {
		t.Errorf("Expected convex area 100, got %v (convex=%v)", area, convex)
	}

	bowtie := [4]Point{{0, 0}, {10, 10}, {10, 0}, {0, 10}}
	if _, convex := quadArea(bowtie); convex {
		t.Error("Expected self-intersecting quadrilateral to be rejected")
	}
}

func TestMeasure(t *testing.T) {
	mc := newMetricsCalculator()

	flat := mc.Measure(raster.NewGray(50, 40, 180))
	if flat.LaplacianVar != 0 {
		t.Errorf("Expected zero Laplacian variance on a flat image, got %v", flat.LaplacianVar)
	}
	if flat.Brightness != 180 {
		t.Errorf("Expected brightness 180, got %v", flat.Brightness)
	}
	if flat.DynamicRange() != 0 {
		t.Errorf("Expected zero dynamic range, got %v", flat.DynamicRange())
	}

	lined := mc.Measure(tiltedLines(200, 200, 0))
	if lined.LaplacianVar <= 0 {
		t.Error("Expected positive Laplacian variance with edges")
	}
	if lined.DarkLevel != 0 || lined.LightLevel != 255 {
		t.Errorf("Expected full dynamic range, got %v..%v", lined.DarkLevel, lined.LightLevel)
	}
}

func hasIssue(issues []models.Issue, code string, severity models.Severity) bool {
	for _, i := range issues {
		if i.Code == code && i.Severity == severity {
			return true
		}
	}
	return false
}

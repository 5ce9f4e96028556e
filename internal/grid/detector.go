package grid

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"
	"strings"

	apperrors "github.com/anime-shed/omr-inspector-go/internal/errors"
	"github.com/anime-shed/omr-inspector-go/internal/logger"
	"github.com/anime-shed/omr-inspector-go/internal/raster"
	"github.com/anime-shed/omr-inspector-go/pkg/models"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// Candidate filter bounds for printed bubbles: rings and discs, never solid squares.
const (
	minAspect = 0.6
	minFill   = 0.08
	maxFill   = 0.92
)

// Detector locates the bubble lattice on a corrected sheet
type Detector struct{}

// NewDetector creates a grid detector
func NewDetector() *Detector {
	return &Detector{}
}

type candidate struct {
	blob       raster.Blob
	confidence float64
}

// Detect returns a dense topology or a fatal grid error. Blobs whose centroid
// falls inside an excluded rectangle (decoded QR codes) never count.
func (d *Detector) Detect(ctx context.Context, img raster.Image, exclude []image.Rectangle, settings models.Settings) (models.GridTopology, []models.Issue, error) {
	rows, cols, opts := settings.GridRows, settings.GridColumns, settings.OptionsPerQuestion
	if rows <= 0 || cols <= 0 || opts <= 0 || cols%opts != 0 {
		return models.GridTopology{}, nil, gridError(fmt.Sprintf("invalid lattice %dx%d with %d options per question", rows, cols, opts), "")
	}
	if !settings.AutoDetectGrid {
		return templateLattice(img, settings), nil, nil
	}

	labels, blobs := raster.Components(img, raster.OtsuThreshold(img))
	if err := ctx.Err(); err != nil {
		return models.GridTopology{}, nil, err
	}

	region := regionRect(img, settings.GridRegion)
	var cands []candidate
	for _, b := range blobs {
		w, h := b.Bounds.Dx(), b.Bounds.Dy()
		if w < settings.MinBubbleSize || h < settings.MinBubbleSize || w > settings.MaxBubbleSize || h > settings.MaxBubbleSize {
			continue
		}
		if b.Aspect() < minAspect || b.FillRatio() < minFill || b.FillRatio() > maxFill {
			continue
		}
		centre := image.Pt(int(b.CX), int(b.CY))
		if !centre.In(region) || excluded(centre, exclude) {
			continue
		}
		cands = append(cands, candidate{blob: b, confidence: cellConfidence(labels, b)})
	}

	if len(cands) == 0 {
		return models.GridTopology{}, nil, gridError("no bubble candidates found", "")
	}

	radius := settings.GridTolerance * medianSize(cands)
	all := make([]int, len(cands))
	for i := range cands {
		all[i] = i
	}

	rowClusters := keepLarge(chainClusters(all, func(i int) float64 { return cands[i].blob.CY }, radius), (cols+1)/2)
	var inRows []int
	rowOf := make(map[int]int)
	for r, c := range rowClusters {
		for _, i := range c.members {
			inRows = append(inRows, i)
			rowOf[i] = r
		}
	}
	colClusters := keepLarge(chainClusters(inRows, func(i int) float64 { return cands[i].blob.CX }, radius), (rows+1)/2)

	if len(rowClusters) != rows || len(colClusters) != cols {
		return models.GridTopology{}, nil, gridError(
			fmt.Sprintf("found %d rows and %d columns, expected %d and %d", len(rowClusters), len(colClusters), rows, cols), "")
	}

	topo := models.GridTopology{
		Rows:               rows,
		Cols:               cols,
		OptionsPerQuestion: opts,
		Questions:          rows * (cols / opts),
		Cells:              make([]models.GridCell, rows*cols),
	}
	assigned := make([]int, rows*cols)
	for i := range assigned {
		assigned[i] = -1
	}

	var issues []models.Issue
	for c, cl := range colClusters {
		for _, i := range cl.members {
			r := rowOf[i]
			idx := r*cols + c
			if prev := assigned[idx]; prev >= 0 {
				issues = append(issues, models.Issue{
					Stage:    models.StageGrid,
					Code:     "grid_duplicate_cell",
					Message:  fmt.Sprintf("two candidates at row %d column %d", r, c),
					Severity: models.SeverityWarning,
				})
				if offset(cands[prev].blob, rowClusters[r], cl) <= offset(cands[i].blob, rowClusters[r], cl) {
					continue
				}
			}
			assigned[idx] = i
		}
	}

	var missing []string
	sum := 0.0
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			idx := r*cols + c
			if assigned[idx] < 0 {
				missing = append(missing, fmt.Sprintf("(%d,%d)", r, c))
				continue
			}
			cand := cands[assigned[idx]]
			question, option := Address(r, c, rows, opts)
			topo.Cells[idx] = models.GridCell{
				Bounds:     cand.blob.Bounds,
				Row:        r,
				Col:        c,
				Question:   question,
				Option:     option,
				Confidence: cand.confidence,
			}
			sum += cand.confidence
		}
	}
	if len(missing) > 0 {
		return models.GridTopology{}, nil, gridError(
			fmt.Sprintf("%d of %d bubble positions missing", len(missing), rows*cols),
			"missing: "+strings.Join(missing, " "))
	}

	topo.Confidence = sum / float64(len(topo.Cells))
	logger.WithFields(logrus.Fields{
		"rows":       rows,
		"cols":       cols,
		"candidates": len(cands),
		"confidence": topo.Confidence,
	}).Debug("Grid detected")

	return topo, issues, nil
}

// Address maps a lattice position to its question and option. Column
// blocks of optionsPerQuestion each continue the question numbering.
func Address(row, col, rows, optionsPerQuestion int) (question, option int) {
	block := col / optionsPerQuestion
	return block*rows + row, col % optionsPerQuestion
}

// cellConfidence scores squareness times how closely the outline-filled
// area matches the inscribed ellipse.
func cellConfidence(labels raster.Labels, b raster.Blob) float64 {
	w, h := float64(b.Bounds.Dx()), float64(b.Bounds.Dy())
	ellipse := math.Pi / 4 * w * h
	if ellipse == 0 {
		return 0
	}
	ratio := float64(labels.SpanArea(b)) / ellipse
	return b.Aspect() * math.Max(0, 1-math.Abs(ratio-1))
}

func medianSize(cands []candidate) float64 {
	sizes := make([]float64, len(cands))
	for i, c := range cands {
		sizes[i] = float64(c.blob.Bounds.Dx()+c.blob.Bounds.Dy()) / 2
	}
	sort.Float64s(sizes)
	return stat.Quantile(0.5, stat.Empirical, sizes, nil)
}

func offset(b raster.Blob, row, col cluster) float64 {
	return math.Hypot(b.CX-col.center, b.CY-row.center)
}

func excluded(p image.Point, rects []image.Rectangle) bool {
	for _, r := range rects {
		if p.In(r) {
			return true
		}
	}
	return false
}

// regionRect converts a normalized region into pixel bounds
func regionRect(img raster.Image, r models.Region) image.Rectangle {
	return image.Rect(
		int(math.Floor(r.X0*float64(img.Width))), int(math.Floor(r.Y0*float64(img.Height))),
		int(math.Ceil(r.X1*float64(img.Width))), int(math.Ceil(r.Y1*float64(img.Height))),
	)
}

// templateLattice divides the configured region evenly when auto-detection is off
func templateLattice(img raster.Image, settings models.Settings) models.GridTopology {
	rows, cols, opts := settings.GridRows, settings.GridColumns, settings.OptionsPerQuestion
	region := regionRect(img, settings.GridRegion)
	cw := float64(region.Dx()) / float64(cols)
	ch := float64(region.Dy()) / float64(rows)
	side := math.Min(cw, ch) * 0.8

	topo := models.GridTopology{
		Rows:               rows,
		Cols:               cols,
		OptionsPerQuestion: opts,
		Questions:          rows * (cols / opts),
		Cells:              make([]models.GridCell, 0, rows*cols),
		Confidence:         1,
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			cx := float64(region.Min.X) + (float64(c)+0.5)*cw
			cy := float64(region.Min.Y) + (float64(r)+0.5)*ch
			question, option := Address(r, c, rows, opts)
			topo.Cells = append(topo.Cells, models.GridCell{
				Bounds: image.Rect(
					int(math.Round(cx-side/2)), int(math.Round(cy-side/2)),
					int(math.Round(cx+side/2)), int(math.Round(cy+side/2)),
				),
				Row:        r,
				Col:        c,
				Question:   question,
				Option:     option,
				Confidence: 1,
			})
		}
	}
	return topo
}

func gridError(message, details string) error {
	err := apperrors.NewStageError(string(models.StageGrid), apperrors.ErrorTypeGrid, message, nil)
	if details != "" {
		err = err.WithDetails(details)
	}
	return err
}

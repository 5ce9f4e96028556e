package bubble

import (
	"image"
	"math"
	"sort"

	"github.com/anime-shed/omr-inspector-go/internal/raster"
	"github.com/anime-shed/omr-inspector-go/pkg/models"

	"gonum.org/v1/gonum/stat"
)

const (
	// DarkContrast is how far below the background a pixel must be to count as ink
	DarkContrast = 0.35
	// innerRadius excludes the printed outline from the fill measurement
	innerRadius = 0.6
	// backgroundQuantile picks paper out of the question's cell boxes
	backgroundQuantile = 0.9
)

// Measurement is the raw evidence for one cell
type Measurement struct {
	Fill       float64
	Mean       float64
	Background float64
	// Relative is Fill minus the strongest sibling fill in the question
	Relative float64
	// Darkness is 1 - Mean/Background, clamped to [0,1]
	Darkness float64
}

// questionBackground estimates local paper brightness from every pixel in the
// question's cell boxes; box corners always show paper.
func questionBackground(img raster.Image, cells []models.GridCell) float64 {
	var samples []float64
	for _, c := range cells {
		r := c.Bounds.Intersect(img.Bounds())
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				samples = append(samples, float64(img.GrayAt(x, y)))
			}
		}
	}
	if len(samples) == 0 {
		return 255
	}
	sort.Float64s(samples)
	return stat.Quantile(backgroundQuantile, stat.Empirical, samples, nil)
}

// measureCell computes fill and mean intensity inside the inscribed inner disc
func measureCell(img raster.Image, bounds image.Rectangle, background float64) (fill, mean float64) {
	cx := float64(bounds.Min.X+bounds.Max.X) / 2
	cy := float64(bounds.Min.Y+bounds.Max.Y) / 2
	radius := innerRadius * float64(min(bounds.Dx(), bounds.Dy())) / 2
	cutoff := background * (1 - DarkContrast)

	r := bounds.Intersect(img.Bounds())
	var n, dark int
	sum := 0.0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy) > radius {
				continue
			}
			v := float64(img.GrayAt(x, y))
			sum += v
			n++
			if v < cutoff {
				dark++
			}
		}
	}
	if n == 0 {
		return 0, background
	}
	return float64(dark) / float64(n), sum / float64(n)
}

// measureQuestion measures every option of one question against a shared background
func measureQuestion(img raster.Image, cells []models.GridCell) []Measurement {
	bg := questionBackground(img, cells)
	out := make([]Measurement, len(cells))
	for i, c := range cells {
		fill, mean := measureCell(img, c.Bounds, bg)
		darkness := 0.0
		if bg > 0 {
			darkness = math.Max(0, math.Min(1, 1-mean/bg))
		}
		out[i] = Measurement{Fill: fill, Mean: mean, Background: bg, Darkness: darkness}
	}
	for i := range out {
		strongest := 0.0
		for j := range out {
			if j != i {
				strongest = math.Max(strongest, out[j].Fill)
			}
		}
		out[i].Relative = out[i].Fill - strongest
	}
	return out
}

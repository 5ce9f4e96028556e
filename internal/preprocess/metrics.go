package preprocess

import (
	"sync"

	"github.com/anime-shed/omr-inspector-go/internal/raster"
	"github.com/anime-shed/omr-inspector-go/pkg/validation"

	"gonum.org/v1/gonum/stat"
)

// metricsCalculator measures sheet quality on the grayscale raster
type metricsCalculator struct {
	slicePool sync.Pool
}

func newMetricsCalculator() *metricsCalculator {
	return &metricsCalculator{
		slicePool: sync.Pool{
			New: func() interface{} {
				return make([]float64, 0, 1024)
			},
		},
	}
}

// Measure computes the metrics the quality validator consumes
func (mc *metricsCalculator) Measure(gray raster.Image) validation.SheetMetrics {
	m := validation.SheetMetrics{
		Width:  gray.Width,
		Height: gray.Height,
	}
	if gray.Empty() {
		return m
	}

	levels, counts := histogram(gray)
	m.Brightness = stat.Mean(levels, counts)
	m.DarkLevel = stat.Quantile(0.01, stat.Empirical, levels, counts)
	m.LightLevel = stat.Quantile(0.99, stat.Empirical, levels, counts)
	m.LaplacianVar = mc.laplacianVariance(gray)
	return m
}

// histogram returns the 256 gray levels in ascending order with their
// pixel counts, shaped for gonum's weighted statistics.
func histogram(gray raster.Image) (levels, counts []float64) {
	var hist [256]int
	for _, v := range gray.Pix {
		hist[v]++
	}
	levels = make([]float64, 256)
	counts = make([]float64, 256)
	for v := range hist {
		levels[v] = float64(v)
		counts[v] = float64(hist[v])
	}
	return levels, counts
}

// laplacianVariance computes the variance of the 4-neighbour Laplacian
func (mc *metricsCalculator) laplacianVariance(gray raster.Image) float64 {
	width, height := gray.Width, gray.Height
	if width < 3 || height < 3 {
		return 0
	}

	// Get reusable slice from pool
	data := mc.slicePool.Get().([]float64)
	defer func() { mc.slicePool.Put(data[:0]) }()

	if cap(data) < (width-2)*(height-2) {
		data = make([]float64, 0, (width-2)*(height-2))
	}

	lap := raster.Laplacian(gray)
	for y := 1; y < height-1; y++ {
		for _, v := range lap[y*width+1 : (y+1)*width-1] {
			data = append(data, float64(v))
		}
	}

	return stat.Variance(data, nil)
}


package preprocess

import (
	"context"
	"math"

	"github.com/anime-shed/omr-inspector-go/internal/raster"
)

const (
	skewStepDegrees  = 0.1
	skewMinVotes     = 60
	skewEdgeStrength = 100
	skewMaxPoints    = 60000
	// rotations smaller than this are left alone
	skewNegligible = 0.05
)

// skewEstimate is the outcome of the dominant-line search
type skewEstimate struct {
	Angle    float64
	Votes    int
	MinVotes int
	Found    bool
}

type edgePoint struct{ x, y float64 }

// horizontalEdges collects strong interior edges whose gradient is mostly
// vertical, i.e. the top and bottom borders of near-horizontal printed lines.
func horizontalEdges(gray raster.Image) []edgePoint {
	gx, gy := raster.Sobel(gray)

	var points []edgePoint
	for y := 1; y < gray.Height-1; y++ {
		for x := 1; x < gray.Width-1; x++ {
			i := y*gray.Width + x
			dx, dy := float64(gx[i]), float64(gy[i])
			if math.Abs(dy) <= math.Abs(dx) {
				continue
			}
			if math.Hypot(dx, dy) > skewEdgeStrength {
				points = append(points, edgePoint{float64(x) + 0.5, float64(y) + 0.5})
			}
		}
	}
	if len(points) <= skewMaxPoints {
		return points
	}
	stride := (len(points) + skewMaxPoints - 1) / skewMaxPoints
	sampled := make([]edgePoint, 0, skewMaxPoints)
	for i := 0; i < len(points); i += stride {
		sampled = append(sampled, points[i])
	}
	return sampled
}

// detectSkew runs a Hough vote over line angles within ±maxDegrees. A line at
// angle a satisfies -x·sin(a) + y·cos(a) = rho, so a positive angle descends
// to the right in image coordinates.
func detectSkew(ctx context.Context, gray raster.Image, maxDegrees float64) (skewEstimate, error) {
	est := skewEstimate{MinVotes: max(skewMinVotes, gray.Width/4)}
	if gray.Width < 3 || gray.Height < 3 || maxDegrees <= 0 {
		return est, nil
	}

	points := horizontalEdges(gray)
	if len(points) < est.MinVotes {
		est.Votes = len(points)
		return est, nil
	}

	diag := int(math.Ceil(math.Hypot(float64(gray.Width), float64(gray.Height))))
	bins := make([]int32, 2*diag+1)
	steps := int(math.Round(maxDegrees / skewStepDegrees))

	bestVotes := -1
	bestAngle := 0.0
	for i := -steps; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return est, err
		}
		angle := float64(i) * skewStepDegrees
		rad := angle * math.Pi / 180
		sin, cos := math.Sin(rad), math.Cos(rad)

		clear(bins)
		peak := int32(0)
		for _, p := range points {
			rho := int(math.Round(-p.x*sin+p.y*cos)) + diag
			bins[rho]++
			if bins[rho] > peak {
				peak = bins[rho]
			}
		}
		votes := int(peak)
		if votes > bestVotes || (votes == bestVotes && math.Abs(angle) < math.Abs(bestAngle)) {
			bestVotes = votes
			bestAngle = angle
		}
	}

	est.Votes = bestVotes
	if bestVotes >= est.MinVotes {
		est.Angle = bestAngle
		est.Found = true
	}
	return est, nil
}

// correctSkew rotates the raster so the detected line becomes horizontal
func correctSkew(gray raster.Image, est skewEstimate) (raster.Image, bool) {
	if !est.Found || math.Abs(est.Angle) < skewNegligible {
		return gray, false
	}
	return raster.Rotate(gray, est.Angle, 255), true
}

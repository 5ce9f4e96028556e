package preprocess

import (
	"fmt"
	"math"

	"github.com/anime-shed/omr-inspector-go/internal/raster"

	"gonum.org/v1/gonum/mat"
)

// MinFiducialConfidence is the per-corner confidence a fiducial must reach
const MinFiducialConfidence = 0.6

// Point is a sub-pixel position in pixel-centre coordinates
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Corner order used throughout: top-left, top-right, bottom-right, bottom-left.
const (
	cornerTL = iota
	cornerTR
	cornerBR
	cornerBL
)

var cornerNames = [4]string{"top-left", "top-right", "bottom-right", "bottom-left"}

// Fiducials are the four located corner markers
type Fiducials struct {
	Centers    [4]Point
	Confidence [4]float64
	Found      [4]bool
}

// Complete reports whether every corner holds a confident marker
func (f Fiducials) Complete() bool {
	for i := range f.Found {
		if !f.Found[i] || f.Confidence[i] < MinFiducialConfidence {
			return false
		}
	}
	return true
}

// Missing names the corners without a confident marker
func (f Fiducials) Missing() []string {
	var names []string
	for i := range f.Found {
		if !f.Found[i] || f.Confidence[i] < MinFiducialConfidence {
			names = append(names, cornerNames[i])
		}
	}
	return names
}

// fiducialConfidence scores a blob by how solid and how square it is
func fiducialConfidence(b raster.Blob) float64 {
	return math.Min(1, b.FillRatio()/0.85) * b.Aspect()
}

// findFiducials picks, per image quadrant, the solid square-ish blob closest
// to that quadrant's image corner. Blobs must be larger than the biggest
// bubble so answer marks never qualify.
func findFiducials(gray raster.Image, maxBubbleSize int) Fiducials {
	var f Fiducials
	if gray.Empty() {
		return f
	}

	short := min(gray.Width, gray.Height)
	minSide := max(maxBubbleSize+1, int(0.03*float64(short)))
	maxSide := int(0.12 * float64(short))

	_, blobs := raster.Components(gray, raster.OtsuThreshold(gray))

	w, h := float64(gray.Width), float64(gray.Height)
	corners := [4]Point{{0, 0}, {w, 0}, {w, h}, {0, h}}
	best := [4]float64{math.Inf(1), math.Inf(1), math.Inf(1), math.Inf(1)}

	for _, b := range blobs {
		bw, bh := b.Bounds.Dx(), b.Bounds.Dy()
		if bw < minSide || bh < minSide || bw > maxSide || bh > maxSide {
			continue
		}
		if b.Aspect() < 0.8 || b.FillRatio() < 0.6 {
			continue
		}

		var corner int
		switch left, top := b.CX < w/2, b.CY < h/2; {
		case left && top:
			corner = cornerTL
		case !left && top:
			corner = cornerTR
		case !left && !top:
			corner = cornerBR
		default:
			corner = cornerBL
		}

		dist := math.Hypot(b.CX-corners[corner].X, b.CY-corners[corner].Y)
		if dist < best[corner] {
			best[corner] = dist
			f.Centers[corner] = Point{b.CX, b.CY}
			f.Confidence[corner] = fiducialConfidence(b)
			f.Found[corner] = true
		}
	}
	return f
}

// quadArea returns the shoelace area of a quadrilateral and whether it is convex
func quadArea(q [4]Point) (float64, bool) {
	area := 0.0
	sign := 0
	for i := 0; i < 4; i++ {
		a, b, c := q[i], q[(i+1)%4], q[(i+2)%4]
		area += a.X*b.Y - b.X*a.Y

		cross := (b.X-a.X)*(c.Y-b.Y) - (b.Y-a.Y)*(c.X-b.X)
		s := 0
		if cross > 0 {
			s = 1
		} else if cross < 0 {
			s = -1
		}
		if s == 0 || (sign != 0 && s != sign) {
			return math.Abs(area) / 2, false
		}
		sign = s
	}
	return math.Abs(area) / 2, true
}

// Homography is a 3x3 projective transform with h[8] fixed at 1
type Homography [9]float64

// Apply maps a point through the transform
func (h Homography) Apply(p Point) Point {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	return Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}
}

// solveHomography finds H with H(from[i]) = to[i] for all four pairs
func solveHomography(from, to [4]Point) (Homography, error) {
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		x, y := from[i].X, from[i].Y
		u, v := to[i].X, to[i].Y

		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -x * u, -y * u})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -x * v, -y * v})
		b.SetVec(2*i, u)
		b.SetVec(2*i+1, v)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		return Homography{}, fmt.Errorf("solve homography: %w", err)
	}

	var h Homography
	for i := 0; i < 8; i++ {
		h[i] = sol.AtVec(i)
	}
	h[8] = 1
	return h, nil
}

// sheetLayout is the canvas the fiducial centres are mapped onto
type sheetLayout struct {
	Width, Height int
	Corners       [4]Point
}

func newSheetLayout(outputWidth int, aspect float64) sheetLayout {
	margin := float64(outputWidth / 20)
	innerW := float64(outputWidth) - 2*margin
	innerH := math.Round(innerW * aspect)
	return sheetLayout{
		Width:  outputWidth,
		Height: int(innerH + 2*margin),
		Corners: [4]Point{
			{margin, margin},
			{margin + innerW, margin},
			{margin + innerW, margin + innerH},
			{margin, margin + innerH},
		},
	}
}

// warpPerspective fills each destination pixel centre p from src at H(p).
// H is moved into OpenCV's integer pixel-centre frame and inverted, since
// warpPerspective expects the source -> destination direction.
func warpPerspective(src raster.Image, h Homography, width, height int) (raster.Image, error) {
	shift := func(d float64) *mat.Dense {
		return mat.NewDense(3, 3, []float64{1, 0, d, 0, 1, d, 0, 0, 1})
	}
	var inverse mat.Dense
	inverse.Product(shift(-0.5), mat.NewDense(3, 3, h[:]), shift(0.5))

	var forward mat.Dense
	if err := forward.Inverse(&inverse); err != nil {
		return src, fmt.Errorf("invert homography: %w", err)
	}
	var m [9]float64
	for i := range m {
		m[i] = forward.At(i/3, i%3)
	}
	return raster.WarpPerspective(src, m, width, height, 255), nil
}

package raster

import (
	"image"

	"gocv.io/x/gocv"
)

// OtsuThreshold returns the gray level that best separates dark ink from
// paper; pixels at or below it belong to the dark class.
func OtsuThreshold(img Image) uint8 {
	if img.Empty() {
		return 127
	}
	in := img.toMat()
	defer in.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	t := gocv.Threshold(in, &mask, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)
	return uint8(t)
}

// Blob is one 8-connected region of dark pixels
type Blob struct {
	Label  int32
	Bounds image.Rectangle
	Area   int
	// Centroid in pixel-centre coordinates
	CX, CY float64
}

// FillRatio is the share of the bounding box covered by the blob
func (b Blob) FillRatio() float64 {
	box := b.Bounds.Dx() * b.Bounds.Dy()
	if box == 0 {
		return 0
	}
	return float64(b.Area) / float64(box)
}

// Aspect is the short side over the long side of the bounding box
func (b Blob) Aspect() float64 {
	w, h := b.Bounds.Dx(), b.Bounds.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	if w > h {
		return float64(h) / float64(w)
	}
	return float64(w) / float64(h)
}

// Labels maps every pixel to its blob label; 0 is background
type Labels struct {
	Width  int
	Height int
	Label  []int32
}

// SpanArea counts the pixels between the first and last blob pixel of each
// row, which fills in holes such as the inside of a printed ring.
func (l Labels) SpanArea(b Blob) int {
	area := 0
	for y := b.Bounds.Min.Y; y < b.Bounds.Max.Y; y++ {
		row := l.Label[y*l.Width : (y+1)*l.Width]
		first, last := -1, -1
		for x := b.Bounds.Min.X; x < b.Bounds.Max.X; x++ {
			if row[x] == b.Label {
				if first < 0 {
					first = x
				}
				last = x
			}
		}
		if first >= 0 {
			area += last - first + 1
		}
	}
	return area
}

// Column layout of the OpenCV component statistics matrix
const (
	statLeft = iota
	statTop
	statWidth
	statHeight
	statArea
)

// Components labels the 8-connected regions whose samples are at or below
// threshold. Blobs are ordered by label, which follows raster scan order.
func Components(img Image, threshold uint8) (Labels, []Blob) {
	labels := Labels{Width: img.Width, Height: img.Height}
	if img.Empty() {
		return labels, nil
	}

	in := img.toMat()
	defer in.Close()
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(in, &mask, float32(threshold), 255, gocv.ThresholdBinaryInv)

	labelMat := gocv.NewMat()
	defer labelMat.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()

	n := gocv.ConnectedComponentsWithStatsWithParams(mask, &labelMat, &stats, &centroids,
		8, gocv.MatTypeCV32S, gocv.CCL_WU)
	labels.Label = int32s(labelMat)

	// label 0 is the background
	blobs := make([]Blob, 0, max(n-1, 0))
	for i := 1; i < n; i++ {
		left := int(stats.GetIntAt(i, statLeft))
		top := int(stats.GetIntAt(i, statTop))
		blobs = append(blobs, Blob{
			Label:  int32(i),
			Bounds: image.Rect(left, top, left+int(stats.GetIntAt(i, statWidth)), top+int(stats.GetIntAt(i, statHeight))),
			Area:   int(stats.GetIntAt(i, statArea)),
			CX:     centroids.GetDoubleAt(i, 0) + 0.5,
			CY:     centroids.GetDoubleAt(i, 1) + 0.5,
		})
	}
	return labels, blobs
}

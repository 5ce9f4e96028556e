package raster

import (
	"encoding/binary"
	"fmt"
	"math"

	"gocv.io/x/gocv"
)

// toMat wraps the raster samples in an OpenCV matrix. The matrix borrows
// Pix, so the raster must not change until the matrix is closed.
func (m Image) toMat() gocv.Mat {
	mt := gocv.MatTypeCV8UC1
	if m.Channels == 4 {
		mt = gocv.MatTypeCV8UC4
	}
	mat, err := gocv.NewMatFromBytes(m.Height, m.Width, mt, m.Pix)
	if err != nil {
		panic(fmt.Sprintf("raster: %dx%dx%d buffer of %d bytes: %v", m.Width, m.Height, m.Channels, len(m.Pix), err))
	}
	return mat
}

// fromMat copies an 8-bit matrix back into an owned raster
func fromMat(mat gocv.Mat, channels int) Image {
	return Image{
		Width:    mat.Cols(),
		Height:   mat.Rows(),
		Channels: channels,
		Pix:      mat.ToBytes(),
	}
}

// float32s copies a CV_32F matrix into a row-major slice
func float32s(mat gocv.Mat) []float32 {
	raw := mat.ToBytes()
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

// int32s copies a CV_32S matrix into a row-major slice
func int32s(mat gocv.Mat) []int32 {
	raw := mat.ToBytes()
	out := make([]int32, len(raw)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

// restoreAlpha copies the alpha channel of src into dst; filters only
// touch color.
func restoreAlpha(dst, src Image) {
	if src.Channels != 4 {
		return
	}
	for i := 3; i < len(src.Pix); i += 4 {
		dst.Pix[i] = src.Pix[i]
	}
}

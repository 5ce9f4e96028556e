package raster

import (
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// Median3 applies a 3x3 median filter per color channel with replicated
// borders.
func Median3(src Image) Image {
	in := src.toMat()
	defer in.Close()
	dst := gocv.NewMat()
	defer dst.Close()

	gocv.MedianBlur(in, &dst, 3)
	out := fromMat(dst, src.Channels)
	restoreAlpha(out, src)
	return out
}

// BoxBlur3 averages every 3x3 neighborhood per color channel.
func BoxBlur3(src Image) Image {
	in := src.toMat()
	defer in.Close()
	dst := gocv.NewMat()
	defer dst.Close()

	gocv.Blur(in, &dst, image.Pt(3, 3))
	out := fromMat(dst, src.Channels)
	restoreAlpha(out, src)
	return out
}

// UnsharpMask returns original + amount*(original - blurred), saturated.
func UnsharpMask(src Image, amount float64) Image {
	in := src.toMat()
	defer in.Close()
	blurred := gocv.NewMat()
	defer blurred.Close()
	dst := gocv.NewMat()
	defer dst.Close()

	gocv.Blur(in, &blurred, image.Pt(3, 3))
	gocv.AddWeighted(in, 1+amount, blurred, -amount, 0, &dst)
	out := fromMat(dst, src.Channels)
	restoreAlpha(out, src)
	return out
}

// ContrastFactor maps a contrast parameter in [-255, 255] to a gain;
// 0 gives exactly 1.
func ContrastFactor(contrast float64) float64 {
	return 259 * (contrast + 255) / (255 * (259 - contrast))
}

// AdjustContrast applies factor*in + 128(1-factor) + brightness per color channel.
func AdjustContrast(src Image, contrast, brightness float64) Image {
	factor := ContrastFactor(contrast)
	offset := 128 * (1 - factor)

	var lut [256]uint8
	for v := 0; v < 256; v++ {
		lut[v] = clampByte(factor*float64(v) + offset + brightness)
	}

	out := src.Clone()
	cc := src.colorChannels()
	for i := 0; i < len(src.Pix); i += src.Channels {
		for c := 0; c < cc; c++ {
			out.Pix[i+c] = lut[src.Pix[i+c]]
		}
	}
	return out
}

// Luma returns the broadcast luminance of an RGB triple
func Luma(r, g, b uint8) uint8 {
	return clampByte(0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b))
}

// Grayscale converts to a single luminance channel. Gray input is copied.
func Grayscale(src Image) Image {
	if src.Channels == 1 {
		return src.Clone()
	}
	out := New(src.Width, src.Height, 1)
	for i, j := 0, 0; j < len(out.Pix); i, j = i+src.Channels, j+1 {
		out.Pix[j] = Luma(src.Pix[i], src.Pix[i+1], src.Pix[i+2])
	}
	return out
}

// Rotate turns a gray raster by angle degrees about its centre. A line
// tilted by +angle in the source comes out horizontal. Uncovered corners
// take the fill value.
func Rotate(src Image, angle float64, fill uint8) Image {
	rad := angle * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	// OpenCV puts pixel centres on integers
	cx := float64(src.Width)/2 - 0.5
	cy := float64(src.Height)/2 - 0.5

	// forward map source -> destination; warpAffine inverts it
	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	defer m.Close()
	m.SetDoubleAt(0, 0, cos)
	m.SetDoubleAt(0, 1, sin)
	m.SetDoubleAt(0, 2, cx-cos*cx-sin*cy)
	m.SetDoubleAt(1, 0, -sin)
	m.SetDoubleAt(1, 1, cos)
	m.SetDoubleAt(1, 2, cy+sin*cx-cos*cy)

	in := src.toMat()
	defer in.Close()
	dst := gocv.NewMat()
	defer dst.Close()

	gocv.WarpAffineWithParams(in, &dst, m, image.Pt(src.Width, src.Height),
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{fill, fill, fill, 255})
	return fromMat(dst, 1)
}

// Laplacian returns the 4-neighbour Laplacian of a gray raster as row-major
// float samples.
func Laplacian(src Image) []float32 {
	in := src.toMat()
	defer in.Close()
	dst := gocv.NewMat()
	defer dst.Close()

	gocv.Laplacian(in, &dst, gocv.MatTypeCV32F, 1, 1, 0, gocv.BorderReplicate)
	return float32s(dst)
}

// Sobel returns the 3x3 horizontal and vertical Sobel gradients of a gray
// raster.
func Sobel(src Image) (gx, gy []float32) {
	in := src.toMat()
	defer in.Close()
	dx := gocv.NewMat()
	defer dx.Close()
	dy := gocv.NewMat()
	defer dy.Close()

	gocv.Sobel(in, &dx, gocv.MatTypeCV32F, 1, 0, 3, 1, 0, gocv.BorderReplicate)
	gocv.Sobel(in, &dy, gocv.MatTypeCV32F, 0, 1, 3, 1, 0, gocv.BorderReplicate)
	return float32s(dx), float32s(dy)
}

// WarpPerspective resamples a gray raster through a 3x3 forward transform in
// OpenCV pixel coordinates (row-major). Uncovered pixels take the fill value.
func WarpPerspective(src Image, forward [9]float64, width, height int, fill uint8) Image {
	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer m.Close()
	for i, v := range forward {
		m.SetDoubleAt(i/3, i%3, v)
	}

	in := src.toMat()
	defer in.Close()
	dst := gocv.NewMat()
	defer dst.Close()

	gocv.WarpPerspectiveWithParams(in, &dst, m, image.Pt(width, height),
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{fill, fill, fill, 255})
	return fromMat(dst, 1)
}

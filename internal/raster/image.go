// Package raster holds the owned 8-bit sample grids the scan stages pass
// between each other, plus the pixel operations they share.
package raster

import (
	"image"
	"image/color"
	"image/draw"
)

// Image is an owned row-major sample grid with one (gray) or four (RGBA)
// channels per pixel. Operations always allocate their output.
type Image struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
}

// New allocates a zeroed raster
func New(width, height, channels int) Image {
	return Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]uint8, width*height*channels),
	}
}

// NewGray allocates a gray raster filled with a constant value
func NewGray(width, height int, fill uint8) Image {
	img := New(width, height, 1)
	if fill != 0 {
		for i := range img.Pix {
			img.Pix[i] = fill
		}
	}
	return img
}

// FromImage copies any image into a 4-channel raster
func FromImage(src image.Image) Image {
	b := src.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)

	img := New(b.Dx(), b.Dy(), 4)
	for y := 0; y < img.Height; y++ {
		copy(img.Pix[y*img.Width*4:(y+1)*img.Width*4], rgba.Pix[y*rgba.Stride:y*rgba.Stride+img.Width*4])
	}
	return img
}

// FromGray copies an *image.Gray into a 1-channel raster
func FromGray(src *image.Gray) Image {
	b := src.Bounds()
	img := New(b.Dx(), b.Dy(), 1)
	for y := 0; y < img.Height; y++ {
		off := (y+b.Min.Y-src.Rect.Min.Y)*src.Stride + (b.Min.X - src.Rect.Min.X)
		copy(img.Pix[y*img.Width:(y+1)*img.Width], src.Pix[off:off+img.Width])
	}
	return img
}

// Empty reports whether the raster holds no pixels
func (m Image) Empty() bool {
	return m.Width <= 0 || m.Height <= 0
}

// Bounds returns the raster rectangle anchored at the origin
func (m Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

// Clone returns an independent copy
func (m Image) Clone() Image {
	cp := m
	cp.Pix = append([]uint8(nil), m.Pix...)
	return cp
}

// At returns channel c at (x, y); coordinates are clamped to the edge
func (m Image) At(x, y, c int) uint8 {
	x = clampInt(x, 0, m.Width-1)
	y = clampInt(y, 0, m.Height-1)
	return m.Pix[(y*m.Width+x)*m.Channels+c]
}

// GrayAt returns the gray sample at (x, y) for a 1-channel raster
func (m Image) GrayAt(x, y int) uint8 {
	return m.Pix[y*m.Width+x]
}

// SetGray writes the gray sample at (x, y) for a 1-channel raster
func (m Image) SetGray(x, y int, v uint8) {
	m.Pix[y*m.Width+x] = v
}

// Fill paints a rectangle of a 1-channel raster with a constant value
func (m Image) Fill(r image.Rectangle, v uint8) {
	r = r.Intersect(m.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		for x := r.Min.X; x < r.Max.X; x++ {
			row[x] = v
		}
	}
}

// Crop copies a sub-rectangle into a new raster
func (m Image) Crop(r image.Rectangle) Image {
	r = r.Intersect(m.Bounds())
	out := New(r.Dx(), r.Dy(), m.Channels)
	rowBytes := r.Dx() * m.Channels
	for y := 0; y < r.Dy(); y++ {
		src := ((r.Min.Y+y)*m.Width + r.Min.X) * m.Channels
		copy(out.Pix[y*rowBytes:(y+1)*rowBytes], m.Pix[src:src+rowBytes])
	}
	return out
}

// ToGrayImage copies a 1-channel raster into an *image.Gray
func (m Image) ToGrayImage() *image.Gray {
	g := image.NewGray(m.Bounds())
	copy(g.Pix, m.Pix)
	return g
}

// ToImage converts the raster into a standard library image
func (m Image) ToImage() image.Image {
	if m.Channels == 1 {
		return m.ToGrayImage()
	}
	rgba := image.NewRGBA(m.Bounds())
	copy(rgba.Pix, m.Pix)
	return rgba
}

// ColorModel reports the model matching the channel depth
func (m Image) ColorModel() color.Model {
	if m.Channels == 1 {
		return color.GrayModel
	}
	return color.RGBAModel
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// colorChannels is the number of channels point operations touch; alpha is copied
func (m Image) colorChannels() int {
	if m.Channels == 4 {
		return 3
	}
	return m.Channels
}

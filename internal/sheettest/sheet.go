// Package sheettest renders synthetic answer sheets for tests.
package sheettest

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/anime-shed/omr-inspector-go/internal/raster"
	"github.com/anime-shed/omr-inspector-go/pkg/models"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// QRCode is a code printed at At, quiet zone included, Size pixels square
type QRCode struct {
	Text string
	At   image.Point
	Size int
}

// Layout describes a printed sheet
type Layout struct {
	Width, Height int

	Rows, Cols, Options int
	StartX, StartY      int
	PitchX, PitchY      int
	Radius              int

	QR []QRCode

	// Marks maps a question to the options filled in
	Marks map[int][]int
	// Erased maps a question to options left with a striped, half rubbed
	// out mark
	Erased map[int][]int
	// SkipRow leaves one bubble row unprinted; -1 keeps all rows
	SkipRow int

	Frame     bool
	Fiducials bool
}

// DefaultLayout is a 10 question, 4 option sheet with corner fiducials
func DefaultLayout() Layout {
	return Layout{
		Width:     1000,
		Height:    1360,
		Rows:      10,
		Cols:      4,
		Options:   4,
		StartX:    150,
		StartY:    440,
		PitchX:    50,
		PitchY:    60,
		Radius:    12,
		Marks:     map[int][]int{},
		SkipRow:   -1,
		Frame:     true,
		Fiducials: true,
	}
}

// WithQR returns a copy of the layout with a code in the top-right header area
func (l Layout) WithQR(text string) Layout {
	l.QR = append(append([]QRCode(nil), l.QR...), QRCode{Text: text, At: image.Pt(680, 100), Size: 240})
	return l
}

// WithMarks returns a copy of the layout with the given answers filled in
func (l Layout) WithMarks(marks map[int][]int) Layout {
	l.Marks = make(map[int][]int, len(marks))
	for q, opts := range marks {
		l.Marks[q] = append([]int(nil), opts...)
	}
	return l
}

// WithErased returns a copy of the layout with the given partial marks
func (l Layout) WithErased(marks map[int][]int) Layout {
	l.Erased = make(map[int][]int, len(marks))
	for q, opts := range marks {
		l.Erased[q] = append([]int(nil), opts...)
	}
	return l
}

// Settings returns scanner settings matching the layout
func (l Layout) Settings() models.Settings {
	s := models.DefaultSettings().WithGrid(l.Rows, l.Cols, l.Options)
	s.Preprocessing.SheetAspect = 1.4
	s.Preprocessing.OutputWidth = l.Width
	return s
}

// Address returns the lattice position of a question option
func (l Layout) Address(question, option int) (row, col int) {
	block := question / l.Rows
	return question % l.Rows, block*l.Options + option
}

// Center returns the bubble centre for a lattice position
func (l Layout) Center(row, col int) image.Point {
	return image.Pt(l.StartX+col*l.PitchX, l.StartY+row*l.PitchY)
}

// Questions returns the number of questions on the sheet
func (l Layout) Questions() int {
	return l.Rows * (l.Cols / l.Options)
}

type bubbleStyle int

const (
	styleRing bubbleStyle = iota
	styleFilled
	styleErased
)

func (l Layout) style(row, col int) bubbleStyle {
	switch {
	case marked(l.Marks, l.Rows, l.Options, row, col):
		return styleFilled
	case marked(l.Erased, l.Rows, l.Options, row, col):
		return styleErased
	}
	return styleRing
}

func marked(marks map[int][]int, rows, options, row, col int) bool {
	question := (col/options)*rows + row
	for _, opt := range marks[question] {
		if opt == col%options {
			return true
		}
	}
	return false
}

// Render draws the sheet as a gray raster
func (l Layout) Render() (raster.Image, error) {
	img := raster.NewGray(l.Width, l.Height, 255)

	if l.Frame {
		const inset, thick = 8, 3
		img.Fill(image.Rect(inset, inset, l.Width-inset, inset+thick), 0)
		img.Fill(image.Rect(inset, l.Height-inset-thick, l.Width-inset, l.Height-inset), 0)
		img.Fill(image.Rect(inset, inset, inset+thick, l.Height-inset), 0)
		img.Fill(image.Rect(l.Width-inset-thick, inset, l.Width-inset, l.Height-inset), 0)
	}

	if l.Fiducials {
		m := l.Width / 20
		h := m + int(math.Round(float64(l.Width-2*m)*1.4))
		for _, c := range []image.Point{{m, m}, {l.Width - m, m}, {l.Width - m, h}, {m, h}} {
			img.Fill(image.Rect(c.X-24, c.Y-24, c.X+24, c.Y+24), 0)
		}
	}

	for _, code := range l.QR {
		if err := drawQR(img, code.Text, code.At, code.Size); err != nil {
			return raster.Image{}, err
		}
	}

	for row := 0; row < l.Rows; row++ {
		if row == l.SkipRow {
			continue
		}
		for col := 0; col < l.Cols; col++ {
			drawBubble(img, l.Center(row, col), l.Radius, l.style(row, col))
		}
	}
	return img, nil
}

// PNG renders the sheet and encodes it
func (l Layout) PNG() ([]byte, error) {
	img, err := l.Render()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img.ToImage()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// drawBubble draws a printed ring, a solid disc, or a ring whose inside is
// striped with two blank rows in every eight
func drawBubble(img raster.Image, c image.Point, r int, style bubbleStyle) {
	outer := float64(r)
	inner := outer - 2
	for y := c.Y - r - 1; y <= c.Y+r+1; y++ {
		stripe := (y-c.Y)&7 > 1
		for x := c.X - r - 1; x <= c.X+r+1; x++ {
			d := math.Hypot(float64(x)+0.5-float64(c.X), float64(y)+0.5-float64(c.Y))
			ink := d >= inner ||
				style == styleFilled ||
				(style == styleErased && stripe)
			if d <= outer && ink && image.Pt(x, y).In(img.Bounds()) {
				img.SetGray(x, y, 0)
			}
		}
	}
}

// drawQR renders a QR code with its quiet zone into a size x size square
func drawQR(img raster.Image, text string, at image.Point, size int) error {
	matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, size, size, nil)
	if err != nil {
		return fmt.Errorf("encode QR %q: %w", text, err)
	}
	for y := 0; y < matrix.GetHeight(); y++ {
		for x := 0; x < matrix.GetWidth(); x++ {
			if p := at.Add(image.Pt(x, y)); matrix.Get(x, y) && p.In(img.Bounds()) {
				img.SetGray(p.X, p.Y, 0)
			}
		}
	}
	return nil
}

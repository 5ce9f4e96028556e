package models

import (
	"fmt"
	"time"

	apperrors "github.com/anime-shed/omr-inspector-go/internal/errors"
)

// ClassificationMethod selects how bubbles are judged
type ClassificationMethod string

const (
	MethodThreshold ClassificationMethod = "threshold"
	MethodModel     ClassificationMethod = "model"
	MethodHybrid    ClassificationMethod = "hybrid"
)

// DefaultMaxPixels bounds the decoded size of a sheet (about 40 MP)
const DefaultMaxPixels = 40_000_000

// PreprocessingSettings toggles and tunes the image normalization steps
type PreprocessingSettings struct {
	Denoise               bool    `json:"denoise" yaml:"denoise"`
	Sharpen               bool    `json:"sharpen" yaml:"sharpen"`
	SharpenAmount         float64 `json:"sharpenAmount" yaml:"sharpenAmount"`
	Contrast              float64 `json:"contrast" yaml:"contrast"`
	Brightness            float64 `json:"brightness" yaml:"brightness"`
	SkewCorrection        bool    `json:"skewCorrection" yaml:"skewCorrection"`
	PerspectiveCorrection bool    `json:"perspectiveCorrection" yaml:"perspectiveCorrection"`

	// Geometry
	MaxDimension   int     `json:"maxDimension" yaml:"maxDimension"`
	MaxPixels      int     `json:"maxPixels" yaml:"maxPixels"`
	OutputWidth    int     `json:"outputWidth" yaml:"outputWidth"`
	SheetAspect    float64 `json:"sheetAspect" yaml:"sheetAspect"`
	MaxSkewDegrees float64 `json:"maxSkewDegrees" yaml:"maxSkewDegrees"`
}

// Region is a rectangle in sheet-relative coordinates (0..1)
type Region struct {
	X0 float64 `json:"x0" yaml:"x0"`
	Y0 float64 `json:"y0" yaml:"y0"`
	X1 float64 `json:"x1" yaml:"x1"`
	Y1 float64 `json:"y1" yaml:"y1"`
}

// ModelWeights parameterizes the logistic bubble scorer
type ModelWeights struct {
	Fill     float64 `json:"fill" yaml:"fill"`
	Relative float64 `json:"relative" yaml:"relative"`
	Darkness float64 `json:"darkness" yaml:"darkness"`
	Bias     float64 `json:"bias" yaml:"bias"`
}

// Settings is the immutable configuration threaded through every stage
type Settings struct {
	QREnabled    bool    `json:"qrEnabled" yaml:"qrEnabled"`
	QRConfidence float64 `json:"qrConfidence" yaml:"qrConfidence"`
	QRMaxCodes   int     `json:"qrMaxCodes" yaml:"qrMaxCodes"`
	QRStrict     bool    `json:"qrStrict" yaml:"qrStrict"`

	AutoDetectGrid     bool    `json:"autoDetectGrid" yaml:"autoDetectGrid"`
	MinBubbleSize      int     `json:"minBubbleSize" yaml:"minBubbleSize"`
	MaxBubbleSize      int     `json:"maxBubbleSize" yaml:"maxBubbleSize"`
	GridTolerance      float64 `json:"gridTolerance" yaml:"gridTolerance"`
	GridRows           int     `json:"gridRows" yaml:"gridRows"`
	GridColumns        int     `json:"gridColumns" yaml:"gridColumns"`
	OptionsPerQuestion int     `json:"optionsPerQuestion" yaml:"optionsPerQuestion"`
	GridRegion         Region  `json:"gridRegion" yaml:"gridRegion"`

	ClassificationMethod ClassificationMethod `json:"classificationMethod" yaml:"classificationMethod"`
	FillThreshold        float64              `json:"fillThreshold" yaml:"fillThreshold"`
	Model                ModelWeights         `json:"model" yaml:"model"`
	ModelPath            string               `json:"modelPath,omitempty" yaml:"modelPath"`
	MultiAnswerQuestions []int                `json:"multiAnswerQuestions,omitempty" yaml:"multiAnswerQuestions"`
	MaxAnswers           int                  `json:"maxAnswers" yaml:"maxAnswers"`

	Preprocessing PreprocessingSettings `json:"preprocessing" yaml:"preprocessing"`

	MaxConcurrent        int     `json:"maxConcurrent" yaml:"maxConcurrent"`
	AutoCorrection       bool    `json:"autoCorrection" yaml:"autoCorrection"`
	AutoCorrectionMargin float64 `json:"autoCorrectionMargin" yaml:"autoCorrectionMargin"`
	FlagUncertain        bool    `json:"flagUncertain" yaml:"flagUncertain"`
	MinConfidence        float64 `json:"minConfidence" yaml:"minConfidence"`
	JobTimeoutSeconds    int     `json:"jobTimeoutSeconds" yaml:"jobTimeoutSeconds"`
}

// DefaultModelWeights returns the built-in logistic weights
func DefaultModelWeights() ModelWeights {
	return ModelWeights{Fill: 10, Relative: 4, Darkness: 4, Bias: -6.5}
}

// DefaultSettings returns the scanner defaults
func DefaultSettings() Settings {
	return Settings{
		QREnabled:    true,
		QRConfidence: 0.8,
		QRMaxCodes:   4,

		AutoDetectGrid:     true,
		MinBubbleSize:      12,
		MaxBubbleSize:      30,
		GridTolerance:      0.5,
		GridRows:           25,
		GridColumns:        4,
		OptionsPerQuestion: 4,
		GridRegion:         Region{X0: 0, Y0: 0, X1: 1, Y1: 1},

		ClassificationMethod: MethodHybrid,
		FillThreshold:        0.6,
		Model:                DefaultModelWeights(),

		Preprocessing: PreprocessingSettings{
			Denoise:               true,
			Sharpen:               true,
			SharpenAmount:         0.5,
			SkewCorrection:        true,
			PerspectiveCorrection: true,
			MaxDimension:          2000,
			MaxPixels:             DefaultMaxPixels,
			OutputWidth:           1000,
			SheetAspect:           1.4142,
			MaxSkewDegrees:        15,
		},

		MaxConcurrent:        4,
		AutoCorrection:       true,
		AutoCorrectionMargin: 0.35,
		FlagUncertain:        true,
		MinConfidence:        0.85,
		JobTimeoutSeconds:    120,
	}
}

// JobTimeout returns the per-job wall-clock budget
func (s Settings) JobTimeout() time.Duration {
	return time.Duration(s.JobTimeoutSeconds) * time.Second
}

// IsMultiAnswer reports whether a question accepts several marks
func (s Settings) IsMultiAnswer(question int) bool {
	for _, q := range s.MultiAnswerQuestions {
		if q == question {
			return true
		}
	}
	return false
}

// Questions returns the number of questions the configured lattice holds
func (s Settings) Questions() int {
	if s.OptionsPerQuestion <= 0 {
		return 0
	}
	return s.GridRows * (s.GridColumns / s.OptionsPerQuestion)
}

// Clone returns a deep copy
func (s Settings) Clone() Settings {
	cp := s
	cp.MultiAnswerQuestions = append([]int(nil), s.MultiAnswerQuestions...)
	return cp
}

// WithMethod returns settings using the given classification method
func (s Settings) WithMethod(method ClassificationMethod) Settings {
	s = s.Clone()
	s.ClassificationMethod = method
	return s
}

// WithGrid returns settings expecting a rows x columns lattice
func (s Settings) WithGrid(rows, columns, optionsPerQuestion int) Settings {
	s = s.Clone()
	s.GridRows = rows
	s.GridColumns = columns
	s.OptionsPerQuestion = optionsPerQuestion
	return s
}

// WithMaxConcurrent returns settings with a different worker bound
func (s Settings) WithMaxConcurrent(n int) Settings {
	s = s.Clone()
	s.MaxConcurrent = n
	return s
}

// WithQR returns settings with QR decoding switched on or off
func (s Settings) WithQR(enabled bool) Settings {
	s = s.Clone()
	s.QREnabled = enabled
	return s
}

// Validate checks ranges and returns a validation AppError on the first violation
func (s Settings) Validate() error {
	fail := func(format string, args ...interface{}) error {
		return apperrors.NewValidationError(fmt.Sprintf(format, args...), nil)
	}
	switch {
	case s.QRConfidence < 0 || s.QRConfidence > 1:
		return fail("qrConfidence must be within [0,1], got %v", s.QRConfidence)
	case s.QRMaxCodes < 0:
		return fail("qrMaxCodes must be >= 0, got %d", s.QRMaxCodes)
	case s.MinBubbleSize <= 0 || s.MaxBubbleSize < s.MinBubbleSize:
		return fail("bubble size bounds invalid: [%d, %d]", s.MinBubbleSize, s.MaxBubbleSize)
	case s.GridTolerance <= 0:
		return fail("gridTolerance must be > 0, got %v", s.GridTolerance)
	case s.GridRows <= 0 || s.GridColumns <= 0:
		return fail("grid must have rows and columns, got %dx%d", s.GridRows, s.GridColumns)
	case s.OptionsPerQuestion <= 0 || s.GridColumns%s.OptionsPerQuestion != 0:
		return fail("gridColumns (%d) must be a multiple of optionsPerQuestion (%d)", s.GridColumns, s.OptionsPerQuestion)
	case s.GridRegion.X0 < 0 || s.GridRegion.Y0 < 0 || s.GridRegion.X1 > 1 || s.GridRegion.Y1 > 1 ||
		s.GridRegion.X0 >= s.GridRegion.X1 || s.GridRegion.Y0 >= s.GridRegion.Y1:
		return fail("gridRegion must be a non-empty rectangle within [0,1]")
	case s.FillThreshold <= 0 || s.FillThreshold >= 1:
		return fail("fillThreshold must be within (0,1), got %v", s.FillThreshold)
	case s.MinConfidence < 0 || s.MinConfidence > 1:
		return fail("minConfidence must be within [0,1], got %v", s.MinConfidence)
	case s.MaxConcurrent <= 0:
		return fail("maxConcurrent must be > 0, got %d", s.MaxConcurrent)
	case s.MaxAnswers < 0:
		return fail("maxAnswers must be >= 0, got %d", s.MaxAnswers)
	case s.AutoCorrectionMargin < 0 || s.AutoCorrectionMargin > 1:
		return fail("autoCorrectionMargin must be within [0,1], got %v", s.AutoCorrectionMargin)
	case s.JobTimeoutSeconds <= 0:
		return fail("jobTimeoutSeconds must be > 0, got %d", s.JobTimeoutSeconds)
	}
	switch s.ClassificationMethod {
	case MethodThreshold, MethodModel, MethodHybrid:
	default:
		return fail("unsupported classificationMethod %q", s.ClassificationMethod)
	}

	p := s.Preprocessing
	switch {
	case p.Contrast < -255 || p.Contrast > 255:
		return fail("contrast must be within [-255,255], got %v", p.Contrast)
	case p.Brightness < -255 || p.Brightness > 255:
		return fail("brightness must be within [-255,255], got %v", p.Brightness)
	case p.SharpenAmount < 0:
		return fail("sharpenAmount must be >= 0, got %v", p.SharpenAmount)
	case p.MaxDimension < 0:
		return fail("maxDimension must be >= 0, got %d", p.MaxDimension)
	case p.MaxPixels <= 0:
		return fail("maxPixels must be > 0, got %d", p.MaxPixels)
	case p.PerspectiveCorrection && (p.OutputWidth <= 0 || p.SheetAspect <= 0):
		return fail("perspective correction needs outputWidth and sheetAspect > 0")
	case p.MaxSkewDegrees < 0 || p.MaxSkewDegrees > 45:
		return fail("maxSkewDegrees must be within [0,45], got %v", p.MaxSkewDegrees)
	}
	return nil
}

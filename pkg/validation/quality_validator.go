package validation

import (
	"math"
)

// QualityThresholds defines configurable thresholds for sheet quality validation
type QualityThresholds struct {
	// Sharpness thresholds
	MinLaplacianVariance float64

	// Brightness thresholds (mean gray level)
	MinBrightness float64
	MaxBrightness float64

	// Contrast between ink and paper (p99 - p1 gray levels)
	MinDynamicRange float64

	// Skew threshold (in degrees)
	MaxSkewAngle float64

	// Resolution thresholds
	MinWidth  int
	MinHeight int
}

// DefaultQualityThresholds returns the default quality thresholds
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		MinLaplacianVariance: 50.0,
		MinBrightness:        70.0,
		MaxBrightness:        254.5, // a page with no ink at all
		MinDynamicRange:      60.0,
		MaxSkewAngle:         5.0,
		MinWidth:             600,
		MinHeight:            800,
	}
}

// QualityValidator handles sheet quality validation logic
type QualityValidator struct {
	thresholds QualityThresholds
}

// NewQualityValidator creates a new quality validator with default thresholds
func NewQualityValidator() *QualityValidator {
	return &QualityValidator{
		thresholds: DefaultQualityThresholds(),
	}
}

// NewQualityValidatorWithThresholds creates a quality validator with custom thresholds
func NewQualityValidatorWithThresholds(thresholds QualityThresholds) *QualityValidator {
	return &QualityValidator{
		thresholds: thresholds,
	}
}

// Thresholds returns the active thresholds
func (qv *QualityValidator) Thresholds() QualityThresholds {
	return qv.thresholds
}

// QualityIssue represents a quality validation issue
type QualityIssue struct {
	Type        string  `json:"type"`
	Message     string  `json:"message"`
	Severity    string  `json:"severity"` // "error", "warning", "info"
	ActualValue float64 `json:"actual_value,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
}

// SheetMetrics represents the measurements needed for quality validation
type SheetMetrics struct {
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	LaplacianVar float64 `json:"laplacian_variance"`
	Brightness   float64 `json:"brightness"`
	DarkLevel    float64 `json:"dark_level"`  // 1st percentile
	LightLevel   float64 `json:"light_level"` // 99th percentile

	// Optional metrics
	SkewAngle *float64 `json:"skew_angle,omitempty"`
}

// DynamicRange is the spread between the darkest ink and the paper
func (m SheetMetrics) DynamicRange() float64 {
	return m.LightLevel - m.DarkLevel
}

// ValidateSheet checks a captured answer sheet and reports every issue found
func (qv *QualityValidator) ValidateSheet(metrics SheetMetrics) []QualityIssue {
	var issues []QualityIssue

	// 1. Resolution
	if metrics.Width < qv.thresholds.MinWidth || metrics.Height < qv.thresholds.MinHeight {
		issues = append(issues, QualityIssue{
			Type:        "low_resolution",
			Message:     "Sheet image is too small for reliable bubble detection.",
			Severity:    "warning",
			ActualValue: float64(metrics.Width * metrics.Height),
			Threshold:   float64(qv.thresholds.MinWidth * qv.thresholds.MinHeight),
		})
	}

	// 2. Blurriness (Laplacian Variance)
	if metrics.LaplacianVar < qv.thresholds.MinLaplacianVariance {
		issues = append(issues, QualityIssue{
			Type:        "blurriness",
			Message:     "Sheet is blurry. Rescan with the page flat and in focus.",
			Severity:    "warning",
			ActualValue: metrics.LaplacianVar,
			Threshold:   qv.thresholds.MinLaplacianVariance,
		})
	}

	// 3. Brightness
	if metrics.Brightness < qv.thresholds.MinBrightness {
		issues = append(issues, QualityIssue{
			Type:        "too_dark",
			Message:     "Sheet is too dark. Scan in more light.",
			Severity:    "warning",
			ActualValue: metrics.Brightness,
			Threshold:   qv.thresholds.MinBrightness,
		})
	} else if metrics.Brightness > qv.thresholds.MaxBrightness {
		issues = append(issues, QualityIssue{
			Type:        "blank_page",
			Message:     "Sheet looks blank or overexposed.",
			Severity:    "warning",
			ActualValue: metrics.Brightness,
			Threshold:   qv.thresholds.MaxBrightness,
		})
	}

	// 4. Ink/paper contrast
	if metrics.DynamicRange() < qv.thresholds.MinDynamicRange {
		issues = append(issues, QualityIssue{
			Type:        "washed_out",
			Message:     "Marks are faint against the paper. Increase scan contrast.",
			Severity:    "warning",
			ActualValue: metrics.DynamicRange(),
			Threshold:   qv.thresholds.MinDynamicRange,
		})
	}

	// 5. Residual skew
	if metrics.SkewAngle != nil && math.Abs(*metrics.SkewAngle) > qv.thresholds.MaxSkewAngle {
		issues = append(issues, QualityIssue{
			Type:        "skew",
			Message:     "Sheet was captured at a strong tilt.",
			Severity:    "info",
			ActualValue: math.Abs(*metrics.SkewAngle),
			Threshold:   qv.thresholds.MaxSkewAngle,
		})
	}

	return issues
}

// ConvertIssuesToMessages converts quality issues to simple messages
func (qv *QualityValidator) ConvertIssuesToMessages(issues []QualityIssue) []string {
	var messages []string
	for _, issue := range issues {
		messages = append(messages, issue.Message)
	}
	return messages
}

// HasCriticalIssues checks if there are any critical (error severity) issues
func (qv *QualityValidator) HasCriticalIssues(issues []QualityIssue) bool {
	for _, issue := range issues {
		if issue.Severity == "error" {
			return true
		}
	}
	return false
}

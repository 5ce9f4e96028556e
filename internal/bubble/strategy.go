package bubble

import (
	"fmt"
	"math"
	"os"

	"github.com/anime-shed/omr-inspector-go/pkg/models"

	"gopkg.in/yaml.v3"
)

// Verdict is a strategy's decision for one cell
type Verdict struct {
	Selected     bool
	Confidence   float64
	Disagreement bool
}

// Strategy decides whether a measured cell is marked
type Strategy interface {
	Judge(m Measurement) Verdict
	GetStrategyName() string
}

// ThresholdStrategy selects cells whose fill exceeds a fixed threshold
type ThresholdStrategy struct {
	threshold float64
}

// NewThresholdStrategy creates a threshold strategy
func NewThresholdStrategy(threshold float64) Strategy {
	return &ThresholdStrategy{threshold: threshold}
}

// Judge compares the fill against the threshold; confidence grows with the distance
func (s *ThresholdStrategy) Judge(m Measurement) Verdict {
	span := math.Min(s.threshold, 1-s.threshold)
	conf := 1.0
	if span > 0 {
		conf = math.Min(1, math.Abs(m.Fill-s.threshold)/span)
	}
	return Verdict{Selected: m.Fill > s.threshold, Confidence: conf}
}

// GetStrategyName returns the strategy name
func (s *ThresholdStrategy) GetStrategyName() string {
	return string(models.MethodThreshold)
}

// ModelStrategy scores cells with a logistic model over fill, relative fill and darkness
type ModelStrategy struct {
	weights models.ModelWeights
}

// NewModelStrategy creates a model strategy
func NewModelStrategy(weights models.ModelWeights) Strategy {
	return &ModelStrategy{weights: weights}
}

// Probability returns the model's probability that the cell is marked
func (s *ModelStrategy) Probability(m Measurement) float64 {
	w := s.weights
	z := w.Fill*m.Fill + w.Relative*m.Relative + w.Darkness*m.Darkness + w.Bias
	return 1 / (1 + math.Exp(-z))
}

// Judge selects cells with probability at least one half
func (s *ModelStrategy) Judge(m Measurement) Verdict {
	p := s.Probability(m)
	return Verdict{Selected: p >= 0.5, Confidence: math.Abs(2*p - 1)}
}

// GetStrategyName returns the strategy name
func (s *ModelStrategy) GetStrategyName() string {
	return string(models.MethodModel)
}

// HybridStrategy uses the model verdict and falls back to the threshold when
// the model is unsure. Disagreements halve the cell confidence.
type HybridStrategy struct {
	model         Strategy
	threshold     Strategy
	minConfidence float64
}

// NewHybridStrategy creates a hybrid strategy
func NewHybridStrategy(model, threshold Strategy, minConfidence float64) Strategy {
	return &HybridStrategy{
		model:         model,
		threshold:     threshold,
		minConfidence: minConfidence,
	}
}

// Judge combines the two verdicts
func (s *HybridStrategy) Judge(m Measurement) Verdict {
	mv := s.model.Judge(m)
	tv := s.threshold.Judge(m)

	v := mv
	if mv.Confidence < s.minConfidence {
		v = tv
	}
	if mv.Selected != tv.Selected {
		v.Disagreement = true
		v.Confidence /= 2
	}
	return v
}

// GetStrategyName returns the strategy name
func (s *HybridStrategy) GetStrategyName() string {
	return string(models.MethodHybrid)
}

// NewStrategy builds the strategy configured in settings with the given model weights
func NewStrategy(settings models.Settings, weights models.ModelWeights) (Strategy, error) {
	switch settings.ClassificationMethod {
	case models.MethodThreshold:
		return NewThresholdStrategy(settings.FillThreshold), nil
	case models.MethodModel:
		return NewModelStrategy(weights), nil
	case models.MethodHybrid:
		return NewHybridStrategy(NewModelStrategy(weights), NewThresholdStrategy(settings.FillThreshold), settings.MinConfidence), nil
	default:
		return nil, fmt.Errorf("unsupported classification method: %s", settings.ClassificationMethod)
	}
}

// LoadModelWeights reads logistic weights from a YAML or JSON file
func LoadModelWeights(path string) (models.ModelWeights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.ModelWeights{}, fmt.Errorf("read model file: %w", err)
	}
	var w models.ModelWeights
	if err := yaml.Unmarshal(data, &w); err != nil {
		return models.ModelWeights{}, fmt.Errorf("parse model file: %w", err)
	}
	if w == (models.ModelWeights{}) {
		return models.ModelWeights{}, fmt.Errorf("model file %s holds no weights", path)
	}
	return w, nil
}

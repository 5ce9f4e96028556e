package bubble

import (
	"context"
	"fmt"
	"sort"

	apperrors "github.com/anime-shed/omr-inspector-go/internal/errors"
	"github.com/anime-shed/omr-inspector-go/internal/logger"
	"github.com/anime-shed/omr-inspector-go/internal/raster"
	"github.com/anime-shed/omr-inspector-go/pkg/models"

	"github.com/sirupsen/logrus"
)

// StrategyProvider builds the strategy a job's settings ask for
type StrategyProvider interface {
	CreateStrategy(settings models.Settings) (Strategy, error)
}

type settingsProvider struct{}

// CreateStrategy uses the inline weights, or the model file when one is configured
func (settingsProvider) CreateStrategy(settings models.Settings) (Strategy, error) {
	weights := settings.Model
	if settings.ModelPath != "" {
		w, err := LoadModelWeights(settings.ModelPath)
		if err != nil {
			return nil, err
		}
		weights = w
	}
	if weights == (models.ModelWeights{}) {
		weights = models.DefaultModelWeights()
	}
	return NewStrategy(settings, weights)
}

// Classifier measures every cell and resolves each question
type Classifier struct {
	strategies StrategyProvider
}

// NewClassifier creates a classifier; a nil provider reads weights from settings
func NewClassifier(strategies StrategyProvider) *Classifier {
	if strategies == nil {
		strategies = settingsProvider{}
	}
	return &Classifier{strategies: strategies}
}

// Classify judges each cell of the topology. Observations come back ordered
// by question, then option.
func (c *Classifier) Classify(ctx context.Context, img raster.Image, topo models.GridTopology, settings models.Settings) (models.Classification, []models.Issue, error) {
	var out models.Classification
	strategy, err := c.strategies.CreateStrategy(settings)
	if err != nil {
		return out, nil, apperrors.NewStageError(string(models.StageClassify), apperrors.ErrorTypeProcessing, "cannot build classification strategy", err)
	}

	byQuestion := make(map[int][]models.GridCell, topo.Questions)
	for _, cell := range topo.Cells {
		byQuestion[cell.Question] = append(byQuestion[cell.Question], cell)
	}

	var issues []models.Issue
	sum := 0.0
	for q := 0; q < topo.Questions; q++ {
		if err := ctx.Err(); err != nil {
			return models.Classification{}, nil, err
		}
		cells := byQuestion[q]
		sort.Slice(cells, func(a, b int) bool { return cells[a].Option < cells[b].Option })

		first := len(out.Observations)
		for i, m := range measureQuestion(img, cells) {
			v := strategy.Judge(m)
			out.Observations = append(out.Observations, models.BubbleObservation{
				Row:           cells[i].Row,
				Col:           cells[i].Col,
				Question:      q,
				Option:        cells[i].Option,
				FillFraction:  m.Fill,
				MeanIntensity: m.Mean,
				Background:    m.Background,
				Selected:      v.Selected,
				Confidence:    v.Confidence,
				Method:        strategy.GetStrategyName(),
				Disagreement:  v.Disagreement,
			})
			sum += v.Confidence
			if v.Disagreement {
				out.Disagreements++
			}
			if v.Confidence < settings.MinConfidence {
				issues = append(issues, uncertainIssue(q, cells[i].Option, v.Confidence, settings))
			}
		}

		verdict, issue := resolveQuestion(q, out.Observations[first:], settings)
		out.Questions = append(out.Questions, verdict)
		if issue != nil {
			issues = append(issues, *issue)
		}
	}

	if n := len(out.Observations); n > 0 {
		agreement := 1 - float64(out.Disagreements)/float64(n)
		out.Confidence = sum / float64(n) * agreement
	}

	logger.WithFields(logrus.Fields{
		"method":        strategy.GetStrategyName(),
		"questions":     len(out.Questions),
		"disagreements": out.Disagreements,
		"confidence":    out.Confidence,
	}).Debug("Bubbles classified")

	return out, issues, nil
}

func uncertainIssue(question, option int, confidence float64, settings models.Settings) models.Issue {
	severity := models.SeverityWarning
	if settings.FlagUncertain {
		severity = models.SeverityFlag
	}
	return models.Issue{
		Stage:     models.StageClassify,
		Code:      "cell_uncertain",
		Message:   fmt.Sprintf("question %d option %d classified with low confidence", question, option),
		Severity:  severity,
		Measured:  confidence,
		Threshold: settings.MinConfidence,
	}
}

// resolveQuestion applies the answer policy to one question's observations
func resolveQuestion(q int, obs []models.BubbleObservation, settings models.Settings) (models.QuestionVerdict, *models.Issue) {
	v := models.QuestionVerdict{
		Question:   q,
		Multi:      settings.IsMultiAnswer(q),
		Confidence: 1,
	}
	var marked []models.BubbleObservation
	for _, o := range obs {
		if o.Confidence < v.Confidence {
			v.Confidence = o.Confidence
		}
		if o.Selected {
			v.Marked = append(v.Marked, o.Option)
			marked = append(marked, o)
		}
	}

	switch {
	case len(marked) == 0:
		v.Status = models.AnswerUnanswered
		return v, nil

	case v.Multi:
		if settings.MaxAnswers > 0 && len(marked) > settings.MaxAnswers {
			v.Status = models.AnswerAmbiguous
			return v, &models.Issue{
				Stage:     models.StageClassify,
				Code:      "too_many_marks",
				Message:   fmt.Sprintf("question %d has %d marks, at most %d allowed", q, len(marked), settings.MaxAnswers),
				Severity:  models.SeverityFlag,
				Measured:  float64(len(marked)),
				Threshold: float64(settings.MaxAnswers),
			}
		}
		v.Status = models.AnswerAnswered
		v.Selected = append([]int(nil), v.Marked...)
		return v, nil

	case len(marked) == 1:
		v.Status = models.AnswerAnswered
		v.Selected = []int{marked[0].Option}
		return v, nil
	}

	// several marks on a single-answer question stay ambiguous; an erasure
	// that leaves a clearly weaker mark only yields a suggestion
	sort.SliceStable(marked, func(a, b int) bool { return marked[a].FillFraction > marked[b].FillFraction })
	v.Status = models.AnswerAmbiguous
	margin := marked[0].FillFraction - marked[1].FillFraction
	if settings.AutoCorrection && margin >= settings.AutoCorrectionMargin {
		v.Suggested = []int{marked[0].Option}
		return v, &models.Issue{
			Stage:     models.StageClassify,
			Code:      "erasure_suggested",
			Message:   fmt.Sprintf("question %d has %d marks, option %d looks intended and the rest erased", q, len(marked), marked[0].Option),
			Severity:  models.SeverityFlag,
			Measured:  margin,
			Threshold: settings.AutoCorrectionMargin,
		}
	}

	return v, &models.Issue{
		Stage:     models.StageClassify,
		Code:      "ambiguous_mark",
		Message:   fmt.Sprintf("question %d has %d marks", q, len(marked)),
		Severity:  models.SeverityFlag,
		Measured:  float64(len(marked)),
		Threshold: 1,
	}
}

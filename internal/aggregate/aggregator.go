package aggregate

import (
	"fmt"
	"math"

	"github.com/anime-shed/omr-inspector-go/internal/logger"
	"github.com/anime-shed/omr-inspector-go/pkg/models"

	"github.com/sirupsen/logrus"
)

// Stage weights of the aggregate confidence
const (
	weightQR     = 0.2
	weightGrid   = 0.3
	weightBubble = 0.5
)

// Aggregator assembles the final result of a scan
type Aggregator struct {
	schemas *payloadSchemas
}

// NewAggregator compiles the payload schemas
func NewAggregator() (*Aggregator, error) {
	schemas, err := newPayloadSchemas()
	if err != nil {
		return nil, err
	}
	return &Aggregator{schemas: schemas}, nil
}

// Kind reports which schema a payload text matches
func (a *Aggregator) Kind(text string) models.PayloadKind {
	kind, _ := a.schemas.classify(text)
	return kind
}

// Aggregate merges the stage outputs. The returned issues hold only what the
// aggregation itself found; stage issues stay with their stages.
func (a *Aggregator) Aggregate(jobID string, payloads []models.QRPayload, topo models.GridTopology, c models.Classification, settings models.Settings) (models.ScanResult, []models.Issue) {
	result := models.ScanResult{
		JobID:        jobID,
		Questions:    cloneVerdicts(c.Questions),
		Observations: append([]models.BubbleObservation(nil), c.Observations...),
	}

	qrSum := 0.0
	for _, p := range payloads {
		kind, obj := a.schemas.classify(p.Text)
		p.Kind = kind
		switch kind {
		case models.PayloadIdentity:
			if result.Identity == nil {
				result.Identity = identityFrom(obj)
			}
		case models.PayloadTimestamp:
			if ts, ok := timestampFrom(obj); ok && result.Timestamp == nil {
				result.Timestamp = &ts
			}
		}
		result.Payloads = append(result.Payloads, p)
		qrSum += p.Confidence
	}

	result.StageConfidence = models.StageConfidence{
		Grid:   topo.Confidence,
		Bubble: c.Confidence,
	}
	if settings.QREnabled {
		if len(payloads) > 0 {
			result.StageConfidence.QR = qrSum / float64(len(payloads))
		}
	} else {
		result.StageConfidence.QR = 1
	}
	result.Confidence = Confidence(result.StageConfidence, settings.QREnabled)

	Rebuild(&result)

	var issues []models.Issue
	if result.Confidence < settings.MinConfidence {
		issues = append(issues, models.Issue{
			Stage:     models.StageAggregate,
			Code:      "low_confidence",
			Message:   fmt.Sprintf("aggregate confidence %.3f below minimum", result.Confidence),
			Severity:  models.SeverityFlag,
			Measured:  result.Confidence,
			Threshold: settings.MinConfidence,
		})
	}

	logger.ForJob(jobID).WithFields(logrus.Fields{
		"answers":     len(result.Answers),
		"annotations": len(result.Annotations),
		"payloads":    len(result.Payloads),
		"confidence":  result.Confidence,
	}).Debug("Results aggregated")

	return result, issues
}

// Confidence is the weighted geometric mean of the stage confidences. With
// QR disabled the remaining weights are renormalized. Any zero stage gives zero.
func Confidence(sc models.StageConfidence, qrEnabled bool) float64 {
	type term struct{ value, weight float64 }
	terms := []term{{sc.Grid, weightGrid}, {sc.Bubble, weightBubble}}
	if qrEnabled {
		terms = append(terms, term{sc.QR, weightQR})
	}

	total := 0.0
	for _, t := range terms {
		total += t.weight
	}
	logSum := 0.0
	for _, t := range terms {
		if t.value <= 0 {
			return 0
		}
		logSum += t.weight / total * math.Log(math.Min(1, t.value))
	}
	return math.Exp(logSum)
}

// Rebuild derives Answers and Annotations from the question verdicts
func Rebuild(result *models.ScanResult) {
	result.Answers = make(map[int][]int)
	result.Annotations = nil
	for _, q := range result.Questions {
		switch q.Status {
		case models.AnswerAnswered:
			result.Answers[q.Question] = append([]int(nil), q.Selected...)
		default:
			result.Annotations = append(result.Annotations, models.Annotation{
				Question: q.Question,
				Status:   q.Status,
				Marked:   append([]int(nil), q.Marked...),
			})
		}
	}
}

func cloneVerdicts(in []models.QuestionVerdict) []models.QuestionVerdict {
	if in == nil {
		return nil
	}
	out := make([]models.QuestionVerdict, len(in))
	for i, q := range in {
		q.Selected = append([]int(nil), q.Selected...)
		q.Marked = append([]int(nil), q.Marked...)
		out[i] = q
	}
	return out
}

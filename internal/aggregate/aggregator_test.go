package aggregate

import (
	"math"
	"testing"
	"time"

	"github.com/anime-shed/omr-inspector-go/pkg/models"
)

func newTestAggregator(t *testing.T) *Aggregator {
	t.Helper()
	a, err := NewAggregator()
	if err != nil {
		t.Fatalf("Failed to create aggregator: %v", err)
	}
	return a
}

func TestKind(t *testing.T) {
	a := newTestAggregator(t)

	tests := []struct {
		text string
		want models.PayloadKind
	}{
		{`{"examId":"MATH-101","setId":"A"}`, models.PayloadIdentity},
		{`{"studentId":1001}`, models.PayloadIdentity},
		{`{"ts":"2024-05-01T09:30:00Z"}`, models.PayloadTimestamp},
		{`{"timestamp":1714555800}`, models.PayloadTimestamp},
		{`{"loc":"TL"}`, models.PayloadAnchor},
		{`{"loc":"middle"}`, models.PayloadRaw},
		{`{"examId":["not","scalar"]}`, models.PayloadRaw},
		{`EXAM-2024-SET-A`, models.PayloadRaw},
		{`[1,2,3]`, models.PayloadRaw},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := a.Kind(tt.text); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func sampleClassification() models.Classification {
	return models.Classification{
		Questions: []models.QuestionVerdict{
			{Question: 0, Selected: []int{2}, Marked: []int{2}, Status: models.AnswerAnswered, Confidence: 1},
			{Question: 1, Marked: []int{0, 3}, Status: models.AnswerAmbiguous, Confidence: 1},
			{Question: 2, Status: models.AnswerUnanswered, Confidence: 1},
			{Question: 3, Selected: []int{1}, Marked: []int{1}, Status: models.AnswerAnswered, Confidence: 1},
		},
		Confidence: 0.98,
	}
}

func TestAggregate(t *testing.T) {
	a := newTestAggregator(t)
	payloads := []models.QRPayload{
		{Text: `{"examId":"MATH-101","setId":"A","classId":7}`, Confidence: 0.99},
		{Text: `{"ts":"2024-05-01T09:30:00Z"}`, Confidence: 0.97},
		{Text: `{"loc":"BR"}`, Confidence: 0.95},
	}
	topo := models.GridTopology{Confidence: 0.96}
	settings := models.DefaultSettings()

	result, issues := a.Aggregate("job-1", payloads, topo, sampleClassification(), settings)

	if len(issues) != 0 {
		t.Errorf("Expected no aggregation issues, got %v", issues)
	}
	if len(result.Answers) != 2 || result.Answers[0][0] != 2 || result.Answers[3][0] != 1 {
		t.Errorf("Unexpected answers %v", result.Answers)
	}
	if len(result.Annotations) != 2 {
		t.Fatalf("Expected 2 annotations, got %v", result.Annotations)
	}
	if result.Annotations[0].Status != models.AnswerAmbiguous || result.Annotations[1].Status != models.AnswerUnanswered {
		t.Errorf("Expected ambiguous then unanswered, got %v", result.Annotations)
	}

	if result.Identity == nil || result.Identity.ExamID != "MATH-101" || result.Identity.SetID != "A" {
		t.Fatalf("Unexpected identity %+v", result.Identity)
	}
	if result.Identity.Extra["classId"] != "7" {
		t.Errorf("Expected classId in extra fields, got %v", result.Identity.Extra)
	}
	want := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	if result.Timestamp == nil || !result.Timestamp.Equal(want) {
		t.Errorf("Expected timestamp %v, got %v", want, result.Timestamp)
	}

	kinds := []models.PayloadKind{models.PayloadIdentity, models.PayloadTimestamp, models.PayloadAnchor}
	for i, p := range result.Payloads {
		if p.Kind != kinds[i] {
			t.Errorf("Payload %d: expected kind %s, got %s", i, kinds[i], p.Kind)
		}
	}

	wantConf := math.Pow(0.97, 0.2) * math.Pow(0.96, 0.3) * math.Pow(0.98, 0.5)
	if math.Abs(result.Confidence-wantConf) > 1e-9 {
		t.Errorf("Expected confidence %v, got %v", wantConf, result.Confidence)
	}
}

func TestAggregate_LowConfidenceFlag(t *testing.T) {
	a := newTestAggregator(t)
	c := sampleClassification()
	c.Confidence = 0.5

	_, issues := a.Aggregate("job-2", nil, models.GridTopology{Confidence: 0.9}, c, models.DefaultSettings().WithQR(false))
	if len(issues) != 1 || issues[0].Code != "low_confidence" || issues[0].Severity != models.SeverityFlag {
		t.Errorf("Expected a low_confidence flag, got %v", issues)
	}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name      string
		sc        models.StageConfidence
		qrEnabled bool
		want      float64
	}{
		{"all perfect", models.StageConfidence{QR: 1, Grid: 1, Bubble: 1}, true, 1},
		{"zero stage dominates", models.StageConfidence{QR: 0, Grid: 1, Bubble: 1}, true, 0},
		{"qr disabled renormalizes", models.StageConfidence{QR: 0, Grid: 0.81, Bubble: 0.81}, false, 0.81},
		{"weights", models.StageConfidence{QR: 0.5, Grid: 1, Bubble: 1}, true, math.Pow(0.5, 0.2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Confidence(tt.sc, tt.qrEnabled); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestAggregate_DoesNotAliasClassification(t *testing.T) {
	a := newTestAggregator(t)
	c := sampleClassification()

	result, _ := a.Aggregate("job-3", nil, models.GridTopology{Confidence: 1}, c, models.DefaultSettings())
	result.Questions[0].Selected[0] = 9
	result.Answers[0][0] = 9

	if c.Questions[0].Selected[0] != 2 {
		t.Error("Aggregated result shares memory with the classification")
	}
}

package pipeline

import (
	"context"
	"image"
	"time"

	"github.com/anime-shed/omr-inspector-go/internal/aggregate"
	"github.com/anime-shed/omr-inspector-go/internal/bubble"
	"github.com/anime-shed/omr-inspector-go/internal/grid"
	"github.com/anime-shed/omr-inspector-go/internal/preprocess"
	"github.com/anime-shed/omr-inspector-go/internal/qr"
	"github.com/anime-shed/omr-inspector-go/pkg/models"
)

// StageHook observes stage boundaries. It is called with done=false before a
// stage runs and with done=true and the elapsed time after it returns.
type StageHook func(stage models.Stage, done bool, elapsed time.Duration)

// Outcome is what one run of the pipeline produced
type Outcome struct {
	// Result is nil unless the aggregator ran
	Result  *models.ScanResult
	Issues  []models.Issue
	Timings map[models.Stage]time.Duration
	// Stage is the last stage entered; on failure, the failing stage
	Stage     models.Stage
	SkewAngle float64
	Corrected bool
}

// Pipeline runs the five scan stages strictly in order
type Pipeline struct {
	preprocessor ImagePreprocessor
	qr           QRDecoder
	grid         GridDetector
	classifier   BubbleClassifier
	aggregator   ResultsAggregator
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithPreprocessor replaces the preprocessing stage
func WithPreprocessor(p ImagePreprocessor) Option {
	return func(pl *Pipeline) {
		if p != nil {
			pl.preprocessor = p
		}
	}
}

// WithQRDecoder replaces the QR stage
func WithQRDecoder(d QRDecoder) Option {
	return func(pl *Pipeline) {
		if d != nil {
			pl.qr = d
		}
	}
}

// WithGridDetector replaces the grid stage
func WithGridDetector(d GridDetector) Option {
	return func(pl *Pipeline) {
		if d != nil {
			pl.grid = d
		}
	}
}

// WithClassifier replaces the bubble stage
func WithClassifier(c BubbleClassifier) Option {
	return func(pl *Pipeline) {
		if c != nil {
			pl.classifier = c
		}
	}
}

// WithAggregator replaces the aggregation stage
func WithAggregator(a ResultsAggregator) Option {
	return func(pl *Pipeline) {
		if a != nil {
			pl.aggregator = a
		}
	}
}

// New builds a pipeline from the default stages and applies opts
func New(opts ...Option) (*Pipeline, error) {
	agg, err := aggregate.NewAggregator()
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		preprocessor: preprocess.NewPreprocessor(),
		qr:           qr.NewDecoder(),
		grid:         grid.NewDetector(),
		classifier:   bubble.NewClassifier(nil),
		aggregator:   agg,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type step struct {
	stage models.Stage
	run   func() ([]models.Issue, error)
}

// Run processes one sheet. Cancellation is observed at every stage boundary;
// when ctx is done the error returned is its cause and Result is nil.
func (p *Pipeline) Run(ctx context.Context, jobID string, data []byte, settings models.Settings, hook StageHook) (Outcome, error) {
	out := Outcome{Timings: make(map[models.Stage]time.Duration, len(models.Stages))}

	var (
		sheet          preprocess.Output
		payloads       []models.QRPayload
		topo           models.GridTopology
		classification models.Classification
		result         models.ScanResult
	)

	steps := []step{
		{models.StagePreprocess, func() (issues []models.Issue, err error) {
			sheet, issues, err = p.preprocessor.Process(ctx, data, settings)
			return issues, err
		}},
		{models.StageQR, func() (issues []models.Issue, err error) {
			payloads, issues, err = p.qr.Decode(ctx, sheet.Image, settings)
			return issues, err
		}},
		{models.StageGrid, func() (issues []models.Issue, err error) {
			topo, issues, err = p.grid.Detect(ctx, sheet.Image, payloadBounds(payloads), settings)
			return issues, err
		}},
		{models.StageClassify, func() (issues []models.Issue, err error) {
			classification, issues, err = p.classifier.Classify(ctx, sheet.Image, topo, settings)
			return issues, err
		}},
		{models.StageAggregate, func() ([]models.Issue, error) {
			var issues []models.Issue
			result, issues = p.aggregator.Aggregate(jobID, payloads, topo, classification, settings)
			return issues, nil
		}},
	}

	for _, s := range steps {
		if ctx.Err() != nil {
			return out, context.Cause(ctx)
		}
		out.Stage = s.stage
		if hook != nil {
			hook(s.stage, false, 0)
		}

		start := time.Now()
		issues, err := s.run()
		elapsed := time.Since(start)

		out.Timings[s.stage] = elapsed
		out.Issues = append(out.Issues, issues...)
		if hook != nil {
			hook(s.stage, true, elapsed)
		}
		if err != nil {
			if ctx.Err() != nil {
				return out, context.Cause(ctx)
			}
			return out, err
		}
		if s.stage == models.StagePreprocess {
			out.SkewAngle = sheet.SkewAngle
			out.Corrected = sheet.Corrected
		}
	}

	if ctx.Err() != nil {
		return out, context.Cause(ctx)
	}
	out.Result = &result
	return out, nil
}

func payloadBounds(payloads []models.QRPayload) []image.Rectangle {
	if len(payloads) == 0 {
		return nil
	}
	rects := make([]image.Rectangle, 0, len(payloads))
	for _, p := range payloads {
		rects = append(rects, p.Bounds)
	}
	return rects
}

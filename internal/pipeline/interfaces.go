package pipeline

import (
	"context"
	"image"

	"github.com/anime-shed/omr-inspector-go/internal/preprocess"
	"github.com/anime-shed/omr-inspector-go/internal/raster"
	"github.com/anime-shed/omr-inspector-go/pkg/models"
)

// ImagePreprocessor decodes and normalizes a scanned sheet
type ImagePreprocessor interface {
	Process(ctx context.Context, data []byte, settings models.Settings) (preprocess.Output, []models.Issue, error)
}

// QRDecoder extracts machine-readable payloads from the normalized sheet
type QRDecoder interface {
	Decode(ctx context.Context, img raster.Image, settings models.Settings) ([]models.QRPayload, []models.Issue, error)
}

// GridDetector locates the bubble lattice. Regions in exclude are never
// taken for bubbles.
type GridDetector interface {
	Detect(ctx context.Context, img raster.Image, exclude []image.Rectangle, settings models.Settings) (models.GridTopology, []models.Issue, error)
}

// BubbleClassifier judges every cell of the lattice
type BubbleClassifier interface {
	Classify(ctx context.Context, img raster.Image, topo models.GridTopology, settings models.Settings) (models.Classification, []models.Issue, error)
}

// ResultsAggregator assembles the final answer set
type ResultsAggregator interface {
	Aggregate(jobID string, payloads []models.QRPayload, topo models.GridTopology, c models.Classification, settings models.Settings) (models.ScanResult, []models.Issue)
}

package repository

import (
	"context"

	"github.com/anime-shed/omr-inspector-go/pkg/models"
)

// SheetRepository defines the interface for sheet retrieval
type SheetRepository interface {
	// FetchSheet retrieves the encoded sheet bytes from a source URL
	FetchSheet(ctx context.Context, sourceURL string) ([]byte, error)

	// ValidateSourceURL validates if the provided URL is acceptable
	ValidateSourceURL(sourceURL string) error
}

// JobFilter narrows a job listing
type JobFilter struct {
	Status models.JobStatus
	Limit  int
}

// JobRepository defines the interface for scan job records
type JobRepository interface {
	// Save stores or replaces a job snapshot
	Save(ctx context.Context, job models.ScanJob) error

	// Get retrieves a job by ID
	Get(ctx context.Context, id string) (models.ScanJob, error)

	// List returns jobs in submission order
	List(ctx context.Context, filter JobFilter) ([]models.ScanJob, error)

	// Delete removes a job record
	Delete(ctx context.Context, id string) error
}

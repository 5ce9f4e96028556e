package pipeline

import (
	"errors"
	"fmt"

	"github.com/anime-shed/omr-inspector-go/pkg/models"
)

var (
	// ErrJobCancelled is the cancellation cause of a job cancelled by request
	ErrJobCancelled = errors.New("scan job cancelled")

	// ErrJobTimeout is the cancellation cause of a job that overran its budget
	ErrJobTimeout = errors.New("scan job exceeded its time budget")

	// ErrInvalidTransition rejects a status change the state machine forbids
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrScannerClosed rejects submissions after shutdown
	ErrScannerClosed = errors.New("scanner is shut down")
)

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to models.JobStatus) bool {
	switch from {
	case models.StatusPending:
		return to == models.StatusProcessing || to == models.StatusCancelled
	case models.StatusProcessing:
		return to == models.StatusCompleted || to == models.StatusFlagged ||
			to == models.StatusError || to == models.StatusCancelled
	case models.StatusCompleted, models.StatusFlagged, models.StatusError, models.StatusCancelled:
		return to == models.StatusPending
	default:
		return false
	}
}

func transition(job *models.ScanJob, to models.JobStatus) error {
	if !isValidTransition(job.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, to)
	}
	job.Status = to
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	apperrors "github.com/anime-shed/omr-inspector-go/internal/errors"
	"github.com/anime-shed/omr-inspector-go/internal/export"
	"github.com/anime-shed/omr-inspector-go/internal/logger"
	"github.com/anime-shed/omr-inspector-go/internal/observer"
	"github.com/anime-shed/omr-inspector-go/internal/pipeline"
	"github.com/anime-shed/omr-inspector-go/internal/repository"
	"github.com/anime-shed/omr-inspector-go/internal/storage"
	"github.com/anime-shed/omr-inspector-go/pkg/models"

	"github.com/sirupsen/logrus"
)

// ScanService defines the operations exposed to the API and the CLI
type ScanService interface {
	// Submission
	SubmitSheet(ctx context.Context, data []byte, filename string) (models.ScanJob, error)
	SubmitURL(ctx context.Context, sourceURL string) (models.ScanJob, error)

	// Job lifecycle
	GetJob(ctx context.Context, id string) (models.ScanJob, error)
	ListJobs(ctx context.Context, filter repository.JobFilter) ([]models.ScanJob, error)
	AwaitJob(ctx context.Context, id string) (models.ScanJob, error)
	CancelJob(ctx context.Context, id string) (models.ScanJob, error)
	RetryJob(ctx context.Context, id string) (models.ScanJob, error)
	OverrideAnswer(ctx context.Context, id string, req OverrideRequest) (models.ScanJob, error)

	// Reporting
	Export(ctx context.Context, w io.Writer, format export.Format, ids ...string) error
	Events(since int64) []observer.ScanEvent
	Stats() Stats

	// Settings
	Settings() models.Settings
	UpdateSettings(settings models.Settings) error
}

// OverrideRequest is a reviewer's correction of one question
type OverrideRequest struct {
	Question int    `json:"question" binding:"min=0"`
	Options  []int  `json:"options"`
	Reviewer string `json:"reviewer" binding:"required"`
	Reason   string `json:"reason,omitempty"`
}

// Stats combines worker pool counters with the metrics observer
type Stats struct {
	Pool    pipeline.PoolStats     `json:"pool"`
	Metrics map[string]interface{} `json:"metrics,omitempty"`
}

// EventSource serves progress events after a sequence number
type EventSource interface {
	Since(seq int64) []observer.ScanEvent
}

// MetricsSource reports aggregate scan metrics
type MetricsSource interface {
	GetMetrics() map[string]interface{}
}

// scanService implements ScanService over a Scanner
type scanService struct {
	scanner *pipeline.Scanner
	sheets  repository.SheetRepository
	events  EventSource
	metrics MetricsSource
}

// NewScanService creates a new scan service. events and metrics may be nil.
func NewScanService(
	scanner *pipeline.Scanner,
	sheets repository.SheetRepository,
	events EventSource,
	metrics MetricsSource,
) ScanService {
	return &scanService{
		scanner: scanner,
		sheets:  sheets,
		events:  events,
		metrics: metrics,
	}
}

// SubmitSheet queues uploaded sheet bytes
func (s *scanService) SubmitSheet(ctx context.Context, data []byte, filename string) (models.ScanJob, error) {
	if len(data) == 0 {
		return models.ScanJob{}, apperrors.NewValidationError("sheet is empty", nil)
	}
	if len(data) > storage.MaxSheetBytes {
		return models.ScanJob{}, apperrors.NewValidationError(
			fmt.Sprintf("sheet exceeds %d bytes", storage.MaxSheetBytes), nil)
	}

	job, err := s.scanner.Submit(ctx, pipeline.Input{Data: data, Filename: filename})
	if err != nil {
		return models.ScanJob{}, mapError(err)
	}
	logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"filename": filename,
		"bytes":    len(data),
	}).Info("Sheet submitted")
	return job, nil
}

// SubmitURL fetches a sheet from its source and queues it
func (s *scanService) SubmitURL(ctx context.Context, sourceURL string) (models.ScanJob, error) {
	if err := s.sheets.ValidateSourceURL(sourceURL); err != nil {
		return models.ScanJob{}, apperrors.NewValidationError("invalid source URL", err)
	}

	data, err := s.sheets.FetchSheet(ctx, sourceURL)
	if err != nil {
		logger.WithError(err).WithField("source", sourceURL).Error("Failed to fetch sheet")
		switch {
		case errors.Is(err, repository.ErrInvalidSourceURL):
			return models.ScanJob{}, apperrors.NewValidationError("unsupported source URL", err)
		case errors.Is(err, context.DeadlineExceeded):
			return models.ScanJob{}, apperrors.NewTimeoutError("sheet fetch timeout", err)
		default:
			return models.ScanJob{}, apperrors.NewNetworkError("failed to fetch sheet", err)
		}
	}

	job, err := s.scanner.Submit(ctx, pipeline.Input{
		Data:     data,
		Source:   sourceURL,
		Filename: sourceFilename(sourceURL),
	})
	if err != nil {
		return models.ScanJob{}, mapError(err)
	}
	logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"source": sourceURL,
		"bytes":  len(data),
	}).Info("Sheet submitted from source")
	return job, nil
}

func (s *scanService) GetJob(ctx context.Context, id string) (models.ScanJob, error) {
	job, err := s.scanner.Get(ctx, id)
	return job, mapError(err)
}

func (s *scanService) ListJobs(ctx context.Context, filter repository.JobFilter) ([]models.ScanJob, error) {
	jobs, err := s.scanner.List(ctx, filter)
	return jobs, mapError(err)
}

func (s *scanService) AwaitJob(ctx context.Context, id string) (models.ScanJob, error) {
	job, err := s.scanner.Await(ctx, id)
	return job, mapError(err)
}

func (s *scanService) CancelJob(ctx context.Context, id string) (models.ScanJob, error) {
	job, err := s.scanner.Cancel(ctx, id)
	if err != nil {
		return job, mapError(err)
	}
	logger.ForJob(id).WithField("status", job.Status).Info("Cancellation requested")
	return job, nil
}

func (s *scanService) RetryJob(ctx context.Context, id string) (models.ScanJob, error) {
	job, err := s.scanner.Retry(ctx, id)
	if err != nil {
		return job, mapError(err)
	}
	logger.ForJob(id).WithField("attempt", job.Attempts).Info("Job resubmitted")
	return job, nil
}

func (s *scanService) OverrideAnswer(ctx context.Context, id string, req OverrideRequest) (models.ScanJob, error) {
	job, err := s.scanner.Override(ctx, id, req.Question, req.Options, req.Reviewer, req.Reason)
	return job, mapError(err)
}

// Export writes the named jobs, or every job when ids is empty
func (s *scanService) Export(ctx context.Context, w io.Writer, format export.Format, ids ...string) error {
	start := time.Now()

	var jobs []models.ScanJob
	if len(ids) == 0 {
		all, err := s.scanner.List(ctx, repository.JobFilter{})
		if err != nil {
			return mapError(err)
		}
		jobs = all
	} else {
		jobs = make([]models.ScanJob, 0, len(ids))
		for _, id := range ids {
			job, err := s.scanner.Get(ctx, id)
			if err != nil {
				return mapError(err)
			}
			jobs = append(jobs, job)
		}
	}

	if err := export.Export(w, format, jobs); err != nil {
		if _, ok := apperrors.As(err); ok {
			return err
		}
		return apperrors.NewInternalError("export failed", err)
	}

	logger.WithFields(logrus.Fields{
		"format":     format,
		"jobs":       len(jobs),
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Info("Export written")
	return nil
}

func (s *scanService) Events(since int64) []observer.ScanEvent {
	if s.events == nil {
		return nil
	}
	return s.events.Since(since)
}

func (s *scanService) Stats() Stats {
	stats := Stats{Pool: s.scanner.Stats()}
	if s.metrics != nil {
		stats.Metrics = s.metrics.GetMetrics()
	}
	return stats
}

func (s *scanService) Settings() models.Settings {
	return s.scanner.Settings()
}

func (s *scanService) UpdateSettings(settings models.Settings) error {
	return mapError(s.scanner.UpdateSettings(settings))
}

// mapError converts pipeline and repository errors into AppErrors
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}

	switch {
	case errors.Is(err, repository.ErrJobNotFound):
		return apperrors.NewNotFoundError("job not found", err)
	case errors.Is(err, pipeline.ErrInvalidTransition):
		return apperrors.NewConflictError("job state does not allow this operation", err)
	case errors.Is(err, pipeline.ErrScannerClosed):
		return apperrors.NewInternalError("scanner is shutting down", err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewTimeoutError("request timeout", err)
	case errors.Is(err, context.Canceled):
		return apperrors.NewTimeoutError("request cancelled", err)
	}
	return apperrors.NewInternalError("unexpected error", err)
}

// sourceFilename returns the last path element of a source URL
func sourceFilename(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil || u.Path == "" {
		return ""
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return ""
	}
	return name
}

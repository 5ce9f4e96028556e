package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anime-shed/omr-inspector-go/internal/aggregate"
	"github.com/anime-shed/omr-inspector-go/internal/bubble"
	apperrors "github.com/anime-shed/omr-inspector-go/internal/errors"
	"github.com/anime-shed/omr-inspector-go/internal/logger"
	"github.com/anime-shed/omr-inspector-go/internal/observer"
	"github.com/anime-shed/omr-inspector-go/internal/repository"
	"github.com/anime-shed/omr-inspector-go/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Input is one sheet submitted for scanning
type Input struct {
	Data     []byte
	Source   string
	Filename string
}

// jobEntry is the runtime state of a job that the record does not carry
type jobEntry struct {
	input    Input
	settings models.Settings
	ctx      context.Context
	cancel   context.CancelCauseFunc
	done     chan struct{}
	release  func()
}

func newJobEntry(input Input, settings models.Settings) *jobEntry {
	ctx, cancel := context.WithCancelCause(context.Background())
	done := make(chan struct{})
	return &jobEntry{
		input:    input,
		settings: settings,
		ctx:      ctx,
		cancel:   cancel,
		done:     done,
		release:  sync.OnceFunc(func() { close(done) }),
	}
}

// errSkip aborts an update without saving
var errSkip = errors.New("skip")

// Scanner accepts sheets, runs them through the pipeline on a bounded worker
// pool and owns every job status change.
type Scanner struct {
	pipeline *Pipeline
	pool     *WorkerPool
	jobs     repository.JobRepository
	events   observer.Subject
	settings atomic.Pointer[models.Settings]

	timeoutFor func(models.Settings) time.Duration

	mu      sync.Mutex
	entries map[string]*jobEntry
	closed  bool
}

// ScannerOption customizes a Scanner
type ScannerOption func(*Scanner)

// WithPipeline sets the pipeline jobs run through
func WithPipeline(p *Pipeline) ScannerOption {
	return func(s *Scanner) {
		if p != nil {
			s.pipeline = p
		}
	}
}

// WithJobRepository sets where job records are kept
func WithJobRepository(repo repository.JobRepository) ScannerOption {
	return func(s *Scanner) {
		if repo != nil {
			s.jobs = repo
		}
	}
}

// WithEvents sets the publisher progress events go to
func WithEvents(events observer.Subject) ScannerOption {
	return func(s *Scanner) {
		if events != nil {
			s.events = events
		}
	}
}

// NewScanner starts a scanner with MaxConcurrent workers taken from settings
func NewScanner(settings models.Settings, opts ...ScannerOption) (*Scanner, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	s := &Scanner{
		jobs:       repository.NewMemoryJobRepository(),
		events:     observer.NewEventPublisher(),
		timeoutFor: models.Settings.JobTimeout,
		entries:    make(map[string]*jobEntry),
	}
	for _, o := range opts {
		o(s)
	}
	if s.pipeline == nil {
		p, err := New()
		if err != nil {
			return nil, err
		}
		s.pipeline = p
	}

	snapshot := settings.Clone()
	s.settings.Store(&snapshot)

	s.pool = NewWorkerPool(settings.MaxConcurrent)
	s.pool.Start()
	return s, nil
}

// Settings returns a copy of the settings new submissions snapshot
func (s *Scanner) Settings() models.Settings {
	return s.settings.Load().Clone()
}

// UpdateSettings replaces the settings for later submissions. Jobs already
// submitted keep their snapshot. MaxConcurrent only applies at construction.
func (s *Scanner) UpdateSettings(settings models.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	snapshot := settings.Clone()
	s.settings.Store(&snapshot)
	logger.WithFields(logrus.Fields{
		"classification_method": settings.ClassificationMethod,
		"min_confidence":        settings.MinConfidence,
	}).Info("Scanner settings updated")
	return nil
}

// Submit creates a pending job and queues it. Submissions never block on
// busy workers.
func (s *Scanner) Submit(ctx context.Context, input Input) (models.ScanJob, error) {
	if len(input.Data) == 0 {
		return models.ScanJob{}, apperrors.NewValidationError("sheet data is empty", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.ScanJob{}, ErrScannerClosed
	}

	now := time.Now().UTC()
	job := models.ScanJob{
		ID:          uuid.NewString(),
		Source:      input.Source,
		Filename:    input.Filename,
		Status:      models.StatusPending,
		Attempts:    1,
		SubmittedAt: now,
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return models.ScanJob{}, err
	}

	entry := newJobEntry(input, s.Settings())
	s.entries[job.ID] = entry
	s.enqueue(ctx, job, entry)
	return job, nil
}

// enqueue must be called with s.mu held
func (s *Scanner) enqueue(ctx context.Context, job models.ScanJob, entry *jobEntry) {
	s.publish(ctx, observer.ScanEvent{
		EventType: observer.JobQueued,
		JobID:     job.ID,
		Status:    job.Status,
		Metadata:  map[string]interface{}{"attempt": job.Attempts},
	})
	id := job.ID
	s.pool.Submit(func() { s.process(id, entry) })
}

// Get returns a snapshot of one job
func (s *Scanner) Get(ctx context.Context, id string) (models.ScanJob, error) {
	return s.jobs.Get(ctx, id)
}

// List returns job snapshots in submission order
func (s *Scanner) List(ctx context.Context, filter repository.JobFilter) ([]models.ScanJob, error) {
	return s.jobs.List(ctx, filter)
}

// Await blocks until the job reaches a terminal state or ctx is done
func (s *Scanner) Await(ctx context.Context, id string) (models.ScanJob, error) {
	s.mu.Lock()
	entry, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return models.ScanJob{}, repository.ErrJobNotFound
	}

	select {
	case <-entry.done:
	case <-ctx.Done():
		return models.ScanJob{}, ctx.Err()
	}
	return s.jobs.Get(ctx, id)
}

// Cancel stops a pending or processing job. A pending job is cancelled at
// once; a processing job stops at its next stage boundary.
func (s *Scanner) Cancel(ctx context.Context, id string) (models.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return models.ScanJob{}, repository.ErrJobNotFound
	}
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return models.ScanJob{}, err
	}

	switch job.Status {
	case models.StatusPending:
		if err := transition(&job, models.StatusCancelled); err != nil {
			return job, err
		}
		job.FinishedAt = time.Now().UTC()
		if err := s.jobs.Save(ctx, job); err != nil {
			return job, err
		}
		entry.cancel(ErrJobCancelled)
		s.publish(ctx, observer.ScanEvent{
			EventType: observer.JobCancelled,
			JobID:     id,
			Status:    job.Status,
		})
		entry.release()
	case models.StatusProcessing:
		entry.cancel(ErrJobCancelled)
	default:
		return job, fmt.Errorf("%w: job is already %s", ErrInvalidTransition, job.Status)
	}
	return job, nil
}

// Retry resubmits an error, flagged or cancelled job with its retained input
// and a fresh snapshot of the current settings.
func (s *Scanner) Retry(ctx context.Context, id string) (models.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.ScanJob{}, ErrScannerClosed
	}

	old, ok := s.entries[id]
	if !ok {
		return models.ScanJob{}, repository.ErrJobNotFound
	}
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return models.ScanJob{}, err
	}
	switch job.Status {
	case models.StatusError, models.StatusFlagged, models.StatusCancelled:
	default:
		return job, fmt.Errorf("%w: cannot retry a %s job", ErrInvalidTransition, job.Status)
	}
	if err := transition(&job, models.StatusPending); err != nil {
		return job, err
	}

	job.Attempts++
	job.Confidence = 0
	job.StartedAt = time.Time{}
	job.FinishedAt = time.Time{}
	job.ProcessingDuration = 0
	job.StageTimings = nil
	job.Warnings = nil
	job.Errors = nil
	job.Result = nil
	if err := s.jobs.Save(ctx, job); err != nil {
		return job, err
	}

	entry := newJobEntry(old.input, s.Settings())
	s.entries[id] = entry
	s.enqueue(ctx, job, entry)
	return job, nil
}

// Override applies a manual correction to a finished job's result. The job
// status is left unchanged and the override is recorded on the result.
func (s *Scanner) Override(ctx context.Context, id string, question int, options []int, reviewer, reason string) (models.ScanJob, error) {
	var updated models.ScanJob
	err := s.update(ctx, id, func(job *models.ScanJob) error {
		if job.Status != models.StatusCompleted && job.Status != models.StatusFlagged {
			return apperrors.NewConflictError(fmt.Sprintf("job is %s, overrides need a completed or flagged job", job.Status), ErrInvalidTransition)
		}
		if job.Result == nil {
			return apperrors.NewConflictError("job has no result to correct", nil)
		}

		c := models.Classification{
			Observations: job.Result.Observations,
			Questions:    job.Result.Questions,
		}
		ov, err := bubble.ManualOverride(&c, question, options, reviewer, reason)
		if err != nil {
			return err
		}
		job.Result.Observations = c.Observations
		job.Result.Questions = c.Questions
		job.Result.Overrides = append(job.Result.Overrides, ov)
		aggregate.Rebuild(job.Result)
		updated = *job
		return nil
	})
	return updated, err
}

// Stats returns the worker pool counters
func (s *Scanner) Stats() PoolStats {
	return s.pool.GetStats()
}

// Shutdown stops accepting jobs and drains the queue. If ctx ends first the
// remaining jobs are cancelled.
func (s *Scanner) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.pool.Shutdown()
	}()

	select {
	case <-done:
		logger.Info("Scanner drained, shutdown complete")
	case <-ctx.Done():
		logger.Warn("Scanner shutdown interrupted, cancelling remaining jobs")
		s.mu.Lock()
		for _, e := range s.entries {
			e.cancel(ErrJobCancelled)
		}
		s.mu.Unlock()
		<-done
	}
}

// update applies fn to the stored job under the scanner lock
func (s *Scanner) update(ctx context.Context, id string, fn func(*models.ScanJob) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(&job); err != nil {
		return err
	}
	return s.jobs.Save(ctx, job)
}

func (s *Scanner) publish(ctx context.Context, event observer.ScanEvent) {
	s.events.NotifyObservers(ctx, event)
}

// current reports whether entry still backs the job. A retried job gets a
// new entry and stale queued work for the old one is dropped.
func (s *Scanner) current(id string, entry *jobEntry) bool {
	return s.entries[id] == entry
}

func (s *Scanner) process(id string, entry *jobEntry) {
	defer entry.release()
	ctx := context.Background()

	cancelledEarly := false
	err := s.update(ctx, id, func(job *models.ScanJob) error {
		if !s.current(id, entry) || job.Status != models.StatusPending {
			return errSkip
		}
		if entry.ctx.Err() != nil {
			// cancelled during shutdown while still queued
			cancelledEarly = true
			job.FinishedAt = time.Now().UTC()
			return transition(job, models.StatusCancelled)
		}
		if err := transition(job, models.StatusProcessing); err != nil {
			return err
		}
		job.StartedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		if !errors.Is(err, errSkip) {
			logger.ForJob(id).WithError(err).Error("Failed to start scan job")
		}
		return
	}
	if cancelledEarly {
		s.publish(ctx, observer.ScanEvent{EventType: observer.JobCancelled, JobID: id, Status: models.StatusCancelled})
		return
	}

	budget := s.timeoutFor(entry.settings)
	runCtx, cancel := context.WithTimeoutCause(entry.ctx, budget, ErrJobTimeout)
	defer cancel()

	hook := func(stage models.Stage, done bool, elapsed time.Duration) {
		event := observer.ScanEvent{EventType: observer.StageStarted, JobID: id, Stage: stage}
		if done {
			event.EventType = observer.StageCompleted
			event.Duration = elapsed
		}
		s.publish(ctx, event)
	}

	start := time.Now()
	out, runErr := s.pipeline.Run(runCtx, id, entry.input.Data, entry.settings, hook)
	elapsed := time.Since(start)

	var final models.ScanJob
	err = s.update(ctx, id, func(job *models.ScanJob) error {
		job.FinishedAt = time.Now().UTC()
		job.ProcessingDuration = elapsed
		job.StageTimings = out.Timings
		for _, issue := range out.Issues {
			if issue.Severity == models.SeverityFatal {
				job.Errors = append(job.Errors, issue)
			} else {
				job.Warnings = append(job.Warnings, issue)
			}
		}

		status := decide(job, out, runErr, entry.settings, budget, elapsed)
		if err := transition(job, status); err != nil {
			return err
		}
		final = *job
		return nil
	})
	if err != nil {
		logger.ForJob(id).WithError(err).Error("Failed to record scan outcome")
		return
	}

	event := observer.ScanEvent{
		EventType:  observer.TerminalEvent(final.Status),
		JobID:      id,
		Stage:      out.Stage,
		Status:     final.Status,
		Duration:   elapsed,
		Confidence: final.Confidence,
	}
	if len(final.Errors) > 0 {
		event.ErrorMessage = final.Errors[len(final.Errors)-1].Message
	}
	s.publish(ctx, event)
}

// decide picks the terminal status of a run and records its result or cause
func decide(job *models.ScanJob, out Outcome, runErr error, settings models.Settings, budget, elapsed time.Duration) models.JobStatus {
	switch {
	case runErr == nil:
		job.Result = out.Result
		job.Confidence = out.Result.Confidence
		if len(job.Flags()) > 0 || job.Confidence < settings.MinConfidence {
			return models.StatusFlagged
		}
		return models.StatusCompleted

	case errors.Is(runErr, ErrJobCancelled):
		return models.StatusCancelled

	case errors.Is(runErr, ErrJobTimeout):
		job.Errors = append(job.Errors, models.Issue{
			Stage:     out.Stage,
			Code:      "timeout",
			Message:   fmt.Sprintf("job exceeded its %s budget during %s", budget, out.Stage),
			Severity:  models.SeverityFatal,
			Measured:  elapsed.Seconds(),
			Threshold: budget.Seconds(),
		})
		return models.StatusError

	default:
		job.Errors = append(job.Errors, fatalIssue(out.Stage, runErr))
		return models.StatusError
	}
}

// fatalIssue converts a stage failure into the issue recorded on the job
func fatalIssue(stage models.Stage, err error) models.Issue {
	issue := models.Issue{
		Stage:    stage,
		Code:     string(apperrors.ErrorTypeInternal),
		Message:  err.Error(),
		Severity: models.SeverityFatal,
	}
	if appErr, ok := apperrors.As(err); ok {
		if appErr.Stage != "" {
			issue.Stage = models.Stage(appErr.Stage)
		}
		issue.Code = string(appErr.Type)
		issue.Message = appErr.Message
		if appErr.Details != "" {
			issue.Message += " (" + appErr.Details + ")"
		}
	}
	return issue
}

package observer

import (
	"context"
	"sync"
	"time"

	"github.com/anime-shed/omr-inspector-go/pkg/models"

	"github.com/sirupsen/logrus"
)

// ScanEvent represents a progress event of one scan job
type ScanEvent struct {
	Seq          int64                  `json:"seq"`
	EventType    EventType              `json:"event_type"`
	Timestamp    time.Time              `json:"timestamp"`
	JobID        string                 `json:"job_id"`
	Stage        models.Stage           `json:"stage,omitempty"`
	Status       models.JobStatus       `json:"status,omitempty"`
	Duration     time.Duration          `json:"duration,omitempty"`
	Confidence   float64                `json:"confidence,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of scan event
type EventType string

const (
	// JobQueued when a job is accepted and waits for a worker
	JobQueued EventType = "job_queued"
	// StageStarted when a pipeline stage begins
	StageStarted EventType = "stage_started"
	// StageCompleted when a pipeline stage returns
	StageCompleted EventType = "stage_completed"
	// JobCompleted when a job finishes without review flags
	JobCompleted EventType = "job_completed"
	// JobFlagged when a job finishes and needs manual review
	JobFlagged EventType = "job_flagged"
	// JobFailed when a job ends in the error state
	JobFailed EventType = "job_failed"
	// JobCancelled when a job is cancelled
	JobCancelled EventType = "job_cancelled"
)

// TerminalEvent maps a terminal job status onto its event type
func TerminalEvent(status models.JobStatus) EventType {
	switch status {
	case models.StatusCompleted:
		return JobCompleted
	case models.StatusFlagged:
		return JobFlagged
	case models.StatusCancelled:
		return JobCancelled
	default:
		return JobFailed
	}
}

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event ScanEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event ScanEvent)
}

// LoggingObserver logs scan events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles scan events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event ScanEvent) {
	fields := logrus.Fields{
		"event_type": event.EventType,
		"job_id":     event.JobID,
	}
	if event.Stage != "" {
		fields["stage"] = event.Stage
	}
	if event.Status != "" {
		fields["status"] = event.Status
	}
	if event.Duration > 0 {
		fields["duration_ms"] = event.Duration.Milliseconds()
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case JobQueued:
		entry.Info("Scan job queued")
	case StageStarted:
		entry.Debug("Pipeline stage started")
	case StageCompleted:
		entry.Debug("Pipeline stage completed")
	case JobCompleted:
		entry.WithField("confidence", event.Confidence).Info("Scan job completed")
	case JobFlagged:
		entry.WithField("confidence", event.Confidence).Warn("Scan job flagged for review")
	case JobFailed:
		entry.Error("Scan job failed")
	case JobCancelled:
		entry.Info("Scan job cancelled")
	default:
		entry.Info("Scan event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver collects counters from scan events
type MetricsObserver struct {
	mu                  sync.RWMutex
	queued              int64
	completed           int64
	flagged             int64
	failed              int64
	cancelled           int64
	totalProcessingTime time.Duration
	stageTime           map[models.Stage]time.Duration
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{stageTime: make(map[models.Stage]time.Duration)}
}

// OnEvent handles scan events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event ScanEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case JobQueued:
		o.queued++
	case StageCompleted:
		o.stageTime[event.Stage] += event.Duration
	case JobCompleted:
		o.completed++
		o.totalProcessingTime += event.Duration
	case JobFlagged:
		o.flagged++
		o.totalProcessingTime += event.Duration
	case JobFailed:
		o.failed++
	case JobCancelled:
		o.cancelled++
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	finished := o.completed + o.flagged
	avgProcessingTime := time.Duration(0)
	if finished > 0 {
		avgProcessingTime = o.totalProcessingTime / time.Duration(finished)
	}

	stages := make(map[string]int64, len(o.stageTime))
	for stage, d := range o.stageTime {
		stages[string(stage)] = d.Milliseconds()
	}

	return map[string]interface{}{
		"jobs_queued":           o.queued,
		"jobs_completed":        o.completed,
		"jobs_flagged":          o.flagged,
		"jobs_failed":           o.failed,
		"jobs_cancelled":        o.cancelled,
		"total_processing_time": o.totalProcessingTime,
		"avg_processing_time":   avgProcessingTime,
		"stage_time_ms":         stages,
	}
}

// EventPublisher implements the Subject interface. Events reach observers
// synchronously and in publication order.
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer

	// serializes delivery across publishing goroutines
	deliver sync.Mutex
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers delivers an event to every observer in subscription order
func (p *EventPublisher) NotifyObservers(ctx context.Context, event ScanEvent) {
	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	p.deliver.Lock()
	defer p.deliver.Unlock()
	for _, observer := range observers {
		notify(ctx, observer, event)
	}
}

func notify(ctx context.Context, obs Observer, event ScanEvent) {
	defer func() {
		if r := recover(); r != nil {
			// Log panic but don't crash the application
			logrus.WithField("observer", obs.GetObserverName()).
				WithField("panic", r).
				Error("Observer panicked while handling event")
		}
	}()
	obs.OnEvent(ctx, event)
}

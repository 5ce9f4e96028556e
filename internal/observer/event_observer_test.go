package observer

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anime-shed/omr-inspector-go/pkg/models"

	"github.com/sirupsen/logrus"
)

type recordingObserver struct {
	name string
	mu   sync.Mutex
	seen []EventType
}

func (r *recordingObserver) OnEvent(_ context.Context, event ScanEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, event.EventType)
}

func (r *recordingObserver) GetObserverName() string { return r.name }

type panickingObserver struct{}

func (panickingObserver) OnEvent(context.Context, ScanEvent) { panic("boom") }
func (panickingObserver) GetObserverName() string            { return "panicking" }

func TestEventPublisher_DeliversInOrder(t *testing.T) {
	p := NewEventPublisher()
	rec := &recordingObserver{name: "rec"}
	p.Subscribe(panickingObserver{})
	p.Subscribe(rec)

	ctx := context.Background()
	sequence := []EventType{JobQueued, StageStarted, StageCompleted, JobCompleted}
	for _, et := range sequence {
		p.NotifyObservers(ctx, ScanEvent{EventType: et, JobID: "job-1"})
	}

	if len(rec.seen) != len(sequence) {
		t.Fatalf("Expected %d events, got %d", len(sequence), len(rec.seen))
	}
	for i, et := range sequence {
		if rec.seen[i] != et {
			t.Errorf("Event %d: expected %s, got %s", i, et, rec.seen[i])
		}
	}
}

func TestEventPublisher_Unsubscribe(t *testing.T) {
	p := NewEventPublisher()
	rec := &recordingObserver{name: "rec"}
	p.Subscribe(rec)
	p.Unsubscribe(rec)

	p.NotifyObservers(context.Background(), ScanEvent{EventType: JobQueued})
	if len(rec.seen) != 0 {
		t.Errorf("Expected no events after unsubscribe, got %v", rec.seen)
	}
}

func TestTerminalEvent(t *testing.T) {
	tests := []struct {
		status models.JobStatus
		want   EventType
	}{
		{models.StatusCompleted, JobCompleted},
		{models.StatusFlagged, JobFlagged},
		{models.StatusError, JobFailed},
		{models.StatusCancelled, JobCancelled},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := TerminalEvent(tt.status); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestMetricsObserver(t *testing.T) {
	m := NewMetricsObserver()
	ctx := context.Background()

	m.OnEvent(ctx, ScanEvent{EventType: JobQueued})
	m.OnEvent(ctx, ScanEvent{EventType: JobQueued})
	m.OnEvent(ctx, ScanEvent{EventType: StageCompleted, Stage: models.StageGrid, Duration: 30 * time.Millisecond})
	m.OnEvent(ctx, ScanEvent{EventType: JobCompleted, Duration: 100 * time.Millisecond})
	m.OnEvent(ctx, ScanEvent{EventType: JobFlagged, Duration: 300 * time.Millisecond})
	m.OnEvent(ctx, ScanEvent{EventType: JobFailed})

	metrics := m.GetMetrics()
	if metrics["jobs_queued"] != int64(2) {
		t.Errorf("Expected 2 queued jobs, got %v", metrics["jobs_queued"])
	}
	if metrics["jobs_failed"] != int64(1) {
		t.Errorf("Expected 1 failed job, got %v", metrics["jobs_failed"])
	}
	if metrics["avg_processing_time"] != 200*time.Millisecond {
		t.Errorf("Expected average of 200ms, got %v", metrics["avg_processing_time"])
	}
	stages := metrics["stage_time_ms"].(map[string]int64)
	if stages["grid"] != 30 {
		t.Errorf("Expected 30ms grid time, got %v", stages["grid"])
	}
}

func TestLoggingObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	o := NewLoggingObserver(logger)
	o.OnEvent(context.Background(), ScanEvent{
		EventType:    JobFailed,
		JobID:        "job-9",
		Stage:        models.StageGrid,
		ErrorMessage: "3 of 40 bubble positions missing",
	})

	out := buf.String()
	for _, want := range []string{`"job_id":"job-9"`, `"stage":"grid"`, `"level":"error"`, "bubble positions missing"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log output to contain %s, got %s", want, out)
		}
	}
}

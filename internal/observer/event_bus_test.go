package observer

import (
	"context"
	"testing"
)

func TestEventBus_Since(t *testing.T) {
	bus := NewEventBus(10)
	for i := 0; i < 3; i++ {
		bus.Publish(ScanEvent{EventType: JobQueued, JobID: "a"})
	}

	all := bus.Since(0)
	if len(all) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(all))
	}
	for i, e := range all {
		if e.Seq != int64(i+1) {
			t.Errorf("Expected seq %d, got %d", i+1, e.Seq)
		}
		if e.Timestamp.IsZero() {
			t.Error("Expected timestamp to be assigned")
		}
	}

	if got := bus.Since(2); len(got) != 1 || got[0].Seq != 3 {
		t.Errorf("Expected only seq 3, got %v", got)
	}
	if got := bus.Since(3); len(got) != 0 {
		t.Errorf("Expected no events, got %v", got)
	}
}

func TestEventBus_Trims(t *testing.T) {
	bus := NewEventBus(2)
	for i := 0; i < 5; i++ {
		bus.Publish(ScanEvent{EventType: StageStarted})
	}

	events := bus.Since(0)
	if len(events) != 2 || events[0].Seq != 4 || events[1].Seq != 5 {
		t.Errorf("Expected seqs 4 and 5, got %v", events)
	}
	if bus.LastSeq() != 5 {
		t.Errorf("Expected last seq 5, got %d", bus.LastSeq())
	}
}

func TestEventBus_AsObserver(t *testing.T) {
	bus := NewEventBus(0)
	p := NewEventPublisher()
	p.Subscribe(bus)

	p.NotifyObservers(context.Background(), ScanEvent{EventType: JobQueued, JobID: "a"})
	p.NotifyObservers(context.Background(), ScanEvent{EventType: JobQueued, JobID: "b"})
	p.NotifyObservers(context.Background(), ScanEvent{EventType: JobCancelled, JobID: "a"})

	events := bus.ForJob("a")
	if len(events) != 2 || events[1].EventType != JobCancelled {
		t.Errorf("Expected queued then cancelled for job a, got %v", events)
	}
}

package observer

import (
	"context"
	"sync"
	"time"
)

const defaultMaxEvents = 500

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []ScanEvent
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]ScanEvent, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event ScanEvent) ScanEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]ScanEvent(nil), b.events[trim:]...)
	}

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []ScanEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]ScanEvent, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// ForJob returns the buffered events of one job in sequence order
func (b *EventBus) ForJob(jobID string) []ScanEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []ScanEvent
	for _, event := range b.events {
		if event.JobID == jobID {
			out = append(out, event)
		}
	}
	return out
}

// LastSeq returns the sequence number of the newest event
func (b *EventBus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}

// OnEvent lets the bus subscribe to an EventPublisher
func (b *EventBus) OnEvent(_ context.Context, event ScanEvent) {
	b.Publish(event)
}

// GetObserverName returns the observer name
func (b *EventBus) GetObserverName() string {
	return "event_bus"
}

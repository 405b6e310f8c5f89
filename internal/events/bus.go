// Package events carries pipeline stage transitions from the worker to API
// subscribers.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"dubber/internal/domain"
)

// Type classifies pipeline events.
type Type string

const (
	TypeStageRunning   Type = "stage_running"
	TypeStageCompleted Type = "stage_completed"
	TypeStageFailed    Type = "stage_failed"
	TypeJobCompleted   Type = "job_completed"
	TypeJobFailed      Type = "job_failed"
)

// Event is a sequenced stage transition.
type Event struct {
	Seq        int64        `json:"seq"`
	Timestamp  time.Time    `json:"timestamp"`
	JobID      string       `json:"job_id"`
	Type       Type         `json:"type"`
	Stage      domain.Stage `json:"stage,omitempty"`
	Message    string       `json:"message,omitempty"`
	Suggestion string       `json:"suggestion,omitempty"`
	Warning    string       `json:"warning,omitempty"`
}

// Publisher receives pipeline events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Bus stores recent events and provides incremental reads.
type Bus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewBus creates a bounded in-memory event buffer.
func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &Bus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *Bus) Publish(_ context.Context, event Event) error {
	b.Append(event)
	return nil
}

// Append stores event and returns it with its sequence number.
func (b *Bus) Append(event Event) Event {
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
		b.events = append([]Event(nil), b.events[trim:]...)
	}
	return event
}

// Since returns events of jobID with sequence strictly greater than seq.
// An empty jobID matches every job.
func (b *Bus) Since(jobID string, seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq <= seq {
			continue
		}
		if jobID != "" && event.JobID != jobID {
			continue
		}
		out = append(out, event)
	}
	return out
}

// Fanout publishes to every publisher, returning the joined errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package events

import (
	"sync"
	"time"

	"aquaflow/internal/logger"
	"aquaflow/internal/metrics"
	"aquaflow/internal/models"
)

// Type discriminates event variants on the bus.
type Type string

const (
	TypeReadingCreated Type = "reading.created"
	TypeCycleCompleted Type = "cycle.completed"
	TypeAlertCreated   Type = "alert.created"
	TypeAlertUpdated   Type = "alert.updated"
	TypeAlertResolved  Type = "alert.resolved"
)

// CycleStats summarizes one completed telemetry cycle.
type CycleStats struct {
	Sensors  int           `json:"sensors"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Event is one tagged message. Exactly one payload field is set,
// matching the Type.
type Event struct {
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Reading   *models.Reading `json:"reading,omitempty"`
	Alert     *models.Alert   `json:"alert,omitempty"`
	Cycle     *CycleStats     `json:"cycle,omitempty"`
}

// Bus fans events out to explicitly registered subscribers. Publish is
// fire-and-forget: a full subscriber drops the event rather than
// blocking the telemetry pipeline.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	buffer int
	closed bool
}

// NewBus creates a bus whose subscriber channels hold buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{buffer: buffer}
}

// Subscribe registers a new subscriber and returns its channel. The
// channel is closed when the bus closes.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			metrics.EventsDropped.WithLabelValues(string(ev.Type)).Inc()
			log := logger.WithComponent("event_bus")
			log.Warn().
				Str("type", string(ev.Type)).
				Msg("subscriber full, event dropped")
		}
	}
}

// Close closes all subscriber channels. Safe to call once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

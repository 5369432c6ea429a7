package engine

import (
	"sync"
	"time"

	"github.com/livewatch/livewatch/internal/core"
)

// EventType names an engine notification.
type EventType string

const (
	EventQuotaExceeded EventType = "quota_exceeded"
	EventHighUsage     EventType = "high_usage"
	EventCircuitOpened EventType = "circuit_opened"
	EventCircuitClosed EventType = "circuit_closed"
)

// Event is published by the quota tracker and the circuit controller.
type Event struct {
	Type           EventType     `json:"type"`
	Platform       core.Platform `json:"platform,omitempty"`
	TargetID       string        `json:"target_id,omitempty"`
	UtilizationPct float64       `json:"utilization_pct,omitempty"`
	Until          *time.Time    `json:"until,omitempty"`
	At             time.Time     `json:"at"`
}

// EventBus fans events out to subscribers without blocking publishers.
//
// Channel subscribers that fall behind lose events. Handlers registered with
// OnEvent run on the publishing goroutine and must return quickly.
type EventBus struct {
	mu          sync.RWMutex
	subscribers []chan Event
	handlers    []func(Event)
	dropped     int64
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe returns a buffered channel receiving future events.
func (b *EventBus) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}

// OnEvent registers a synchronous handler.
func (b *EventBus) OnEvent(fn func(Event)) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, fn)
	b.mu.Unlock()
}

// Publish delivers e to every subscriber. A nil bus discards the event.
func (b *EventBus) Publish(e Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	handlers := b.handlers
	subscribers := b.subscribers
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(e)
	}

	for _, ch := range subscribers {
		select {
		case ch <- e:
		default:
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
		}
	}
}

// Dropped returns how many channel deliveries were skipped.
func (b *EventBus) Dropped() int64 {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

func (b *EventBus) publishAll(events []Event) {
	for _, e := range events {
		b.Publish(e)
	}
}

// Package events provides an in-process publish/subscribe bus for pipeline events.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType names a kind of event
type EventType string

// Event types emitted by the service
const (
	SnapshotRefreshed EventType = "snapshot.refreshed"
	SnapshotFailed    EventType = "snapshot.failed"
	PricesImported    EventType = "prices.imported"
	ArtifactsPruned   EventType = "artifacts.pruned"
	JobStarted        EventType = "job.started"
	JobCompleted      EventType = "job.completed"
	JobFailed         EventType = "job.failed"
	ErrorOccurred     EventType = "error"
)

// AllEventTypes lists every event type the service emits
var AllEventTypes = []EventType{
	SnapshotRefreshed,
	SnapshotFailed,
	PricesImported,
	ArtifactsPruned,
	JobStarted,
	JobCompleted,
	JobFailed,
	ErrorOccurred,
}

// Event is a published event
type Event struct {
	Type      EventType              `json:"type"`
	Module    string                 `json:"module"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Handler receives published events. Handlers run on the publisher's
// goroutine and must not block.
type Handler func(event *Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus dispatches events to subscribers by type
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventType][]subscription
	nextID uint64
	log    zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[EventType][]subscription),
		log:  log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for one event type. The returned function
// removes the subscription.
func (b *Bus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(eventType, id) })
	}
}

func (b *Bus) unsubscribe(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[eventType]
	for i, s := range subs {
		if s.id == id {
			b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to every subscriber of its type.
// A panicking handler is logged and does not stop delivery to the others.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[event.Type]...)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s.handler, event)
	}
}

func (b *Bus) deliver(handler Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("event_type", string(event.Type)).
				Msg("Event handler panicked")
		}
	}()
	handler(event)
}

// SubscriberCount returns the number of handlers registered for a type
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

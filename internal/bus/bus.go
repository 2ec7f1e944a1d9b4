// Package bus provides the process-wide event bus. Publishers never block:
// each subscriber owns a buffered queue and a dedicated drain goroutine, and
// events are dropped (with a log notice) when a subscriber falls behind.
package bus

import (
	"log/slog"
	"sync"
)

// Event is a state-change notification with a kind tag and JSON-shaped payload.
type Event struct {
	Kind    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// Handler receives events for one subscriber. Called from the subscriber's
// drain goroutine, so a slow handler only delays its own queue.
type Handler func(Event)

// Publisher is the narrow surface components publish through.
type Publisher interface {
	Publish(event Event)
}

const subscriberBuffer = 256

type subscriber struct {
	id      string
	ch      chan Event
	handler Handler
}

// Bus fans events out to subscribers. Safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

func New() *Bus {
	return &Bus{subs: make(map[string]*subscriber)}
}

// Subscribe registers a handler under id, replacing any previous handler
// with the same id.
func (b *Bus) Subscribe(id string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.subs[id]; ok {
		close(old.ch)
	}
	sub := &subscriber{id: id, ch: make(chan Event, subscriberBuffer), handler: handler}
	b.subs[id] = sub
	go func() {
		for ev := range sub.ch {
			sub.handler(ev)
		}
	}()
}

// Unsubscribe removes a subscriber and stops its drain goroutine.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Publish delivers the event to every subscriber without blocking. A single
// ordered queue per subscriber preserves per-kind FIFO ordering.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			slog.Warn("bus: subscriber queue full, dropping event", "subscriber", sub.id, "kind", event.Kind)
		}
	}
}

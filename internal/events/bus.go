// Package events carries application-wide signals between components that
// hold no reference to each other, such as the HTTP client that observes a
// 401 and the session store that must forget its credential.
package events

import (
	"context"
	"sync"
	"time"
)

// Kind identifies an event type.
type Kind string

const (
	// KindSessionInvalidated is published when the backend rejects the
	// session credential and the client must force a logout.
	KindSessionInvalidated Kind = "session.invalidated"
)

// ReasonUnauthorized tags invalidations caused by an HTTP 401.
const ReasonUnauthorized = "unauthorized"

// Event is a broadcast signal.
type Event struct {
	Kind   Kind      `json:"kind"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Handler observes published events.
type Handler func(ctx context.Context, ev Event)

// Bus fans events out to subscribers synchronously, in subscription order.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	order    []int
	handlers map[int]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it. The
// returned function is safe to call more than once.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers ev to every current subscriber. Handlers run without the
// bus lock held, so they may subscribe or unsubscribe.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		hs = append(hs, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(ctx, ev)
	}
}

// Package notify fans committed audit events out to interested parties: the
// in-process Hub feeding the server-sent event stream, and etcd for external
// sync workers. Publishing happens after commit and never fails a mutation.
package notify

import (
	"context"
	"errors"
	"sync"

	"zoneplane/internal/models"
)

// Publisher receives every committed event.
type Publisher interface {
	Publish(ctx context.Context, ev models.Event) error
}

// Multi publishes to each publisher in order and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev models.Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, models.Event) error { return nil }

// Hub broadcasts events to in-process subscribers. A subscriber that falls
// behind loses events rather than blocking the publisher.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan models.Event
	next   int
	buffer int
}

// NewHub returns a hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[int]chan models.Event), buffer: buffer}
}

// Subscribe registers a subscriber. The returned cancel func closes the
// channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan models.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan models.Event, h.buffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Publish(_ context.Context, ev models.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Package eventbus provides in-process fan-out. Hub implements bus.Bus on
// top of one TypedBus per topic so dispatcher, taxis and customers can talk
// inside a single process, as they do in tests.
package eventbus

import (
	"context"
	"sync"

	"github.com/kilianp07/taxifleet/core/bus"
)

// Hub is an in-memory bus.Bus.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*TypedBus[bus.Envelope]
	buffer int
	closed bool
}

// New creates a Hub with DefaultBuffer sized subscriptions.
func New() *Hub { return NewBuffered(DefaultBuffer) }

// NewBuffered creates a Hub whose subscriptions buffer n envelopes.
func NewBuffered(n int) *Hub {
	return &Hub{topics: make(map[string]*TypedBus[bus.Envelope]), buffer: n}
}

func (h *Hub) topic(name string) (*TypedBus[bus.Envelope], error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, bus.ErrClosed
	}
	t, ok := h.topics[name]
	if !ok {
		t = NewTypedBuffered[bus.Envelope](h.buffer)
		h.topics[name] = t
	}
	return t, nil
}

// Publish validates e and fans it out to the topic's subscribers.
func (h *Hub) Publish(_ context.Context, topic string, e bus.Envelope) error {
	if _, err := bus.Encode(e); err != nil {
		return err
	}
	t, err := h.topic(topic)
	if err != nil {
		return err
	}
	t.Publish(e)
	return nil
}

// Subscribe opens a subscription on topic.
func (h *Hub) Subscribe(topic string) (bus.Subscription, error) {
	t, err := h.topic(topic)
	if err != nil {
		return nil, err
	}
	return &subscription{bus: t, ch: t.Subscribe()}, nil
}

// Close closes every topic and subscription.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for _, t := range h.topics {
		t.Close()
	}
	return nil
}

type subscription struct {
	bus  *TypedBus[bus.Envelope]
	ch   <-chan bus.Envelope
	once sync.Once
}

func (s *subscription) C() <-chan bus.Envelope { return s.ch }

func (s *subscription) Close() error {
	s.once.Do(func() { s.bus.Unsubscribe(s.ch) })
	return nil
}

var _ bus.Bus = (*Hub)(nil)

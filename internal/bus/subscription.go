package bus

import (
	"context"
	"sync/atomic"
)

// Handler processes a published event.
type Handler interface {
	Handle(ctx context.Context, payload any) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload any) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, payload any) error {
	return f(ctx, payload)
}

// Delivery selects how a subscriber receives events. The mode is declared
// at subscription time; the dispatcher never inspects a handler to guess.
type Delivery int

const (
	// Immediate runs the handler inline during Publish.
	Immediate Delivery = iota

	// Deferred runs the handler on its own goroutine, tracked in the
	// dispatcher's pending set until it finishes.
	Deferred
)

// String returns the delivery mode name for logs.
func (d Delivery) String() string {
	switch d {
	case Immediate:
		return "immediate"
	case Deferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// Subscription is the handle returned by Subscribe. Cancelling is
// idempotent and permanent; a cancelled subscription receives no further
// events, though a delivery already in flight completes.
type Subscription struct {
	id        uint64
	topic     string
	delivery  Delivery
	handler   Handler
	cancelled atomic.Bool
	owner     *Dispatcher
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Delivery returns the subscription's delivery mode.
func (s *Subscription) Delivery() Delivery { return s.delivery }

// Cancel removes the subscription from its dispatcher. Equivalent to
// Dispatcher.Unsubscribe; safe to call multiple times.
func (s *Subscription) Cancel() {
	if s.owner != nil {
		s.owner.Unsubscribe(s)
	}
}

// active reports whether the subscription should still receive events.
func (s *Subscription) active() bool {
	return !s.cancelled.Load()
}

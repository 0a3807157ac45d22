package bus

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// defaultSweepInterval matches the firmware's task cleaner cadence.
const defaultSweepInterval = 15 * time.Second

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithSweepInterval overrides the pending-set sweep cadence.
func WithSweepInterval(interval time.Duration) Option {
	return func(d *Dispatcher) { d.sweep = interval }
}

// Dispatcher routes published events to subscribers. Safe for concurrent
// use: the link consumer, the input watcher, and role handlers all publish
// and subscribe from their own goroutines.
type Dispatcher struct {
	logger *slog.Logger
	sweep  time.Duration

	mu     sync.RWMutex
	topics map[string][]*Subscription
	nextID uint64

	taskMu  sync.Mutex
	taskSeq uint64
	tasks   map[uint64]*task

	published atomic.Uint64
	delivered atomic.Uint64
	errs      atomic.Uint64
	panics    atomic.Uint64
}

// task tracks one in-flight deferred delivery.
type task struct {
	topic string
	done  chan struct{}
}

// New creates a dispatcher with no subscriptions.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger: slog.Default(),
		sweep:  defaultSweepInterval,
		topics: make(map[string][]*Subscription),
		tasks:  make(map[uint64]*task),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe registers h for events on topic with the given delivery mode.
// Duplicate registrations are allowed and each receives the event once.
func (d *Dispatcher) Subscribe(topic string, delivery Delivery, h Handler) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	sub := &Subscription{
		id:       d.nextID,
		topic:    topic,
		delivery: delivery,
		handler:  h,
		owner:    d,
	}
	d.topics[topic] = append(d.topics[topic], sub)
	return sub
}

// SubscribeFunc registers a plain function as a subscriber.
func (d *Dispatcher) SubscribeFunc(topic string, delivery Delivery, fn HandlerFunc) *Subscription {
	return d.Subscribe(topic, delivery, fn)
}

// Unsubscribe removes the subscription. Unknown or already-cancelled
// handles are a no-op. The topic's registry entry is deleted when its last
// subscriber leaves.
func (d *Dispatcher) Unsubscribe(sub *Subscription) {
	if sub == nil || !sub.cancelled.CompareAndSwap(false, true) {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.topics[sub.topic]
	for i, s := range subs {
		if s == sub {
			d.topics[sub.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(d.topics[sub.topic]) == 0 {
		delete(d.topics, sub.topic)
	}
}

// Publish delivers payload to topic's subscribers.
//
// The subscriber list is snapshotted up front: handlers registered during
// delivery do not see this event, and a concurrent cancel skips the
// subscriber unless its delivery is already in flight.
//
// Immediate handlers run inline, in registration order; Publish returns
// after the last of them. Deferred handlers each get a goroutine in the
// pending set and run on a context detached from ctx's cancellation, so
// they outlive the publisher. Publishing to a topic nobody subscribes to
// is a silent no-op.
func (d *Dispatcher) Publish(ctx context.Context, topic string, payload any) {
	d.published.Add(1)

	d.mu.RLock()
	subs := d.topics[topic]
	snapshot := make([]*Subscription, len(subs))
	copy(snapshot, subs)
	d.mu.RUnlock()

	for _, sub := range snapshot {
		if !sub.active() {
			continue
		}
		switch sub.delivery {
		case Immediate:
			d.deliver(ctx, sub, topic, payload)
		case Deferred:
			d.launch(context.WithoutCancel(ctx), sub, topic, payload)
		}
	}
}

// deliver runs a single handler, isolating errors and panics so the
// remaining subscribers still receive the event.
func (d *Dispatcher) deliver(ctx context.Context, sub *Subscription, topic string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.logger.Error("handler panic recovered",
				"topic", topic,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	if err := sub.handler.Handle(ctx, payload); err != nil {
		d.errs.Add(1)
		d.logger.Warn("handler error", "topic", topic, "delivery", sub.delivery.String(), "err", err)
		return
	}
	d.delivered.Add(1)
}

// launch starts a deferred delivery and registers it in the pending set.
// Each launch also sweeps already-finished tasks so the set stays small
// between timer sweeps.
func (d *Dispatcher) launch(ctx context.Context, sub *Subscription, topic string, payload any) {
	t := &task{topic: topic, done: make(chan struct{})}

	d.taskMu.Lock()
	d.taskSeq++
	d.tasks[d.taskSeq] = t
	d.taskMu.Unlock()

	go func() {
		defer close(t.done)
		d.deliver(ctx, sub, topic, payload)
	}()

	d.sweepFinished()
}

// Start runs the background sweeper until ctx is done. Calling Start is
// optional; without it the pending set is still compacted on every
// deferred launch.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(d.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := d.sweepFinished(); n > 0 {
					d.logger.Debug("swept finished handler tasks", "count", n)
				}
			}
		}
	}()
}

// sweepFinished removes completed tasks from the pending set and returns
// how many were removed.
func (d *Dispatcher) sweepFinished() int {
	d.taskMu.Lock()
	defer d.taskMu.Unlock()

	removed := 0
	for id, t := range d.tasks {
		select {
		case <-t.done:
			delete(d.tasks, id)
			removed++
		default:
		}
	}
	return removed
}

// Drain waits for every deferred delivery pending at the time of the call
// to finish, or for ctx to expire (returning ctx.Err()). Used at shutdown
// after the producers have stopped.
func (d *Dispatcher) Drain(ctx context.Context) error {
	d.taskMu.Lock()
	waiting := make([]chan struct{}, 0, len(d.tasks))
	for _, t := range d.tasks {
		waiting = append(waiting, t.done)
	}
	d.taskMu.Unlock()

	for _, done := range waiting {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}
	}
	d.sweepFinished()
	return nil
}

// SubscriberCount returns the number of live subscriptions on topic.
func (d *Dispatcher) SubscriberCount(topic string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.topics[topic])
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Published       uint64
	Delivered       uint64
	HandlerErrors   uint64
	RecoveredPanics uint64
	Pending         int
}

// Stats sweeps finished tasks and returns current counters.
func (d *Dispatcher) Stats() Stats {
	d.sweepFinished()

	d.taskMu.Lock()
	pending := len(d.tasks)
	d.taskMu.Unlock()

	return Stats{
		Published:       d.published.Load(),
		Delivered:       d.delivered.Load(),
		HandlerErrors:   d.errs.Load(),
		RecoveredPanics: d.panics.Load(),
		Pending:         pending,
	}
}

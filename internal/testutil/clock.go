// Package testutil provides deterministic stand-ins for the hardware
// boundaries: a manual clock, a scripted button pin, a scripted GPS
// source, and an in-memory loopback radio.
package testutil

import (
	"context"
	"sync"
	"time"
)

// Clock is a manually advanced clock for tests.
//
// Ticks only move when Advance is called, so timing-sensitive logic
// (rate limits, button thresholds) can be exercised without real sleeps.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu      sync.Mutex
	ticks   int64
	waiters []waiter
}

type waiter struct {
	deadline int64
	ch       chan struct{}
}

// NewClock creates a manual clock starting at tick 0.
func NewClock() *Clock {
	return &Clock{}
}

// Ticks returns the current tick count in milliseconds.
func (c *Clock) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Advance moves the clock forward by d and wakes any Sleep whose deadline
// has passed. Advancing by zero or a negative duration is a no-op.
func (c *Clock) Advance(d time.Duration) {
	ms := d.Milliseconds()
	if ms <= 0 {
		return
	}

	c.mu.Lock()
	c.ticks += ms
	remaining := c.waiters[:0]
	var woken []chan struct{}
	for _, w := range c.waiters {
		if w.deadline <= c.ticks {
			woken = append(woken, w.ch)
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	c.mu.Unlock()

	for _, ch := range woken {
		close(ch)
	}
}

// Sleep blocks until Advance moves the clock past the deadline or ctx is
// done. Non-positive durations return immediately.
func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	c.mu.Lock()
	w := waiter{deadline: c.ticks + d.Milliseconds(), ch: make(chan struct{})}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		c.remove(w.ch)
		return ctx.Err()
	case <-w.ch:
		return nil
	}
}

// Sleepers returns the number of goroutines currently blocked in Sleep.
// Tests use this to advance only once a loop is actually waiting.
func (c *Clock) Sleepers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// BlockUntilSleepers polls until n goroutines are blocked in Sleep or the
// timeout elapses. Returns false on timeout.
func (c *Clock) BlockUntilSleepers(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Sleepers() >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return c.Sleepers() >= n
}

func (c *Clock) remove(ch chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiters {
		if w.ch == ch {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

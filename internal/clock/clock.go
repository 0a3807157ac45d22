// Package clock provides the device time boundary: millisecond ticks and
// context-aware sleeping.
//
// Ticks are monotonic within a process run and restart from zero on boot,
// matching the device RTC behavior. Values persisted across boots (peer
// last-track stamps) are therefore only ordinally meaningful within one
// boot; history that must survive restarts carries wall-clock time instead.
package clock

import (
	"context"
	"time"
)

// Clock is the time source used by the link rate limiter, the peer store,
// and the input watcher. Implementations must be safe for concurrent use.
type Clock interface {
	// Ticks returns milliseconds elapsed since the clock started.
	Ticks() int64

	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case. Non-positive durations return immediately.
	Sleep(ctx context.Context, d time.Duration) error
}

// Wall is the production clock: ticks measured from process start using
// the runtime's monotonic reading.
type Wall struct {
	start time.Time
}

// NewWall creates a wall clock anchored at the current instant.
func NewWall() *Wall {
	return &Wall{start: time.Now()}
}

// Ticks returns milliseconds since the clock was created.
func (w *Wall) Ticks() int64 {
	return time.Since(w.start).Milliseconds()
}

// Sleep blocks for d or until ctx is done.
func (w *Wall) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package input turns raw button-pin levels into semantic press events.
//
// A Watcher polls a digital pin, debounces the press edge, times how
// long the level holds, and classifies the press on release: quick
// presses are taps, deliberate one-to-four-second presses are holds,
// and anything held past five seconds is a power-down request fired
// while the button is still down. Durations between those bands are
// guard zones and produce nothing, so a sloppy release never triggers
// an action the operator did not mean.
package input

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/trailhound/trailhound/internal/bus"
	"github.com/trailhound/trailhound/internal/clock"
)

// Topics published by the watcher.
const (
	// TopicTap carries a Press released before TapMax.
	TopicTap = "input.tap"

	// TopicHold carries a Press released inside the hold band.
	TopicHold = "input.hold"

	// TopicSleep carries a Press held past SleepMin. It fires while the
	// button is still down and ends the watcher.
	TopicSleep = "input.sleep"
)

// Classification bands. Tap is strictly below TapMax; hold is strictly
// between HoldMin and HoldMax; sleep is at or past SleepMin. Releases in
// [TapMax, HoldMin] and [HoldMax, SleepMin) fall in the guard zones.
const (
	TapMax   = 250 * time.Millisecond
	HoldMin  = time.Second
	HoldMax  = 4 * time.Second
	SleepMin = 5 * time.Second
)

// Sampling cadence. The pin is polled slowly while idle and faster once
// a press is being timed; the debounce delay rejects contact bounce by
// requiring the pressed level to survive one resample.
const (
	idlePoll     = 100 * time.Millisecond
	debounceWait = 30 * time.Millisecond
	holdSample   = 30 * time.Millisecond
)

// Press is the payload of every input event.
type Press struct {
	// Held is how long the pressed level lasted, measured from the end
	// of the debounce window.
	Held time.Duration
}

// Pin is the digital input boundary. Pressed reports the instantaneous
// level; the watcher owns all timing.
type Pin interface {
	Pressed() bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithClock sets the tick source and sleep provider.
func WithClock(c clock.Clock) Option {
	return func(w *Watcher) { w.clock = c }
}

// WithLogger sets the watcher's logger. Defaults to slog.Default().
func WithLogger(lg *slog.Logger) Option {
	return func(w *Watcher) { w.logger = lg }
}

// Watcher classifies presses on a single pin.
type Watcher struct {
	pin    Pin
	bus    *bus.Dispatcher
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a watcher for the given pin.
func New(pin Pin, d *bus.Dispatcher, opts ...Option) (*Watcher, error) {
	if pin == nil {
		return nil, fmt.Errorf("input: nil pin")
	}
	if d == nil {
		return nil, fmt.Errorf("input: nil dispatcher")
	}

	w := &Watcher{
		pin:    pin,
		bus:    d,
		clock:  clock.NewWall(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run polls the pin until ctx is done or a sleep press occurs. A press
// held past SleepMin publishes TopicSleep and returns nil: the operator
// has asked for power-down and no further input matters. All other
// returns carry ctx's error.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		if w.pin.Pressed() {
			if err := w.clock.Sleep(ctx, debounceWait); err != nil {
				return err
			}
			if w.pin.Pressed() {
				asleep, err := w.timePress(ctx)
				if err != nil {
					return err
				}
				if asleep {
					return nil
				}
			}
		}
		if err := w.clock.Sleep(ctx, idlePoll); err != nil {
			return err
		}
	}
}

// timePress runs one confirmed press to its end. Returns true when the
// press crossed the sleep threshold.
func (w *Watcher) timePress(ctx context.Context) (bool, error) {
	start := w.clock.Ticks()

	for w.pin.Pressed() {
		if err := w.clock.Sleep(ctx, holdSample); err != nil {
			return false, err
		}
		if held := w.heldSince(start); held >= SleepMin {
			w.logger.Info("sleep press", "held", held)
			w.bus.Publish(ctx, TopicSleep, Press{Held: held})
			return true, nil
		}
	}

	held := w.heldSince(start)
	switch {
	case held < TapMax:
		w.logger.Debug("tap", "held", held)
		w.bus.Publish(ctx, TopicTap, Press{Held: held})
	case held > HoldMin && held < HoldMax:
		w.logger.Debug("hold", "held", held)
		w.bus.Publish(ctx, TopicHold, Press{Held: held})
	default:
		w.logger.Debug("press in guard zone ignored", "held", held)
	}
	return false, nil
}

func (w *Watcher) heldSince(start int64) time.Duration {
	return time.Duration(w.clock.Ticks()-start) * time.Millisecond
}

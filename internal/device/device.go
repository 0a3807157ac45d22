// Package device assembles the core components into one runnable unit:
// the dispatcher, the radio link, the input watcher, and a role-specific
// loop (base tracks rovers, rover reports position).
//
// A Device is the owned context object the firmware's global singletons
// became: every component hangs off it and all wiring happens in New, so
// there is exactly one dispatcher and one registry per running device
// and nothing reaches them except through the Device.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/trailhound/trailhound/internal/bus"
	"github.com/trailhound/trailhound/internal/clock"
	"github.com/trailhound/trailhound/internal/codec"
	"github.com/trailhound/trailhound/internal/config"
	"github.com/trailhound/trailhound/internal/gps"
	"github.com/trailhound/trailhound/internal/input"
	"github.com/trailhound/trailhound/internal/journal"
	"github.com/trailhound/trailhound/internal/link"
	"github.com/trailhound/trailhound/internal/track"
)

// Topics published by the assembly.
const (
	// TopicSaved carries a Saved payload after every successful registry
	// save.
	TopicSaved = "track.saved"

	// TopicStopping carries a Stopping payload once, just before the bus
	// drains at shutdown.
	TopicStopping = "device.stopping"
)

// Saved is the TopicSaved payload.
type Saved struct {
	Peers int
}

// Stopping is the TopicStopping payload.
type Stopping struct {
	Cause string // "context", "operator"
}

// drainGrace bounds how long shutdown waits for in-flight deferred
// handlers before giving up on them.
const drainGrace = 5 * time.Second

// Deps carries the hardware boundaries a device runs against. Real
// drivers implement these out-of-tree; link.Air, gps.Sim and the testutil
// fakes implement them in-process.
type Deps struct {
	// Radio is required.
	Radio link.Radio

	// Pin enables the button watcher when set. A base without a pin
	// still tracks but cannot cycle or untrack.
	Pin input.Pin

	// GPS is required for the rover role and ignored by the base.
	GPS gps.Source

	// Journal records sighting history when set (base role). The device
	// owns it from here and closes it when Run returns.
	Journal *journal.Journal

	// Notifier receives the uplink payload for every tracked report
	// (base role). Nil disables notification.
	Notifier Notifier
}

// Option configures a Device.
type Option func(*Device)

// WithClock sets the tick source shared by the link, the registry, and
// the input watcher.
func WithClock(c clock.Clock) Option {
	return func(d *Device) { d.clock = c }
}

// WithLogger sets the device's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) { d.logger = l }
}

// role is the per-role loop run alongside the link consumer and input
// watcher. It returns only on context cancellation.
type role interface {
	run(ctx context.Context) error
}

// Device is one assembled base or rover.
type Device struct {
	cfg    config.Config
	id     string
	clock  clock.Clock
	logger *slog.Logger

	bus     *bus.Dispatcher
	link    *link.Link
	store   *track.Store // base only
	journal *journal.Journal
	watcher *input.Watcher
	role    role

	haltOnce sync.Once
	halt     chan struct{}
}

// New wires a device from validated configuration and hardware
// boundaries. The config's ID must already be resolved (config.DeviceID
// or an explicit override).
func New(cfg config.Config, deps Deps, opts ...Option) (*Device, error) {
	if deps.Radio == nil {
		return nil, errors.New("device: nil radio")
	}
	if cfg.ID == "" {
		return nil, errors.New("device: unresolved device id")
	}
	if cfg.Role == config.RoleRover && deps.GPS == nil {
		return nil, errors.New("device: rover role needs a gps source")
	}

	d := &Device{
		cfg:     cfg,
		id:      cfg.ID,
		clock:   clock.NewWall(),
		logger:  slog.Default(),
		journal: deps.Journal,
		halt:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("device", d.id)

	c, err := codec.New(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}

	d.bus = bus.New(bus.WithLogger(d.logger))

	d.link, err = link.New(deps.Radio, c, d.bus, d.id,
		link.WithClock(d.clock),
		link.WithLogger(d.logger),
		link.WithRateLimit(cfg.RateLimit()),
	)
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}

	if deps.Pin != nil {
		d.watcher, err = input.New(deps.Pin, d.bus,
			input.WithClock(d.clock),
			input.WithLogger(d.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("device: %w", err)
		}
	}

	switch cfg.Role {
	case config.RoleBase:
		d.store = track.NewStore(cfg.PeersPath,
			track.WithClock(d.clock),
			track.WithLogger(d.logger),
		)
		d.role = newBase(d, deps.Notifier)
	case config.RoleRover:
		d.role = newRover(d, deps.GPS)
	default:
		return nil, fmt.Errorf("device: unknown role %q", cfg.Role)
	}

	// A sleep press powers the device down regardless of role. The
	// watcher publishes the event while the button is still held.
	d.bus.SubscribeFunc(input.TopicSleep, bus.Immediate, func(context.Context, any) error {
		d.Shutdown()
		return nil
	})

	return d, nil
}

// ID returns the resolved device identity.
func (d *Device) ID() string { return d.id }

// Role returns the configured role.
func (d *Device) Role() config.Role { return d.cfg.Role }

// Bus exposes the dispatcher so layers outside the core (display, BLE
// uplink) can subscribe to the device's events.
func (d *Device) Bus() *bus.Dispatcher { return d.bus }

// Tracked returns a snapshot of the registry in insertion order. Nil for
// rovers, which track nothing.
func (d *Device) Tracked() []track.Peer {
	if d.store == nil {
		return nil
	}
	ids := d.store.IDs()
	peers := make([]track.Peer, 0, len(ids))
	for _, id := range ids {
		if p, ok := d.store.Get(id); ok {
			peers = append(peers, p)
		}
	}
	return peers
}

// LinkStats returns the radio link's counters.
func (d *Device) LinkStats() link.Stats { return d.link.Stats() }

// HandleReceive is the radio driver's inbound entry point, forwarded to
// the link. Safe to call from the driver's callback goroutine.
func (d *Device) HandleReceive(frame []byte, rssi int) {
	d.link.HandleReceive(frame, rssi)
}

// Shutdown requests an orderly stop. Run unblocks, tears the goroutines
// down, and finishes the persistence and drain sequence before
// returning. Safe to call from any goroutine, any number of times.
func (d *Device) Shutdown() {
	d.haltOnce.Do(func() { close(d.halt) })
}

// Run operates the device until ctx is cancelled or an operator sleep
// press (or Shutdown call) stops it. Both are clean exits returning nil.
//
// Startup order matters: the registry is restored before the link
// consumer starts so the first received report merges instead of
// recreating, and the bus sweeper runs for the whole session.
func (d *Device) Run(ctx context.Context) error {
	d.logger.Info("device starting",
		"role", string(d.cfg.Role),
		"rate_limit", d.cfg.RateLimit(),
	)

	if d.store != nil {
		d.store.Load()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.bus.Start(runCtx)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("task stopped unexpectedly", "task", name, "err", err)
				d.Shutdown()
			}
		}()
	}

	run("link consumer", d.link.Run)
	run("role loop", d.role.run)
	if d.watcher != nil {
		// A nil return means the watcher saw a sleep press; the
		// input.sleep subscription has already triggered Shutdown.
		run("input watcher", d.watcher.Run)
	}

	cause := "context"
	select {
	case <-runCtx.Done():
	case <-d.halt:
		cause = "operator"
	}

	cancel()
	d.link.Close()
	wg.Wait()

	d.finish(cause)
	return nil
}

// finish runs the shutdown tail: announce, drain stragglers, persist,
// release the journal. Every step is best-effort; a failure here must
// not mask the ones after it.
func (d *Device) finish(cause string) {
	stopCtx, stopCancel := context.WithTimeout(context.Background(), drainGrace)
	defer stopCancel()

	d.bus.Publish(stopCtx, TopicStopping, Stopping{Cause: cause})
	if err := d.bus.Drain(stopCtx); err != nil {
		d.logger.Warn("bus drain incomplete", "err", err)
	}

	if d.store != nil && d.store.Dirty() {
		if err := d.store.Save(); err != nil {
			d.logger.Warn("final registry save failed", "err", err)
		}
	}
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			d.logger.Warn("journal close failed", "err", err)
		}
	}

	d.logger.Info("device stopped", "cause", cause)
}

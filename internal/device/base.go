package device

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/tidwall/sjson"

	"github.com/trailhound/trailhound/internal/bus"
	"github.com/trailhound/trailhound/internal/clock"
	"github.com/trailhound/trailhound/internal/input"
	"github.com/trailhound/trailhound/internal/journal"
	"github.com/trailhound/trailhound/internal/link"
	"github.com/trailhound/trailhound/internal/track"
)

// base is the receiver role: it folds incoming reports into the registry,
// answers button presses, mirrors reports to the uplink, and persists on
// a timer so flash wear stays bounded.
type base struct {
	store    *track.Store
	journal  *journal.Journal
	notifier Notifier
	bus      *bus.Dispatcher
	clock    clock.Clock
	logger   *slog.Logger

	saveInterval time.Duration
}

func newBase(d *Device, notifier Notifier) *base {
	b := &base{
		store:        d.store,
		journal:      d.journal,
		notifier:     notifier,
		bus:          d.bus,
		clock:        d.clock,
		logger:       d.logger,
		saveInterval: d.cfg.SaveInterval(),
	}

	b.bus.SubscribeFunc(link.TopicReceived, bus.Immediate, b.onReceived)
	b.bus.SubscribeFunc(input.TopicTap, bus.Immediate, b.onTap)
	b.bus.SubscribeFunc(input.TopicHold, bus.Immediate, b.onHold)
	return b
}

// onReceived folds one report into the registry. First sightings are
// persisted immediately and become the selection, so a base powered on
// in the field starts following the rover that found it; everything else
// waits for the periodic save.
func (b *base) onReceived(ctx context.Context, payload any) error {
	rx, ok := payload.(link.Received)
	if !ok {
		return fmt.Errorf("unexpected %s payload %T", link.TopicReceived, payload)
	}

	isNew := b.store.Upsert(rx.Report.ID, rx.Report.Fix, rx.RSSI, rx.Airtime)
	if isNew {
		b.store.Select(rx.Report.ID)
		b.logger.Info("tracking new rover", "id", rx.Report.ID, "rssi", rx.RSSI, "tracked", b.store.Len())
		b.save(ctx)
	} else {
		b.logger.Debug("rover updated", "id", rx.Report.ID, "rssi", rx.RSSI)
	}

	if b.journal != nil {
		sighting := journal.Sighting{
			PeerID:  rx.Report.ID,
			Fix:     rx.Report.Fix,
			RSSI:    rx.RSSI,
			Airtime: rx.Airtime,
			SeenAt:  time.Now(),
		}
		if err := b.journal.Record(ctx, sighting); err != nil {
			b.logger.Warn("journal write failed", "id", rx.Report.ID, "err", err)
		}
	}

	b.notify(rx)
	return nil
}

// notify mirrors the report to the uplink with the link measurements the
// wire payload does not carry.
func (b *base) notify(rx link.Received) {
	if b.notifier == nil {
		return
	}

	payload, err := rx.Report.MarshalPayload()
	if err == nil {
		payload, err = sjson.SetBytes(payload, "rssi", rx.RSSI)
	}
	if err == nil {
		payload, err = sjson.SetBytes(payload, "toa", toaMillis(rx.Airtime))
	}
	if err != nil {
		b.logger.Warn("uplink payload build failed", "id", rx.Report.ID, "err", err)
		return
	}

	if err := b.notifier.Notify(payload); err != nil {
		b.logger.Warn("uplink notify failed", "id", rx.Report.ID, "err", err)
	}
}

// onTap cycles the selection to the next tracked rover.
func (b *base) onTap(context.Context, any) error {
	p, ok := b.store.SelectNext()
	if !ok {
		b.logger.Debug("tap with nothing tracked")
		return nil
	}
	b.logger.Info("tracking switched", "id", p.ID)
	return nil
}

// onHold stops tracking the selected rover. The registry moves the
// selection to the next survivor, so the operator can clear stale rovers
// with repeated holds.
func (b *base) onHold(ctx context.Context, _ any) error {
	p, ok := b.store.Selected()
	if !ok {
		b.logger.Debug("hold with nothing tracked")
		return nil
	}

	b.store.Remove(p.ID)
	b.logger.Info("rover untracked", "id", p.ID, "tracked", b.store.Len())
	b.save(ctx)

	if next, ok := b.store.Selected(); ok {
		b.logger.Info("tracking switched", "id", next.ID)
	}
	return nil
}

// save persists the registry and announces the result. Failures are
// logged and absorbed: the in-memory registry stays authoritative until
// the next attempt.
func (b *base) save(ctx context.Context) {
	if err := b.store.Save(); err != nil {
		b.logger.Warn("registry save failed", "err", err)
		return
	}
	b.bus.Publish(ctx, TopicSaved, Saved{Peers: b.store.Len()})
}

// run persists the registry on the configured cadence when it has
// changed. Creations and removals save inline; this catches the steady
// drip of position updates in between.
func (b *base) run(ctx context.Context) error {
	for {
		if err := b.clock.Sleep(ctx, b.saveInterval); err != nil {
			return err
		}
		if !b.store.Dirty() {
			continue
		}
		b.save(ctx)
	}
}

// toaMillis renders an airtime as milliseconds with one decimal, the
// unit the uplink and the registry file both use.
func toaMillis(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*10) / 10
}

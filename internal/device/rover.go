package device

import (
	"context"
	"log/slog"
	"time"

	"github.com/trailhound/trailhound/internal/clock"
	"github.com/trailhound/trailhound/internal/codec"
	"github.com/trailhound/trailhound/internal/gps"
	"github.com/trailhound/trailhound/internal/link"
)

// fixPoll is how often the rover reads its GPS source. It is faster than
// any sane rate limit on purpose: the link decides when a report may
// actually go out, and polling fast means the report that does go out
// carries the freshest fix.
const fixPoll = 950 * time.Millisecond

// rover is the transmitter role: poll the GPS source and offer the
// current fix to the link, which rate-limits the actual transmissions.
type rover struct {
	gps    gps.Source
	link   *link.Link
	clock  clock.Clock
	logger *slog.Logger
}

func newRover(d *Device, source gps.Source) *rover {
	return &rover{
		gps:    source,
		link:   d.link,
		clock:  d.clock,
		logger: d.logger,
	}
}

func (r *rover) run(ctx context.Context) error {
	for {
		if err := r.clock.Sleep(ctx, fixPoll); err != nil {
			return err
		}

		fix, ok := r.gps.Current()
		if !ok || !fix.HasPosition() {
			r.logger.Debug("waiting for fix")
			continue
		}

		// The link stamps the sender ID; the rover only supplies the fix.
		toa, sent, err := r.link.Send(ctx, codec.Report{Fix: fix})
		if err != nil {
			r.logger.Warn("report transmit failed", "err", err)
			continue
		}
		if sent {
			r.logger.Debug("position reported", "toa", toa)
		}
	}
}

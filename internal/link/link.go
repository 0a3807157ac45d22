package link

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/sjson"

	"github.com/trailhound/trailhound/internal/bus"
	"github.com/trailhound/trailhound/internal/clock"
	"github.com/trailhound/trailhound/internal/codec"
)

// Topics published by the link.
const (
	// TopicReceived carries a Received payload for every valid inbound
	// report.
	TopicReceived = "link.received"

	// TopicSent carries a Sent payload after every successful transmit.
	TopicSent = "link.sent"
)

// Received is the TopicReceived payload.
type Received struct {
	Report  codec.Report
	RSSI    int // dBm
	Airtime time.Duration
}

// Sent is the TopicSent payload.
type Sent struct {
	Report  codec.Report
	Airtime time.Duration
}

const (
	defaultRateLimit  = 5 * time.Second
	defaultQueueDepth = 32
)

// Option configures a Link.
type Option func(*Link)

// WithClock sets the tick source for rate limiting.
func WithClock(c clock.Clock) Option {
	return func(l *Link) { l.clock = c }
}

// WithLogger sets the link's logger. Defaults to slog.Default().
func WithLogger(lg *slog.Logger) Option {
	return func(l *Link) { l.logger = lg }
}

// WithRateLimit overrides the minimum interval between transmissions.
func WithRateLimit(d time.Duration) Option {
	return func(l *Link) { l.rateLimit = d }
}

// WithQueueDepth overrides the receive queue bound.
func WithQueueDepth(n int) Option {
	return func(l *Link) { l.queueDepth = n }
}

// Link owns one radio. It enforces the shared-medium rules on the send
// path (rate limit, single sender) and turns raw received frames into
// TopicReceived events on the consume path.
type Link struct {
	radio    Radio
	codec    *codec.Codec
	bus      *bus.Dispatcher
	deviceID string
	clock    clock.Clock
	logger   *slog.Logger

	rateLimit  time.Duration
	queueDepth int
	rx         *frameQueue

	sendMu   sync.Mutex // held only while a transmission is in flight
	lastSend atomic.Int64

	sent        atomic.Uint64
	received    atomic.Uint64
	rateLimited atomic.Uint64
	busy        atomic.Uint64
	queueDrops  atomic.Uint64
	malformed   atomic.Uint64
}

// New creates a link for the given radio. deviceID is stamped into every
// outgoing report so receivers always see the true sender.
func New(radio Radio, c *codec.Codec, d *bus.Dispatcher, deviceID string, opts ...Option) (*Link, error) {
	if radio == nil {
		return nil, fmt.Errorf("link: nil radio")
	}
	if c == nil {
		return nil, fmt.Errorf("link: nil codec")
	}
	if d == nil {
		return nil, fmt.Errorf("link: nil dispatcher")
	}
	if deviceID == "" {
		return nil, fmt.Errorf("link: empty device id")
	}

	l := &Link{
		radio:      radio,
		codec:      c,
		bus:        d,
		deviceID:   deviceID,
		clock:      clock.NewWall(),
		logger:     slog.Default(),
		rateLimit:  defaultRateLimit,
		queueDepth: defaultQueueDepth,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.rx = newFrameQueue(l.queueDepth)
	return l, nil
}

// Send transmits one report. Returns the frame's time on air and whether
// it actually went out.
//
// A send is skipped, not queued, when the rate limit window since the
// last successful transmission has not elapsed or another send holds the
// radio; both return (0, false, nil). The window also covers boot: the
// first send is allowed only after one full interval of uptime, giving
// the radio time to settle.
//
// Radio failures return an error with sent=false; the rate limit window
// does not advance, so the caller's next attempt may retry immediately.
func (l *Link) Send(ctx context.Context, rpt codec.Report) (time.Duration, bool, error) {
	if l.clock.Ticks()-l.lastSend.Load() < l.rateLimit.Milliseconds() {
		l.rateLimited.Add(1)
		l.logger.Debug("send skipped", "reason", "rate limited")
		return 0, false, nil
	}

	if !l.sendMu.TryLock() {
		l.busy.Add(1)
		l.logger.Debug("send skipped", "reason", "transmit in flight")
		return 0, false, nil
	}
	defer l.sendMu.Unlock()

	payload, err := rpt.MarshalPayload()
	if err != nil {
		return 0, false, err
	}
	payload, err = sjson.SetBytes(payload, "id", l.deviceID)
	if err != nil {
		return 0, false, fmt.Errorf("stamp sender id: %w", err)
	}
	rpt.ID = l.deviceID

	f := l.codec.Pack(payload)
	if maxLen := l.radio.MaxFrameLen(); len(f) > maxLen {
		return 0, false, fmt.Errorf("frame too long: %d > %d bytes", len(f), maxLen)
	}

	if err := l.radio.Transmit(f); err != nil {
		return 0, false, fmt.Errorf("transmit: %w", err)
	}

	l.lastSend.Store(l.clock.Ticks())
	l.sent.Add(1)

	toa := l.radio.TimeOnAir(len(f))
	l.bus.Publish(ctx, TopicSent, Sent{Report: rpt, Airtime: toa})
	l.logger.Debug("frame sent", "len", len(f), "toa", toa)
	return toa, true, nil
}

// HandleReceive accepts one frame from the radio driver. It is safe to
// call from the driver's callback goroutine: the frame is copied,
// enqueued, and the call returns; it never blocks on the consumer.
// Frames arriving while the queue is full are dropped and counted.
func (l *Link) HandleReceive(data []byte, rssi int) {
	buf := make([]byte, len(data))
	copy(buf, data)

	if l.rx.Enqueue(frame{data: buf, rssi: rssi}) {
		return
	}
	if l.rx.Closed() {
		return
	}
	l.queueDrops.Add(1)
	l.logger.Warn("rx queue full, frame dropped", "len", len(data))
}

// Run is the single receive consumer: it drains the queue until ctx is
// done, publishing TopicReceived for every frame that unpacks into a
// valid report and counting the rest as malformed.
func (l *Link) Run(ctx context.Context) error {
	for {
		f, ok := l.rx.TryDequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.rx.Wait():
				continue
			}
		}
		l.process(ctx, f)
	}
}

func (l *Link) process(ctx context.Context, f frame) {
	payload := l.codec.Unpack(f.data)

	rpt, err := codec.ParseReport(payload)
	if err != nil {
		l.malformed.Add(1)
		l.logger.Debug("dropping malformed frame", "len", len(f.data), "rssi", f.rssi, "err", err)
		return
	}

	l.received.Add(1)
	l.bus.Publish(ctx, TopicReceived, Received{
		Report:  rpt,
		RSSI:    f.rssi,
		Airtime: l.radio.TimeOnAir(len(f.data)),
	})
}

// Close rejects further received frames. Called at shutdown after the
// consumer has stopped; late driver callbacks then drop silently.
func (l *Link) Close() {
	l.rx.Close()
}

// Stats is a snapshot of link counters.
type Stats struct {
	Sent        uint64
	Received    uint64
	RateLimited uint64
	Busy        uint64
	QueueDrops  uint64
	Malformed   uint64
	QueueDepth  int
}

// Stats returns current counters.
func (l *Link) Stats() Stats {
	return Stats{
		Sent:        l.sent.Load(),
		Received:    l.received.Load(),
		RateLimited: l.rateLimited.Load(),
		Busy:        l.busy.Load(),
		QueueDrops:  l.queueDrops.Load(),
		Malformed:   l.malformed.Load(),
		QueueDepth:  l.rx.Len(),
	}
}

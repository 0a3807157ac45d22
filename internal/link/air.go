package link

import (
	"sync"
	"time"
)

const simMaxFrameLen = 255

// Linear approximation of LoRa air occupancy at the default modulation
// (SF7, 250 kHz): fixed preamble cost plus a per-byte cost.
const (
	simAirTimeBase    = 12 * time.Millisecond
	simAirTimePerByte = 500 * time.Microsecond
)

// AirOption configures an Air.
type AirOption func(*Air)

// WithAirRSSI sets the signal-strength model for delivered frames.
// Defaults to a constant -60 dBm.
func WithAirRSSI(fn func() int) AirOption {
	return func(a *Air) { a.rssi = fn }
}

// WithAirLoss sets a frame-loss model: deliveries where fn returns true
// are dropped. Defaults to lossless.
func WithAirLoss(fn func() bool) AirOption {
	return func(a *Air) { a.lose = fn }
}

// Air is an in-process radio medium: every frame transmitted by a joined
// radio is delivered to all the others. It backs the simulate command and
// the link tests; nothing real crosses it.
type Air struct {
	mu     sync.Mutex
	radios []*AirRadio
	rssi   func() int
	lose   func() bool
}

// NewAir creates an empty medium.
func NewAir(opts ...AirOption) *Air {
	a := &Air{
		rssi: func() int { return -60 },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Join adds a radio to the medium.
func (a *Air) Join() *AirRadio {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := &AirRadio{air: a}
	a.radios = append(a.radios, r)
	return r
}

// broadcast delivers a frame from one radio to every other attached
// radio, synchronously on the transmitter's goroutine. That mirrors the
// hardware shape: receive callbacks fire on a goroutine that is not the
// consumer's.
func (a *Air) broadcast(from *AirRadio, frame []byte) {
	a.mu.Lock()
	targets := make([]*AirRadio, 0, len(a.radios))
	for _, r := range a.radios {
		if r != from {
			targets = append(targets, r)
		}
	}
	rssi := a.rssi
	lose := a.lose
	a.mu.Unlock()

	for _, r := range targets {
		if lose != nil && lose() {
			continue
		}
		recv := r.receiver()
		if recv == nil {
			continue
		}
		buf := make([]byte, len(frame))
		copy(buf, frame)
		recv(buf, rssi())
	}
}

// AirRadio is one endpoint on an Air. It implements Radio.
type AirRadio struct {
	air *Air

	mu   sync.Mutex
	recv func(frame []byte, rssi int)
}

// Attach wires the receive callback, normally Link.HandleReceive. Frames
// broadcast before Attach are missed, like a driver with no IRQ handler
// installed.
func (r *AirRadio) Attach(recv func(frame []byte, rssi int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recv = recv
}

func (r *AirRadio) receiver() func([]byte, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recv
}

// Transmit broadcasts the frame to every other radio on the medium.
func (r *AirRadio) Transmit(frame []byte) error {
	r.air.broadcast(r, frame)
	return nil
}

// MaxFrameLen returns the LoRa maximum payload size.
func (r *AirRadio) MaxFrameLen() int { return simMaxFrameLen }

// TimeOnAir returns the modeled air occupancy for a frame.
func (r *AirRadio) TimeOnAir(frameLen int) time.Duration {
	return simAirTimeBase + time.Duration(frameLen)*simAirTimePerByte
}

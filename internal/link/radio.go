// Package link owns the radio: the rate-limited, single-sender transmit
// path and the queued receive path that turns raw frames into
// link.received events.
package link

import "time"

// Radio is the transceiver boundary. Hardware drivers implement it
// out-of-tree; Air provides an in-process implementation for bench runs
// and tests.
//
// Receive is callback-style, matching the hardware IRQ model: the driver
// calls Link.HandleReceive from its own goroutine for every frame.
type Radio interface {
	// Transmit sends one frame. Blocks until the radio has accepted the
	// frame; transient failures return an error.
	Transmit(frame []byte) error

	// MaxFrameLen returns the largest frame the radio accepts.
	MaxFrameLen() int

	// TimeOnAir returns the air occupancy of a frame of the given length
	// at the radio's configured modulation.
	TimeOnAir(frameLen int) time.Duration
}

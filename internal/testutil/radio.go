package testutil

import (
	"sync"
	"time"
)

// Radio is a scriptable transceiver for tests. It records every
// transmitted frame and can be told to fail or block via SetOnTransmit.
type Radio struct {
	mu          sync.Mutex
	frames      [][]byte
	transmitErr error
	onTransmit  func(frame []byte) error
	maxFrameLen int
}

// NewRadio creates a radio that accepts frames up to the LoRa maximum.
func NewRadio() *Radio {
	return &Radio{maxFrameLen: 255}
}

// SetTransmitErr makes every subsequent Transmit fail with err. Pass nil
// to heal the radio.
func (r *Radio) SetTransmitErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transmitErr = err
}

// SetOnTransmit installs a hook that runs before a frame is recorded.
// A non-nil return fails the transmit. Hooks may block to simulate a
// slow radio.
func (r *Radio) SetOnTransmit(fn func(frame []byte) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTransmit = fn
}

// SetMaxFrameLen shrinks or grows the accepted frame size.
func (r *Radio) SetMaxFrameLen(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxFrameLen = n
}

// Transmit implements the radio boundary.
func (r *Radio) Transmit(frame []byte) error {
	r.mu.Lock()
	hook := r.onTransmit
	failWith := r.transmitErr
	r.mu.Unlock()

	if hook != nil {
		if err := hook(frame); err != nil {
			return err
		}
	}
	if failWith != nil {
		return failWith
	}

	buf := make([]byte, len(frame))
	copy(buf, frame)

	r.mu.Lock()
	r.frames = append(r.frames, buf)
	r.mu.Unlock()
	return nil
}

// MaxFrameLen implements the radio boundary.
func (r *Radio) MaxFrameLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxFrameLen
}

// TimeOnAir models air occupancy as a fixed preamble cost plus a
// per-byte cost, mirroring the bench medium.
func (r *Radio) TimeOnAir(frameLen int) time.Duration {
	return 12*time.Millisecond + time.Duration(frameLen)*500*time.Microsecond
}

// Frames returns copies of every transmitted frame, oldest first.
func (r *Radio) Frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.frames))
	for i, f := range r.frames {
		buf := make([]byte, len(f))
		copy(buf, f)
		out[i] = buf
	}
	return out
}

// TransmitCount returns how many frames went out.
func (r *Radio) TransmitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

package link

import "sync"

// frame is one received transmission with its signal strength.
type frame struct {
	data []byte
	rssi int
}

// frameQueue is a bounded, thread-safe FIFO between the radio callback
// and the consumer loop.
//
// The callback side must never block, so Enqueue rejects when full
// (drop-newest) instead of waiting. The bound keeps a stalled consumer
// from eating the device's memory; under LoRa airtime rates even a small
// bound absorbs any realistic burst.
//
// The signal channel is buffered size 1 so repeated signals coalesce and
// the consumer can select on it alongside its context.
type frameQueue struct {
	mu     sync.Mutex
	cap    int
	frames []frame
	closed bool
	signal chan struct{}
}

func newFrameQueue(capacity int) *frameQueue {
	return &frameQueue{
		cap:    capacity,
		frames: make([]frame, 0, capacity),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends a frame. Returns false, without blocking, when the
// queue is full or closed.
func (q *frameQueue) Enqueue(f frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.frames) >= q.cap {
		return false
	}

	q.frames = append(q.frames, f)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue pops the oldest frame without blocking.
func (q *frameQueue) TryDequeue() (frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 {
		return frame{}, false
	}

	f := q.frames[0]

	// Nil the slot so the backing array does not retain the frame bytes.
	q.frames[0] = frame{}
	if len(q.frames) == 1 {
		q.frames = q.frames[:0]
	} else {
		q.frames = q.frames[1:]
	}

	return f, true
}

// Wait returns the availability signal for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	case <-q.Wait():
//	}
func (q *frameQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current depth.
func (q *frameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Close rejects further enqueues and wakes any waiter.
func (q *frameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Closed reports whether Close has been called.
func (q *frameQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

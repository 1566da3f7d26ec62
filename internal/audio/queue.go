package audio

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned by Push when the queue stays at capacity for
	// the whole timeout. It drives drop policies and is never fatal.
	ErrQueueFull = errors.New("frame queue full")

	// ErrQueueEmpty is returned by Pop when no frame arrives within the
	// timeout. It drives underrun padding and is never fatal.
	ErrQueueEmpty = errors.New("frame queue empty")

	// ErrQueueClosed is returned once the queue is closed and, for Pop,
	// fully drained.
	ErrQueueClosed = errors.New("frame queue closed")
)

// FrameQueue is a bounded FIFO of frames. It is the single synchronization
// point between the real-time audio domain and the asynchronous domain:
// real-time callbacks use TryPush / short-timeout Pop, the async side uses the
// timeout variants. The queue never holds more than its capacity.
type FrameQueue struct {
	ch        chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

// NewFrameQueue creates a queue holding at most capacity frames.
// A non-positive capacity is rounded up to 1.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameQueue{
		ch:   make(chan Frame, capacity),
		done: make(chan struct{}),
	}
}

// Push enqueues f, waiting up to timeout for space.
func (q *FrameQueue) Push(f Frame, timeout time.Duration) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- f:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-time.After(timeout):
		return ErrQueueFull
	}
}

// TryPush enqueues f only if space is immediately available. It never blocks
// and is the only push variant legal from a hardware callback.
func (q *FrameQueue) TryPush(f Frame) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.ch <- f:
		return true
	default:
		return false
	}
}

// Pop dequeues the oldest frame, waiting up to timeout for one to arrive.
// After Close, buffered frames are still delivered; once empty Pop reports
// ErrQueueClosed.
func (q *FrameQueue) Pop(timeout time.Duration) (Frame, error) {
	select {
	case f := <-q.ch:
		return f, nil
	default:
	}
	select {
	case f := <-q.ch:
		return f, nil
	case <-q.done:
		select {
		case f := <-q.ch:
			return f, nil
		default:
			return nil, ErrQueueClosed
		}
	case <-time.After(timeout):
		return nil, ErrQueueEmpty
	}
}

// Drain discards every currently buffered frame without blocking and returns
// how many were dropped. Used to discard stale reply audio on a turn boundary.
func (q *FrameQueue) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of currently buffered frames.
func (q *FrameQueue) Len() int {
	return len(q.ch)
}

// Close marks the queue closed. Idempotent. Pending and future Push calls fail
// with ErrQueueClosed; Pop keeps delivering buffered frames until empty.
func (q *FrameQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

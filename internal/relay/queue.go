// Package relay provides the bounded handoff between the real-time capture
// callback and the disk-writing consumer. The producer side never blocks:
// when the queue is full the incoming frame is dropped and counted, which
// keeps memory bounded and the capture callback's timing intact.
package relay

import (
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/fieldcapture/internal/audio"
)

// DefaultCapacity is the default number of frames the queue holds.
const DefaultCapacity = 500

// Queue is a fixed-capacity FIFO of capture frames. Push is safe to call from
// the capture callback; Pop is intended for a single consumer.
type Queue struct {
	frames    chan audio.Frame
	dropped   atomic.Int64
	accepted  atomic.Int64
	lastFrame atomic.Pointer[audio.Frame]
}

// NewQueue returns a queue holding at most capacity frames. A capacity of
// zero or less falls back to DefaultCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{frames: make(chan audio.Frame, capacity)}
}

// Push offers a frame to the queue without blocking. It reports whether the
// frame was accepted; on a full queue the frame is dropped and counted, and
// frames already enqueued are left untouched. Each accepted frame also
// becomes the last-frame reference used for live level metering.
func (q *Queue) Push(fr audio.Frame) bool {
	select {
	case q.frames <- fr:
		q.accepted.Add(1)
		q.lastFrame.Store(&fr)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Pop waits up to timeout for the next frame. The second return value is
// false when the wait timed out or the queue was closed while empty.
func (q *Queue) Pop(timeout time.Duration) (audio.Frame, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case fr, ok := <-q.frames:
		return fr, ok
	case <-timer.C:
		return audio.Frame{}, false
	}
}

// TryPop returns the next frame if one is immediately available.
func (q *Queue) TryPop() (audio.Frame, bool) {
	select {
	case fr, ok := <-q.frames:
		return fr, ok
	default:
		return audio.Frame{}, false
	}
}

// Len returns the number of frames currently buffered.
func (q *Queue) Len() int {
	return len(q.frames)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.frames)
}

// Dropped returns the number of frames rejected because the queue was full.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Accepted returns the number of frames accepted since creation.
func (q *Queue) Accepted() int64 {
	return q.accepted.Load()
}

// LastFrame returns the most recently accepted frame, or nil if none has been
// accepted yet. Reading it does not consume from the queue.
func (q *Queue) LastFrame() *audio.Frame {
	return q.lastFrame.Load()
}

package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/fieldcapture/internal/audio"
)

func frameWithID(id byte) audio.Frame {
	return audio.Frame{Data: []byte{id}, Frames: 1}
}

func TestQueuePreservesPushOrder(t *testing.T) {
	q := NewQueue(10)

	for i := byte(0); i < 10; i++ {
		require.True(t, q.Push(frameWithID(i)), "push %d should be accepted", i)
	}

	for i := byte(0); i < 10; i++ {
		fr, ok := q.Pop(time.Second)
		require.True(t, ok)
		assert.Equal(t, i, fr.Data[0], "frames must pop in push order")
	}
}

func TestQueueDropsNewestOnOverflow(t *testing.T) {
	q := NewQueue(3)

	require.True(t, q.Push(frameWithID(1)))
	require.True(t, q.Push(frameWithID(2)))
	require.True(t, q.Push(frameWithID(3)))

	// Queue is full; these must be rejected without evicting queued frames.
	assert.False(t, q.Push(frameWithID(4)))
	assert.False(t, q.Push(frameWithID(5)))

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, int64(2), q.Dropped())
	assert.Equal(t, int64(3), q.Accepted())

	// The retained frames are the earlier accepted ones, still in order.
	for _, want := range []byte{1, 2, 3} {
		fr, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, want, fr.Data[0])
	}
}

func TestQueueNeverExceedsCapacity(t *testing.T) {
	q := NewQueue(5)

	for i := 0; i < 100; i++ {
		q.Push(frameWithID(byte(i)))
		assert.LessOrEqual(t, q.Len(), q.Cap())
	}
	assert.Equal(t, int64(95), q.Dropped())
}

func TestQueuePopTimeout(t *testing.T) {
	q := NewQueue(5)

	start := time.Now()
	_, ok := q.Pop(20 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestQueueTryPopEmpty(t *testing.T) {
	q := NewQueue(5)
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestQueueLastFrameDoesNotConsume(t *testing.T) {
	q := NewQueue(5)

	assert.Nil(t, q.LastFrame())

	q.Push(frameWithID(7))
	last := q.LastFrame()
	require.NotNil(t, last)
	assert.Equal(t, byte(7), last.Data[0])

	// Reading the last frame must not consume from the queue.
	assert.Equal(t, 1, q.Len())
}

func TestQueueDefaultCapacity(t *testing.T) {
	q := NewQueue(0)
	assert.Equal(t, DefaultCapacity, q.Cap())
}

func TestQueueWriterProgressUnderOverflow(t *testing.T) {
	q := NewQueue(4)
	done := make(chan struct{})
	var consumed int64

	go func() {
		defer close(done)
		for {
			fr, ok := q.Pop(50 * time.Millisecond)
			if !ok {
				return
			}
			_ = fr
			consumed++
		}
	}()

	// Push much faster than the consumer can possibly fall behind the
	// capacity; size must stay bounded while the consumer makes progress.
	for i := 0; i < 2000; i++ {
		q.Push(frameWithID(byte(i)))
		assert.LessOrEqual(t, q.Len(), 4)
	}

	<-done
	assert.Positive(t, consumed, "consumer must make progress while producer overflows")
	assert.Equal(t, q.Accepted(), consumed)
}

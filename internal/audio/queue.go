// Package audio holds the ordered frame queue shared by the playback paths.
package audio

import (
	"sync"
)

const minQueueCapacity = 16

// FrameQueue is a thread-safe FIFO of audio frames. Frames are never split,
// merged or reordered; the ring grows instead of dropping when full.
type FrameQueue struct {
	frames [][]byte
	head   int
	count  int
	bytes  int
	mu     sync.Mutex
}

// NewFrameQueue creates a queue with room for capacity frames before growing
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < minQueueCapacity {
		capacity = minQueueCapacity
	}
	return &FrameQueue{
		frames: make([][]byte, capacity),
	}
}

// Push appends a frame to the tail
func (q *FrameQueue) Push(frame []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == len(q.frames) {
		q.grow()
	}

	q.frames[(q.head+q.count)%len(q.frames)] = frame
	q.count++
	q.bytes += len(frame)
}

// Pop removes and returns the oldest frame
func (q *FrameQueue) Pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil, false
	}

	frame := q.frames[q.head]
	q.frames[q.head] = nil
	q.head = (q.head + 1) % len(q.frames)
	q.count--
	q.bytes -= len(frame)

	return frame, true
}

// Len returns the number of queued frames
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Bytes returns the total size of queued frames
func (q *FrameQueue) Bytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}

// IsEmpty returns true if no frames are queued
func (q *FrameQueue) IsEmpty() bool {
	return q.Len() == 0
}

// Clear discards every queued frame
func (q *FrameQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.frames {
		q.frames[i] = nil
	}
	q.head = 0
	q.count = 0
	q.bytes = 0
}

// Drain removes all frames and returns them concatenated in order
func (q *FrameQueue) Drain() []byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]byte, 0, q.bytes)
	for i := 0; i < q.count; i++ {
		idx := (q.head + i) % len(q.frames)
		out = append(out, q.frames[idx]...)
		q.frames[idx] = nil
	}
	q.head = 0
	q.count = 0
	q.bytes = 0

	return out
}

// grow must be called with mu held.
func (q *FrameQueue) grow() {
	next := make([][]byte, len(q.frames)*2)
	for i := 0; i < q.count; i++ {
		next[i] = q.frames[(q.head+i)%len(q.frames)]
	}
	q.frames = next
	q.head = 0
}

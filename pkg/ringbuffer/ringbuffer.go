// Package ringbuffer stages samples between the signal handler and the
// flusher.
package ringbuffer

import (
	"errors"

	"github.com/danpilch/sigprof/pkg/sample"
)

// DefaultCapacity holds one second of samples for 16 threads at 20Hz.
const DefaultCapacity = 320

// ErrFull is returned by Push when the buffer is at capacity. The caller
// drops the sample.
var ErrFull = errors.New("ringbuffer: full")

// RingBuffer is a fixed-capacity FIFO of samples. Push and Pop are O(1),
// never block and never allocate. It is not synchronized.
type RingBuffer struct {
	slots []sample.Sample
	head  int // oldest element
	size  int
}

// New allocates every slot up front.
func New(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RingBuffer{
		slots: make([]sample.Sample, capacity),
	}
}

// Push copies s into the next free slot.
func (r *RingBuffer) Push(s *sample.Sample) error {
	if r.size == len(r.slots) {
		return ErrFull
	}
	tail := (r.head + r.size) % len(r.slots)
	r.slots[tail] = *s
	r.size++
	return nil
}

// Pop removes and returns the oldest sample.
func (r *RingBuffer) Pop() (sample.Sample, bool) {
	if r.size == 0 {
		return sample.Sample{}, false
	}
	s := r.slots[r.head]
	r.head = (r.head + 1) % len(r.slots)
	r.size--
	return s, true
}

// Each visits the buffered samples oldest first without consuming them.
func (r *RingBuffer) Each(fn func(*sample.Sample)) {
	for i := 0; i < r.size; i++ {
		fn(&r.slots[(r.head+i)%len(r.slots)])
	}
}

// Len returns the number of buffered samples.
func (r *RingBuffer) Len() int { return r.size }

// Cap returns the fixed capacity.
func (r *RingBuffer) Cap() int { return len(r.slots) }

package events

import (
	"fmt"
	"sync/atomic"
)

// Ring is a lock-free single-producer single-consumer ring buffer.
// Exactly one goroutine may Enqueue and exactly one may Dequeue.
type Ring[T any] struct {
	head  atomic.Uint64
	_pad1 [56]byte
	tail  atomic.Uint64
	_pad2 [56]byte
	buf   []T
	mask  uint64
}

// NewRing allocates a ring of size slots. size must be a power of two.
func NewRing[T any](size uint64) (*Ring[T], error) {
	if size == 0 || size&(size-1) != 0 {
		return nil, fmt.Errorf("events: ring size %d: %w", size, ErrRingSize)
	}
	return &Ring[T]{
		buf:  make([]T, size),
		mask: size - 1,
	}, nil
}

// Enqueue appends v, or reports false when the ring is full.
func (r *Ring[T]) Enqueue(v T) bool {
	h := r.head.Load()
	t := r.tail.Load()
	if h-t == uint64(len(r.buf)) {
		return false
	}
	r.buf[h&r.mask] = v
	r.head.Store(h + 1)
	return true
}

// Dequeue removes the oldest value, or reports false when the ring is empty.
func (r *Ring[T]) Dequeue() (T, bool) {
	var zero T
	t := r.tail.Load()
	h := r.head.Load()
	if t == h {
		return zero, false
	}
	v := r.buf[t&r.mask]
	r.buf[t&r.mask] = zero
	r.tail.Store(t + 1)
	return v, true
}

// Len is a snapshot; it may be stale by the time it returns.
func (r *Ring[T]) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

func (r *Ring[T]) Cap() int { return len(r.buf) }

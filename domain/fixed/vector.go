package fixed

import (
	"fmt"

	"ballast/infra/memory"
)

// Vector is a fixed-capacity contiguous sequence of T.
type Vector[T any] struct {
	alloc memory.Allocator[T]
	data  []T
	n     int
}

// NewVector returns an unreserved vector whose block is gated by phases.
func NewVector[T any](phases *memory.PhaseManager) *Vector[T] {
	return &Vector[T]{alloc: memory.NewPhaseCheckedAllocator[T](nil, phases)}
}

// Reserve grants the vector's block. Like memory.ObjectPool.Reserve it is a
// no-op for capacities not above the current one and refuses to grow.
func (v *Vector[T]) Reserve(capacity int) error {
	cur := len(v.data)
	if capacity <= cur {
		return nil
	}
	if cur > 0 {
		return memory.Fail(fmt.Errorf("reserve %d elements over %d: %w", capacity, cur, memory.ErrReReservation))
	}
	block, err := v.alloc.Allocate(capacity)
	if err != nil {
		return fmt.Errorf("reserve %d elements: %w", capacity, err)
	}
	v.data = block
	return nil
}

// Append adds x at the end.
func (v *Vector[T]) Append(x T) error {
	if v.n == len(v.data) {
		return memory.Fail(fmt.Errorf("append to vector of %d: %w", len(v.data), memory.ErrCapacityExhausted))
	}
	v.data[v.n] = x
	v.n++
	return nil
}

// Pop removes and returns the last element.
func (v *Vector[T]) Pop() (T, bool) {
	var zero T
	if v.n == 0 {
		return zero, false
	}
	v.n--
	x := v.data[v.n]
	v.data[v.n] = zero
	return x, true
}

// At returns element i. It panics if i is out of range, like a slice index.
func (v *Vector[T]) At(i int) T {
	return v.Slice()[i]
}

// Set replaces element i. It panics if i is out of range.
func (v *Vector[T]) Set(i int, x T) {
	v.Slice()[i] = x
}

// Slice returns the live elements. It aliases the vector's storage.
func (v *Vector[T]) Slice() []T {
	return v.data[:v.n:v.n]
}

// Truncate drops every element from index n on.
func (v *Vector[T]) Truncate(n int) {
	if n < 0 || n >= v.n {
		return
	}
	clear(v.data[n:v.n])
	v.n = n
}

func (v *Vector[T]) Clear()      { v.Truncate(0) }
func (v *Vector[T]) Len() int    { return v.n }
func (v *Vector[T]) Cap() int    { return len(v.data) }
func (v *Vector[T]) Full() bool  { return v.n == len(v.data) }
func (v *Vector[T]) Empty() bool { return v.n == 0 }

// Release clears the vector and returns its block. It must run during
// memory.PhaseDeallocation.
func (v *Vector[T]) Release() error {
	if len(v.data) == 0 {
		return nil
	}
	if err := v.alloc.Deallocate(v.data); err != nil {
		return err
	}
	clear(v.data[:v.n])
	v.data, v.n = nil, 0
	return nil
}

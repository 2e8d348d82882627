package fixed

import (
	"fmt"
	"iter"

	"ballast/domain/intrusive"
	"ballast/infra/memory"
)

type listEntry[T any] struct {
	intrusive.ListNode[listEntry[T]]
	value T
}

// Reset unlinks the entry before its slot is recycled.
func (e *listEntry[T]) Reset() {
	e.Unlink()
}

// List is a fixed-capacity sequence of T.
type List[T any] struct {
	phases *memory.PhaseManager
	pool   *memory.ObjectPool[listEntry[T]]
	items  intrusive.List[listEntry[T], *listEntry[T]]
}

// NewList returns an unreserved list whose storage is gated by phases.
func NewList[T any](phases *memory.PhaseManager) *List[T] {
	if phases == nil {
		phases = memory.Default()
	}
	return &List[T]{phases: phases, pool: memory.NewPhaseCheckedPool[listEntry[T]](phases)}
}

// Reserve grants storage for capacity values.
func (l *List[T]) Reserve(capacity int) error {
	return l.pool.Reserve(capacity)
}

func (l *List[T]) newEntry(v T) (*listEntry[T], error) {
	return l.pool.Create(func(e *listEntry[T]) error {
		e.value = v
		return nil
	})
}

func (l *List[T]) PushBack(v T) error {
	e, err := l.newEntry(v)
	if err != nil {
		return err
	}
	return l.items.PushBack(e)
}

func (l *List[T]) PushFront(v T) error {
	e, err := l.newEntry(v)
	if err != nil {
		return err
	}
	return l.items.PushFront(e)
}

func (l *List[T]) PopFront() (T, bool) {
	e, ok := l.items.PopFront()
	return l.take(e, ok)
}

func (l *List[T]) PopBack() (T, bool) {
	e, ok := l.items.PopBack()
	return l.take(e, ok)
}

func (l *List[T]) take(e *listEntry[T], ok bool) (T, bool) {
	var zero T
	if !ok {
		return zero, false
	}
	v := e.value
	memory.Check(l.pool.Destroy(e))
	return v, true
}

func (l *List[T]) Front() (T, bool) {
	e, ok := l.items.Front()
	if !ok {
		var zero T
		return zero, false
	}
	return e.value, true
}

func (l *List[T]) Back() (T, bool) {
	e, ok := l.items.Back()
	if !ok {
		var zero T
		return zero, false
	}
	return e.value, true
}

// RemoveFunc removes every value for which del returns true and reports how
// many were removed.
func (l *List[T]) RemoveFunc(del func(T) bool) int {
	n := 0
	for e := range l.items.All() {
		if del(e.value) {
			memory.Check(l.pool.Destroy(e))
			n++
		}
	}
	return n
}

// Clear removes every value and recycles its storage.
func (l *List[T]) Clear() {
	for e, ok := l.items.PopFront(); ok; e, ok = l.items.PopFront() {
		memory.Check(l.pool.Destroy(e))
	}
}

// All yields values front to back.
func (l *List[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for e := range l.items.All() {
			if !yield(e.value) {
				return
			}
		}
	}
}

func (l *List[T]) Len() int    { return l.items.Len() }
func (l *List[T]) Cap() int    { return l.pool.Cap() }
func (l *List[T]) Empty() bool { return l.items.Empty() }

// Full reports whether another push would fail.
func (l *List[T]) Full() bool { return l.pool.Full() }

func (l *List[T]) Stats() memory.PoolStats { return l.pool.Stats() }

// Release clears the list and returns its storage. It must run during
// memory.PhaseDeallocation.
func (l *List[T]) Release() error {
	if err := checkRelease(l.phases); err != nil {
		return err
	}
	l.Clear()
	return l.pool.Release()
}

// checkRelease refuses a release before any value is dropped, so a release
// in the wrong phase leaves the container intact.
func checkRelease(phases *memory.PhaseManager) error {
	if !phases.IsDeallocationAllowed() {
		return memory.Fail(fmt.Errorf("release in %s phase: %w", phases.Phase(), memory.ErrPhaseViolation))
	}
	return nil
}

package memory

import (
	"fmt"
	"sync"
)

// Allocator grants and returns contiguous blocks of T.
type Allocator[T any] interface {
	// Allocate returns a zeroed block of n elements.
	Allocate(n int) ([]T, error)
	// Deallocate returns a block previously granted by Allocate.
	Deallocate(block []T) error
}

// Resetter is implemented by values that hold state which must be torn down
// before their storage is recycled.
type Resetter interface {
	Reset()
}

// Construct runs init on the storage at p. It never consults the phase.
func Construct[T any](p *T, init func(*T) error) error {
	if p == nil {
		return ErrInvalidHandle
	}
	if init == nil {
		return nil
	}
	return init(p)
}

// Destruct runs the value's Reset hook, if any, and zeroes the storage at p.
// It never consults the phase.
func Destruct[T any](p *T) {
	if p == nil {
		return
	}
	if r, ok := any(p).(Resetter); ok {
		r.Reset()
	}
	var zero T
	*p = zero
}

// ---- heap delegate ----

// HeapAllocator takes blocks from the Go heap and keeps track of the ones it
// has granted so that foreign blocks are rejected on return.
type HeapAllocator[T any] struct {
	mu          sync.Mutex
	outstanding map[*T]int
}

func NewHeapAllocator[T any]() *HeapAllocator[T] {
	return &HeapAllocator[T]{outstanding: make(map[*T]int)}
}

func (a *HeapAllocator[T]) Allocate(n int) ([]T, error) {
	if n < 0 {
		return nil, fmt.Errorf("allocate %d elements: %w", n, ErrInvalidHandle)
	}
	if n == 0 {
		return nil, nil
	}
	block := make([]T, n)

	a.mu.Lock()
	if a.outstanding == nil {
		a.outstanding = make(map[*T]int)
	}
	a.outstanding[&block[0]] = n
	a.mu.Unlock()
	return block, nil
}

func (a *HeapAllocator[T]) Deallocate(block []T) error {
	if len(block) == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	n, ok := a.outstanding[&block[0]]
	if !ok || n != len(block) {
		return fmt.Errorf("deallocate block of %d: %w", len(block), ErrInvalidHandle)
	}
	delete(a.outstanding, &block[0])
	return nil
}

// Outstanding returns the number of granted blocks not yet returned.
func (a *HeapAllocator[T]) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.outstanding)
}

// ---- phase gate ----

// PhaseCheckedAllocator delegates to an inner Allocator only while the
// phase manager permits it: grants during PhaseAllocation, returns during
// PhaseDeallocation.
type PhaseCheckedAllocator[T any] struct {
	inner  Allocator[T]
	phases *PhaseManager
}

// NewPhaseCheckedAllocator wraps inner. A nil inner uses a HeapAllocator and
// a nil phases uses Default().
func NewPhaseCheckedAllocator[T any](inner Allocator[T], phases *PhaseManager) *PhaseCheckedAllocator[T] {
	if inner == nil {
		inner = NewHeapAllocator[T]()
	}
	if phases == nil {
		phases = Default()
	}
	return &PhaseCheckedAllocator[T]{inner: inner, phases: phases}
}

func (a *PhaseCheckedAllocator[T]) Allocate(n int) ([]T, error) {
	if !a.phases.IsAllocationAllowed() {
		return nil, Fail(fmt.Errorf("allocate %d elements in %s phase: %w",
			n, a.phases.Phase(), ErrPhaseViolation))
	}
	block, err := a.inner.Allocate(n)
	if err != nil {
		return nil, Fail(err)
	}
	return block, nil
}

func (a *PhaseCheckedAllocator[T]) Deallocate(block []T) error {
	if !a.phases.IsDeallocationAllowed() {
		return Fail(fmt.Errorf("deallocate %d elements in %s phase: %w",
			len(block), a.phases.Phase(), ErrPhaseViolation))
	}
	return Fail(a.inner.Deallocate(block))
}

// Construct initializes a value in already granted storage.
func (a *PhaseCheckedAllocator[T]) Construct(p *T, init func(*T) error) error {
	return Construct(p, init)
}

// Destruct tears down a value in already granted storage.
func (a *PhaseCheckedAllocator[T]) Destruct(p *T) {
	Destruct(p)
}

// Phases returns the manager consulted by a.
func (a *PhaseCheckedAllocator[T]) Phases() *PhaseManager {
	return a.phases
}

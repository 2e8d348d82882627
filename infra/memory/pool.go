package memory

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"unsafe"
)

const noSlot int32 = -1

const (
	slotFree uint32 = iota
	slotClaimed
	slotLive
	slotReleasing
)

// Slot is one cell of a pool's reserved block. While free it only carries
// the index of the next free slot; while live it carries the value.
// value must stay the first field: handles are addresses of it.
type Slot[T any] struct {
	value T
	next  int32
	state atomic.Uint32
}

// PoolStats is a point-in-time view of a pool's occupancy.
type PoolStats struct {
	Capacity  int
	Live      int
	Free      int
	HighWater int
}

// ObjectPool is a fixed-capacity recycling pool. Its storage is granted once
// by Reserve and recycled through an embedded free list; the most recently
// freed slot is reused first.
//
// The free-list head and counters are guarded by a mutex. Construction and
// destruction of values run outside it once a slot has been claimed.
type ObjectPool[T any] struct {
	alloc Allocator[Slot[T]]

	mu    sync.Mutex
	slots []Slot[T]
	head  int32
	live  int
	high  int
}

// NewObjectPool returns an unreserved pool drawing its block from alloc.
// A nil alloc uses a PhaseCheckedAllocator bound to Default().
func NewObjectPool[T any](alloc Allocator[Slot[T]]) *ObjectPool[T] {
	if alloc == nil {
		alloc = NewPhaseCheckedAllocator[Slot[T]](nil, nil)
	}
	return &ObjectPool[T]{alloc: alloc, head: noSlot}
}

// NewPhaseCheckedPool returns an unreserved pool whose block is granted and
// returned under the control of phases.
func NewPhaseCheckedPool[T any](phases *PhaseManager) *ObjectPool[T] {
	return NewObjectPool[T](NewPhaseCheckedAllocator[Slot[T]](nil, phases))
}

// Reserve grants the pool's one-time block of capacity slots and chains them
// into the free list. Asking for no more than the current capacity is a no-op;
// asking to grow an existing reservation fails with ErrReReservation.
func (p *ObjectPool[T]) Reserve(capacity int) error {
	if capacity < 0 || capacity > math.MaxInt32 {
		return Fail(fmt.Errorf("memory: reserve %d slots: capacity out of range", capacity))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cur := len(p.slots)
	if capacity <= cur {
		return nil
	}
	if cur > 0 {
		return Fail(fmt.Errorf("reserve %d slots over %d: %w", capacity, cur, ErrReReservation))
	}

	block, err := p.alloc.Allocate(capacity)
	if err != nil {
		return fmt.Errorf("reserve %d slots: %w", capacity, err)
	}
	if len(block) != capacity {
		return Fail(fmt.Errorf("memory: reserve %d slots: allocator granted %d", capacity, len(block)))
	}

	for i := range block {
		block[i].next = int32(i + 1)
	}
	block[capacity-1].next = noSlot

	p.slots = block
	p.head = 0
	return nil
}

// Create claims a free slot and runs init on it. If init fails or panics the
// slot goes back to the free list before the failure is passed on. A nil
// init leaves the value zeroed.
func (p *ObjectPool[T]) Create(init func(*T) error) (*T, error) {
	p.mu.Lock()
	if p.head == noSlot {
		capacity := len(p.slots)
		p.mu.Unlock()
		return nil, Fail(fmt.Errorf("create in pool of %d: %w", capacity, ErrCapacityExhausted))
	}
	i := p.head
	s := &p.slots[i]
	p.head = s.next
	s.next = noSlot
	s.state.Store(slotClaimed)
	p.live++
	if p.live > p.high {
		p.high = p.live
	}
	p.mu.Unlock()

	if err := p.construct(s, i, init); err != nil {
		return nil, Fail(err)
	}
	s.state.Store(slotLive)
	return &s.value, nil
}

func (p *ObjectPool[T]) construct(s *Slot[T], i int32, init func(*T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.recycle(s, i)
			panic(r)
		}
	}()
	if err = Construct(&s.value, init); err != nil {
		p.recycle(s, i)
	}
	return err
}

// Destroy tears down the value at v and returns its slot to the head of the
// free list. A nil v is a no-op. Pointers that are not live values of this
// pool fail with ErrInvalidHandle and leave the pool untouched.
func (p *ObjectPool[T]) Destroy(v *T) error {
	if v == nil {
		return nil
	}

	p.mu.Lock()
	i, ok := indexOf(p.slots, v)
	var s *Slot[T]
	if ok {
		s = &p.slots[i]
	}
	p.mu.Unlock()

	if !ok {
		return Fail(fmt.Errorf("destroy %p: not in pool block: %w", v, ErrInvalidHandle))
	}
	if !s.state.CompareAndSwap(slotLive, slotReleasing) {
		return Fail(fmt.Errorf("destroy %p: slot %d is not live: %w", v, i, ErrInvalidHandle))
	}

	Destruct(&s.value)
	p.recycle(s, i)
	return nil
}

// recycle zeroes the slot and pushes it onto the free list.
func (p *ObjectPool[T]) recycle(s *Slot[T], i int32) {
	var zero T
	s.value = zero

	p.mu.Lock()
	s.next = p.head
	s.state.Store(slotFree)
	p.head = i
	p.live--
	p.mu.Unlock()
}

// indexOf maps a value address back to its slot index.
func indexOf[T any](slots []Slot[T], v *T) (int32, bool) {
	if len(slots) == 0 {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(&slots[0].value))
	addr := uintptr(unsafe.Pointer(v))
	size := unsafe.Sizeof(slots[0])
	if addr < base {
		return 0, false
	}
	off := addr - base
	if off%size != 0 || off/size >= uintptr(len(slots)) {
		return 0, false
	}
	i := int32(off / size)
	if &slots[i].value != v {
		return 0, false
	}
	return i, true
}

// Release returns the pool's block to its allocator and leaves the pool
// unreserved. All values must have been destroyed first.
func (p *ObjectPool[T]) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.live > 0 {
		return Fail(fmt.Errorf("release with %d live values: %w", p.live, ErrPoolInUse))
	}
	if len(p.slots) == 0 {
		return nil
	}
	if err := p.alloc.Deallocate(p.slots); err != nil {
		return fmt.Errorf("release %d slots: %w", len(p.slots), err)
	}
	p.slots = nil
	p.head = noSlot
	return nil
}

// Contains reports whether v is a live value of this pool.
func (p *ObjectPool[T]) Contains(v *T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := indexOf(p.slots, v)
	return ok && p.slots[i].state.Load() == slotLive
}

// Full reports whether no free slot remains. The answer is advisory: it may
// be stale by the time the caller acts on it.
func (p *ObjectPool[T]) Full() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.head == noSlot
}

// Empty reports whether no value is live.
func (p *ObjectPool[T]) Empty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live == 0
}

// Len returns the number of live values.
func (p *ObjectPool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Cap returns the number of reserved slots.
func (p *ObjectPool[T]) Cap() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// HighWater returns the largest live count observed since reservation.
func (p *ObjectPool[T]) HighWater() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.high
}

// Stats returns capacity, live, free and high-water counts taken under one
// lock, so they are consistent with each other.
func (p *ObjectPool[T]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Capacity:  len(p.slots),
		Live:      p.live,
		Free:      len(p.slots) - p.live,
		HighWater: p.high,
	}
}

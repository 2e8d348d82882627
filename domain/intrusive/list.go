package intrusive

import (
	"fmt"
	"iter"
)

// ListNode holds the links of a value in a List. An unlinked node either is
// zero-valued or points at itself.
type ListNode[T any] struct {
	prev, next *ListNode[T]
	owner      *T
	list       *ring[T]
}

// ListHook returns n. Embedding ListNode[T] in T gives *T this method.
func (n *ListNode[T]) ListHook() *ListNode[T] { return n }

// Linked reports whether n is currently in a list.
func (n *ListNode[T]) Linked() bool { return n.list != nil }

// Unlink removes n from whatever list holds it. It is a no-op for an
// unlinked node. Values should call it from their teardown path so a list
// never points at recycled storage.
func (n *ListNode[T]) Unlink() {
	if n.list != nil {
		n.list.unlink(n)
	}
}

// Linkable is satisfied by *T when T embeds ListNode[T].
type Linkable[T any] interface {
	*T
	ListHook() *ListNode[T]
}

// ring is the sentinel-based core shared by List and its nodes.
type ring[T any] struct {
	root ListNode[T]
	size int
}

func (r *ring[T]) lazyInit() {
	if r.root.next == nil {
		r.root.next = &r.root
		r.root.prev = &r.root
	}
}

func (r *ring[T]) insertBefore(pos, n *ListNode[T]) {
	n.prev = pos.prev
	n.next = pos
	pos.prev.next = n
	pos.prev = n
	n.list = r
	r.size++
}

func (r *ring[T]) unlink(n *ListNode[T]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = n, n
	n.list = nil
	r.size--
}

// List is a circular doubly linked list of values of type T threaded through
// their embedded ListNode. The zero value is an empty list.
type List[T any, P Linkable[T]] struct {
	r ring[T]
}

func NewList[T any, P Linkable[T]]() *List[T, P] {
	l := &List[T, P]{}
	l.r.lazyInit()
	return l
}

func (l *List[T, P]) Len() int    { return l.r.size }
func (l *List[T, P]) Empty() bool { return l.r.size == 0 }

func (l *List[T, P]) link(pos *ListNode[T], v P) error {
	n := v.ListHook()
	if n.list != nil {
		return fmt.Errorf("push %p: %w", n, ErrAlreadyLinked)
	}
	n.owner = (*T)(v)
	l.r.insertBefore(pos, n)
	return nil
}

// PushFront links v at the front of the list.
func (l *List[T, P]) PushFront(v P) error {
	l.r.lazyInit()
	return l.link(l.r.root.next, v)
}

// PushBack links v at the back of the list.
func (l *List[T, P]) PushBack(v P) error {
	l.r.lazyInit()
	return l.link(&l.r.root, v)
}

// InsertBefore links v immediately before pos, which must be a position in l.
func (l *List[T, P]) InsertBefore(pos ListIterator[T, P], v P) error {
	l.r.lazyInit()
	if !l.owns(pos.n) {
		return fmt.Errorf("insert before %p: %w", pos.n, ErrNotLinked)
	}
	return l.link(pos.n, v)
}

func (l *List[T, P]) owns(n *ListNode[T]) bool {
	return n != nil && (n == &l.r.root || n.list == &l.r)
}

// Front returns the first value, or false if the list is empty.
func (l *List[T, P]) Front() (P, bool) {
	if l.r.size == 0 {
		var zero P
		return zero, false
	}
	return P(l.r.root.next.owner), true
}

// Back returns the last value, or false if the list is empty.
func (l *List[T, P]) Back() (P, bool) {
	if l.r.size == 0 {
		var zero P
		return zero, false
	}
	return P(l.r.root.prev.owner), true
}

// PopFront unlinks and returns the first value, or false if the list is empty.
func (l *List[T, P]) PopFront() (P, bool) {
	if l.r.size == 0 {
		var zero P
		return zero, false
	}
	n := l.r.root.next
	l.r.unlink(n)
	return P(n.owner), true
}

// PopBack unlinks and returns the last value, or false if the list is empty.
func (l *List[T, P]) PopBack() (P, bool) {
	if l.r.size == 0 {
		var zero P
		return zero, false
	}
	n := l.r.root.prev
	l.r.unlink(n)
	return P(n.owner), true
}

// Erase unlinks v. It fails with ErrNotLinked if v is not in l.
func (l *List[T, P]) Erase(v P) error {
	n := v.ListHook()
	if n.list != &l.r {
		return fmt.Errorf("erase %p: %w", n, ErrNotLinked)
	}
	l.r.unlink(n)
	return nil
}

// EraseAt unlinks the value at it and returns the position after it.
func (l *List[T, P]) EraseAt(it ListIterator[T, P]) (ListIterator[T, P], error) {
	if it.n == nil || it.n.list != &l.r {
		return it, fmt.Errorf("erase at %p: %w", it.n, ErrNotLinked)
	}
	next := it.n.next
	l.r.unlink(it.n)
	return ListIterator[T, P]{n: next}, nil
}

// Splice moves every value of other, in order, to just before pos and leaves
// other empty. pos must be a position in l. Neither list may be mutated
// concurrently. It costs O(len(other)): each moved node is re-tagged with l.
func (l *List[T, P]) Splice(pos ListIterator[T, P], other *List[T, P]) error {
	l.r.lazyInit()
	if !l.owns(pos.n) {
		return fmt.Errorf("splice at %p: %w", pos.n, ErrNotLinked)
	}
	if other == l || other.r.size == 0 {
		return nil
	}

	first, last := other.r.root.next, other.r.root.prev
	for n := first; n != &other.r.root; n = n.next {
		n.list = &l.r
	}

	before := pos.n.prev
	before.next = first
	first.prev = before
	last.next = pos.n
	pos.n.prev = last

	l.r.size += other.r.size
	other.r.size = 0
	other.r.root.next = &other.r.root
	other.r.root.prev = &other.r.root
	return nil
}

// Clear unlinks every value.
func (l *List[T, P]) Clear() {
	for l.r.size > 0 {
		l.r.unlink(l.r.root.next)
	}
}

// Begin returns the position of the first value, or End for an empty list.
func (l *List[T, P]) Begin() ListIterator[T, P] {
	l.r.lazyInit()
	return ListIterator[T, P]{n: l.r.root.next}
}

// End returns the sentinel position one past the last value.
func (l *List[T, P]) End() ListIterator[T, P] {
	l.r.lazyInit()
	return ListIterator[T, P]{n: &l.r.root}
}

// All yields values front to back. The current value may be erased during
// iteration.
func (l *List[T, P]) All() iter.Seq[P] {
	return func(yield func(P) bool) {
		l.r.lazyInit()
		for n := l.r.root.next; n != &l.r.root; {
			next := n.next
			if !yield(P(n.owner)) {
				return
			}
			n = next
		}
	}
}

// Backward yields values back to front.
func (l *List[T, P]) Backward() iter.Seq[P] {
	return func(yield func(P) bool) {
		l.r.lazyInit()
		for n := l.r.root.prev; n != &l.r.root; {
			prev := n.prev
			if !yield(P(n.owner)) {
				return
			}
			n = prev
		}
	}
}

// ListIterator is a position in a List. Positions compare equal with ==.
type ListIterator[T any, P Linkable[T]] struct {
	n *ListNode[T]
}

func (it ListIterator[T, P]) Next() ListIterator[T, P] { return ListIterator[T, P]{n: it.n.next} }
func (it ListIterator[T, P]) Prev() ListIterator[T, P] { return ListIterator[T, P]{n: it.n.prev} }

// Value returns the value at it, or nil at End.
func (it ListIterator[T, P]) Value() P {
	return P(it.n.owner)
}

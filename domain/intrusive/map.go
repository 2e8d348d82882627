package intrusive

import (
	"cmp"
	"fmt"
	"iter"
)

// MapNode holds the links of a value in a Map.
type MapNode[T any] struct {
	left, right, parent *MapNode[T]
	owner               *T
	tree                *mapHeader[T] // owning map, nil when unlinked
}

// MapHook returns n. Embedding MapNode[T] in T gives *T this method.
func (n *MapNode[T]) MapHook() *MapNode[T] { return n }

// Linked reports whether n is currently in a map.
func (n *MapNode[T]) Linked() bool { return n.tree != nil }

// Unlink removes n from the map holding it. It is a no-op for an unlinked
// node. Values embedding MapNode call it from their destructor.
func (n *MapNode[T]) Unlink() {
	if n.tree != nil {
		n.tree.erase(n)
	}
}

// mapHeader is the part of a Map a node needs to erase itself.
type mapHeader[T any] struct {
	end  MapNode[T]
	size int
}

// Keyed is satisfied by *T when T embeds MapNode[T] and reports its key.
type Keyed[K any, T any] interface {
	*T
	MapHook() *MapNode[T]
	MapKey() K
}

// Map is an unbalanced binary search tree of values of type T, ordered by the
// key each value reports and threaded through their embedded MapNode.
//
// The end node is the root sentinel: its left child is the real root, its
// right child is always nil, and it orders after every key, which makes it
// the past-the-end position. Depth is not bounded.
type Map[K any, T any, P Keyed[K, T]] struct {
	mapHeader[T]
	cmp func(a, b K) int
}

// NewMap returns an empty map ordered by compare, which returns a negative
// number, zero or a positive number when a sorts before, with or after b.
func NewMap[K any, T any, P Keyed[K, T]](compare func(a, b K) int) *Map[K, T, P] {
	return &Map[K, T, P]{cmp: compare}
}

// NewOrderedMap returns an empty map ordered by cmp.Compare.
func NewOrderedMap[K cmp.Ordered, T any, P Keyed[K, T]]() *Map[K, T, P] {
	return NewMap[K, T, P](cmp.Compare[K])
}

func (m *Map[K, T, P]) Len() int    { return m.size }
func (m *Map[K, T, P]) Empty() bool { return m.size == 0 }

func (m *Map[K, T, P]) key(n *MapNode[T]) K {
	return P(n.owner).MapKey()
}

// Insert links v unless a value with an equal key is present. It returns the
// value now holding the key (v itself, or the one that refused it) and
// whether v was inserted.
func (m *Map[K, T, P]) Insert(v P) (P, bool, error) {
	n := v.MapHook()
	if n.tree != nil {
		return v, false, fmt.Errorf("insert %p: %w", n, ErrAlreadyLinked)
	}

	k := v.MapKey()
	parent, link := &m.end, &m.end.left
	for cur := m.end.left; cur != nil; {
		c := m.cmp(k, m.key(cur))
		switch {
		case c < 0:
			parent, link, cur = cur, &cur.left, cur.left
		case c > 0:
			parent, link, cur = cur, &cur.right, cur.right
		default:
			return P(cur.owner), false, nil
		}
	}

	n.left, n.right, n.parent = nil, nil, parent
	n.owner = (*T)(v)
	n.tree = &m.mapHeader
	*link = n
	m.size++
	return v, true, nil
}

func (m *Map[K, T, P]) find(k K) *MapNode[T] {
	for cur := m.end.left; cur != nil; {
		c := m.cmp(k, m.key(cur))
		switch {
		case c < 0:
			cur = cur.left
		case c > 0:
			cur = cur.right
		default:
			return cur
		}
	}
	return &m.end
}

// Find returns the position of the value with key k, or End.
func (m *Map[K, T, P]) Find(k K) MapIterator[T, P] {
	return MapIterator[T, P]{n: m.find(k)}
}

// Get returns the value with key k.
func (m *Map[K, T, P]) Get(k K) (P, bool) {
	n := m.find(k)
	if n == &m.end {
		var zero P
		return zero, false
	}
	return P(n.owner), true
}

// Contains reports whether v is linked into m.
func (m *Map[K, T, P]) Contains(v P) bool {
	return v.MapHook().tree == &m.mapHeader
}

// LowerBound returns the position of the first value whose key is not less
// than k, or End.
func (m *Map[K, T, P]) LowerBound(k K) MapIterator[T, P] {
	res := &m.end
	for cur := m.end.left; cur != nil; {
		if m.cmp(m.key(cur), k) >= 0 {
			res, cur = cur, cur.left
		} else {
			cur = cur.right
		}
	}
	return MapIterator[T, P]{n: res}
}

// UpperBound returns the position of the first value whose key is greater
// than k, or End.
func (m *Map[K, T, P]) UpperBound(k K) MapIterator[T, P] {
	res := &m.end
	for cur := m.end.left; cur != nil; {
		if m.cmp(m.key(cur), k) > 0 {
			res, cur = cur, cur.left
		} else {
			cur = cur.right
		}
	}
	return MapIterator[T, P]{n: res}
}

// Erase unlinks v. It fails with ErrNotLinked if v is not in m.
func (m *Map[K, T, P]) Erase(v P) error {
	n := v.MapHook()
	if n.tree != &m.mapHeader {
		return fmt.Errorf("erase %p: %w", n, ErrNotLinked)
	}
	m.erase(n)
	return nil
}

// EraseAt unlinks the value at it and returns the position after it.
func (m *Map[K, T, P]) EraseAt(it MapIterator[T, P]) (MapIterator[T, P], error) {
	if it.n == nil || it.n.tree != &m.mapHeader {
		return it, fmt.Errorf("erase at %p: %w", it.n, ErrNotLinked)
	}
	next := successor(it.n)
	m.erase(it.n)
	return MapIterator[T, P]{n: next}, nil
}

// erase unlinks n. A node with two children is replaced by its in-order
// predecessor node itself, so every other value keeps its address and links.
func (h *mapHeader[T]) erase(n *MapNode[T]) {
	if n.left == nil || n.right == nil {
		spliceOut(n)
	} else {
		pred := findMaxLeft(n)
		spliceOut(pred)

		pred.left, pred.right, pred.parent = n.left, n.right, n.parent
		if pred.left != nil {
			pred.left.parent = pred
		}
		pred.right.parent = pred
		replaceChild(n.parent, n, pred)
	}
	n.left, n.right, n.parent, n.tree = nil, nil, nil, nil
	h.size--
}

// spliceOut unlinks n, which has at most one child, by moving that child
// into n's slot.
func spliceOut[T any](n *MapNode[T]) {
	child := n.left
	if child == nil {
		child = n.right
	}
	if child != nil {
		child.parent = n.parent
	}
	replaceChild(n.parent, n, child)
}

func replaceChild[T any](parent, old, repl *MapNode[T]) {
	if parent.left == old {
		parent.left = repl
	} else {
		parent.right = repl
	}
}

// Clear unlinks every value.
func (m *Map[K, T, P]) Clear() {
	for m.end.left != nil {
		m.erase(leftmost(&m.end))
	}
}

// ---- traversal ----

func leftmost[T any](n *MapNode[T]) *MapNode[T] {
	for n.left != nil {
		n = n.left
	}
	return n
}

func rightmost[T any](n *MapNode[T]) *MapNode[T] {
	for n.right != nil {
		n = n.right
	}
	return n
}

// findMinRight returns the smallest node in n's right subtree.
func findMinRight[T any](n *MapNode[T]) *MapNode[T] {
	return leftmost(n.right)
}

// findMaxLeft returns the largest node in n's left subtree.
func findMaxLeft[T any](n *MapNode[T]) *MapNode[T] {
	return rightmost(n.left)
}

// findLargerParent climbs to the first ancestor that n lies to the left of.
func findLargerParent[T any](n *MapNode[T]) *MapNode[T] {
	p := n.parent
	for p != nil && n == p.right {
		n, p = p, p.parent
	}
	return p
}

// findSmallerParent climbs to the first ancestor that n lies to the right of.
func findSmallerParent[T any](n *MapNode[T]) *MapNode[T] {
	p := n.parent
	for p != nil && n == p.left {
		n, p = p, p.parent
	}
	return p
}

func isEnd[T any](n *MapNode[T]) bool { return n.parent == nil }

func successor[T any](n *MapNode[T]) *MapNode[T] {
	if isEnd(n) {
		return n
	}
	if n.right != nil {
		return findMinRight(n)
	}
	return findLargerParent(n)
}

func predecessor[T any](n *MapNode[T]) *MapNode[T] {
	if isEnd(n) {
		if n.left == nil {
			return n
		}
		return findMaxLeft(n)
	}
	if n.left != nil {
		return findMaxLeft(n)
	}
	if p := findSmallerParent(n); p != nil {
		return p
	}
	// n is the smallest value: step back onto the end node
	for n.parent != nil {
		n = n.parent
	}
	return n
}

// Begin returns the position of the smallest value, or End for an empty map.
func (m *Map[K, T, P]) Begin() MapIterator[T, P] {
	return MapIterator[T, P]{n: leftmost(&m.end)}
}

// End returns the past-the-end position.
func (m *Map[K, T, P]) End() MapIterator[T, P] {
	return MapIterator[T, P]{n: &m.end}
}

// All yields values in ascending key order. The current value may be erased
// during iteration.
func (m *Map[K, T, P]) All() iter.Seq[P] {
	return func(yield func(P) bool) {
		for n := leftmost(&m.end); n != &m.end; {
			next := successor(n)
			if !yield(P(n.owner)) {
				return
			}
			n = next
		}
	}
}

// Backward yields values in descending key order.
func (m *Map[K, T, P]) Backward() iter.Seq[P] {
	return func(yield func(P) bool) {
		for n := predecessor(&m.end); n != &m.end; {
			prev := predecessor(n)
			if !yield(P(n.owner)) {
				return
			}
			n = prev
		}
	}
}

type pointer[T any] interface{ *T }

// MapIterator is a position in a Map. Positions compare equal with ==.
type MapIterator[T any, P pointer[T]] struct {
	n *MapNode[T]
}

// Next returns the position with the next larger key. End stays at End.
func (it MapIterator[T, P]) Next() MapIterator[T, P] { return MapIterator[T, P]{n: successor(it.n)} }

// Prev returns the position with the next smaller key. Prev of End is the
// largest value.
func (it MapIterator[T, P]) Prev() MapIterator[T, P] { return MapIterator[T, P]{n: predecessor(it.n)} }

// IsEnd reports whether it is the past-the-end position.
func (it MapIterator[T, P]) IsEnd() bool { return isEnd(it.n) }

// Value returns the value at it, or the zero P at End.
func (it MapIterator[T, P]) Value() P {
	if it.IsEnd() {
		return nil
	}
	return P(it.n.owner)
}

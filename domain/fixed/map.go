package fixed

import (
	"cmp"
	"iter"

	"ballast/domain/intrusive"
	"ballast/infra/memory"
)

type mapEntry[K, V any] struct {
	intrusive.MapNode[mapEntry[K, V]]
	key   K
	value V
}

func (e *mapEntry[K, V]) MapKey() K { return e.key }

// Reset unlinks the entry before its slot is recycled.
func (e *mapEntry[K, V]) Reset() {
	e.Unlink()
}

// Map is a fixed-capacity ordered map.
type Map[K, V any] struct {
	phases *memory.PhaseManager
	pool   *memory.ObjectPool[mapEntry[K, V]]
	tree   *intrusive.Map[K, mapEntry[K, V], *mapEntry[K, V]]
}

// NewMap returns an unreserved map ordered by cmp.Compare.
func NewMap[K cmp.Ordered, V any](phases *memory.PhaseManager) *Map[K, V] {
	return NewMapFunc[K, V](phases, cmp.Compare[K])
}

// NewMapFunc returns an unreserved map ordered by compare.
func NewMapFunc[K, V any](phases *memory.PhaseManager, compare func(a, b K) int) *Map[K, V] {
	if phases == nil {
		phases = memory.Default()
	}
	return &Map[K, V]{
		phases: phases,
		pool:   memory.NewPhaseCheckedPool[mapEntry[K, V]](phases),
		tree:   intrusive.NewMap[K, mapEntry[K, V], *mapEntry[K, V]](compare),
	}
}

func (m *Map[K, V]) Reserve(capacity int) error {
	return m.pool.Reserve(capacity)
}

// Insert adds k unless it is already present, in which case the stored
// value is left alone and Insert reports false.
func (m *Map[K, V]) Insert(k K, v V) (bool, error) {
	if _, ok := m.tree.Get(k); ok {
		return false, nil
	}
	e, err := m.pool.Create(func(e *mapEntry[K, V]) error {
		e.key, e.value = k, v
		return nil
	})
	if err != nil {
		return false, err
	}
	if _, _, err := m.tree.Insert(e); err != nil {
		memory.Check(m.pool.Destroy(e))
		return false, err
	}
	return true, nil
}

// Set stores v under k, replacing any existing value.
func (m *Map[K, V]) Set(k K, v V) error {
	if e, ok := m.tree.Get(k); ok {
		e.value = v
		return nil
	}
	_, err := m.Insert(k, v)
	return err
}

func (m *Map[K, V]) Get(k K) (V, bool) {
	e, ok := m.tree.Get(k)
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes k and reports whether it was present.
func (m *Map[K, V]) Delete(k K) bool {
	e, ok := m.tree.Get(k)
	if !ok {
		return false
	}
	memory.Check(m.tree.Erase(e))
	memory.Check(m.pool.Destroy(e))
	return true
}

// Min returns the smallest key and its value.
func (m *Map[K, V]) Min() (K, V, bool) {
	return m.at(m.tree.Begin())
}

// Max returns the largest key and its value.
func (m *Map[K, V]) Max() (K, V, bool) {
	return m.at(m.tree.End().Prev())
}

func (m *Map[K, V]) at(it intrusive.MapIterator[mapEntry[K, V], *mapEntry[K, V]]) (K, V, bool) {
	if it.IsEnd() {
		var (
			k K
			v V
		)
		return k, v, false
	}
	e := it.Value()
	return e.key, e.value, true
}

// All yields entries in ascending key order.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for e := range m.tree.All() {
			if !yield(e.key, e.value) {
				return
			}
		}
	}
}

// Range yields entries with lo <= key < hi in ascending order.
func (m *Map[K, V]) Range(lo, hi K) iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		end := m.tree.LowerBound(hi)
		for it := m.tree.LowerBound(lo); it != end && !it.IsEnd(); it = it.Next() {
			e := it.Value()
			if !yield(e.key, e.value) {
				return
			}
		}
	}
}

// Clear removes every entry and recycles its storage.
func (m *Map[K, V]) Clear() {
	for e := range m.tree.All() {
		memory.Check(m.tree.Erase(e))
		memory.Check(m.pool.Destroy(e))
	}
}

func (m *Map[K, V]) Len() int                { return m.tree.Len() }
func (m *Map[K, V]) Cap() int                { return m.pool.Cap() }
func (m *Map[K, V]) Full() bool              { return m.pool.Full() }
func (m *Map[K, V]) Stats() memory.PoolStats { return m.pool.Stats() }

// Release clears the map and returns its storage. It must run during
// memory.PhaseDeallocation.
func (m *Map[K, V]) Release() error {
	if err := checkRelease(m.phases); err != nil {
		return err
	}
	m.Clear()
	return m.pool.Release()
}

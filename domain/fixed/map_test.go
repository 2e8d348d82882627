package fixed_test

import (
	"iter"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballast/domain/fixed"
	"ballast/infra/memory"
)

func collect[K, V any](seq iter.Seq2[K, V]) ([]K, []V) {
	var ks []K
	var vs []V
	for k, v := range seq {
		ks = append(ks, k)
		vs = append(vs, v)
	}
	return ks, vs
}

func TestMap_InsertGetDelete(t *testing.T) {
	phases := memory.NewPhaseManager()
	m := fixed.NewMap[int, string](phases)
	require.NoError(t, m.Reserve(3))
	phases.SetPhase(memory.PhaseSteady)

	for _, k := range []int{5, 3, 8} {
		ok, err := m.Insert(k, strings.Repeat("x", k))
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := m.Insert(5, "dup")
	require.NoError(t, err)
	assert.False(t, ok)
	v, _ := m.Get(5)
	assert.Equal(t, "xxxxx", v)

	_, err = m.Insert(1, "one")
	require.ErrorIs(t, err, memory.ErrCapacityExhausted)

	assert.True(t, m.Delete(3))
	assert.False(t, m.Delete(3))
	ok, err = m.Insert(1, "one")
	require.NoError(t, err)
	assert.True(t, ok)

	ks, _ := collect(m.All())
	assert.Equal(t, []int{1, 5, 8}, ks)
}

func TestMap_SetReplaces(t *testing.T) {
	m := fixed.NewMap[string, int](memory.NewPhaseManager())
	require.NoError(t, m.Reserve(2))

	require.NoError(t, m.Set("a", 1))
	require.NoError(t, m.Set("a", 2))
	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, m.Len())
}

func TestMap_MinMaxRange(t *testing.T) {
	m := fixed.NewMap[int, int](memory.NewPhaseManager())
	require.NoError(t, m.Reserve(8))

	_, _, ok := m.Min()
	assert.False(t, ok)

	for _, k := range []int{40, 10, 30, 20, 50} {
		_, err := m.Insert(k, k*10)
		require.NoError(t, err)
	}

	k, v, ok := m.Min()
	require.True(t, ok)
	assert.Equal(t, 10, k)
	assert.Equal(t, 100, v)

	k, _, ok = m.Max()
	require.True(t, ok)
	assert.Equal(t, 50, k)

	ks, vs := collect(m.Range(15, 40))
	assert.Equal(t, []int{20, 30}, ks)
	assert.Equal(t, []int{200, 300}, vs)

	ks, _ = collect(m.Range(45, 100))
	assert.Equal(t, []int{50}, ks)
}

func TestMap_CustomOrder(t *testing.T) {
	m := fixed.NewMapFunc[int, struct{}](memory.NewPhaseManager(), func(a, b int) int { return b - a })
	require.NoError(t, m.Reserve(3))
	for _, k := range []int{1, 3, 2} {
		_, err := m.Insert(k, struct{}{})
		require.NoError(t, err)
	}
	ks, _ := collect(m.All())
	assert.Equal(t, []int{3, 2, 1}, ks)
}

func TestMap_ClearAndRelease(t *testing.T) {
	phases := memory.NewPhaseManager()
	m := fixed.NewMap[int, int](phases)
	require.NoError(t, m.Reserve(4))
	for i := 0; i < 4; i++ {
		_, err := m.Insert(i, i)
		require.NoError(t, err)
	}
	m.Clear()
	assert.Equal(t, 0, m.Len())
	assert.False(t, m.Full())

	_, err := m.Insert(7, 7)
	require.NoError(t, err)

	require.ErrorIs(t, m.Release(), memory.ErrPhaseViolation)
	phases.SetPhase(memory.PhaseDeallocation)
	require.NoError(t, m.Release())
	assert.Equal(t, 0, m.Cap())
}

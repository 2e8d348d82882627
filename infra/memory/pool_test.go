package memory_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballast/infra/memory"
)

func newPool[T any](t *testing.T, capacity int) (*memory.ObjectPool[T], *memory.PhaseManager) {
	t.Helper()
	m := memory.NewPhaseManager()
	p := memory.NewPhaseCheckedPool[T](m)
	require.NoError(t, p.Reserve(capacity))
	return p, m
}

func TestObjectPool_ExactlyCapacityCreates(t *testing.T) {
	for n := 0; n <= 16; n++ {
		p, _ := newPool[int](t, n)
		assert.Equal(t, n, p.Cap())

		for i := 0; i < n; i++ {
			v, err := p.Create(nil)
			require.NoError(t, err, "create %d of %d", i, n)
			require.NotNil(t, v)
			assert.Equal(t, i+1, p.Len())
		}
		_, err := p.Create(nil)
		require.ErrorIs(t, err, memory.ErrCapacityExhausted, "capacity %d", n)
		assert.True(t, p.Full())
		assert.Equal(t, n, p.Len())
	}
}

func TestObjectPool_ScenarioThreeSlots(t *testing.T) {
	p, _ := newPool[int](t, 3)
	for i := 0; i < 3; i++ {
		_, err := p.Create(nil)
		require.NoError(t, err)
	}
	_, err := p.Create(nil)
	require.ErrorIs(t, err, memory.ErrCapacityExhausted)
}

func TestObjectPool_UnreservedCannotCreate(t *testing.T) {
	p := memory.NewPhaseCheckedPool[int](memory.NewPhaseManager())
	assert.Equal(t, 0, p.Cap())
	assert.True(t, p.Full())
	assert.True(t, p.Empty())

	_, err := p.Create(nil)
	require.ErrorIs(t, err, memory.ErrCapacityExhausted)
}

func TestObjectPool_MostRecentlyFreedReusedFirst(t *testing.T) {
	p, _ := newPool[int](t, 4)

	a, err := p.Create(nil)
	require.NoError(t, err)
	b, err := p.Create(nil)
	require.NoError(t, err)

	require.NoError(t, p.Destroy(a))
	again, err := p.Create(nil)
	require.NoError(t, err)
	assert.Same(t, a, again)

	require.NoError(t, p.Destroy(again))
	require.NoError(t, p.Destroy(b))
	first, err := p.Create(nil)
	require.NoError(t, err)
	assert.Same(t, b, first)
}

func TestObjectPool_Reserve(t *testing.T) {
	p, _ := newPool[int](t, 4)
	_, err := p.Create(nil)
	require.NoError(t, err)

	t.Run("smaller is a no-op", func(t *testing.T) {
		require.NoError(t, p.Reserve(2))
		assert.Equal(t, 4, p.Cap())
		assert.Equal(t, 1, p.Len())
	})

	t.Run("equal is a no-op", func(t *testing.T) {
		require.NoError(t, p.Reserve(4))
		assert.Equal(t, 4, p.Cap())
	})

	t.Run("growth fails", func(t *testing.T) {
		require.ErrorIs(t, p.Reserve(5), memory.ErrReReservation)
		assert.Equal(t, 4, p.Cap())
		assert.Equal(t, 1, p.Len())
	})

	t.Run("negative fails", func(t *testing.T) {
		require.Error(t, p.Reserve(-1))
	})
}

func TestObjectPool_ReserveOutsideAllocationPhase(t *testing.T) {
	m := memory.NewPhaseManager()
	m.SetPhase(memory.PhaseSteady)
	p := memory.NewPhaseCheckedPool[int](m)

	require.ErrorIs(t, p.Reserve(4), memory.ErrPhaseViolation)
	assert.Equal(t, 0, p.Cap())
}

func TestObjectPool_InitRunsInPlace(t *testing.T) {
	type point struct{ x, y int }
	p, _ := newPool[point](t, 2)

	v, err := p.Create(func(pt *point) error {
		pt.x, pt.y = 3, 4
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, point{3, 4}, *v)
}

func TestObjectPool_FailedInitReturnsSlot(t *testing.T) {
	p, _ := newPool[int](t, 1)
	boom := errors.New("boom")

	_, err := p.Create(func(v *int) error {
		*v = 99
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, p.Len())
	assert.False(t, p.Full())

	v, err := p.Create(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, *v, "slot must be zeroed after a failed init")
}

func TestObjectPool_PanickingInitReturnsSlot(t *testing.T) {
	p, _ := newPool[int](t, 1)

	assert.PanicsWithValue(t, "ctor", func() {
		_, _ = p.Create(func(*int) error { panic("ctor") })
	})
	assert.Equal(t, 0, p.Len())

	_, err := p.Create(nil)
	require.NoError(t, err)
}

func TestObjectPool_DestroyNilIsNoop(t *testing.T) {
	p, _ := newPool[int](t, 1)
	require.NoError(t, p.Destroy(nil))
}

func TestObjectPool_DestroyForeignPointer(t *testing.T) {
	p, _ := newPool[int](t, 2)
	other, _ := newPool[int](t, 2)

	a, err := p.Create(nil)
	require.NoError(t, err)
	before := p.Stats()

	outside := new(int)
	require.ErrorIs(t, p.Destroy(outside), memory.ErrInvalidHandle)

	foreign, err := other.Create(nil)
	require.NoError(t, err)
	require.ErrorIs(t, p.Destroy(foreign), memory.ErrInvalidHandle)

	assert.Equal(t, before, p.Stats())

	// the free list is untouched: the next create takes the remaining slot
	// and the one after that is exhausted
	b, err := p.Create(nil)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	_, err = p.Create(nil)
	require.ErrorIs(t, err, memory.ErrCapacityExhausted)
}

func TestObjectPool_DoubleDestroy(t *testing.T) {
	p, _ := newPool[int](t, 2)
	v, err := p.Create(nil)
	require.NoError(t, err)

	require.NoError(t, p.Destroy(v))
	require.ErrorIs(t, p.Destroy(v), memory.ErrInvalidHandle)
	assert.Equal(t, 0, p.Len())
}

func TestObjectPool_DestroyRunsResetHook(t *testing.T) {
	p, _ := newPool[tracked](t, 1)
	var resets []int

	v, err := p.Create(func(v *tracked) error {
		v.n, v.log = 42, &resets
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, p.Destroy(v))

	assert.Equal(t, []int{42}, resets)
	assert.Equal(t, tracked{}, *v)
}

func TestObjectPool_Contains(t *testing.T) {
	p, _ := newPool[int](t, 2)
	v, err := p.Create(nil)
	require.NoError(t, err)

	assert.True(t, p.Contains(v))
	assert.False(t, p.Contains(new(int)))
	require.NoError(t, p.Destroy(v))
	assert.False(t, p.Contains(v))
}

func TestObjectPool_StatsAndHighWater(t *testing.T) {
	p, _ := newPool[int](t, 5)
	var vs []*int
	for i := 0; i < 4; i++ {
		v, err := p.Create(nil)
		require.NoError(t, err)
		vs = append(vs, v)
	}
	for _, v := range vs[:3] {
		require.NoError(t, p.Destroy(v))
	}

	assert.Equal(t, memory.PoolStats{Capacity: 5, Live: 1, Free: 4, HighWater: 4}, p.Stats())
	assert.Equal(t, 4, p.HighWater())
}

func TestObjectPool_Release(t *testing.T) {
	p, m := newPool[int](t, 2)
	v, err := p.Create(nil)
	require.NoError(t, err)

	m.SetPhase(memory.PhaseDeallocation)
	require.ErrorIs(t, p.Release(), memory.ErrPoolInUse)

	require.NoError(t, p.Destroy(v))
	require.NoError(t, p.Release())
	assert.Equal(t, 0, p.Cap())
	require.NoError(t, p.Release())
}

func TestObjectPool_ReleaseInSteadyPhase(t *testing.T) {
	p, m := newPool[int](t, 2)
	m.SetPhase(memory.PhaseSteady)

	require.ErrorIs(t, p.Release(), memory.ErrPhaseViolation)
	assert.Equal(t, 2, p.Cap())
}

func TestObjectPool_ConcurrentCreateDestroy(t *testing.T) {
	const (
		capacity = 64
		workers  = 8
		rounds   = 500
	)
	p, m := newPool[[4]int](t, capacity)
	m.SetPhase(memory.PhaseSteady)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				v, err := p.Create(func(v *[4]int) error {
					v[0] = w
					return nil
				})
				if errors.Is(err, memory.ErrCapacityExhausted) {
					continue
				}
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, w, v[0])
				assert.NoError(t, p.Destroy(v))
			}
		}(w)
	}
	wg.Wait()

	assert.True(t, p.Empty())
	assert.Equal(t, capacity, p.Stats().Free)
}

package fixed_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballast/domain/fixed"
	"ballast/infra/memory"
)

func TestVector_AppendUntilFull(t *testing.T) {
	phases := memory.NewPhaseManager()
	v := fixed.NewVector[int](phases)
	require.NoError(t, v.Reserve(3))
	phases.SetPhase(memory.PhaseSteady)

	for i := 1; i <= 3; i++ {
		require.NoError(t, v.Append(i))
	}
	require.ErrorIs(t, v.Append(4), memory.ErrCapacityExhausted)
	assert.Equal(t, []int{1, 2, 3}, v.Slice())
	assert.True(t, v.Full())

	v.Set(1, 20)
	assert.Equal(t, 20, v.At(1))
	assert.Panics(t, func() { v.At(3) })

	x, ok := v.Pop()
	require.True(t, ok)
	assert.Equal(t, 3, x)
	assert.Equal(t, 2, v.Len())
}

func TestVector_Reserve(t *testing.T) {
	phases := memory.NewPhaseManager()
	v := fixed.NewVector[byte](phases)
	require.NoError(t, v.Reserve(4))
	require.NoError(t, v.Reserve(2))
	require.ErrorIs(t, v.Reserve(8), memory.ErrReReservation)
	assert.Equal(t, 4, v.Cap())

	late := fixed.NewVector[byte](phases)
	phases.SetPhase(memory.PhaseSteady)
	require.ErrorIs(t, late.Reserve(1), memory.ErrPhaseViolation)
}

func TestVector_TruncateAndRelease(t *testing.T) {
	phases := memory.NewPhaseManager()
	v := fixed.NewVector[string](phases)
	require.NoError(t, v.Reserve(4))
	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, v.Append(s))
	}

	v.Truncate(1)
	assert.Equal(t, []string{"a"}, v.Slice())
	_, ok := v.Pop()
	require.True(t, ok)
	_, ok = v.Pop()
	assert.False(t, ok)

	require.NoError(t, v.Append("z"))
	require.ErrorIs(t, v.Release(), memory.ErrPhaseViolation)
	assert.Equal(t, 1, v.Len())

	phases.SetPhase(memory.PhaseDeallocation)
	require.NoError(t, v.Release())
	assert.Equal(t, 0, v.Cap())
	assert.True(t, v.Empty())
}

package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballast/infra/events"
	"ballast/infra/memory"
	"ballast/infra/outbox"
)

func openRuntime(t *testing.T, cfg Config) *Runtime {
	t.Helper()
	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	rt, err := Open(cfg, memory.NewPhaseManager())
	require.NoError(t, err)
	return rt
}

func closeRuntime(t *testing.T, rt *Runtime) {
	t.Helper()
	require.NoError(t, rt.Deallocate())
	require.NoError(t, rt.Close())
}

func outboxEvents(t *testing.T, ob *outbox.Outbox) []events.Event {
	t.Helper()
	var out []events.Event
	require.NoError(t, ob.ScanByState(outbox.StateNew, func(seq uint64, rec outbox.Record) error {
		e, err := events.Decode(rec.Payload)
		require.NoError(t, err)
		require.Equal(t, seq, e.Seq)
		out = append(out, e)
		return nil
	}))
	return out
}

func TestAdvanceRecordsPhaseChanges(t *testing.T) {
	rt := openRuntime(t, Config{})
	defer closeRuntime(t, rt)

	require.NoError(t, rt.EnterSteady())
	require.ErrorIs(t, rt.EnterSteady(), ErrPhaseOrder)
	require.ErrorIs(t, rt.Advance(memory.PhaseAllocation), ErrPhaseOrder)
	assert.Equal(t, memory.PhaseSteady, rt.Phase())

	n, err := rt.Flush()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got := outboxEvents(t, rt.Outbox())
	require.Len(t, got, 1)
	assert.Equal(t, events.KindPhaseChanged, got[0].Kind)
	assert.Equal(t, "steady", got[0].Phase)
	assert.Equal(t, "allocation -> steady", got[0].Detail)
}

func TestObserveClassifiesFailures(t *testing.T) {
	rt := openRuntime(t, Config{})
	defer closeRuntime(t, rt)

	exhausted := fmt.Errorf("create: %w", memory.ErrCapacityExhausted)
	assert.Same(t, exhausted, rt.Observe("orders", exhausted))
	require.ErrorIs(t, rt.Observe("orders", memory.ErrPhaseViolation), memory.ErrPhaseViolation)
	require.ErrorIs(t, rt.Observe("orders", memory.ErrInvalidHandle), memory.ErrInvalidHandle)
	other := errors.New("unrelated")
	require.ErrorIs(t, rt.Observe("orders", other), other)
	require.NoError(t, rt.Observe("orders", nil))

	_, err := rt.Flush()
	require.NoError(t, err)

	got := outboxEvents(t, rt.Outbox())
	require.Len(t, got, 3)
	assert.Equal(t, events.KindPoolExhausted, got[0].Kind)
	assert.Equal(t, "orders", got[0].Pool)
	assert.Equal(t, events.KindPhaseViolation, got[1].Kind)
	assert.Equal(t, events.KindInvalidHandle, got[2].Kind)
}

func TestRegistry(t *testing.T) {
	rt := openRuntime(t, Config{MaxPools: 2})
	defer closeRuntime(t, rt)

	a := memory.NewPhaseCheckedPool[int](rt.Phases())
	require.NoError(t, a.Reserve(4))
	b := memory.NewPhaseCheckedPool[int](rt.Phases())
	require.NoError(t, b.Reserve(2))

	require.NoError(t, rt.Register("b", b))
	require.NoError(t, rt.Register("a", a))
	require.ErrorIs(t, rt.Register("a", a), ErrDuplicatePool)
	require.ErrorIs(t, rt.Register("c", a), memory.ErrCapacityExhausted)

	_, err := a.Create(nil)
	require.NoError(t, err)

	pools := rt.Pools()
	require.Len(t, pools, 2)
	assert.Equal(t, "a", pools[0].Name)
	assert.Equal(t, memory.PoolStats{Capacity: 4, Live: 1, Free: 3, HighWater: 1}, pools[0].Stats)
	assert.Equal(t, "b", pools[1].Name)
}

func TestDeallocateStoresWatermarks(t *testing.T) {
	dir := t.TempDir()
	rt := openRuntime(t, Config{DataDir: dir})

	p := memory.NewPhaseCheckedPool[int](rt.Phases())
	require.NoError(t, p.Reserve(100))
	require.NoError(t, rt.Register("hot", p))
	require.NoError(t, rt.EnterSteady())

	var live []*int
	for i := 0; i < 80; i++ {
		v, err := p.Create(nil)
		require.NoError(t, err)
		live = append(live, v)
	}
	for _, v := range live {
		require.NoError(t, p.Destroy(v))
	}

	require.NoError(t, rt.Deallocate())
	require.NoError(t, p.Release())
	require.NoError(t, rt.Close())

	rt = openRuntime(t, Config{DataDir: dir})
	defer closeRuntime(t, rt)
	assert.Equal(t, 100, rt.Plan("hot", 10))
	assert.Equal(t, 10, rt.Plan("cold", 10))
}

func TestSequenceResumesAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	rt := openRuntime(t, Config{DataDir: dir})
	require.NoError(t, rt.EnterSteady())
	closeRuntime(t, rt)

	rt = openRuntime(t, Config{DataDir: dir})
	defer closeRuntime(t, rt)
	_ = rt.Observe("x", memory.ErrCapacityExhausted)
	_, err := rt.Flush()
	require.NoError(t, err)

	got := outboxEvents(t, rt.Outbox())
	require.Len(t, got, 3)
	for i, e := range got {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
	assert.Equal(t, events.KindPoolExhausted, got[2].Kind)
}

func TestSequenceNotReusedAfterDelete(t *testing.T) {
	dir := t.TempDir()
	rt := openRuntime(t, Config{DataDir: dir})
	_ = rt.Observe("x", memory.ErrCapacityExhausted)
	_, err := rt.Flush()
	require.NoError(t, err)
	require.NoError(t, rt.Outbox().Delete(1))
	require.NoError(t, rt.Close())

	rt = openRuntime(t, Config{DataDir: dir})
	defer closeRuntime(t, rt)
	_ = rt.Observe("x", memory.ErrCapacityExhausted)
	_, err = rt.Flush()
	require.NoError(t, err)

	got := outboxEvents(t, rt.Outbox())
	require.Len(t, got, 1)
	assert.Equal(t, uint64(2), got[0].Seq)
}

func TestFlushRetriesFailedBatch(t *testing.T) {
	rt := openRuntime(t, Config{})
	defer closeRuntime(t, rt)

	_ = rt.Observe("a", memory.ErrCapacityExhausted)
	_ = rt.Observe("b", memory.ErrInvalidHandle)
	rt.appendEntries = func([]outbox.Entry) error { return errors.New("disk full") }

	n, err := rt.Flush()
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, rt.Pending())

	_ = rt.Observe("c", memory.ErrPhaseViolation)
	rt.appendEntries = rt.Outbox().Append
	n, err = rt.Flush()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Zero(t, rt.Pending())

	got := outboxEvents(t, rt.Outbox())
	require.Len(t, got, 3)
	for i, pool := range []string{"a", "b", "c"} {
		assert.Equal(t, uint64(i+1), got[i].Seq)
		assert.Equal(t, pool, got[i].Pool)
	}
}

func TestFlushHoldsAtMostOneRingWhileFailing(t *testing.T) {
	rt := openRuntime(t, Config{RingSize: 2})
	defer closeRuntime(t, rt)

	rt.appendEntries = func([]outbox.Entry) error { return errors.New("disk full") }
	for range 2 {
		_ = rt.Observe("p", memory.ErrCapacityExhausted)
	}
	_, err := rt.Flush()
	require.Error(t, err)

	for range 3 {
		_ = rt.Observe("p", memory.ErrCapacityExhausted)
	}
	_, err = rt.Flush()
	require.Error(t, err)
	assert.Equal(t, 2, rt.Pending())
	assert.Equal(t, uint64(1), rt.Dropped(), "the ring backs up instead")

	rt.appendEntries = rt.Outbox().Append
	n, err := rt.Flush()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = rt.Flush()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got := outboxEvents(t, rt.Outbox())
	require.Len(t, got, 4)
	for i, e := range got {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
}

func TestCloseStopsPhaseEvents(t *testing.T) {
	phases := memory.NewPhaseManager()
	closed, err := Open(Config{DataDir: t.TempDir()}, phases)
	require.NoError(t, err)
	live, err := Open(Config{DataDir: t.TempDir()}, phases)
	require.NoError(t, err)
	defer closeRuntime(t, live)

	require.NoError(t, closed.Close())
	require.NoError(t, live.EnterSteady())

	_, ok := closed.ring.Dequeue()
	assert.False(t, ok)
	n, err := live.Flush()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRingOverflowDropsEvents(t *testing.T) {
	rt := openRuntime(t, Config{RingSize: 2})
	defer closeRuntime(t, rt)

	for i := 0; i < 5; i++ {
		_ = rt.Observe("tiny", memory.ErrCapacityExhausted)
	}
	assert.Equal(t, uint64(3), rt.Dropped())

	n, err := rt.Flush()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRunFlushesPeriodically(t *testing.T) {
	rt := openRuntime(t, Config{FlushInterval: 5 * time.Millisecond})
	defer closeRuntime(t, rt)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rt.Run(ctx)
		close(done)
	}()

	_ = rt.Observe("p", memory.ErrCapacityExhausted)
	require.Eventually(t, func() bool {
		counts, err := rt.Outbox().Counts()
		return err == nil && counts[outbox.StateNew] == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestOpenOutsideAllocationPhase(t *testing.T) {
	phases := memory.NewPhaseManager()
	phases.SetPhase(memory.PhaseSteady)

	_, err := Open(Config{DataDir: t.TempDir()}, phases)
	require.ErrorIs(t, err, memory.ErrPhaseViolation)
}

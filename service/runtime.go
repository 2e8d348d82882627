package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ballast/domain/fixed"
	"ballast/infra/events"
	"ballast/infra/memory"
	"ballast/infra/outbox"
	"ballast/infra/sequence"
	"ballast/infra/watermark"
)

// Pool is anything whose occupancy can be reported: object pools, fixed
// containers, work queues.
type Pool interface {
	Stats() memory.PoolStats
}

// PoolReport is one registered pool's occupancy.
type PoolReport struct {
	Name  string
	Stats memory.PoolStats
}

/*
Runtime is the single owner of a process's memory lifecycle.

Pools are reserved and registered during PhaseAllocation, used during
PhaseSteady, and released after Deallocate. Failures observed along the
way are recorded as events and flushed to the outbox.
*/
type Runtime struct {
	cfg    Config
	phases *memory.PhaseManager
	log    *slog.Logger

	poolsMu sync.Mutex
	pools   *fixed.Map[string, Pool]

	// Ring is single-producer single-consumer; these serialize each side.
	recordMu sync.Mutex
	flushMu  sync.Mutex
	ring     *events.Ring[events.Event]
	dropped  atomic.Uint64

	// pending holds encoded events whose outbox write failed; guarded by
	// flushMu and retried ahead of newer events.
	pending       []outbox.Entry
	appendEntries func([]outbox.Entry) error

	seq    *sequence.Sequencer
	outbox *outbox.Outbox
	marks  *watermark.Store

	unsubscribe func()
	now         func() time.Time
}

// Open opens the runtime's stores under cfg.DataDir. phases must still be
// in PhaseAllocation; nil uses memory.Default().
func Open(cfg Config, phases *memory.PhaseManager) (*Runtime, error) {
	cfg = cfg.withDefaults()
	if phases == nil {
		phases = memory.Default()
	}

	ring, err := events.NewRing[events.Event](cfg.RingSize)
	if err != nil {
		return nil, err
	}

	pools := fixed.NewMap[string, Pool](phases)
	if err := pools.Reserve(cfg.MaxPools); err != nil {
		return nil, fmt.Errorf("service: pool registry: %w", err)
	}

	ob, err := outbox.Open(cfg.OutboxDir())
	if err != nil {
		return nil, err
	}
	marks, err := watermark.Open(cfg.WatermarkDir())
	if err != nil {
		_ = ob.Close()
		return nil, err
	}
	last, err := ob.LastSeq()
	if err != nil {
		_ = ob.Close()
		_ = marks.Close()
		return nil, fmt.Errorf("service: resume sequence: %w", err)
	}

	r := &Runtime{
		cfg:    cfg,
		phases: phases,
		log:    cfg.Logger.With("component", "runtime"),
		pools:  pools,
		ring:   ring,
		seq:    sequence.New(last),
		outbox: ob,
		marks:  marks,
		now:    time.Now,
	}
	r.appendEntries = ob.Append
	r.unsubscribe = phases.Subscribe(r.onTransition)

	r.log.Info("opened", "dir", cfg.DataDir, "resume_seq", last)
	return r, nil
}

func (r *Runtime) Phases() *memory.PhaseManager { return r.phases }
func (r *Runtime) Phase() memory.Phase          { return r.phases.Phase() }
func (r *Runtime) Outbox() *outbox.Outbox       { return r.outbox }

// ---- lifecycle ----

// Advance moves the process to p. Moving backwards or staying put fails
// with ErrPhaseOrder.
func (r *Runtime) Advance(p memory.Phase) error {
	if !r.phases.SetPhase(p) {
		return fmt.Errorf("%w: %s to %s", ErrPhaseOrder, r.phases.Phase(), p)
	}
	return nil
}

func (r *Runtime) EnterSteady() error {
	return r.Advance(memory.PhaseSteady)
}

// Deallocate enters PhaseDeallocation, stores every pool's high-water mark
// and flushes pending events. Pools may be released afterwards. It is safe
// to call more than once.
func (r *Runtime) Deallocate() error {
	r.phases.SetPhase(memory.PhaseDeallocation)

	var errs []error
	for _, p := range r.Pools() {
		if err := r.marks.Save(p.Name, p.Stats.HighWater); err != nil {
			errs = append(errs, fmt.Errorf("save watermark %s: %w", p.Name, err))
		}
	}
	if _, err := r.Flush(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases the registry and closes the stores. Call after Deallocate
// and after the broadcaster has stopped.
func (r *Runtime) Close() error {
	r.unsubscribe()

	r.poolsMu.Lock()
	var errs []error
	if r.phases.IsDeallocationAllowed() {
		errs = append(errs, r.pools.Release())
	}
	r.poolsMu.Unlock()

	errs = append(errs, r.outbox.Close(), r.marks.Close())
	return errors.Join(errs...)
}

// ---- pools ----

// Plan suggests a reserve size for the pool name from earlier runs.
func (r *Runtime) Plan(name string, fallback int) int {
	n, err := r.marks.Plan(name, fallback)
	if err != nil {
		r.log.Warn("watermark unreadable", "pool", name, "err", err)
		return fallback
	}
	return n
}

// Register adds p to the registry under name.
func (r *Runtime) Register(name string, p Pool) error {
	r.poolsMu.Lock()
	defer r.poolsMu.Unlock()

	ok, err := r.pools.Insert(name, p)
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("register %s: %w", name, ErrDuplicatePool)
	}
	return nil
}

// Pools reports every registered pool in name order.
func (r *Runtime) Pools() []PoolReport {
	r.poolsMu.Lock()
	defer r.poolsMu.Unlock()

	out := make([]PoolReport, 0, r.pools.Len())
	for name, p := range r.pools.All() {
		out = append(out, PoolReport{Name: name, Stats: p.Stats()})
	}
	return out
}

// ---- events ----

// Observe records err against pool name when it is an allocator failure,
// and returns err unchanged.
func (r *Runtime) Observe(name string, err error) error {
	if err == nil {
		return nil
	}
	var kind events.Kind
	switch {
	case errors.Is(err, memory.ErrCapacityExhausted):
		kind = events.KindPoolExhausted
	case errors.Is(err, memory.ErrPhaseViolation):
		kind = events.KindPhaseViolation
	case errors.Is(err, memory.ErrInvalidHandle):
		kind = events.KindInvalidHandle
	default:
		return err
	}
	r.record(kind, name, err.Error())
	return err
}

func (r *Runtime) onTransition(from, to memory.Phase) {
	r.log.Info("phase changed", "from", from, "to", to)
	r.record(events.KindPhaseChanged, "", from.String()+" -> "+to.String())
}

func (r *Runtime) record(kind events.Kind, pool, detail string) {
	e := events.Event{
		Kind:   kind,
		Pool:   pool,
		Phase:  r.phases.Phase().String(),
		Detail: detail,
		Time:   r.now(),
	}

	r.recordMu.Lock()
	ok := r.ring.Enqueue(e)
	r.recordMu.Unlock()

	if !ok && r.dropped.Add(1) == 1 {
		r.log.Warn("event ring full, dropping events", "size", r.ring.Cap())
	}
}

// Dropped returns how many events were lost to a full ring.
func (r *Runtime) Dropped() uint64 { return r.dropped.Load() }

// Flush moves recorded events into the outbox and returns how many were
// written. A failed write keeps the batch and retries it first on the next
// call; while it is held at most one ring's worth of events is buffered and
// further events back up in the ring.
func (r *Runtime) Flush() (int, error) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	batch := r.pending
	for len(batch) < r.ring.Cap() {
		e, ok := r.ring.Dequeue()
		if !ok {
			break
		}
		// a sequence number is consumed only by an event that can be stored
		e.Seq = r.seq.Last() + 1
		payload, err := events.Encode(e)
		if err != nil {
			r.log.Error("encode event", "kind", e.Kind, "pool", e.Pool, "err", err)
			continue
		}
		r.seq.Next()
		batch = append(batch, outbox.Entry{Seq: e.Seq, Payload: payload})
	}
	if err := r.appendEntries(batch); err != nil {
		r.pending = batch
		return 0, fmt.Errorf("service: flush %d events: %w", len(batch), err)
	}
	r.pending = nil
	return len(batch), nil
}

// Pending returns how many encoded events are waiting for a retried write.
func (r *Runtime) Pending() int {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()
	return len(r.pending)
}

// Run flushes every FlushInterval until ctx is done.
func (r *Runtime) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Flush(); err != nil {
				r.log.Warn("flush", "err", err)
			}
		}
	}
}

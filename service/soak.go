package service

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"math/rand/v2"
	"sync/atomic"

	"ballast/infra/memory"
	"ballast/jobs/workqueue"
)

const soakPayload = 256

type soakBuffer struct {
	data [soakPayload]byte
	n    int
}

func (b *soakBuffer) Reset() { b.n = 0 }

// SoakConfig describes a synthetic workload.
type SoakConfig struct {
	Buffers int
	Queue   int
	Workers int
	Jobs    int
	Seed    uint64
}

func (c SoakConfig) withDefaults() SoakConfig {
	if c.Buffers <= 0 {
		c.Buffers = 256
	}
	if c.Queue <= 0 {
		c.Queue = 64
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Jobs <= 0 {
		c.Jobs = 10000
	}
	return c
}

type SoakReport struct {
	Processed int64
	Exhausted int64
	Checksum  uint32
}

// Soak is a buffer pool feeding a work queue. It stresses the full
// lifecycle: reserve, steady-state recycling, release.
type Soak struct {
	rt      *Runtime
	cfg     SoakConfig
	buffers *memory.SmartObjectPool[soakBuffer]
	queue   *workqueue.Queue[memory.Handle[soakBuffer]]
}

// NewSoak reserves the workload's pools, sized from earlier runs, and
// registers them as "soak.buffers" and "soak.queue". The runtime must be in
// PhaseAllocation.
func NewSoak(rt *Runtime, cfg SoakConfig) (*Soak, error) {
	cfg = cfg.withDefaults()

	pool := memory.NewPhaseCheckedPool[soakBuffer](rt.Phases())
	if err := pool.Reserve(rt.Plan("soak.buffers", cfg.Buffers)); err != nil {
		return nil, rt.Observe("soak.buffers", err)
	}
	queue, err := workqueue.New[memory.Handle[soakBuffer]](rt.Phases(), rt.Plan("soak.queue", cfg.Queue), rt.log)
	if err != nil {
		return nil, rt.Observe("soak.queue", err)
	}
	if err := rt.Register("soak.buffers", pool); err != nil {
		return nil, err
	}
	if err := rt.Register("soak.queue", queue); err != nil {
		return nil, err
	}

	return &Soak{
		rt:      rt,
		cfg:     cfg,
		buffers: memory.NewSmartObjectPool(pool),
		queue:   queue,
	}, nil
}

// Run produces cfg.Jobs buffers and checksums them on cfg.Workers
// goroutines. An exhausted buffer pool is recorded and the job skipped.
// The runtime must be in PhaseSteady.
func (s *Soak) Run(ctx context.Context) (SoakReport, error) {
	var (
		processed atomic.Int64
		exhausted atomic.Int64
		sum       atomic.Uint32
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.queue.Run(ctx, s.cfg.Workers, func(_ context.Context, h memory.Handle[soakBuffer]) error {
			b := h.Get()
			sum.Add(crc32.ChecksumIEEE(b.data[:b.n]))
			processed.Add(1)
			return h.Release()
		})
	}()

	rng := rand.New(rand.NewPCG(s.cfg.Seed, s.cfg.Seed^0x9e3779b97f4a7c15))
	var runErr error
	for i := 0; i < s.cfg.Jobs; i++ {
		h, err := s.buffers.Make(func(b *soakBuffer) error {
			b.n = 1 + rng.IntN(soakPayload)
			for j := 0; j < b.n; j++ {
				b.data[j] = byte(rng.Uint32())
			}
			return nil
		})
		if errors.Is(err, memory.ErrCapacityExhausted) {
			exhausted.Add(1)
			_ = s.rt.Observe("soak.buffers", err)
			continue
		}
		if err != nil {
			runErr = s.rt.Observe("soak.buffers", err)
			break
		}
		if err := s.queue.Push(ctx, h); err != nil {
			_ = h.Release()
			runErr = err
			break
		}
	}
	s.queue.Close()
	<-done

	// Workers stop early on cancellation; hand back what they left behind.
	for {
		h, ok := s.queue.TryPop()
		if !ok {
			break
		}
		_ = h.Release()
	}

	rep := SoakReport{
		Processed: processed.Load(),
		Exhausted: exhausted.Load(),
		Checksum:  sum.Load(),
	}
	if runErr != nil {
		return rep, fmt.Errorf("service: soak: %w", runErr)
	}
	return rep, nil
}

// Release returns the workload's storage. The runtime must be in
// PhaseDeallocation.
func (s *Soak) Release() error {
	return errors.Join(s.queue.Release(), s.buffers.Release())
}

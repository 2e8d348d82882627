// Package workqueue runs jobs from a bounded queue whose storage is a
// fixed.List reserved at start-up.
package workqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ballast/domain/fixed"
	"ballast/infra/memory"
)

// ErrClosed is returned once the queue has been closed and drained.
var ErrClosed = errors.New("workqueue: closed")

// Queue is a bounded multi-producer multi-consumer FIFO. The fullness and
// emptiness checks and the push or pop that follows them happen under one
// lock, so a Full answer is never acted on after it went stale.
type Queue[T any] struct {
	mu     sync.Mutex
	items  *fixed.List[T]
	closed bool

	notEmpty chan struct{}
	notFull  chan struct{}
	done     chan struct{}

	log *slog.Logger
}

// New reserves room for capacity jobs. It must run during
// memory.PhaseAllocation.
func New[T any](phases *memory.PhaseManager, capacity int, log *slog.Logger) (*Queue[T], error) {
	if log == nil {
		log = slog.Default()
	}
	items := fixed.NewList[T](phases)
	if err := items.Reserve(capacity); err != nil {
		return nil, fmt.Errorf("workqueue: reserve %d: %w", capacity, err)
	}
	return &Queue[T]{
		items:    items,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		log:      log.With("component", "workqueue"),
	}, nil
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// TryPush enqueues v or fails with memory.ErrCapacityExhausted when full.
// A full queue is subject to the memory failure policy.
func (q *Queue[T]) TryPush(v T) error {
	err := q.tryPush(v)
	if errors.Is(err, memory.ErrCapacityExhausted) {
		return memory.Fail(err)
	}
	return err
}

func (q *Queue[T]) tryPush(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.items.Full() {
		return fmt.Errorf("workqueue: push: %w", memory.ErrCapacityExhausted)
	}
	if err := q.items.PushBack(v); err != nil {
		return err
	}
	signal(q.notEmpty)
	if !q.items.Full() {
		signal(q.notFull)
	}
	return nil
}

// Push enqueues v, waiting for room until ctx is done.
func (q *Queue[T]) Push(ctx context.Context, v T) error {
	for {
		err := q.tryPush(v)
		if !errors.Is(err, memory.ErrCapacityExhausted) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
			return ErrClosed
		case <-q.notFull:
		}
	}
}

// TryPop dequeues the oldest job, if any.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue[T]) popLocked() (T, bool) {
	if q.items.Empty() {
		var zero T
		return zero, false
	}
	v, ok := q.items.PopFront()
	signal(q.notFull)
	if !q.items.Empty() {
		signal(q.notEmpty)
	}
	return v, ok
}

// Pop dequeues the oldest job, waiting until one arrives, ctx is done, or
// the queue is closed and drained.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		v, ok := q.popLocked()
		closed := q.closed
		q.mu.Unlock()

		if ok {
			return v, nil
		}
		var zero T
		if closed {
			return zero, ErrClosed
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.done:
		case <-q.notEmpty:
		}
	}
}

// Close stops accepting jobs. Queued jobs can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *Queue[T]) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Cap()
}

func (q *Queue[T]) Stats() memory.PoolStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Stats()
}

// Release drops queued jobs and returns the queue's storage. It must run
// during memory.PhaseDeallocation.
func (q *Queue[T]) Release() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Release()
}

// Run pops jobs on workers goroutines and hands each to fn until the queue
// is closed and drained or ctx is done. Errors from fn are logged.
func (q *Queue[T]) Run(ctx context.Context, workers int, fn func(context.Context, T) error) {
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for {
				job, err := q.Pop(ctx)
				if err != nil {
					return
				}
				if err := fn(ctx, job); err != nil {
					q.log.Warn("job failed", "worker", w, "err", err)
				}
			}
		}(w)
	}
	wg.Wait()
}

// Package sequence numbers flushed events.
package sequence

import "sync/atomic"

// Sequencer hands out strictly increasing event sequence numbers.
// The zero value starts at 1.
type Sequencer struct {
	last atomic.Uint64
}

// New returns a sequencer whose first Next is last+1. Pass the highest
// sequence already persisted when resuming from an outbox.
func New(last uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(last)
	return s
}

func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Last returns the most recently issued sequence, or the resume point.
func (s *Sequencer) Last() uint64 {
	return s.last.Load()
}

// Observe raises the sequencer to at least seq. Lower values are ignored.
func (s *Sequencer) Observe(seq uint64) {
	for {
		cur := s.last.Load()
		if seq <= cur || s.last.CompareAndSwap(cur, seq) {
			return
		}
	}
}

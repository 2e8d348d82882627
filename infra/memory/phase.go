package memory

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Phase is a stage of the process lifecycle that gates storage grants and returns.
type Phase uint32

const (
	// PhaseAllocation permits pools to reserve their backing storage.
	PhaseAllocation Phase = iota
	// PhaseSteady forbids both reservation and release of backing storage.
	PhaseSteady
	// PhaseDeallocation permits pools to return their backing storage.
	PhaseDeallocation
)

func (p Phase) String() string {
	switch p {
	case PhaseAllocation:
		return "allocation"
	case PhaseSteady:
		return "steady"
	case PhaseDeallocation:
		return "deallocation"
	default:
		return "unknown"
	}
}

// ParsePhase maps the String form back to a Phase.
func ParsePhase(s string) (Phase, bool) {
	switch s {
	case "allocation":
		return PhaseAllocation, true
	case "steady":
		return PhaseSteady, true
	case "deallocation":
		return PhaseDeallocation, true
	}
	return 0, false
}

// TransitionFunc observes a successful phase advance.
type TransitionFunc func(from, to Phase)

type subscription struct {
	fn TransitionFunc
}

// PhaseManager holds a monotonically advancing Phase.
// It is safe for concurrent use.
type PhaseManager struct {
	phase atomic.Uint32

	mu        sync.Mutex
	observers atomic.Pointer[[]*subscription]
}

// NewPhaseManager returns a manager in PhaseAllocation.
func NewPhaseManager() *PhaseManager {
	return &PhaseManager{}
}

// Phase returns the current phase.
func (m *PhaseManager) Phase() Phase {
	return Phase(m.phase.Load())
}

// SetPhase advances to p if p is strictly later than the current phase.
// Earlier or equal phases are ignored. It reports whether this call advanced.
func (m *PhaseManager) SetPhase(p Phase) bool {
	for {
		cur := m.phase.Load()
		if uint32(p) <= cur {
			return false
		}
		if m.phase.CompareAndSwap(cur, uint32(p)) {
			m.notify(Phase(cur), p)
			return true
		}
	}
}

// IsAllocationAllowed reports whether pools may reserve storage now.
func (m *PhaseManager) IsAllocationAllowed() bool {
	return m.Phase() == PhaseAllocation
}

// IsDeallocationAllowed reports whether pools may return storage now.
func (m *PhaseManager) IsDeallocationAllowed() bool {
	return m.Phase() == PhaseDeallocation
}

// Subscribe registers fn to run after every successful advance, on the
// goroutine that won the advance. The returned func unregisters fn; it is
// safe to call more than once.
func (m *PhaseManager) Subscribe(fn TransitionFunc) (cancel func()) {
	sub := &subscription{fn: fn}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeObservers(append(m.loadObservers(), sub))

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.storeObservers(slices.DeleteFunc(m.loadObservers(), func(s *subscription) bool {
			return s == sub
		}))
	}
}

// loadObservers returns a copy of the current observers. Callers hold mu.
func (m *PhaseManager) loadObservers() []*subscription {
	if cur := m.observers.Load(); cur != nil {
		return slices.Clone(*cur)
	}
	return nil
}

func (m *PhaseManager) storeObservers(obs []*subscription) {
	m.observers.Store(&obs)
}

func (m *PhaseManager) notify(from, to Phase) {
	obs := m.observers.Load()
	if obs == nil {
		return
	}
	for _, s := range *obs {
		s.fn(from, to)
	}
}

// ---- process-wide instance ----

var defaultManager atomic.Pointer[PhaseManager]

func init() {
	defaultManager.Store(NewPhaseManager())
}

// Default returns the process-wide phase manager.
func Default() *PhaseManager {
	return defaultManager.Load()
}

// ResetDefaultPhaseManager replaces the process-wide manager with a fresh
// one in PhaseAllocation. It exists to isolate tests and must not be
// called from production code.
func ResetDefaultPhaseManager() *PhaseManager {
	m := NewPhaseManager()
	defaultManager.Store(m)
	return m
}

package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limits defines per-type behaviour for locally-running workers.
type Limits struct {
	// Type is the job type the limits apply to.
	Type string

	// MaxConcurrency caps how many jobs of this type run simultaneously
	// in this process. Zero means unlimited.
	MaxConcurrency int

	// RateLimit is the maximum sustained claims per second. Zero
	// disables rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst size; defaults to 1 when a
	// rate limit is set.
	RateBurst int
}

type typeState struct {
	limits  Limits
	limiter *rate.Limiter
	active  int
}

// Manager gates worker run slots per job type. Workers consult it
// between claiming a job and running it. Safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	types map[string]*typeState
}

// NewManager creates a Manager with the given per-type limits. Types not
// listed are unlimited.
func NewManager(limits ...Limits) *Manager {
	m := &Manager{types: make(map[string]*typeState, len(limits))}
	for _, l := range limits {
		m.types[l.Type] = newTypeState(l)
	}
	return m
}

func newTypeState(l Limits) *typeState {
	ts := &typeState{limits: l}
	if l.RateLimit > 0 {
		burst := l.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(l.RateLimit), burst)
	}
	return ts
}

// Acquire checks the type's rate and concurrency limits. On true the
// active count is taken and the caller MUST Release when the run ends.
func (m *Manager) Acquire(typ string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.types[typ]
	if ts == nil {
		return true
	}
	if ts.limiter != nil && !ts.limiter.Allow() {
		return false
	}
	if ts.limits.MaxConcurrency > 0 && ts.active >= ts.limits.MaxConcurrency {
		return false
	}
	ts.active++
	return true
}

// Release returns the type's run slot.
func (m *Manager) Release(typ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.types[typ]; ts != nil && ts.active > 0 {
		ts.active--
	}
}

// SetLimits updates (or creates) a type's limits, preserving the current
// active count.
func (m *Manager) SetLimits(l Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := newTypeState(l)
	if existing := m.types[l.Type]; existing != nil {
		ts.active = existing.active
	}
	m.types[l.Type] = ts
}

// ActiveCount returns the number of jobs of the type currently holding a
// run slot.
func (m *Manager) ActiveCount(typ string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.types[typ]; ts != nil {
		return ts.active
	}
	return 0
}

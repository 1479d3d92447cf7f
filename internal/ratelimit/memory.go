package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is an in-process Limiter for development and tests. A single
// mutex serializes check-and-reserve across goroutines.
type MemoryLimiter struct {
	mu       sync.Mutex
	tenants  map[string]*State
	defaults Limits

	// now is swappable so tests can step windows forward.
	now func() time.Time
}

// NewMemoryLimiter creates a MemoryLimiter with the given default ceilings
// for lazily created tenants. Zero-value fields fall back to DefaultLimits.
func NewMemoryLimiter(defaults Limits) *MemoryLimiter {
	if defaults == (Limits{}) {
		defaults = DefaultLimits
	}
	return &MemoryLimiter{
		tenants:  make(map[string]*State),
		defaults: defaults,
		now:      time.Now,
	}
}

// SetLimits overrides one tenant's ceilings, creating the row when absent.
func (l *MemoryLimiter) SetLimits(tenantID string, limits Limits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stateLocked(tenantID)
	s.Limits = limits
}

// Snapshot returns a copy of the tenant's current state, or nil when the
// tenant has never been checked.
func (l *MemoryLimiter) Snapshot(tenantID string) *State {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.tenants[tenantID]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (l *MemoryLimiter) Check(_ context.Context, tenantID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stateLocked(tenantID)
	resetElapsed(s, l.now())

	if err := checkCeilings(s); err != nil {
		return err
	}

	// Reserve the request slot in the same critical section.
	s.RequestsHour++
	return nil
}

func (l *MemoryLimiter) Update(_ context.Context, tenantID string, tokensUsed int, costUSD float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stateLocked(tenantID)
	resetElapsed(s, l.now())

	s.TokensDay += tokensUsed
	s.CostMonthUSD += costUSD
	return nil
}

func (l *MemoryLimiter) stateLocked(tenantID string) *State {
	s, ok := l.tenants[tenantID]
	if !ok {
		now := l.now()
		s = &State{
			TenantID:   tenantID,
			HourStart:  now,
			DayStart:   now,
			MonthStart: now,
			Limits:     l.defaults,
		}
		l.tenants[tenantID] = s
	}
	return s
}

package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCheckCreatesTenantLazily(t *testing.T) {
	l := NewMemoryLimiter(Limits{})
	ctx := context.Background()

	if err := l.Check(ctx, "new-tenant"); err != nil {
		t.Fatalf("first Check: %v", err)
	}

	s := l.Snapshot("new-tenant")
	if s == nil {
		t.Fatal("no state row created")
	}
	if s.RequestsHour != 1 {
		t.Errorf("RequestsHour = %d, want 1 (reserved by Check)", s.RequestsHour)
	}
	if s.Limits != DefaultLimits {
		t.Errorf("lazily created row has limits %+v, want defaults", s.Limits)
	}
}

func TestRequestsPerHourCeiling(t *testing.T) {
	l := NewMemoryLimiter(Limits{MaxRequestsPerHour: 1, MaxTokensPerDay: 100, MaxCostPerMonthUSD: 10})
	ctx := context.Background()

	if err := l.Check(ctx, "t"); err != nil {
		t.Fatalf("first Check: %v", err)
	}

	err := l.Check(ctx, "t")
	if err == nil {
		t.Fatal("second Check passed with MaxRequestsPerHour=1")
	}

	var le *LimitError
	if !errors.As(err, &le) {
		t.Fatalf("error type %T, want *LimitError", err)
	}
	if le.Dimension != DimRequestsPerHour {
		t.Errorf("dimension %q, want %q", le.Dimension, DimRequestsPerHour)
	}
	if !strings.Contains(err.Error(), "requests per hour") {
		t.Errorf("error message %q does not name the dimension", err.Error())
	}
}

func TestTokensPerDayCeiling(t *testing.T) {
	l := NewMemoryLimiter(Limits{MaxRequestsPerHour: 100, MaxTokensPerDay: 50, MaxCostPerMonthUSD: 10})
	ctx := context.Background()

	if err := l.Check(ctx, "t"); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := l.Update(ctx, "t", 50, 0.01); err != nil {
		t.Fatalf("Update: %v", err)
	}

	err := l.Check(ctx, "t")
	var le *LimitError
	if !errors.As(err, &le) || le.Dimension != DimTokensPerDay {
		t.Fatalf("Check = %v, want tokens-per-day LimitError", err)
	}
}

func TestCostPerMonthCeiling(t *testing.T) {
	l := NewMemoryLimiter(Limits{MaxRequestsPerHour: 100, MaxTokensPerDay: 1000, MaxCostPerMonthUSD: 0.05})
	ctx := context.Background()

	if err := l.Check(ctx, "t"); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := l.Update(ctx, "t", 10, 0.05); err != nil {
		t.Fatalf("Update: %v", err)
	}

	err := l.Check(ctx, "t")
	var le *LimitError
	if !errors.As(err, &le) || le.Dimension != DimCostPerMonth {
		t.Fatalf("Check = %v, want cost-per-month LimitError", err)
	}
}

func TestElapsedWindowResetsOnRead(t *testing.T) {
	l := NewMemoryLimiter(Limits{MaxRequestsPerHour: 1, MaxTokensPerDay: 1000, MaxCostPerMonthUSD: 10})
	ctx := context.Background()

	if err := l.Check(ctx, "t"); err != nil {
		t.Fatalf("first Check: %v", err)
	}
	if err := l.Check(ctx, "t"); err == nil {
		t.Fatal("ceiling not enforced")
	}

	// One hour later the hourly window has rolled over.
	base := time.Now()
	l.now = func() time.Time { return base.Add(time.Hour + time.Minute) }

	if err := l.Check(ctx, "t"); err != nil {
		t.Fatalf("Check after window elapsed: %v", err)
	}

	s := l.Snapshot("t")
	if s.RequestsHour != 1 {
		t.Errorf("RequestsHour after reset = %d, want 1", s.RequestsHour)
	}
}

func TestWindowsResetIndependently(t *testing.T) {
	l := NewMemoryLimiter(Limits{MaxRequestsPerHour: 10, MaxTokensPerDay: 100, MaxCostPerMonthUSD: 10})
	ctx := context.Background()

	if err := l.Check(ctx, "t"); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := l.Update(ctx, "t", 100, 1.5); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Two hours later: hourly counter resets, daily tokens and monthly cost
	// must survive.
	base := time.Now()
	l.now = func() time.Time { return base.Add(2 * time.Hour) }

	if err := l.Check(ctx, "t"); err == nil {
		t.Fatal("tokens-per-day ceiling lost on hourly reset")
	}

	s := l.Snapshot("t")
	if s.TokensDay != 100 || s.CostMonthUSD != 1.5 {
		t.Errorf("daily/monthly counters reset early: %+v", s)
	}
}

func TestCheckIsAtomicUnderConcurrency(t *testing.T) {
	const ceiling = 50
	l := NewMemoryLimiter(Limits{MaxRequestsPerHour: ceiling, MaxTokensPerDay: 1 << 30, MaxCostPerMonthUSD: 1 << 20})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < ceiling*3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Check(ctx, "t"); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != ceiling {
		t.Fatalf("admitted %d requests, want exactly %d", admitted, ceiling)
	}
}

// Two first-time callers racing on a tenant that has no state row yet must
// not both win lazy creation with fresh counters.
func TestConcurrentFirstTouchAdmitsOne(t *testing.T) {
	l := NewMemoryLimiter(Limits{MaxRequestsPerHour: 1, MaxTokensPerDay: 1 << 30, MaxCostPerMonthUSD: 1 << 20})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Check(ctx, "fresh-tenant"); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Fatalf("admitted %d first-touch requests, want exactly 1", admitted)
	}
	if s := l.Snapshot("fresh-tenant"); s.RequestsHour != 1 {
		t.Errorf("RequestsHour = %d, want 1", s.RequestsHour)
	}
}

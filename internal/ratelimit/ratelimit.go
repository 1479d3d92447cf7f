// Package ratelimit enforces per-tenant request, token, and cost ceilings.
//
// Each tenant has one state row with three counters and matching ceilings:
// requests per hour, tokens per day, and cost per month (USD). A window-start
// timestamp is stored next to every counter; an elapsed window is reset the
// next time the tenant is checked, so no external reset job is required.
//
// Check is an atomic reserve: it resets elapsed windows, compares every
// counter to its ceiling, and takes the request slot (hourly counter + 1) in
// a single step — two concurrent calls can never both pass a full hourly
// budget. Token and cost ceilings are still compared against pre-call values
// because actual usage is only known after the provider responds; they are
// soft across that gap.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Exceeded dimensions, as reported in LimitError.
const (
	DimRequestsPerHour = "requests per hour"
	DimTokensPerDay    = "tokens per day"
	DimCostPerMonth    = "cost per month"
)

// Limits holds the per-tenant ceilings.
type Limits struct {
	MaxRequestsPerHour int
	MaxTokensPerDay    int
	MaxCostPerMonthUSD float64
}

// DefaultLimits is applied when a tenant's state row is created lazily on
// first use.
var DefaultLimits = Limits{
	MaxRequestsPerHour: 1000,
	MaxTokensPerDay:    1_000_000,
	MaxCostPerMonthUSD: 100,
}

// State is one tenant's counters and ceilings.
type State struct {
	TenantID string

	RequestsHour int
	TokensDay    int
	CostMonthUSD float64

	HourStart  time.Time
	DayStart   time.Time
	MonthStart time.Time

	Limits
}

// LimitError reports one exceeded ceiling. The first exceeded dimension
// found wins; the check order is requests/hour, tokens/day, cost/month.
type LimitError struct {
	TenantID  string
	Dimension string
	Current   float64
	Max       float64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("ratelimit: tenant %s exceeded %s limit (%.4g of %.4g)",
		e.TenantID, e.Dimension, e.Current, e.Max)
}

// Limiter is the per-tenant admission contract.
type Limiter interface {
	// Check resets elapsed windows, verifies every ceiling, and reserves the
	// request slot. Creates the tenant's row with DefaultLimits when absent.
	// Returns a *LimitError when a ceiling is hit.
	Check(ctx context.Context, tenantID string) error

	// Update adds the actual token and cost usage of a completed,
	// non-cached generation.
	Update(ctx context.Context, tenantID string, tokensUsed int, costUSD float64) error
}

// resetElapsed zeroes any counter whose window has passed. Shared by both
// backends so window semantics cannot drift between them.
func resetElapsed(s *State, now time.Time) {
	if now.Sub(s.HourStart) >= time.Hour {
		s.RequestsHour = 0
		s.HourStart = now
	}
	if now.Sub(s.DayStart) >= 24*time.Hour {
		s.TokensDay = 0
		s.DayStart = now
	}
	if now.Sub(s.MonthStart) >= 30*24*time.Hour {
		s.CostMonthUSD = 0
		s.MonthStart = now
	}
}

// checkCeilings returns the first exceeded dimension, or nil.
func checkCeilings(s *State) *LimitError {
	if s.MaxRequestsPerHour > 0 && s.RequestsHour >= s.MaxRequestsPerHour {
		return &LimitError{
			TenantID:  s.TenantID,
			Dimension: DimRequestsPerHour,
			Current:   float64(s.RequestsHour),
			Max:       float64(s.MaxRequestsPerHour),
		}
	}
	if s.MaxTokensPerDay > 0 && s.TokensDay >= s.MaxTokensPerDay {
		return &LimitError{
			TenantID:  s.TenantID,
			Dimension: DimTokensPerDay,
			Current:   float64(s.TokensDay),
			Max:       float64(s.MaxTokensPerDay),
		}
	}
	if s.MaxCostPerMonthUSD > 0 && s.CostMonthUSD >= s.MaxCostPerMonthUSD {
		return &LimitError{
			TenantID:  s.TenantID,
			Dimension: DimCostPerMonth,
			Current:   s.CostMonthUSD,
			Max:       s.MaxCostPerMonthUSD,
		}
	}
	return nil
}

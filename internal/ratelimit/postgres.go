package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLimiter implements Limiter against the ai_rate_limits table,
// serializing per-tenant updates with a row lock so check-and-reserve is
// atomic across replicas.
//
// Schema:
//
//	CREATE TABLE ai_rate_limits (
//	    tenant_id              TEXT PRIMARY KEY,
//	    requests_hour          INTEGER          NOT NULL DEFAULT 0,
//	    tokens_day             BIGINT           NOT NULL DEFAULT 0,
//	    cost_month_usd         DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    hour_start             TIMESTAMPTZ      NOT NULL,
//	    day_start              TIMESTAMPTZ      NOT NULL,
//	    month_start            TIMESTAMPTZ      NOT NULL,
//	    max_requests_per_hour  INTEGER          NOT NULL,
//	    max_tokens_per_day     BIGINT           NOT NULL,
//	    max_cost_per_month_usd DOUBLE PRECISION NOT NULL
//	);
type PostgresLimiter struct {
	pool     *pgxpool.Pool
	defaults Limits
}

// NewPostgresLimiter wraps an existing pgx pool. defaults are the ceilings
// for lazily created tenant rows; zero value falls back to DefaultLimits.
func NewPostgresLimiter(pool *pgxpool.Pool, defaults Limits) *PostgresLimiter {
	if defaults == (Limits{}) {
		defaults = DefaultLimits
	}
	return &PostgresLimiter{pool: pool, defaults: defaults}
}

func (l *PostgresLimiter) Check(ctx context.Context, tenantID string) error {
	return l.withState(ctx, tenantID, func(s *State) error {
		if err := checkCeilings(s); err != nil {
			return err
		}
		s.RequestsHour++
		return nil
	})
}

func (l *PostgresLimiter) Update(ctx context.Context, tenantID string, tokensUsed int, costUSD float64) error {
	return l.withState(ctx, tenantID, func(s *State) error {
		s.TokensDay += tokensUsed
		s.CostMonthUSD += costUSD
		return nil
	})
}

// withState runs fn against the tenant's row inside a transaction holding
// FOR UPDATE, after resetting elapsed windows. The mutated state is written
// back only when fn succeeds; a *LimitError from fn aborts the transaction
// so the failed check leaves no trace.
func (l *PostgresLimiter) withState(ctx context.Context, tenantID string, fn func(*State) error) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ratelimit: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	now := time.Now().UTC()

	s := State{TenantID: tenantID}
	err = tx.QueryRow(ctx, `
		SELECT requests_hour, tokens_day, cost_month_usd,
		       hour_start, day_start, month_start,
		       max_requests_per_hour, max_tokens_per_day, max_cost_per_month_usd
		FROM ai_rate_limits
		WHERE tenant_id = $1
		FOR UPDATE`,
		tenantID,
	).Scan(&s.RequestsHour, &s.TokensDay, &s.CostMonthUSD,
		&s.HourStart, &s.DayStart, &s.MonthStart,
		&s.MaxRequestsPerHour, &s.MaxTokensPerDay, &s.MaxCostPerMonthUSD)

	if errors.Is(err, pgx.ErrNoRows) {
		// Lazy creation with default ceilings. When a concurrent first-time
		// caller inserted the row between our SELECT and here, the no-op
		// DO UPDATE takes its row lock and RETURNING yields the winner's
		// counters instead of a fresh default state.
		err = tx.QueryRow(ctx, `
			INSERT INTO ai_rate_limits
			    (tenant_id, hour_start, day_start, month_start,
			     max_requests_per_hour, max_tokens_per_day, max_cost_per_month_usd)
			VALUES ($1, $2, $2, $2, $3, $4, $5)
			ON CONFLICT (tenant_id) DO UPDATE SET tenant_id = EXCLUDED.tenant_id
			RETURNING requests_hour, tokens_day, cost_month_usd,
			          hour_start, day_start, month_start,
			          max_requests_per_hour, max_tokens_per_day, max_cost_per_month_usd`,
			tenantID, now,
			l.defaults.MaxRequestsPerHour, l.defaults.MaxTokensPerDay, l.defaults.MaxCostPerMonthUSD,
		).Scan(&s.RequestsHour, &s.TokensDay, &s.CostMonthUSD,
			&s.HourStart, &s.DayStart, &s.MonthStart,
			&s.MaxRequestsPerHour, &s.MaxTokensPerDay, &s.MaxCostPerMonthUSD)
		if err != nil {
			return fmt.Errorf("ratelimit: create %s: %w", tenantID, err)
		}
	} else if err != nil {
		return fmt.Errorf("ratelimit: read %s: %w", tenantID, err)
	}

	resetElapsed(&s, now)

	if err := fn(&s); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE ai_rate_limits
		SET requests_hour = $2, tokens_day = $3, cost_month_usd = $4,
		    hour_start = $5, day_start = $6, month_start = $7
		WHERE tenant_id = $1`,
		tenantID, s.RequestsHour, s.TokensDay, s.CostMonthUSD,
		s.HourStart, s.DayStart, s.MonthStart,
	); err != nil {
		return fmt.Errorf("ratelimit: write %s: %w", tenantID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ratelimit: commit: %w", err)
	}
	return nil
}

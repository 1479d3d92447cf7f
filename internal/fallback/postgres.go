package fallback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store against the ai_fallback_configs table.
//
// Schema:
//
//	CREATE TABLE ai_fallback_configs (
//	    tenant_id      TEXT        NOT NULL,
//	    module         TEXT        NOT NULL,
//	    priority_order TEXT[]      NOT NULL,
//	    enabled        BOOLEAN     NOT NULL DEFAULT true,
//	    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    PRIMARY KEY (tenant_id, module)
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pgx pool. The caller owns the pool
// lifecycle.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, tenantID, module string) (*Config, error) {
	var cfg Config

	err := s.pool.QueryRow(ctx, `
		SELECT tenant_id, module, priority_order, enabled
		FROM ai_fallback_configs
		WHERE tenant_id = $1 AND module = $2`,
		tenantID, module,
	).Scan(&cfg.TenantID, &cfg.Module, &cfg.PriorityOrder, &cfg.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fallback: get %s/%s: %w", tenantID, module, err)
	}

	return &cfg, nil
}

func (s *PostgresStore) Set(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO ai_fallback_configs (tenant_id, module, priority_order, enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, module) DO UPDATE
		SET priority_order = EXCLUDED.priority_order,
		    enabled = EXCLUDED.enabled,
		    updated_at = EXCLUDED.updated_at`,
		cfg.TenantID, cfg.Module, cfg.PriorityOrder, cfg.Enabled, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("fallback: set %s/%s: %w", cfg.TenantID, cfg.Module, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, tenantID, module string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM ai_fallback_configs WHERE tenant_id = $1 AND module = $2`,
		tenantID, module,
	)
	if err != nil {
		return fmt.Errorf("fallback: delete %s/%s: %w", tenantID, module, err)
	}
	return nil
}

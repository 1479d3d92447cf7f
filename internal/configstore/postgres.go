package configstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store against the ai_configs table.
//
// Schema:
//
//	CREATE TABLE ai_configs (
//	    tenant_id  TEXT        NOT NULL,
//	    provider   TEXT        NOT NULL,
//	    api_key    TEXT        NOT NULL,
//	    model      TEXT        NOT NULL DEFAULT '',
//	    is_active  BOOLEAN     NOT NULL DEFAULT true,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    PRIMARY KEY (tenant_id, provider)
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pgx pool. The caller owns the pool
// lifecycle.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Upsert(ctx context.Context, cfg Config) error {
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO ai_configs (tenant_id, provider, api_key, model, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (tenant_id, provider) DO UPDATE
		SET api_key = EXCLUDED.api_key,
		    model = EXCLUDED.model,
		    is_active = EXCLUDED.is_active,
		    updated_at = EXCLUDED.updated_at`,
		cfg.TenantID, cfg.Provider, cfg.APIKey, cfg.Model, cfg.IsActive, now,
	)
	if err != nil {
		return fmt.Errorf("configstore: upsert %s/%s: %w", cfg.TenantID, cfg.Provider, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, tenantID, provider string) (*Config, error) {
	var cfg Config

	err := s.pool.QueryRow(ctx, `
		SELECT tenant_id, provider, api_key, model, is_active, created_at, updated_at
		FROM ai_configs
		WHERE tenant_id = $1 AND provider = $2`,
		tenantID, provider,
	).Scan(&cfg.TenantID, &cfg.Provider, &cfg.APIKey, &cfg.Model, &cfg.IsActive, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("configstore: get %s/%s: %w", tenantID, provider, err)
	}

	return &cfg, nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID string) ([]Config, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, provider, api_key, model, is_active, created_at, updated_at
		FROM ai_configs
		WHERE tenant_id = $1
		ORDER BY provider`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("configstore: list %s: %w", tenantID, err)
	}
	defer rows.Close()

	var out []Config
	for rows.Next() {
		var cfg Config
		if err := rows.Scan(&cfg.TenantID, &cfg.Provider, &cfg.APIKey, &cfg.Model,
			&cfg.IsActive, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("configstore: scan: %w", err)
		}
		out = append(out, cfg.masked())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("configstore: list %s: %w", tenantID, err)
	}

	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, tenantID, provider string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM ai_configs WHERE tenant_id = $1 AND provider = $2`,
		tenantID, provider,
	)
	if err != nil {
		return fmt.Errorf("configstore: delete %s/%s: %w", tenantID, provider, err)
	}
	return nil
}

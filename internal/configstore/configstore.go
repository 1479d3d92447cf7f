// Package configstore persists per-tenant, per-provider AI credentials and
// defaults.
//
// Two backends are available:
//   - PostgresStore — pgx-backed, recommended for production.
//   - MemoryStore   — in-process map, for development and tests.
//
// The API key is a long-lived secret: List and every log path return only a
// masked preview, never the full key. The full key is exposed solely through
// Get, which sits on the generation hot path.
package configstore

import (
	"context"
	"errors"
	"time"

	"github.com/nulpointcorp/ai-orchestrator/internal/providers"
)

// KeyPreviewLen is the number of leading key characters kept by MaskedKey.
const KeyPreviewLen = 8

// ErrNotFound is returned by Get when no configuration exists for the
// (tenant, provider) pair.
var ErrNotFound = errors.New("configstore: not found")

// Config is one row per (tenant, provider).
type Config struct {
	TenantID  string    `json:"tenant_id"`
	Provider  string    `json:"provider"`
	APIKey    string    `json:"api_key"`
	Model     string    `json:"model"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MaskedKey returns a short preview of the API key safe for lists and logs.
func (c Config) MaskedKey() string {
	if len(c.APIKey) <= KeyPreviewLen {
		return c.APIKey
	}
	return c.APIKey[:KeyPreviewLen] + "..."
}

// masked returns a copy of c with the API key replaced by its preview.
func (c Config) masked() Config {
	c.APIKey = c.MaskedKey()
	return c
}

// Store is the per-tenant provider configuration store.
type Store interface {
	// Upsert creates or replaces the configuration for (TenantID, Provider).
	Upsert(ctx context.Context, cfg Config) error
	// Get returns the full configuration, including the API key.
	// Returns ErrNotFound when the pair is not configured.
	Get(ctx context.Context, tenantID, provider string) (*Config, error)
	// List returns all of a tenant's configurations with masked API keys.
	List(ctx context.Context, tenantID string) ([]Config, error)
	// Delete removes the configuration. Deleting a missing row is not an error.
	Delete(ctx context.Context, tenantID, provider string) error
}

// TestResult reports the outcome of a provider connectivity test.
type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// TestConnection issues one minimal call against the vendor API using the
// configuration's key. It never returns an error — failures are reported in
// the result message.
func TestConnection(ctx context.Context, prov providers.Provider, cfg Config) TestResult {
	if prov == nil {
		return TestResult{Success: false, Message: "unknown provider: " + cfg.Provider}
	}
	if err := prov.HealthCheck(ctx, cfg.APIKey); err != nil {
		return TestResult{Success: false, Message: err.Error()}
	}
	return TestResult{Success: true, Message: cfg.Provider + " connection OK"}
}

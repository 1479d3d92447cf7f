// Package fallback stores per-tenant provider priority chains. A chain is
// scoped to a platform module ("chat", "summarize", ...) so a tenant can
// route different workloads through different provider orders.
package fallback

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when no chain is configured for a tenant/module
// pair. Callers fall back to a single-provider chain.
var ErrNotFound = errors.New("fallback: chain not found")

// Config is one tenant's provider chain for one module.
type Config struct {
	TenantID      string   `json:"tenant_id"`
	Module        string   `json:"module"`
	PriorityOrder []string `json:"priority_order"`
	Enabled       bool     `json:"enabled"`
}

// Validate rejects chains that could never route a request.
func (c *Config) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("fallback: tenant id must not be empty")
	}
	if c.Module == "" {
		return fmt.Errorf("fallback: module must not be empty")
	}
	if len(c.PriorityOrder) == 0 {
		return fmt.Errorf("fallback: priority order must not be empty")
	}
	seen := make(map[string]struct{}, len(c.PriorityOrder))
	for _, p := range c.PriorityOrder {
		if p == "" {
			return fmt.Errorf("fallback: priority order contains an empty provider name")
		}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("fallback: provider %q listed twice", p)
		}
		seen[p] = struct{}{}
	}
	return nil
}

// Store persists provider chains.
type Store interface {
	Get(ctx context.Context, tenantID, module string) (*Config, error)
	Set(ctx context.Context, cfg *Config) error
	Delete(ctx context.Context, tenantID, module string) error
}

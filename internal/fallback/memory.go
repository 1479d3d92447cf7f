package fallback

import (
	"context"
	"sync"
)

// MemoryStore keeps chains in process memory. Used in tests and single-node
// deployments without Postgres.
type MemoryStore struct {
	mu     sync.RWMutex
	chains map[string]Config
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chains: make(map[string]Config)}
}

func memKey(tenantID, module string) string {
	return tenantID + "\x00" + module
}

func (s *MemoryStore) Get(_ context.Context, tenantID, module string) (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.chains[memKey(tenantID, module)]
	if !ok {
		return nil, ErrNotFound
	}

	out := cfg
	out.PriorityOrder = append([]string(nil), cfg.PriorityOrder...)
	return &out, nil
}

func (s *MemoryStore) Set(_ context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	stored := *cfg
	stored.PriorityOrder = append([]string(nil), cfg.PriorityOrder...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains[memKey(cfg.TenantID, cfg.Module)] = stored
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, tenantID, module string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chains, memKey(tenantID, module))
	return nil
}

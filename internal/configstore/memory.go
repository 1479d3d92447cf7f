package configstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests. Safe for
// concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Config // key: tenantID + "\x00" + provider
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Config)}
}

func memKey(tenantID, provider string) string {
	return tenantID + "\x00" + provider
}

func (s *MemoryStore) Upsert(_ context.Context, cfg Config) error {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(cfg.TenantID, cfg.Provider)
	if prev, ok := s.items[key]; ok {
		cfg.CreatedAt = prev.CreatedAt
	} else {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	s.items[key] = cfg

	return nil
}

func (s *MemoryStore) Get(_ context.Context, tenantID, provider string) (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.items[memKey(tenantID, provider)]
	if !ok {
		return nil, ErrNotFound
	}
	return &cfg, nil
}

func (s *MemoryStore) List(_ context.Context, tenantID string) ([]Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Config
	for _, cfg := range s.items {
		if cfg.TenantID == tenantID {
			out = append(out, cfg.masked())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })

	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, tenantID, provider string) error {
	s.mu.Lock()
	delete(s.items, memKey(tenantID, provider))
	s.mu.Unlock()
	return nil
}

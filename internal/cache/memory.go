package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is a simple in-process Cache with per-entry TTL.
//
// It is safe for concurrent use. A background goroutine periodically removes
// expired entries to prevent unbounded memory growth. Use this backend for
// local development, single-instance deployments, and tests; for
// multi-replica deployments use RedisCache so all replicas share entries.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]*Entry

	// now is swappable so tests can step time past an entry's expiry.
	now func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryCache creates a MemoryCache and starts the background cleanup
// loop. The cleanup goroutine stops when ctx is cancelled or Close is called.
func NewMemoryCache(ctx context.Context) *MemoryCache {
	c := &MemoryCache{
		items: make(map[string]*Entry),
		now:   time.Now,
		done:  make(chan struct{}),
	}
	go c.cleanup(ctx)
	return c
}

func (c *MemoryCache) Lookup(_ context.Context, tenantID, provider, promptHash string) (*Entry, bool) {
	key := entryKey(tenantID, provider, promptHash)

	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		return nil, false
	}

	if c.now().After(item.ExpiresAt) {
		// Lazy expiry.
		delete(c.items, key)
		return nil, false
	}

	item.HitCount++
	cp := *item
	return &cp, true
}

func (c *MemoryCache) Write(_ context.Context, tenantID, provider, promptHash, promptText, model, response string, tokensUsed int) error {
	key := entryKey(tenantID, provider, promptHash)

	c.mu.Lock()
	c.items[key] = &Entry{
		TenantID:   tenantID,
		Provider:   provider,
		PromptHash: promptHash,
		PromptText: promptText,
		Model:      model,
		Response:   response,
		TokensUsed: tokensUsed,
		HitCount:   0,
		ExpiresAt:  c.now().Add(DefaultTTL),
	}
	c.mu.Unlock()

	return nil
}

// Len returns the number of entries currently held (including entries that
// may have expired but not yet been evicted).
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the background cleanup goroutine. Safe to call more than once.
func (c *MemoryCache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// cleanup runs every 10 minutes and evicts all expired entries.
func (c *MemoryCache) cleanup(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

func (c *MemoryCache) evictExpired() {
	c.mu.Lock()
	now := c.now()
	for k, v := range c.items {
		if now.After(v.ExpiresAt) {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}

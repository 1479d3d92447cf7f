// Package cache provides content-addressable response caching for generation
// requests.
//
// Entries are keyed by (tenantID, provider, promptHash) where promptHash is a
// SHA-256 digest over the exact ordered message sequence — any change to a
// message's role, content, or position produces a different key.
//
// Two backends are available:
//   - RedisCache  — go-redis backed, recommended for production clusters.
//   - MemoryCache — in-process TTL cache, zero external dependencies.
//
// Both implement the Cache interface so they are fully interchangeable.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/nulpointcorp/ai-orchestrator/internal/providers"
)

// DefaultTTL is how long a cached response is served before it is treated as
// absent.
const DefaultTTL = 7 * 24 * time.Hour

// Entry is one cached response.
type Entry struct {
	TenantID   string    `json:"tenant_id"`
	Provider   string    `json:"provider"`
	PromptHash string    `json:"prompt_hash"`
	PromptText string    `json:"prompt_text"`
	Model      string    `json:"model"`
	Response   string    `json:"response"`
	TokensUsed int       `json:"tokens_used"`
	HitCount   int       `json:"hit_count"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Cache is the response cache contract.
type Cache interface {
	// Lookup returns the entry for the key, or (nil, false) on a miss.
	// A hit increments the entry's hit counter. Entries past their expiry
	// are treated as absent. Backend errors degrade to a miss.
	Lookup(ctx context.Context, tenantID, provider, promptHash string) (*Entry, bool)

	// Write upserts the entry with TTL = now + DefaultTTL, fully replacing
	// any previous content and resetting the hit counter to zero.
	// Concurrent writers race with last-write-wins semantics.
	Write(ctx context.Context, tenantID, provider, promptHash, promptText, model, response string, tokensUsed int) error
}

// PromptHash returns the deterministic cache key digest for a message
// sequence. Order-sensitive and content-sensitive.
func PromptHash(msgs []providers.Message) string {
	data, _ := json.Marshal(msgs)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

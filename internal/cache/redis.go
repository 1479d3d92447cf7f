package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultQueryTimeout = 500 * time.Millisecond

// lookupScript atomically reads an entry and bumps its hit counter.
// KEYS[1] = entry key, KEYS[2] = hit counter key.
// Returns {payload, hits} or false when the entry is absent.
var lookupScript = redis.NewScript(`
		local payload = redis.call('GET', KEYS[1])
		if not payload then
			return false
		end
		local hits = redis.call('INCR', KEYS[2])
		local ttl = redis.call('PTTL', KEYS[1])
		if ttl > 0 then
			redis.call('PEXPIRE', KEYS[2], ttl)
		end
		return {payload, hits}
`)

// RedisCache is a Redis-backed Cache.
//
// All operations degrade gracefully when Redis is unavailable:
//   - Lookup returns (nil, false) on any error.
//   - Write returns nil even on error, so generation never fails because the
//     cache layer is down.
type RedisCache struct {
	client       *redis.Client
	ttl          time.Duration
	queryTimeout time.Duration
}

// NewRedisCacheFromClient wraps an existing Redis client. The caller owns the
// client lifecycle (creation and Close).
func NewRedisCacheFromClient(redisCli *redis.Client) *RedisCache {
	return &RedisCache{client: redisCli, ttl: DefaultTTL, queryTimeout: defaultQueryTimeout}
}

// NewRedisCacheFromURL parses redisURL, creates a client, verifies the
// connection with a PING, and returns a RedisCache.
func NewRedisCacheFromURL(ctx context.Context, redisURL string) (*RedisCache, error) {
	if ctx == nil {
		return nil, fmt.Errorf("cache: context must not be nil")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse url: %w", err)
	}

	cli := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := cli.Ping(pingCtx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}

	return NewRedisCacheFromClient(cli), nil
}

func entryKey(tenantID, provider, promptHash string) string {
	return "aicache:" + tenantID + ":" + provider + ":" + promptHash
}

// storedEntry is the JSON payload persisted under the entry key. The hit
// counter lives in a sibling key so it can be incremented without rewriting
// the payload.
type storedEntry struct {
	PromptText string    `json:"prompt_text"`
	Model      string    `json:"model"`
	Response   string    `json:"response"`
	TokensUsed int       `json:"tokens_used"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (c *RedisCache) Lookup(ctx context.Context, tenantID, provider, promptHash string) (*Entry, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	key := entryKey(tenantID, provider, promptHash)

	res, err := lookupScript.Run(ctx, c.client, []string{key, key + ":hits"}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.WarnContext(ctx, "cache_lookup_error",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}

	pair, ok := res.([]interface{})
	if !ok || len(pair) != 2 {
		return nil, false
	}
	payload, _ := pair[0].(string)
	hits, _ := pair[1].(int64)

	var stored storedEntry
	if err := json.Unmarshal([]byte(payload), &stored); err != nil {
		slog.WarnContext(ctx, "cache_decode_error",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	// Redis TTL enforces expiry, but the payload keeps its own deadline as a
	// belt for clock-skewed writers.
	if time.Now().After(stored.ExpiresAt) {
		return nil, false
	}

	return &Entry{
		TenantID:   tenantID,
		Provider:   provider,
		PromptHash: promptHash,
		PromptText: stored.PromptText,
		Model:      stored.Model,
		Response:   stored.Response,
		TokensUsed: stored.TokensUsed,
		HitCount:   int(hits),
		ExpiresAt:  stored.ExpiresAt,
	}, true
}

func (c *RedisCache) Write(ctx context.Context, tenantID, provider, promptHash, promptText, model, response string, tokensUsed int) error {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	key := entryKey(tenantID, provider, promptHash)
	expiresAt := time.Now().Add(c.ttl)

	payload, err := json.Marshal(storedEntry{
		PromptText: promptText,
		Model:      model,
		Response:   response,
		TokensUsed: tokensUsed,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		return nil
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, payload, c.ttl)
	// A rewritten entry starts over at zero hits.
	pipe.Set(ctx, key+":hits", 0, c.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.WarnContext(ctx, "cache_write_error",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}

	return nil // always nil — degrade gracefully
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

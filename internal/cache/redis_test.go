package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// newTestRedisCache starts a miniredis server and returns a RedisCache backed
// by it.
func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	c, err := NewRedisCacheFromURL(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisCacheFromURL: %v", err)
	}

	t.Cleanup(func() { _ = c.Close() })

	return c, mr
}

func TestRedisLookupMiss(t *testing.T) {
	c, _ := newTestRedisCache(t)

	entry, ok := c.Lookup(context.Background(), "t1", "openai", "nope")
	if ok {
		t.Fatal("expected miss, got hit")
	}
	if entry != nil {
		t.Fatalf("expected nil entry on miss, got %+v", entry)
	}
}

func TestRedisWriteAndLookup(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	if err := c.Write(ctx, "t1", "anthropic", "h1", "prompt", "claude-3-5-sonnet-20241022", "response", 77); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entry, ok := c.Lookup(ctx, "t1", "anthropic", "h1")
	if !ok {
		t.Fatal("expected hit, got miss")
	}
	if entry.Response != "response" || entry.TokensUsed != 77 {
		t.Fatalf("Lookup returned %+v", entry)
	}
	if entry.Model != "claude-3-5-sonnet-20241022" {
		t.Fatalf("model = %q, want claude-3-5-sonnet-20241022", entry.Model)
	}
	if entry.HitCount != 1 {
		t.Fatalf("first hit count = %d, want 1", entry.HitCount)
	}

	// Second lookup bumps the counter.
	entry, ok = c.Lookup(ctx, "t1", "anthropic", "h1")
	if !ok || entry.HitCount != 2 {
		t.Fatalf("second lookup: ok=%v hits=%d, want hit with 2", ok, entry.HitCount)
	}
}

func TestRedisRewriteResetsHitCount(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	if err := c.Write(ctx, "t1", "openai", "h", "p", "m", "old", 1); err != nil {
		t.Fatalf("Write: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, ok := c.Lookup(ctx, "t1", "openai", "h"); !ok {
			t.Fatalf("miss on warm-up lookup %d", i)
		}
	}

	if err := c.Write(ctx, "t1", "openai", "h", "p", "m", "new", 2); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	entry, ok := c.Lookup(ctx, "t1", "openai", "h")
	if !ok {
		t.Fatal("miss after rewrite")
	}
	if entry.Response != "new" || entry.HitCount != 1 {
		t.Fatalf("after rewrite: response=%q hits=%d, want new/1", entry.Response, entry.HitCount)
	}
}

func TestRedisTTLExpiry(t *testing.T) {
	c, mr := newTestRedisCache(t)
	ctx := context.Background()

	if err := c.Write(ctx, "t1", "gemini", "h", "p", "m", "r", 5); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, ok := c.Lookup(ctx, "t1", "gemini", "h"); !ok {
		t.Fatal("miss before expiry")
	}

	mr.FastForward(DefaultTTL + time.Minute)

	if _, ok := c.Lookup(ctx, "t1", "gemini", "h"); ok {
		t.Fatal("expired entry served as a hit")
	}
}

func TestRedisDegradesGracefullyWhenDown(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := NewRedisCacheFromURL(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisCacheFromURL: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	mr.Close()

	ctx := context.Background()
	if _, ok := c.Lookup(ctx, "t1", "openai", "h"); ok {
		t.Error("lookup reported a hit while Redis is down")
	}
	if err := c.Write(ctx, "t1", "openai", "h", "p", "m", "r", 1); err != nil {
		t.Errorf("Write surfaced an error while Redis is down: %v", err)
	}
}

package cache

import (
	"context"
	"testing"
	"time"
)

func newTestMemoryCache(t *testing.T) *MemoryCache {
	t.Helper()
	c := NewMemoryCache(context.Background())
	t.Cleanup(c.Close)
	return c
}

func TestMemoryLookupMiss(t *testing.T) {
	c := newTestMemoryCache(t)

	entry, ok := c.Lookup(context.Background(), "t1", "openai", "abc")
	if ok {
		t.Fatal("expected miss, got hit")
	}
	if entry != nil {
		t.Fatalf("expected nil entry on miss, got %+v", entry)
	}
}

func TestMemoryWriteAndLookup(t *testing.T) {
	c := newTestMemoryCache(t)
	ctx := context.Background()

	if err := c.Write(ctx, "t1", "openai", "hash-1", "prompt text", "gpt-4o-mini", "the answer", 42); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entry, ok := c.Lookup(ctx, "t1", "openai", "hash-1")
	if !ok {
		t.Fatal("expected hit, got miss")
	}
	if entry.Response != "the answer" || entry.TokensUsed != 42 {
		t.Fatalf("Lookup returned %+v", entry)
	}
	if entry.Model != "gpt-4o-mini" {
		t.Fatalf("model = %q, want gpt-4o-mini", entry.Model)
	}
	if entry.HitCount != 1 {
		t.Fatalf("first hit count = %d, want 1", entry.HitCount)
	}
}

func TestMemoryTenantAndProviderScoping(t *testing.T) {
	c := newTestMemoryCache(t)
	ctx := context.Background()

	if err := c.Write(ctx, "t1", "openai", "h", "p", "m", "r", 1); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, ok := c.Lookup(ctx, "t2", "openai", "h"); ok {
		t.Error("entry leaked across tenants")
	}
	if _, ok := c.Lookup(ctx, "t1", "anthropic", "h"); ok {
		t.Error("entry leaked across providers")
	}
}

func TestMemoryHitCountIncrements(t *testing.T) {
	c := newTestMemoryCache(t)
	ctx := context.Background()

	if err := c.Write(ctx, "t1", "groq", "h", "p", "m", "r", 10); err != nil {
		t.Fatalf("Write: %v", err)
	}

	for want := 1; want <= 3; want++ {
		entry, ok := c.Lookup(ctx, "t1", "groq", "h")
		if !ok {
			t.Fatalf("miss on lookup %d", want)
		}
		if entry.HitCount != want {
			t.Fatalf("hit count = %d, want %d", entry.HitCount, want)
		}
	}
}

func TestMemoryRewriteResetsHitCount(t *testing.T) {
	c := newTestMemoryCache(t)
	ctx := context.Background()

	if err := c.Write(ctx, "t1", "groq", "h", "p", "m", "old", 10); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, ok := c.Lookup(ctx, "t1", "groq", "h"); !ok {
		t.Fatal("miss after write")
	}

	if err := c.Write(ctx, "t1", "groq", "h", "p", "m", "new", 20); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	entry, ok := c.Lookup(ctx, "t1", "groq", "h")
	if !ok {
		t.Fatal("miss after rewrite")
	}
	if entry.Response != "new" {
		t.Errorf("rewrite did not replace content: %q", entry.Response)
	}
	if entry.HitCount != 1 {
		t.Errorf("hit count after rewrite = %d, want 1 (reset + this hit)", entry.HitCount)
	}
}

func TestMemoryExpiredEntryIsAMiss(t *testing.T) {
	c := newTestMemoryCache(t)
	ctx := context.Background()

	if err := c.Write(ctx, "t1", "openai", "h", "p", "m", "r", 1); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Step the clock past the TTL.
	c.now = func() time.Time { return time.Now().Add(DefaultTTL + time.Minute) }

	if _, ok := c.Lookup(ctx, "t1", "openai", "h"); ok {
		t.Fatal("expired entry served as a hit")
	}
	if c.Len() != 0 {
		t.Errorf("lazy expiry did not purge the entry, Len = %d", c.Len())
	}
}

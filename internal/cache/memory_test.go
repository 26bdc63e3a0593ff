package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Error("Expected miss for unknown key")
	}

	c.Set(ctx, PoolStatsKey("GROVE-A"), []byte(`{"total":1000}`), 0)
	v, ok := c.Get(ctx, PoolStatsKey("GROVE-A"))
	if !ok {
		t.Fatal("Expected hit")
	}
	if string(v) != `{"total":1000}` {
		t.Errorf("Unexpected value: %s", v)
	}
}

func TestMemoryCache_Invalidate(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	c.Set(ctx, LoanHealthKey("loan-1"), []byte("cached"), 0)
	c.Invalidate(ctx, LoanHealthKey("loan-1"))

	if _, ok := c.Get(ctx, LoanHealthKey("loan-1")); ok {
		t.Error("Expected miss after invalidation")
	}

	// Invalidating an unknown key is a no-op.
	c.Invalidate(ctx, "never-set")
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	c.Set(ctx, "short", []byte("v"), 10*time.Millisecond)
	if _, ok := c.Get(ctx, "short"); !ok {
		t.Fatal("Expected hit before expiry")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get(ctx, "short"); ok {
		t.Error("Expected miss after TTL expiry")
	}
}

func TestCacheKeys(t *testing.T) {
	if PoolStatsKey("GROVE-A") == PoolStatsKey("GROVE-B") {
		t.Error("Pool keys must differ by asset")
	}
	if LoanHealthKey("a") == DistributionKey("a") {
		t.Error("Key namespaces must not collide")
	}
}

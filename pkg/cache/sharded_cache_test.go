package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestShardedCacheTTL(t *testing.T) {
	c := NewShardedCache()
	now := time.Unix(1700000000, 0)
	c.now = func() time.Time { return now }

	c.Set("market:BTCUSDT:1m", []byte("a"), time.Minute)
	c.Set("forever", []byte("b"), 0)

	if v, ok := c.Get("market:BTCUSDT:1m"); !ok || string(v) != "a" {
		t.Fatalf("Get = %q, %v", v, ok)
	}

	now = now.Add(time.Minute)
	if _, ok := c.Get("market:BTCUSDT:1m"); ok {
		t.Fatal("entry should expire at its deadline")
	}
	if _, ok := c.Get("forever"); !ok {
		t.Fatal("entry without ttl should not expire")
	}
	if removed := c.Cleanup(); removed != 1 {
		t.Fatalf("Cleanup removed %d, want 1", removed)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
}

func TestShardedCacheStatsSpreadsKeys(t *testing.T) {
	c := NewShardedCache()
	for i := 0; i < 200; i++ {
		c.Set(fmt.Sprintf("k%d", i), nil, 0)
	}
	stats := c.Stats()
	if stats.TotalItems != 200 {
		t.Fatalf("TotalItems = %d", stats.TotalItems)
	}
	used := 0
	for _, n := range stats.ShardCounts {
		if n > 0 {
			used++
		}
	}
	if used < numShards/2 {
		t.Fatalf("keys landed in only %d shards", used)
	}
	c.Delete("k0")
	if _, ok := c.Get("k0"); ok {
		t.Fatal("Delete did not remove key")
	}
}

package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// ShardedCache is an in-process TTL cache split into mutex-guarded shards.
type ShardedCache struct {
	shards [numShards]*shard
	now    func() time.Time
}

type shard struct {
	mu    sync.RWMutex
	items map[string]entry
}

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// NewShardedCache creates a new sharded cache.
func NewShardedCache() *ShardedCache {
	c := &ShardedCache{now: time.Now}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &shard{items: make(map[string]entry)}
	}
	return c
}

func (c *ShardedCache) getShard(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores value under key for ttl; ttl <= 0 keeps it until deleted.
func (c *ShardedCache) Set(key string, value []byte, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	s := c.getShard(key)
	s.mu.Lock()
	s.items[key] = e
	s.mu.Unlock()
}

// Get returns the live value for key.
func (c *ShardedCache) Get(key string) ([]byte, bool) {
	s := c.getShard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Delete removes a key.
func (c *ShardedCache) Delete(key string) {
	s := c.getShard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Len returns total items across all shards, expired or not.
func (c *ShardedCache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup drops expired entries and reports how many were removed.
func (c *ShardedCache) Cleanup() int {
	removed := 0
	now := c.now()
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// CacheStats provides cache statistics.
type CacheStats struct {
	TotalItems  int            `json:"total_items"`
	ShardCounts [numShards]int `json:"shard_counts"`
}

// Stats returns cache statistics.
func (c *ShardedCache) Stats() CacheStats {
	stats := CacheStats{}
	for i, s := range c.shards {
		s.mu.RLock()
		stats.ShardCounts[i] = len(s.items)
		stats.TotalItems += len(s.items)
		s.mu.RUnlock()
	}
	return stats
}

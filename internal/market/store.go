package market

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tradex-core/pkg/cache"
)

// Store is the byte-level cache behind Source.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// MemoryStore adapts the sharded in-process cache to Store.
type MemoryStore struct {
	c *cache.ShardedCache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: cache.NewShardedCache()}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.c.Set(key, value, ttl)
	return nil
}

// Cleanup drops expired in-memory entries.
func (m *MemoryStore) Cleanup() int { return m.c.Cleanup() }

// RedisOptions configures the Redis tier.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// TieredStore prefers Redis and degrades to the in-memory store while Redis
// is failing. After maxFailures consecutive errors Redis is skipped until
// the recovery interval has passed.
type TieredStore struct {
	client   *redis.Client
	fallback *MemoryStore
	log      zerolog.Logger

	mu          sync.Mutex
	healthy     bool
	failures    int
	maxFailures int
	openedAt    time.Time
	recovery    time.Duration
}

// NewTieredStore connects to Redis; an unreachable Redis leaves the store
// in degraded mode rather than failing startup.
func NewTieredStore(ctx context.Context, opts RedisOptions, log zerolog.Logger) *TieredStore {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	ts := &TieredStore{
		client:      client,
		fallback:    NewMemoryStore(),
		log:         log,
		maxFailures: 3,
		recovery:    30 * time.Second,
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", opts.Addr).Msg("redis unavailable, candle cache running in memory")
		ts.failures = ts.maxFailures
		ts.openedAt = time.Now()
		return ts
	}
	ts.healthy = true
	log.Info().Str("addr", opts.Addr).Msg("redis candle cache connected")
	return ts
}

func (t *TieredStore) useRedis() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.healthy {
		return true
	}
	// half-open probe
	return time.Since(t.openedAt) >= t.recovery
}

func (t *TieredStore) record(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		if !t.healthy {
			t.log.Info().Msg("redis candle cache recovered")
		}
		t.healthy = true
		t.failures = 0
		return
	}
	t.failures++
	if t.failures >= t.maxFailures {
		if t.healthy {
			t.log.Warn().Err(err).Int("failures", t.failures).Msg("redis candle cache degraded")
		}
		t.healthy = false
		t.openedAt = time.Now()
	}
}

// Healthy reports whether the Redis tier is in use.
func (t *TieredStore) Healthy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.healthy
}

func (t *TieredStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if t.useRedis() {
		v, err := t.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			t.record(nil)
			return v, true, nil
		case errors.Is(err, redis.Nil):
			t.record(nil)
			return nil, false, nil
		default:
			t.record(err)
		}
	}
	return t.fallback.Get(ctx, key)
}

func (t *TieredStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	// always keep the local copy so a Redis outage does not empty the cache
	_ = t.fallback.Set(ctx, key, value, ttl)
	if !t.useRedis() {
		return nil
	}
	err := t.client.Set(ctx, key, value, ttl).Err()
	t.record(err)
	return nil
}

// Close releases the Redis client.
func (t *TieredStore) Close() error {
	return t.client.Close()
}

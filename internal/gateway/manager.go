// Package gateway resolves and caches the order gateway of each account.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tradex-core/pkg/db"
	exchange "tradex-core/pkg/exchanges/common"
)

var (
	ErrNoCredentials    = errors.New("no exchange credentials stored for account")
	ErrGatewayUnhealthy = errors.New("gateway is unhealthy")
	ErrPoolFull         = errors.New("gateway pool is full")
	ErrNoBalances       = errors.New("gateway does not report balances")
)

// CredentialStore reads encrypted key pairs.
type CredentialStore interface {
	GetCredential(ctx context.Context, accountID string) (*db.Credential, error)
}

// Decrypter opens sealed credential values.
type Decrypter interface {
	Decrypt(sealed string) (string, error)
}

type cachedGateway struct {
	gw        exchange.Gateway
	accountID string
	createdAt time.Time
	lastUsed  time.Time
	healthyAt time.Time
	failures  int
}

// Config holds pool limits.
type Config struct {
	MaxSize          int           // LRU eviction beyond this
	IdleTimeout      time.Duration // unused gateways are dropped after this
	HealthInterval   time.Duration
	FailureThreshold int           // consecutive order failures before the breaker opens
	CircuitTimeout   time.Duration // how long an open breaker rejects orders
	// SkipCredentials builds gateways without loading keys (paper trading).
	SkipCredentials bool
}

func DefaultConfig() Config {
	return Config{
		MaxSize:          100,
		IdleTimeout:      30 * time.Minute,
		HealthInterval:   5 * time.Minute,
		FailureThreshold: 3,
		CircuitTimeout:   time.Minute,
	}
}

// Manager keeps one gateway per account with LRU eviction, idle cleanup
// and a failure breaker.
type Manager struct {
	mu       sync.RWMutex
	gateways map[string]*cachedGateway
	lruOrder []string // oldest first

	config  Config
	creds   CredentialStore
	keys    Decrypter
	factory Factory
	log     zerolog.Logger
	now     func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewManager(creds CredentialStore, keys Decrypter, factory Factory, cfg Config, log zerolog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = def.HealthInterval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.CircuitTimeout <= 0 {
		cfg.CircuitTimeout = def.CircuitTimeout
	}
	return &Manager{
		gateways: make(map[string]*cachedGateway),
		config:   cfg,
		creds:    creds,
		keys:     keys,
		factory:  factory,
		log:      log,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start runs idle cleanup and health checks until ctx ends or Stop.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(2)
	go m.every(ctx, m.config.IdleTimeout/2, m.cleanupIdle)
	go m.every(ctx, m.config.HealthInterval, m.healthCheckAll)
}

func (m *Manager) every(ctx context.Context, d time.Duration, fn func()) {
	defer m.wg.Done()
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			fn()
		}
	}
}

// Stop ends the background goroutines and drops every gateway.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.gateways {
		m.dropLocked(id)
	}
}

// Gateway returns the account's gateway, building it on first use. The
// returned gateway reports order outcomes back to the breaker.
func (m *Manager) Gateway(ctx context.Context, accountID string) (exchange.Gateway, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, ok := m.gateways[accountID]; ok {
		if cached.failures >= m.config.FailureThreshold && m.now().Sub(cached.healthyAt) < m.config.CircuitTimeout {
			return nil, fmt.Errorf("%w: %s", ErrGatewayUnhealthy, accountID)
		}
		m.touchLocked(accountID)
		return &tracked{m: m, accountID: accountID, gw: cached.gw}, nil
	}

	if len(m.gateways) >= m.config.MaxSize && !m.evictOldestLocked() {
		return nil, ErrPoolFull
	}

	gw, err := m.build(ctx, accountID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	m.gateways[accountID] = &cachedGateway{gw: gw, accountID: accountID, createdAt: now, lastUsed: now, healthyAt: now}
	m.lruOrder = append(m.lruOrder, accountID)
	m.log.Debug().Str("account_id", accountID).Msg("gateway created")
	return &tracked{m: m, accountID: accountID, gw: gw}, nil
}

func (m *Manager) build(ctx context.Context, accountID string) (exchange.Gateway, error) {
	var creds Credentials
	if !m.config.SkipCredentials {
		c, err := m.creds.GetCredential(ctx, accountID)
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoCredentials, accountID)
		}
		if err != nil {
			return nil, fmt.Errorf("load credentials: %w", err)
		}
		if m.keys == nil {
			return nil, errors.New("credential decryption is not configured")
		}
		if creds.APIKey, err = m.keys.Decrypt(c.APIKeyEncrypted); err != nil {
			return nil, fmt.Errorf("decrypt api key: %w", err)
		}
		if creds.APISecret, err = m.keys.Decrypt(c.APISecretEncrypted); err != nil {
			return nil, fmt.Errorf("decrypt api secret: %w", err)
		}
		creds.Testnet = c.Testnet
	}
	gw, err := m.factory(accountID, creds)
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}
	return gw, nil
}

// Balances reads the account's balances through its gateway.
func (m *Manager) Balances(ctx context.Context, accountID string) ([]exchange.Balance, error) {
	gw, err := m.Gateway(ctx, accountID)
	if err != nil {
		return nil, err
	}
	br, ok := gw.(exchange.BalanceReader)
	if !ok {
		return nil, ErrNoBalances
	}
	return br.Balances(ctx)
}

// Invalidate drops the cached gateway so the next call reloads credentials.
func (m *Manager) Invalidate(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked(accountID)
}

func (m *Manager) recordFailure(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.gateways[accountID]; ok {
		cached.failures++
		if cached.failures == m.config.FailureThreshold {
			cached.healthyAt = m.now()
			m.log.Warn().Str("account_id", accountID).Int("failures", cached.failures).Msg("gateway breaker open")
		}
	}
}

func (m *Manager) recordSuccess(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.gateways[accountID]; ok {
		cached.failures = 0
		cached.healthyAt = m.now()
	}
}

// PoolStats summarizes the cache.
type PoolStats struct {
	TotalGateways  int `json:"total_gateways"`
	MaxSize        int `json:"max_size"`
	UnhealthyCount int `json:"unhealthy_count"`
}

func (m *Manager) Stats() PoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := PoolStats{TotalGateways: len(m.gateways), MaxSize: m.config.MaxSize}
	for _, cached := range m.gateways {
		if cached.failures >= m.config.FailureThreshold {
			stats.UnhealthyCount++
		}
	}
	return stats
}

func (m *Manager) touchLocked(accountID string) {
	if cached, ok := m.gateways[accountID]; ok {
		cached.lastUsed = m.now()
	}
	m.removeLRULocked(accountID)
	m.lruOrder = append(m.lruOrder, accountID)
}

func (m *Manager) removeLRULocked(accountID string) {
	for i, id := range m.lruOrder {
		if id == accountID {
			m.lruOrder = append(m.lruOrder[:i], m.lruOrder[i+1:]...)
			return
		}
	}
}

func (m *Manager) dropLocked(accountID string) {
	if cached, ok := m.gateways[accountID]; ok {
		if closer, ok := cached.gw.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		delete(m.gateways, accountID)
	}
	m.removeLRULocked(accountID)
}

func (m *Manager) evictOldestLocked() bool {
	if len(m.lruOrder) == 0 {
		return false
	}
	m.dropLocked(m.lruOrder[0])
	return true
}

func (m *Manager) cleanupIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, cached := range m.gateways {
		if now.Sub(cached.lastUsed) > m.config.IdleTimeout {
			m.dropLocked(id)
		}
	}
}

func (m *Manager) healthCheckAll() {
	type target struct {
		id string
		p  interface{ Ping(context.Context) error }
	}
	m.mu.RLock()
	var targets []target
	for id, cached := range m.gateways {
		if p, ok := cached.gw.(interface{ Ping(context.Context) error }); ok {
			targets = append(targets, target{id, p})
		}
	}
	m.mu.RUnlock()

	for _, t := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := t.p.Ping(ctx)
		cancel()
		if err != nil {
			m.log.Warn().Err(err).Str("account_id", t.id).Msg("gateway ping failed")
			m.recordFailure(t.id)
		} else {
			m.recordSuccess(t.id)
		}
	}
}

// tracked feeds order outcomes into the breaker.
type tracked struct {
	m         *Manager
	accountID string
	gw        exchange.Gateway
}

func (t *tracked) PlaceMarketOrder(ctx context.Context, req exchange.MarketOrder) (exchange.OrderAck, error) {
	ack, err := t.gw.PlaceMarketOrder(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			t.m.recordFailure(t.accountID)
		}
		return ack, err
	}
	t.m.recordSuccess(t.accountID)
	return ack, nil
}

func (t *tracked) Balances(ctx context.Context) ([]exchange.Balance, error) {
	br, ok := t.gw.(exchange.BalanceReader)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBalances, t.accountID)
	}
	return br.Balances(ctx)
}

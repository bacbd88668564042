package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradex-core/pkg/crypto"
	"tradex-core/pkg/db"
	exchange "tradex-core/pkg/exchanges/common"
)

type credStore map[string]*db.Credential

func (c credStore) GetCredential(_ context.Context, accountID string) (*db.Credential, error) {
	if cred, ok := c[accountID]; ok {
		return cred, nil
	}
	return nil, db.ErrNotFound
}

type stubGateway struct {
	creds Credentials
	err   error
}

func (s *stubGateway) PlaceMarketOrder(context.Context, exchange.MarketOrder) (exchange.OrderAck, error) {
	if s.err != nil {
		return exchange.OrderAck{}, s.err
	}
	return exchange.OrderAck{Status: exchange.StatusFilled}, nil
}

func newKeyring(t *testing.T) *crypto.Keyring {
	t.Helper()
	kr, err := crypto.NewKeyring("unit-test-master-key")
	require.NoError(t, err)
	return kr
}

func sealedCred(t *testing.T, kr *crypto.Keyring, acct, key, secret string) *db.Credential {
	t.Helper()
	k, err := kr.Encrypt(key)
	require.NoError(t, err)
	s, err := kr.Encrypt(secret)
	require.NoError(t, err)
	return &db.Credential{AccountID: acct, APIKeyEncrypted: k, APISecretEncrypted: s, KeyVersion: kr.CurrentVersion()}
}

func TestGatewayDecryptsAndCaches(t *testing.T) {
	kr := newKeyring(t)
	store := credStore{"a1": sealedCred(t, kr, "a1", "key-1", "secret-1")}

	builds := 0
	var built *stubGateway
	factory := func(accountID string, creds Credentials) (exchange.Gateway, error) {
		builds++
		built = &stubGateway{creds: creds}
		return built, nil
	}
	m := NewManager(store, kr, factory, Config{}, zerolog.Nop())
	ctx := context.Background()

	_, err := m.Gateway(ctx, "a1")
	require.NoError(t, err)
	_, err = m.Gateway(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, builds)
	assert.Equal(t, "key-1", built.creds.APIKey)
	assert.Equal(t, "secret-1", built.creds.APISecret)

	m.Invalidate("a1")
	_, err = m.Gateway(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, builds)
}

func TestGatewayMissingCredentials(t *testing.T) {
	m := NewManager(credStore{}, newKeyring(t), func(string, Credentials) (exchange.Gateway, error) {
		t.Fatal("factory must not be called")
		return nil, nil
	}, Config{}, zerolog.Nop())

	_, err := m.Gateway(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestGatewaySkipCredentials(t *testing.T) {
	m := NewManager(nil, nil, func(string, Credentials) (exchange.Gateway, error) {
		return &stubGateway{}, nil
	}, Config{SkipCredentials: true}, zerolog.Nop())

	gw, err := m.Gateway(context.Background(), "paper")
	require.NoError(t, err)
	_, err = gw.PlaceMarketOrder(context.Background(), exchange.MarketOrder{Symbol: "BTCUSDT"})
	assert.NoError(t, err)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	stub := &stubGateway{err: errors.New("418 teapot")}
	m := NewManager(nil, nil, func(string, Credentials) (exchange.Gateway, error) { return stub, nil },
		Config{SkipCredentials: true, FailureThreshold: 2, CircuitTimeout: time.Minute}, zerolog.Nop())
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		gw, err := m.Gateway(ctx, "a1")
		require.NoError(t, err)
		_, err = gw.PlaceMarketOrder(ctx, exchange.MarketOrder{})
		require.Error(t, err)
	}

	_, err := m.Gateway(ctx, "a1")
	assert.ErrorIs(t, err, ErrGatewayUnhealthy)
	assert.Equal(t, 1, m.Stats().UnhealthyCount)

	now = now.Add(2 * time.Minute)
	stub.err = nil
	gw, err := m.Gateway(ctx, "a1")
	require.NoError(t, err)
	_, err = gw.PlaceMarketOrder(ctx, exchange.MarketOrder{})
	require.NoError(t, err)
	assert.Zero(t, m.Stats().UnhealthyCount)
}

func TestPoolEvictsLeastRecentlyUsed(t *testing.T) {
	m := NewManager(nil, nil, func(string, Credentials) (exchange.Gateway, error) { return &stubGateway{}, nil },
		Config{SkipCredentials: true, MaxSize: 2}, zerolog.Nop())
	ctx := context.Background()

	for _, id := range []string{"a", "b", "a", "c"} {
		_, err := m.Gateway(ctx, id)
		require.NoError(t, err)
	}
	m.mu.RLock()
	_, hasA := m.gateways["a"]
	_, hasB := m.gateways["b"]
	m.mu.RUnlock()
	assert.True(t, hasA)
	assert.False(t, hasB)
	assert.Equal(t, 2, m.Stats().TotalGateways)
}

func TestCleanupIdle(t *testing.T) {
	m := NewManager(nil, nil, func(string, Credentials) (exchange.Gateway, error) { return &stubGateway{}, nil },
		Config{SkipCredentials: true, IdleTimeout: time.Minute}, zerolog.Nop())
	now := time.Now()
	m.now = func() time.Time { return now }

	_, err := m.Gateway(context.Background(), "a")
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	m.cleanupIdle()
	assert.Zero(t, m.Stats().TotalGateways)
}

type balanceGateway struct {
	stubGateway
	bals []exchange.Balance
}

func (b *balanceGateway) Balances(context.Context) ([]exchange.Balance, error) { return b.bals, nil }

func TestBalancesThroughManager(t *testing.T) {
	want := []exchange.Balance{{Asset: "BTC", Free: 0.5}, {Asset: "USDT", Free: 100}}
	m := NewManager(nil, nil, func(accountID string, _ Credentials) (exchange.Gateway, error) {
		if accountID == "plain" {
			return &stubGateway{}, nil
		}
		return &balanceGateway{bals: want}, nil
	}, Config{SkipCredentials: true}, zerolog.Nop())
	ctx := context.Background()

	got, err := m.Balances(ctx, "paper")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = m.Balances(ctx, "plain")
	assert.ErrorIs(t, err, ErrNoBalances)
}

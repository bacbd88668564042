package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	binance "tradex-core/pkg/market/binance"
)

type fakeUpstream struct {
	klineCalls    int
	notionalCalls int
	statsCalls    int
	klines        []binance.Kline
	notional      float64
	err           error
}

func (f *fakeUpstream) GetKlines(_ context.Context, symbol, _ string, limit int) ([]binance.Kline, error) {
	f.klineCalls++
	if f.err != nil {
		return nil, f.err
	}
	if limit > len(f.klines) {
		limit = len(f.klines)
	}
	return f.klines[len(f.klines)-limit:], nil
}

func (f *fakeUpstream) MinNotional(context.Context, string) (float64, error) {
	f.notionalCalls++
	return f.notional, f.err
}

func (f *fakeUpstream) TickerPrice(_ context.Context, symbol string) (binance.Ticker, error) {
	return binance.Ticker{Symbol: symbol, Price: 42}, f.err
}

func (f *fakeUpstream) Ticker24h(_ context.Context, symbol string) (binance.Ticker24h, error) {
	f.statsCalls++
	if f.err != nil {
		return binance.Ticker24h{}, f.err
	}
	return binance.Ticker24h{Symbol: symbol, PriceChangePercent: 2.5, High: 110, Low: 95, Volume: 1234}, nil
}

func series(n int) []binance.Kline {
	out := make([]binance.Kline, n)
	for i := range out {
		p := 100 + float64(i)
		out[i] = binance.Kline{OpenTime: int64(i) * 60000, Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 1}
	}
	return out
}

func TestKlinesServedFromCache(t *testing.T) {
	up := &fakeUpstream{klines: series(100)}
	src := NewSource(up, NewMemoryStore(), Options{KlineTTL: time.Minute}, zerolog.Nop())
	ctx := context.Background()

	first, err := src.Klines(ctx, "btcusdt", "1m", 50)
	require.NoError(t, err)
	require.Len(t, first, 50)

	second, err := src.Klines(ctx, "BTCUSDT", "1m", 20)
	require.NoError(t, err)
	assert.Len(t, second, 20)
	assert.Equal(t, first[len(first)-1], second[len(second)-1])
	assert.Equal(t, 1, up.klineCalls, "smaller request should be served from cache")

	_, err = src.Klines(ctx, "BTCUSDT", "1m", 80)
	require.NoError(t, err)
	assert.Equal(t, 2, up.klineCalls, "larger request must refetch")
}

func TestGetCandlesConverts(t *testing.T) {
	up := &fakeUpstream{klines: series(10)}
	src := NewSource(up, nil, Options{}, zerolog.Nop())

	candles, err := src.GetCandles(context.Background(), "BTCUSDT", "5m", 10)
	require.NoError(t, err)
	require.Len(t, candles, 10)
	assert.Equal(t, 109.0, candles[9].Close)
	assert.Equal(t, 110.0, candles[9].High)
	assert.Equal(t, int64(9*60000), candles[9].OpenTime)
}

func TestMinNotionalCached(t *testing.T) {
	up := &fakeUpstream{notional: 10}
	src := NewSource(up, NewMemoryStore(), Options{}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		v, err := src.GetMinNotional(context.Background(), "BTCUSDT")
		require.NoError(t, err)
		assert.Equal(t, 10.0, v)
	}
	assert.Equal(t, 1, up.notionalCalls)
}

func TestUpstreamErrorsWrapped(t *testing.T) {
	boom := errors.New("boom")
	src := NewSource(&fakeUpstream{err: boom}, nil, Options{}, zerolog.Nop())

	_, err := src.GetCandles(context.Background(), "BTCUSDT", "1m", 5)
	assert.ErrorIs(t, err, boom)
	_, err = src.GetMinNotional(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, boom)
	_, err = src.LastPrice(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, boom)
	_, err = src.Stats24h(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, boom)
}

func TestTieredStoreDegradesWithoutRedis(t *testing.T) {
	// nothing listens on port 1; the store must keep working from memory
	ts := NewTieredStore(context.Background(), RedisOptions{Addr: "127.0.0.1:1"}, zerolog.Nop())
	defer ts.Close()
	assert.False(t, ts.Healthy())

	ctx := context.Background()
	require.NoError(t, ts.Set(ctx, "k", []byte("v"), time.Minute))
	v, ok, err := ts.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(v))
}

func TestStats24hCached(t *testing.T) {
	up := &fakeUpstream{}
	src := NewSource(up, NewMemoryStore(), Options{StatsTTL: time.Minute}, zerolog.Nop())
	ctx := context.Background()

	first, err := src.Stats24h(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2.5, first.PriceChangePercent)
	assert.Equal(t, 110.0, first.High)

	second, err := src.Stats24h(ctx, "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, up.statsCalls)
}

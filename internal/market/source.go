package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tradex-core/internal/strategy"
	binance "tradex-core/pkg/market/binance"
)

// Upstream is the exchange market data API.
type Upstream interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error)
	MinNotional(ctx context.Context, symbol string) (float64, error)
	TickerPrice(ctx context.Context, symbol string) (binance.Ticker, error)
	Ticker24h(ctx context.Context, symbol string) (binance.Ticker24h, error)
}

// Options tunes cache lifetimes.
type Options struct {
	// KlineTTL applies to chart requests (Klines).
	KlineTTL time.Duration
	// CandleTTL applies to strategy polling (GetCandles); it only dedupes
	// concurrent runs on the same symbol and should stay below the poll interval.
	CandleTTL time.Duration
	// FilterTTL applies to exchange filters such as min notional.
	FilterTTL time.Duration
	// StatsTTL applies to rolling 24h ticker statistics.
	StatsTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.KlineTTL <= 0 {
		o.KlineTTL = 60 * time.Second
	}
	if o.CandleTTL <= 0 {
		o.CandleTTL = 2 * time.Second
	}
	if o.FilterTTL <= 0 {
		o.FilterTTL = time.Hour
	}
	if o.StatsTTL <= 0 {
		o.StatsTTL = 10 * time.Second
	}
	return o
}

// Source serves candles, filters and prices through a cache.
type Source struct {
	up    Upstream
	store Store
	opts  Options
	log   zerolog.Logger
}

func NewSource(up Upstream, store Store, opts Options, log zerolog.Logger) *Source {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Source{up: up, store: store, opts: opts.withDefaults(), log: log}
}

// KlineKey is the cache key for a symbol/interval series.
func KlineKey(symbol, interval string) string {
	return fmt.Sprintf("market:%s:%s", strings.ToUpper(symbol), interval)
}

// Klines returns up to limit recent klines, served from cache for KlineTTL.
func (s *Source) Klines(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error) {
	return s.klines(ctx, KlineKey(symbol, interval), symbol, interval, limit, s.opts.KlineTTL)
}

// GetCandles returns the most recent candles oldest first.
func (s *Source) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]strategy.Candle, error) {
	klines, err := s.klines(ctx, KlineKey(symbol, interval)+":poll", symbol, interval, limit, s.opts.CandleTTL)
	if err != nil {
		return nil, err
	}
	out := make([]strategy.Candle, len(klines))
	for i, k := range klines {
		out[i] = ToCandle(k)
	}
	return out, nil
}

func (s *Source) klines(ctx context.Context, key, symbol, interval string, limit int, ttl time.Duration) ([]binance.Kline, error) {
	if raw, ok, err := s.store.Get(ctx, key); err == nil && ok {
		var cached []binance.Kline
		if err := json.Unmarshal(raw, &cached); err == nil && len(cached) >= limit {
			return cached[len(cached)-limit:], nil
		}
	}

	klines, err := s.up.GetKlines(ctx, symbol, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch klines %s %s: %w", symbol, interval, err)
	}
	if raw, err := json.Marshal(klines); err == nil {
		if err := s.store.Set(ctx, key, raw, ttl); err != nil {
			s.log.Debug().Err(err).Str("key", key).Msg("kline cache write failed")
		}
	}
	return klines, nil
}

// GetMinNotional returns the minimum order value for symbol, 0 when none is published.
func (s *Source) GetMinNotional(ctx context.Context, symbol string) (float64, error) {
	key := "filters:" + strings.ToUpper(symbol) + ":min_notional"
	if raw, ok, err := s.store.Get(ctx, key); err == nil && ok {
		if v, err := strconv.ParseFloat(string(raw), 64); err == nil {
			return v, nil
		}
	}
	v, err := s.up.MinNotional(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("fetch min notional %s: %w", symbol, err)
	}
	_ = s.store.Set(ctx, key, []byte(strconv.FormatFloat(v, 'f', -1, 64)), s.opts.FilterTTL)
	return v, nil
}

// LastPrice returns the latest traded price, uncached.
func (s *Source) LastPrice(ctx context.Context, symbol string) (float64, error) {
	t, err := s.up.TickerPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("fetch ticker %s: %w", symbol, err)
	}
	return t.Price, nil
}

// Stats24h returns the rolling 24h statistics for symbol, cached for StatsTTL.
func (s *Source) Stats24h(ctx context.Context, symbol string) (binance.Ticker24h, error) {
	key := "ticker24h:" + strings.ToUpper(symbol)
	if raw, ok, err := s.store.Get(ctx, key); err == nil && ok {
		var cached binance.Ticker24h
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}
	st, err := s.up.Ticker24h(ctx, symbol)
	if err != nil {
		return binance.Ticker24h{}, fmt.Errorf("fetch 24h ticker %s: %w", symbol, err)
	}
	if raw, err := json.Marshal(st); err == nil {
		if err := s.store.Set(ctx, key, raw, s.opts.StatsTTL); err != nil {
			s.log.Debug().Err(err).Str("key", key).Msg("ticker cache write failed")
		}
	}
	return st, nil
}

// ToCandle converts an exchange kline into the strategy candle type.
func ToCandle(k binance.Kline) strategy.Candle {
	return strategy.Candle{
		OpenTime:  k.OpenTime,
		Open:      k.Open,
		High:      k.High,
		Low:       k.Low,
		Close:     k.Close,
		Volume:    k.Volume,
		CloseTime: k.CloseTime,
	}
}

package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tradex-core/pkg/exchanges/common"
)

// ErrSymbolNotFound is returned when exchangeInfo does not list the symbol.
var ErrSymbolNotFound = errors.New("binance: symbol not found")

// Client wraps the public Binance spot market data endpoints.
type Client struct {
	BaseURL     string
	HTTPClient  *http.Client
	rateLimiter *common.RateLimiter
}

// NewClient builds a REST client; use testnet to switch base URLs.
func NewClient(testnet bool, log zerolog.Logger) *Client {
	base := "https://api.binance.com"
	if testnet {
		base = "https://testnet.binance.vision"
	}
	return &Client{
		BaseURL:     base,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
		rateLimiter: common.NewRateLimiter(6000, time.Minute, log),
	}
}

// GetKlines fetches the most recent klines, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var raw [][]any
	if err := c.getJSON(ctx, "/api/v3/klines", params, 2, &raw); err != nil {
		return nil, err
	}

	klines := make([]Kline, 0, len(raw))
	for _, item := range raw {
		if len(item) < 11 {
			continue
		}
		klines = append(klines, Kline{
			Symbol:              strings.ToUpper(symbol),
			OpenTime:            toInt64(item[0]),
			Open:                toFloat(item[1]),
			High:                toFloat(item[2]),
			Low:                 toFloat(item[3]),
			Close:               toFloat(item[4]),
			Volume:              toFloat(item[5]),
			CloseTime:           toInt64(item[6]),
			QuoteVolume:         toFloat(item[7]),
			NumberOfTrades:      toInt(item[8]),
			TakerBuyBaseVolume:  toFloat(item[9]),
			TakerBuyQuoteVolume: toFloat(item[10]),
		})
	}
	return klines, nil
}

// MinNotional returns the symbol's minimum order value in the quote asset,
// read from the NOTIONAL or legacy MIN_NOTIONAL filter. Zero means no limit is published.
func (c *Client) MinNotional(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))

	var info struct {
		Symbols []struct {
			Symbol  string         `json:"symbol"`
			Filters []SymbolFilter `json:"filters"`
		} `json:"symbols"`
	}
	if err := c.getJSON(ctx, "/api/v3/exchangeInfo", params, 20, &info); err != nil {
		return 0, err
	}
	for _, s := range info.Symbols {
		if !strings.EqualFold(s.Symbol, symbol) {
			continue
		}
		for _, f := range s.Filters {
			if f.FilterType == "NOTIONAL" || f.FilterType == "MIN_NOTIONAL" {
				return toFloat(f.MinNotional), nil
			}
		}
		return 0, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
}

// TickerPrice returns the latest price for a symbol.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (Ticker, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))

	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := c.getJSON(ctx, "/api/v3/ticker/price", params, 2, &resp); err != nil {
		return Ticker{}, err
	}
	return Ticker{Symbol: resp.Symbol, Price: toFloat(resp.Price)}, nil
}

// Ticker24h returns the rolling 24 hour statistics for a symbol.
func (c *Client) Ticker24h(ctx context.Context, symbol string) (Ticker24h, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))

	var resp struct {
		Symbol             string `json:"symbol"`
		PriceChange        string `json:"priceChange"`
		PriceChangePercent string `json:"priceChangePercent"`
		LastPrice          string `json:"lastPrice"`
		HighPrice          string `json:"highPrice"`
		LowPrice           string `json:"lowPrice"`
		Volume             string `json:"volume"`
		QuoteVolume        string `json:"quoteVolume"`
	}
	if err := c.getJSON(ctx, "/api/v3/ticker/24hr", params, 2, &resp); err != nil {
		return Ticker24h{}, err
	}
	return Ticker24h{
		Symbol:             resp.Symbol,
		PriceChange:        toFloat(resp.PriceChange),
		PriceChangePercent: toFloat(resp.PriceChangePercent),
		LastPrice:          toFloat(resp.LastPrice),
		High:               toFloat(resp.HighPrice),
		Low:                toFloat(resp.LowPrice),
		Volume:             toFloat(resp.Volume),
		QuoteVolume:        toFloat(resp.QuoteVolume),
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, weight int, out any) error {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx, weight); err != nil {
			return err
		}
	}
	u := c.BaseURL + path
	if params != nil {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if c.rateLimiter != nil {
		c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))
	}
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("binance %s status %d: %s", path, res.StatusCode, string(body))
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	case float64:
		return t
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case json.Number:
		i, _ := t.Int64()
		return i
	default:
		return 0
	}
}

func toInt(v any) int {
	return int(toInt64(v))
}

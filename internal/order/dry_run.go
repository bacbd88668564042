package order

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradex-core/pkg/exchanges/common"
)

// ErrInsufficientHolding is returned when a paper SELL exceeds the simulated holding.
var ErrInsufficientHolding = errors.New("dry-run: insufficient holding")

// PriceSource supplies the reference price for simulated fills.
type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// DryRunSimConfig tunes the paper fill model.
type DryRunSimConfig struct {
	FeeRate     float64 // decimal, e.g. 0.001 = 10 bps
	SlippageBps float64 // basis points of adverse slippage applied on fills
	// StartingBalance seeds the simulated USDT cash reported by Balances.
	StartingBalance float64
}

// PaperGateway simulates market orders against the last traded price and
// returns FULL-style acknowledgments with a single fill.
type PaperGateway struct {
	prices PriceSource
	cfg    DryRunSimConfig
	log    zerolog.Logger

	mu       sync.Mutex
	rng      *rand.Rand
	holdings map[string]float64 // base quantity per symbol
	cash     map[string]float64 // quote asset balances
	orders   int64
}

func NewPaperGateway(prices PriceSource, cfg DryRunSimConfig, log zerolog.Logger) *PaperGateway {
	return &PaperGateway{
		prices:   prices,
		cfg:      cfg,
		log:      log,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		holdings: make(map[string]float64),
		cash:     map[string]float64{"USDT": cfg.StartingBalance},
	}
}

// PlaceMarketOrder fills the whole order at the reference price with slippage
// and charges the fee in the quote asset.
func (p *PaperGateway) PlaceMarketOrder(ctx context.Context, req common.MarketOrder) (common.OrderAck, error) {
	symbol := strings.ToUpper(req.Symbol)
	ref, err := p.prices.LastPrice(ctx, symbol)
	if err != nil {
		return common.OrderAck{}, fmt.Errorf("dry-run price %s: %w", symbol, err)
	}
	if ref <= 0 {
		return common.OrderAck{}, fmt.Errorf("dry-run price %s: non-positive price %v", symbol, ref)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	price := ref
	if slip := p.cfg.SlippageBps / 10000.0; slip > 0 {
		noise := p.rng.Float64() * slip
		if req.Side == common.SideBuy {
			price *= 1 + noise
		} else {
			price *= 1 - noise
		}
	}

	qty := req.Quantity
	if req.QuoteQuantity > 0 {
		qty = req.QuoteQuantity / price
	}
	if qty <= 0 {
		return common.OrderAck{}, errors.New("dry-run: quantity or quote quantity required")
	}

	switch req.Side {
	case common.SideBuy:
		p.holdings[symbol] += qty
	case common.SideSell:
		// tolerate float dust from quote-sized entries
		if held := p.holdings[symbol]; qty > held*(1+1e-9) {
			return common.OrderAck{}, fmt.Errorf("%w: %s sell %.8f held %.8f", ErrInsufficientHolding, symbol, qty, held)
		}
		p.holdings[symbol] -= qty
		if p.holdings[symbol] < 1e-12 {
			delete(p.holdings, symbol)
		}
	default:
		return common.OrderAck{}, fmt.Errorf("dry-run: unsupported side %q", req.Side)
	}

	p.orders++
	notional := price * qty
	fee := notional * p.cfg.FeeRate
	if quote := quoteAsset(symbol); quote != "" {
		if req.Side == common.SideBuy {
			p.cash[quote] -= notional + fee
		} else {
			p.cash[quote] += notional - fee
		}
	}
	clientID := req.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	p.log.Info().
		Str("symbol", symbol).
		Str("side", string(req.Side)).
		Float64("qty", qty).
		Float64("price", price).
		Float64("fee", fee).
		Msg("dry-run fill")

	return common.OrderAck{
		ExchangeOrderID:     "dry-" + uuid.NewString(),
		ClientID:            clientID,
		Symbol:              symbol,
		Side:                req.Side,
		Status:              common.StatusFilled,
		ExecutedQty:         qty,
		CummulativeQuoteQty: notional,
		Fills: []common.Fill{{
			Price:           price,
			Qty:             qty,
			Commission:      fee,
			CommissionAsset: quoteAsset(symbol),
			TradeID:         p.orders,
		}},
		TransactTime: time.Now(),
	}, nil
}

// Holding returns the simulated base quantity held for a symbol.
func (p *PaperGateway) Holding(symbol string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.holdings[strings.ToUpper(symbol)]
}

// Balances reports simulated holdings by base asset plus the quote cash.
// Non-positive lines are omitted.
func (p *PaperGateway) Balances(context.Context) ([]common.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	totals := make(map[string]float64, len(p.holdings)+len(p.cash))
	for symbol, qty := range p.holdings {
		asset := symbol
		if quote := quoteAsset(symbol); quote != "" {
			asset = strings.TrimSuffix(symbol, quote)
		}
		totals[asset] += qty
	}
	for asset, amt := range p.cash {
		totals[asset] += amt
	}

	out := make([]common.Balance, 0, len(totals))
	for asset, amt := range totals {
		if amt > 1e-12 {
			out = append(out, common.Balance{Asset: asset, Free: amt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

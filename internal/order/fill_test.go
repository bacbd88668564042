package order

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"tradex-core/pkg/exchanges/common"
)

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestExtract(t *testing.T) {
	tests := []struct {
		name      string
		ack       common.OrderAck
		price     float64
		qty       float64
		comm      float64
		estimated bool
		foreign   []string
	}{
		{
			name: "vwap over fills",
			ack: common.OrderAck{Symbol: "BTCUSDT", Fills: []common.Fill{
				{Price: 100, Qty: 1, Commission: 0.1, CommissionAsset: "USDT"},
				{Price: 110, Qty: 3, Commission: 0.33, CommissionAsset: "USDT"},
			}},
			price: 107.5, qty: 4, comm: 0.43,
		},
		{
			name:  "no fills falls back to cumulative quote",
			ack:   common.OrderAck{Symbol: "BTCUSDT", ExecutedQty: 2, CummulativeQuoteQty: 250},
			price: 125, qty: 2, comm: 0, estimated: true,
		},
		{
			name:  "no fills and nothing executed",
			ack:   common.OrderAck{Symbol: "BTCUSDT"},
			price: 0, qty: 0, estimated: true,
		},
		{
			name: "fee paid in another asset is flagged",
			ack: common.OrderAck{Symbol: "ETHUSDT", Fills: []common.Fill{
				{Price: 2000, Qty: 0.5, Commission: 0.0007, CommissionAsset: "BNB"},
			}},
			price: 2000, qty: 0.5, comm: 0.0007, foreign: []string{"BNB"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.ack)
			if !almost(got.AvgPrice, tt.price) || !almost(got.Quantity, tt.qty) || !almost(got.Commission, tt.comm) {
				t.Fatalf("Extract = %+v, want price %v qty %v comm %v", got, tt.price, tt.qty, tt.comm)
			}
			if got.Estimated != tt.estimated {
				t.Fatalf("Estimated = %v, want %v", got.Estimated, tt.estimated)
			}
			if len(got.ForeignFeeAssets) != len(tt.foreign) {
				t.Fatalf("ForeignFeeAssets = %v, want %v", got.ForeignFeeAssets, tt.foreign)
			}
		})
	}
}

type fixedPrice float64

func (f fixedPrice) LastPrice(context.Context, string) (float64, error) { return float64(f), nil }

func TestPaperGatewayRoundTrip(t *testing.T) {
	gw := NewPaperGateway(fixedPrice(100), DryRunSimConfig{FeeRate: 0.001}, zerolog.Nop())
	ctx := context.Background()

	buy, err := gw.PlaceMarketOrder(ctx, common.MarketOrder{Symbol: "btcusdt", Side: common.SideBuy, QuoteQuantity: 10})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	exec := Extract(buy)
	if !almost(exec.Quantity, 0.1) || !almost(exec.AvgPrice, 100) || !almost(exec.Commission, 0.01) {
		t.Fatalf("buy execution = %+v", exec)
	}
	if len(exec.ForeignFeeAssets) != 0 {
		t.Fatalf("paper fee should be in quote asset, got %v", exec.ForeignFeeAssets)
	}
	if !almost(gw.Holding("BTCUSDT"), 0.1) {
		t.Fatalf("holding = %v", gw.Holding("BTCUSDT"))
	}

	if _, err := gw.PlaceMarketOrder(ctx, common.MarketOrder{Symbol: "BTCUSDT", Side: common.SideSell, Quantity: 0.2}); !errors.Is(err, ErrInsufficientHolding) {
		t.Fatalf("oversell err = %v", err)
	}
	if _, err := gw.PlaceMarketOrder(ctx, common.MarketOrder{Symbol: "BTCUSDT", Side: common.SideSell, Quantity: exec.Quantity}); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if gw.Holding("BTCUSDT") != 0 {
		t.Fatalf("holding after sell = %v", gw.Holding("BTCUSDT"))
	}
}

func TestPaperGatewaySlippageIsAdverse(t *testing.T) {
	gw := NewPaperGateway(fixedPrice(100), DryRunSimConfig{SlippageBps: 50}, zerolog.Nop())
	ack, err := gw.PlaceMarketOrder(context.Background(), common.MarketOrder{Symbol: "BTCUSDT", Side: common.SideBuy, Quantity: 1})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if p := ack.Fills[0].Price; p < 100 || p > 100.5 {
		t.Fatalf("buy price %v outside [100, 100.5]", p)
	}
}

func TestPaperGatewayBalances(t *testing.T) {
	gw := NewPaperGateway(fixedPrice(100), DryRunSimConfig{FeeRate: 0.001, StartingBalance: 1000}, zerolog.Nop())
	ctx := context.Background()

	if _, err := gw.PlaceMarketOrder(ctx, common.MarketOrder{Symbol: "BTCUSDT", Side: common.SideBuy, Quantity: 2}); err != nil {
		t.Fatalf("buy: %v", err)
	}
	bals, err := gw.Balances(ctx)
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	if len(bals) != 2 || bals[0].Asset != "BTC" || bals[1].Asset != "USDT" {
		t.Fatalf("balances = %+v", bals)
	}
	// 1000 - 200 notional - 0.2 fee
	if !almost(bals[0].Free, 2) || !almost(bals[1].Free, 799.8) {
		t.Fatalf("balances = %+v", bals)
	}

	if _, err := gw.PlaceMarketOrder(ctx, common.MarketOrder{Symbol: "BTCUSDT", Side: common.SideSell, Quantity: 2}); err != nil {
		t.Fatalf("sell: %v", err)
	}
	bals, _ = gw.Balances(ctx)
	if len(bals) != 1 || bals[0].Asset != "USDT" || !almost(bals[0].Free, 999.6) {
		t.Fatalf("balances after sell = %+v", bals)
	}
}

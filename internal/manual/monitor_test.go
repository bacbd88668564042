package manual

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradex-core/internal/events"
	"tradex-core/pkg/db"
	exchange "tradex-core/pkg/exchanges/common"
)

type tape struct {
	mu    sync.Mutex
	price float64
}

func (p *tape) set(v float64) {
	p.mu.Lock()
	p.price = v
	p.mu.Unlock()
}

func (p *tape) LastPrice(context.Context, string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.price, nil
}

type venue struct {
	prices *tape
	mu     sync.Mutex
	orders []exchange.MarketOrder
}

func (v *venue) Gateway(context.Context, string) (exchange.Gateway, error) { return v, nil }

func (v *venue) PlaceMarketOrder(ctx context.Context, req exchange.MarketOrder) (exchange.OrderAck, error) {
	v.mu.Lock()
	v.orders = append(v.orders, req)
	v.mu.Unlock()
	price, _ := v.prices.LastPrice(ctx, req.Symbol)
	qty := req.Quantity
	if req.QuoteQuantity > 0 {
		qty = req.QuoteQuantity / price
	}
	return exchange.OrderAck{
		Symbol: req.Symbol, Side: req.Side, Status: exchange.StatusFilled, ExecutedQty: qty,
		Fills: []exchange.Fill{{Price: price, Qty: qty, CommissionAsset: "USDT"}},
	}, nil
}

func (v *venue) Orders() []exchange.MarketOrder {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]exchange.MarketOrder(nil), v.orders...)
}

func newTestMonitor(t *testing.T) (*Monitor, *db.Database, *tape, *venue, *events.Bus) {
	t.Helper()
	store, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, db.ApplyMigrations(store))

	prices := &tape{price: 100}
	v := &venue{prices: prices}
	bus := events.NewBus()
	m := NewMonitor(store, prices, v, bus, 5*time.Millisecond, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, store, prices, v, bus
}

func TestTrigger(t *testing.T) {
	tests := []struct {
		name   string
		side   exchange.Side
		price  float64
		tp, sl float64
		want   string
	}{
		{"buy take profit", exchange.SideBuy, 110, 110, 90, "take_profit"},
		{"buy stop loss", exchange.SideBuy, 89, 110, 90, "stop_loss"},
		{"buy inside band", exchange.SideBuy, 100, 110, 90, ""},
		{"buy no stop", exchange.SideBuy, 10, 110, 0, ""},
		{"sell take profit", exchange.SideSell, 90, 90, 110, "take_profit"},
		{"sell stop loss", exchange.SideSell, 111, 90, 110, "stop_loss"},
		{"sell no take profit", exchange.SideSell, 1, 0, 110, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, hit := Trigger(tt.side, tt.price, tt.tp, tt.sl)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want != "", hit)
		})
	}
}

func TestOpenValidates(t *testing.T) {
	m, _, _, v, _ := newTestMonitor(t)
	bad := []Request{
		{Side: "BUY", Amount: 10},
		{Symbol: "BTCUSDT", Side: "HOLD", Amount: 10},
		{Symbol: "BTCUSDT", Side: "BUY", Amount: 0},
		{Symbol: "BTCUSDT", Side: "BUY", Amount: 10, TakeProfit: 90, StopLoss: 95},
		{Symbol: "BTCUSDT", Side: "SELL", Amount: 10, TakeProfit: 110, StopLoss: 105},
	}
	for _, req := range bad {
		_, err := m.Open(context.Background(), "a1", req)
		assert.ErrorIs(t, err, ErrInvalidRequest, "%+v", req)
	}
	assert.Empty(t, v.Orders())
}

func TestTakeProfitClosesTrade(t *testing.T) {
	m, store, prices, v, bus := newTestMonitor(t)
	closed, unsub := bus.Subscribe(4, events.EventManualClosed)
	defer unsub()
	ctx := context.Background()

	res, err := m.Open(ctx, "a1", Request{Symbol: "btcusdt", Side: "buy", Amount: 100, TakeProfit: 110, StopLoss: 90})
	require.NoError(t, err)
	assert.True(t, res.Monitoring)
	assert.InDelta(t, 1.0, res.Quantity, 1e-12)
	assert.Equal(t, []int64{res.TradeID}, m.Active("a1"))

	prices.set(112)
	select {
	case ev := <-closed:
		te := ev.(events.TradeEvent)
		assert.Equal(t, "SELL", te.Side)
		assert.InDelta(t, 12.0, te.Profit, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("trade was not closed")
	}

	orders := v.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, "BTCUSDT", orders[1].Symbol)
	assert.Equal(t, exchange.SideSell, orders[1].Side)
	assert.InDelta(t, 1.0, orders[1].Quantity, 1e-12)

	trades, err := store.GetTrades(ctx, "a1", 0, 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, db.TradeClosed, trades[0].Status)
	assert.Equal(t, trades[1].ID, trades[0].RelatedTradeID)
	assert.Equal(t, trades[0].ID, trades[1].RelatedTradeID)
	assert.Equal(t, db.ManualStrategyID, trades[1].StrategyID)

	pairs, err := store.GetTradePairs(ctx, "a1", 0, 0)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, trades[0].ID, pairs[0].EntryTradeID)
	assert.Equal(t, trades[1].ID, pairs[0].ExitTradeID)
	assert.Equal(t, db.ManualStrategyID, pairs[0].StrategyID)
	assert.InDelta(t, 12.0, pairs[0].Profit, 1e-9)
	assert.InDelta(t, 12.0, pairs[0].ProfitPercent, 1e-9)

	require.Eventually(t, func() bool { return len(m.Active("a1")) == 0 }, time.Second, time.Millisecond)
}

func TestShortEntryClosesWithPair(t *testing.T) {
	m, store, prices, v, bus := newTestMonitor(t)
	closed, unsub := bus.Subscribe(4, events.EventManualClosed)
	defer unsub()
	ctx := context.Background()

	prices.set(150)
	res, err := m.Open(ctx, "a1", Request{Symbol: "BTCUSDT", Side: "SELL", Amount: 150, TakeProfit: 100})
	require.NoError(t, err)
	require.True(t, res.Monitoring)

	prices.set(100)
	select {
	case ev := <-closed:
		te := ev.(events.TradeEvent)
		assert.Equal(t, "BUY", te.Side)
		assert.InDelta(t, 50.0, te.Profit, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("short was not covered")
	}
	orders := v.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, exchange.SideBuy, orders[1].Side)

	pairs, err := store.GetTradePairs(ctx, "a1", 0, 0)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, res.TradeID, pairs[0].EntryTradeID)
	assert.InDelta(t, 50.0, pairs[0].Profit, 1e-9)
}

func TestCancelKeepsPositionOpen(t *testing.T) {
	m, store, _, v, _ := newTestMonitor(t)
	ctx := context.Background()

	res, err := m.Open(ctx, "a1", Request{Symbol: "BTCUSDT", Side: "BUY", Amount: 50, StopLoss: 80})
	require.NoError(t, err)
	require.NoError(t, m.Cancel("a1", res.TradeID))
	require.Eventually(t, func() bool { return len(m.Active("a1")) == 0 }, time.Second, time.Millisecond)

	assert.ErrorIs(t, m.Cancel("a1", res.TradeID), ErrNotMonitored)
	assert.Len(t, v.Orders(), 1)
	open, err := store.ListOpenManualTrades(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestOpenWithoutLevelsIsNotWatched(t *testing.T) {
	m, _, _, _, _ := newTestMonitor(t)
	res, err := m.Open(context.Background(), "a1", Request{Symbol: "BTCUSDT", Amount: 10})
	require.NoError(t, err)
	assert.False(t, res.Monitoring)
	assert.Empty(t, m.Active("a1"))
}

func TestResumeWatchesStoredEntries(t *testing.T) {
	m, store, _, _, _ := newTestMonitor(t)
	ctx := context.Background()
	_, err := store.CreateTrade(ctx, db.Trade{
		AccountID: "a2", Symbol: "ETHUSDT", Side: "BUY", Quantity: 1, Price: 100,
		StrategyID: db.ManualStrategyID, Status: db.TradeOpen, TakeProfit: 120, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	_, err = store.CreateTrade(ctx, db.Trade{
		AccountID: "a2", Symbol: "ETHUSDT", Side: "BUY", Quantity: 1, Price: 100,
		StrategyID: db.ManualStrategyID, Status: db.TradeOpen, CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	n, err := m.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, m.Active("a2"), 1)
}

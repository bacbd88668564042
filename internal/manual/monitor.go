// Package manual places one-off market trades for an account and watches
// them until a take-profit or stop-loss level is crossed.
package manual

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tradex-core/internal/events"
	"tradex-core/internal/order"
	"tradex-core/pkg/db"
	exchange "tradex-core/pkg/exchanges/common"
)

var (
	ErrInvalidRequest = errors.New("invalid manual trade")
	ErrNotMonitored   = errors.New("manual trade is not being monitored")
)

// Store persists manual trades.
type Store interface {
	CreateTrade(ctx context.Context, t db.Trade) (int64, error)
	UpdateTrade(ctx context.Context, id int64, u db.TradeUpdate) error
	CreateTradePair(ctx context.Context, p db.TradePair) (int64, error)
	ListOpenManualTrades(ctx context.Context) ([]db.Trade, error)
}

type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

type GatewayResolver interface {
	Gateway(ctx context.Context, accountID string) (exchange.Gateway, error)
}

// Request opens a manual position of Amount quote notional.
type Request struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Amount     float64 `json:"amount"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
}

// Result describes the filled entry.
type Result struct {
	TradeID    int64   `json:"trade_id"`
	Price      float64 `json:"price"`
	Quantity   float64 `json:"quantity"`
	Monitoring bool    `json:"monitoring"`
}

// Key identifies a watched entry.
type Key struct {
	AccountID string
	TradeID   int64
}

type entry struct {
	key        Key
	symbol     string
	side       exchange.Side
	quantity   float64
	price      float64
	commission float64
	takeProfit float64
	stopLoss   float64
	openedAt   time.Time
}

// Monitor owns the watcher goroutines.
type Monitor struct {
	store    Store
	prices   PriceSource
	gateways GatewayResolver
	bus      *events.Bus
	poll     time.Duration
	log      zerolog.Logger

	baseCtx   context.Context
	cancelAll context.CancelFunc

	mu    sync.Mutex
	tasks map[Key]context.CancelFunc
	wg    sync.WaitGroup
}

func NewMonitor(store Store, prices PriceSource, gateways GatewayResolver, bus *events.Bus, poll time.Duration, log zerolog.Logger) *Monitor {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		store:     store,
		prices:    prices,
		gateways:  gateways,
		bus:       bus,
		poll:      poll,
		log:       log,
		baseCtx:   ctx,
		cancelAll: cancel,
		tasks:     make(map[Key]context.CancelFunc),
	}
}

func (r Request) validate() (exchange.Side, error) {
	if strings.TrimSpace(r.Symbol) == "" {
		return "", fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}
	side := exchange.Side(strings.ToUpper(r.Side))
	if side == "" {
		side = exchange.SideBuy
	}
	if side != exchange.SideBuy && side != exchange.SideSell {
		return "", fmt.Errorf("%w: side must be BUY or SELL", ErrInvalidRequest)
	}
	if r.Amount <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if r.TakeProfit < 0 || r.StopLoss < 0 {
		return "", fmt.Errorf("%w: take_profit and stop_loss must not be negative", ErrInvalidRequest)
	}
	if r.TakeProfit > 0 && r.StopLoss > 0 {
		if side == exchange.SideBuy && r.TakeProfit <= r.StopLoss {
			return "", fmt.Errorf("%w: take_profit must be above stop_loss for BUY", ErrInvalidRequest)
		}
		if side == exchange.SideSell && r.TakeProfit >= r.StopLoss {
			return "", fmt.Errorf("%w: take_profit must be below stop_loss for SELL", ErrInvalidRequest)
		}
	}
	return side, nil
}

// Open places the entry, records it and starts watching when a TP or SL
// level was given.
func (m *Monitor) Open(ctx context.Context, accountID string, req Request) (Result, error) {
	side, err := req.validate()
	if err != nil {
		return Result{}, err
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))

	gw, err := m.gateways.Gateway(ctx, accountID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve gateway: %w", err)
	}
	ack, err := gw.PlaceMarketOrder(ctx, exchange.MarketOrder{Symbol: symbol, Side: side, QuoteQuantity: req.Amount})
	if err != nil {
		return Result{}, fmt.Errorf("place entry order: %w", err)
	}
	exec := order.Extract(ack)
	if exec.Quantity <= 0 {
		return Result{}, fmt.Errorf("entry order %s not filled (status %s)", ack.ExchangeOrderID, ack.Status)
	}

	openedAt := time.Now().UTC()
	id, err := m.store.CreateTrade(ctx, db.Trade{
		AccountID:  accountID,
		Symbol:     symbol,
		Side:       string(side),
		Quantity:   exec.Quantity,
		Price:      exec.AvgPrice,
		Commission: exec.Commission,
		StrategyID: db.ManualStrategyID,
		Status:     db.TradeOpen,
		OrderID:    ack.ExchangeOrderID,
		TakeProfit: req.TakeProfit,
		StopLoss:   req.StopLoss,
		CreatedAt:  openedAt,
	})
	if err != nil {
		return Result{}, fmt.Errorf("record entry trade: %w", err)
	}
	m.bus.Publish(events.EventTradeExecuted, events.TradeEvent{
		AccountID: accountID, StrategyID: db.ManualStrategyID, TradeID: id, Symbol: symbol, Side: string(side),
		Quantity: exec.Quantity, Price: exec.AvgPrice, Commission: exec.Commission, Time: time.Now(),
	})

	res := Result{TradeID: id, Price: exec.AvgPrice, Quantity: exec.Quantity}
	if req.TakeProfit > 0 || req.StopLoss > 0 {
		res.Monitoring = m.watch(entry{
			key: Key{AccountID: accountID, TradeID: id}, symbol: symbol, side: side,
			quantity: exec.Quantity, price: exec.AvgPrice, commission: exec.Commission,
			takeProfit: req.TakeProfit, stopLoss: req.StopLoss, openedAt: openedAt,
		})
	}
	return res, nil
}

// Resume restarts watchers for open manual entries found in storage.
func (m *Monitor) Resume(ctx context.Context) (int, error) {
	trades, err := m.store.ListOpenManualTrades(ctx)
	if err != nil {
		return 0, fmt.Errorf("list manual trades: %w", err)
	}
	n := 0
	for _, t := range trades {
		if t.TakeProfit <= 0 && t.StopLoss <= 0 {
			continue
		}
		if m.watch(entry{
			key: Key{AccountID: t.AccountID, TradeID: t.ID}, symbol: t.Symbol, side: exchange.Side(t.Side),
			quantity: t.Quantity, price: t.Price, commission: t.Commission,
			takeProfit: t.TakeProfit, stopLoss: t.StopLoss, openedAt: t.CreatedAt,
		}) {
			n++
		}
	}
	return n, nil
}

// Cancel stops watching an entry. The position itself stays open.
func (m *Monitor) Cancel(accountID string, tradeID int64) error {
	m.mu.Lock()
	cancel, ok := m.tasks[Key{AccountID: accountID, TradeID: tradeID}]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotMonitored, tradeID)
	}
	cancel()
	return nil
}

// Active lists the watched entries of an account.
func (m *Monitor) Active(accountID string) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for k := range m.tasks {
		if k.AccountID == accountID {
			ids = append(ids, k.TradeID)
		}
	}
	return ids
}

// Shutdown stops every watcher and waits for them or ctx.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.cancelAll()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) watch(e entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[e.key]; ok || m.baseCtx.Err() != nil {
		return false
	}
	ctx, cancel := context.WithCancel(m.baseCtx)
	m.tasks[e.key] = cancel
	m.wg.Add(1)
	go m.run(ctx, cancel, e)
	return true
}

func (m *Monitor) run(ctx context.Context, cancel context.CancelFunc, e entry) {
	log := m.log.With().Str("account_id", e.key.AccountID).Int64("trade_id", e.key.TradeID).Str("symbol", e.symbol).Logger()
	defer func() {
		m.mu.Lock()
		delete(m.tasks, e.key)
		m.mu.Unlock()
		cancel()
		m.wg.Done()
	}()
	log.Info().Float64("take_profit", e.takeProfit).Float64("stop_loss", e.stopLoss).Msg("watching manual trade")

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("manual trade watch stopped")
			return
		case <-ticker.C:
		}

		price, err := m.prices.LastPrice(ctx, e.symbol)
		if err != nil {
			log.Warn().Err(err).Msg("price lookup failed")
			continue
		}
		reason, hit := Trigger(e.side, price, e.takeProfit, e.stopLoss)
		if !hit {
			continue
		}
		if err := m.exit(ctx, e, reason, log); err != nil {
			log.Error().Err(err).Str("reason", reason).Msg("manual exit failed, retrying")
			continue
		}
		return
	}
}

// Trigger reports whether price crossed a level for an entry on side. Stop
// loss wins when both levels are crossed at once.
func Trigger(side exchange.Side, price, takeProfit, stopLoss float64) (string, bool) {
	if side == exchange.SideBuy {
		if stopLoss > 0 && price <= stopLoss {
			return "stop_loss", true
		}
		if takeProfit > 0 && price >= takeProfit {
			return "take_profit", true
		}
		return "", false
	}
	if stopLoss > 0 && price >= stopLoss {
		return "stop_loss", true
	}
	if takeProfit > 0 && price <= takeProfit {
		return "take_profit", true
	}
	return "", false
}

func (m *Monitor) exit(ctx context.Context, e entry, reason string, log zerolog.Logger) error {
	gw, err := m.gateways.Gateway(ctx, e.key.AccountID)
	if err != nil {
		return fmt.Errorf("resolve gateway: %w", err)
	}
	exitSide := e.side.Opposite()
	ack, err := gw.PlaceMarketOrder(ctx, exchange.MarketOrder{Symbol: e.symbol, Side: exitSide, Quantity: e.quantity})
	if err != nil {
		return fmt.Errorf("place exit order: %w", err)
	}
	exec := order.Extract(ack)
	if exec.Quantity <= 0 {
		return fmt.Errorf("exit order %s not filled (status %s)", ack.ExchangeOrderID, ack.Status)
	}

	// the exit filled; persistence must not be abandoned on cancellation
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	profit := (exec.AvgPrice-e.price)*e.quantity - e.commission - exec.Commission
	if e.side == exchange.SideSell {
		profit = (e.price-exec.AvgPrice)*e.quantity - e.commission - exec.Commission
	}
	closedAt := time.Now().UTC()
	exitID, err := m.store.CreateTrade(pctx, db.Trade{
		AccountID:      e.key.AccountID,
		Symbol:         e.symbol,
		Side:           string(exitSide),
		Quantity:       exec.Quantity,
		Price:          exec.AvgPrice,
		Commission:     exec.Commission,
		StrategyID:     db.ManualStrategyID,
		Status:         db.TradeClosed,
		RelatedTradeID: e.key.TradeID,
		Profit:         profit,
		OrderID:        ack.ExchangeOrderID,
		CreatedAt:      closedAt,
	})
	if err != nil {
		log.Error().Err(err).Msg("record exit trade failed")
	}
	if err := m.store.UpdateTrade(pctx, e.key.TradeID, db.TradeUpdate{Status: db.TradeClosed, RelatedTradeID: exitID}); err != nil {
		log.Error().Err(err).Msg("close entry trade failed")
	}
	if exitID != 0 {
		var pct float64
		if cost := e.price * e.quantity; cost > 0 {
			pct = profit / cost * 100
		}
		if _, err := m.store.CreateTradePair(pctx, db.TradePair{
			AccountID:     e.key.AccountID,
			Symbol:        e.symbol,
			StrategyID:    db.ManualStrategyID,
			EntryTradeID:  e.key.TradeID,
			ExitTradeID:   exitID,
			Profit:        profit,
			ProfitPercent: pct,
			EntryTime:     e.openedAt.UTC(),
			ExitTime:      closedAt,
		}); err != nil {
			log.Error().Err(err).Msg("record trade pair failed")
		}
	}

	log.Info().Str("reason", reason).Float64("exit_price", exec.AvgPrice).Float64("profit", profit).Msg("manual trade closed")
	m.bus.Publish(events.EventManualClosed, events.TradeEvent{
		AccountID: e.key.AccountID, StrategyID: db.ManualStrategyID, TradeID: exitID, Symbol: e.symbol,
		Side: string(exitSide), Quantity: exec.Quantity, Price: exec.AvgPrice, Commission: exec.Commission,
		Profit: profit, Time: time.Now(),
	})
	return nil
}

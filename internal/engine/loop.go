package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tradex-core/internal/events"
	"tradex-core/internal/monitor"
	"tradex-core/internal/order"
	"tradex-core/internal/state"
	"tradex-core/internal/strategy"
	"tradex-core/pkg/db"
	"tradex-core/pkg/exchanges/common"
)

// persistTimeout bounds writes that must finish even when the run is cancelled
// right after a fill.
const persistTimeout = 10 * time.Second

func (s *Scheduler) loop(ctx context.Context, h *runHandle) {
	log := s.log.With().
		Str("account_id", h.key.AccountID).
		Str("strategy_id", h.key.StrategyID).
		Int64("run_id", h.runID).
		Logger()
	defer s.cleanup(h, log)

	s.note(h, fmt.Sprintf("started %s on %s %s with amount %.2f", h.desc.Kind, h.desc.Symbol, h.desc.Interval, h.amount))
	log.Info().Str("symbol", h.desc.Symbol).Float64("amount", h.amount).Msg("run started")

	for {
		if ctx.Err() != nil {
			return
		}
		wait := s.iterate(ctx, h, log)
		if !sleep(ctx, wait) {
			return
		}
	}
}

// iterate runs one polling step and returns the delay before the next one.
// Panics are contained here so a bad iteration never kills the loop.
func (s *Scheduler) iterate(ctx context.Context, h *runHandle, log zerolog.Logger) (wait time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.IncPanics()
			err := fmt.Errorf("%w: panic: %v", ErrUnexpected, r)
			log.Error().Err(err).Msg("iteration panicked")
			s.note(h, err.Error())
			wait = s.opts.RetryDelay
		}
	}()

	wait, err := s.step(ctx, h)
	if err == nil || ctx.Err() != nil {
		return wait
	}

	s.metrics.IncIterationErrors()
	switch {
	case errors.Is(err, ErrDataInsufficient):
		log.Debug().Err(err).Msg("waiting for data")
	case errors.Is(err, ErrTransientIO):
		log.Warn().Err(err).Msg("iteration failed")
	default:
		if !errors.Is(err, ErrUnexpected) {
			err = fmt.Errorf("%w: %w", ErrUnexpected, err)
		}
		log.Error().Err(err).Msg("iteration failed")
	}
	s.note(h, err.Error())
	return wait
}

func (s *Scheduler) step(ctx context.Context, h *runHandle) (time.Duration, error) {
	d := h.desc

	t := monitor.NewTimer(s.metrics.CandleLatency)
	candles, err := s.market.GetCandles(ctx, d.Symbol, d.Interval, d.WarmUp()+s.opts.CandleBuffer)
	t.Stop()
	if err != nil {
		return s.opts.RetryDelay, fmt.Errorf("%w: fetch candles: %w", ErrTransientIO, err)
	}
	if len(candles) == 0 {
		return s.opts.RetryDelay, fmt.Errorf("%w: no candles for %s %s", ErrDataInsufficient, d.Symbol, d.Interval)
	}

	t = monitor.NewTimer(s.metrics.SignalLatency)
	sig, err := strategy.ComputeSignal(d, candles)
	t.Stop()
	var short *strategy.InsufficientDataError
	if errors.As(err, &short) {
		return s.opts.RetryDelay, fmt.Errorf("%w: %w", ErrDataInsufficient, err)
	}
	if err != nil {
		return s.opts.RetryDelay, fmt.Errorf("%w: compute signal: %w", ErrUnexpected, err)
	}
	s.metrics.IncSignals()

	last := candles[len(candles)-1].Close
	if !h.machine.Actionable(sig) {
		if sig == strategy.SignalHold {
			s.note(h, fmt.Sprintf("HOLD close=%.8f", last))
		} else {
			s.note(h, fmt.Sprintf("%s ignored, position is %s", sig, h.machine.State()))
		}
		return s.opts.PollInterval, nil
	}

	req := common.MarketOrder{Symbol: d.Symbol}
	switch sig {
	case strategy.SignalBuy:
		amount, err := s.entryNotional(ctx, h)
		if err != nil {
			return s.opts.RetryDelay, err
		}
		req.Side, req.QuoteQuantity = common.SideBuy, amount
		s.note(h, fmt.Sprintf("BUY signal close=%.8f, buying %.2f notional", last, amount))
	case strategy.SignalSell:
		pos, _ := h.machine.Position()
		req.Side, req.Quantity = common.SideSell, pos.Quantity
		s.note(h, fmt.Sprintf("SELL signal close=%.8f, selling %.8f", last, pos.Quantity))
	}

	exec, err := s.placeOrder(ctx, h, req)
	if err != nil {
		s.metrics.IncOrderFailures()
		return s.opts.OrderRetryDelay, err
	}
	s.metrics.IncOrdersPlaced()

	if sig == strategy.SignalBuy {
		s.applyBuy(ctx, h, exec)
	} else {
		s.applySell(ctx, h, exec)
	}
	return s.opts.PollInterval, nil
}

// entryNotional returns the configured amount, raised to the symbol's
// minimum notional when below it.
func (s *Scheduler) entryNotional(ctx context.Context, h *runHandle) (float64, error) {
	minNotional, err := s.market.GetMinNotional(ctx, h.desc.Symbol)
	if err != nil {
		return 0, fmt.Errorf("%w: min notional: %w", ErrTransientIO, err)
	}
	amount := h.amount
	if minNotional > 0 && amount < minNotional {
		s.note(h, fmt.Sprintf("amount %.2f below minimum notional %.2f for %s, adjusted to %.2f",
			amount, minNotional, h.desc.Symbol, minNotional))
		amount = minNotional
	}
	return amount, nil
}

func (s *Scheduler) placeOrder(ctx context.Context, h *runHandle, req common.MarketOrder) (order.Execution, error) {
	gw, err := s.gateways.Gateway(ctx, h.key.AccountID)
	if err != nil {
		return order.Execution{}, fmt.Errorf("%w: resolve gateway: %w", ErrTransientIO, err)
	}

	t := monitor.NewTimer(s.metrics.OrderLatency)
	ack, err := gw.PlaceMarketOrder(ctx, req)
	t.Stop()
	if err != nil {
		return order.Execution{}, fmt.Errorf("%w: place %s order: %w", ErrTransientIO, req.Side, err)
	}

	exec := order.Extract(ack)
	if exec.Quantity <= 0 || exec.AvgPrice <= 0 {
		return order.Execution{}, fmt.Errorf("%w: %s order %s not filled (status %s)", ErrTransientIO, req.Side, ack.ExchangeOrderID, ack.Status)
	}
	if exec.Estimated {
		s.note(h, "order ack carried no fills, price estimated from cumulative quote quantity")
	}
	if len(exec.ForeignFeeAssets) > 0 {
		s.note(h, fmt.Sprintf("commission paid in %s, counted as quote asset", strings.Join(exec.ForeignFeeAssets, ",")))
	}
	return exec, nil
}

func (s *Scheduler) applyBuy(ctx context.Context, h *runHandle, exec order.Execution) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	now := time.Now().UTC()
	tradeID, err := s.store.CreateTrade(pctx, db.Trade{
		AccountID:  h.key.AccountID,
		Symbol:     h.desc.Symbol,
		Side:       string(common.SideBuy),
		Quantity:   exec.Quantity,
		Price:      exec.AvgPrice,
		Commission: exec.Commission,
		StrategyID: h.key.StrategyID,
		Status:     db.TradeOpen,
		CreatedAt:  now,
	})
	if err != nil {
		// the fill happened; track the lot even though it could not be recorded
		s.log.Error().Err(err).Str("account_id", h.key.AccountID).Str("strategy_id", h.key.StrategyID).Msg("persist buy trade failed")
		s.note(h, "persist buy trade failed: "+err.Error())
	}

	if err := h.machine.Open(state.Position{
		Symbol:         h.desc.Symbol,
		EntryPrice:     exec.AvgPrice,
		Quantity:       exec.Quantity,
		Commission:     exec.Commission,
		OpeningTradeID: tradeID,
		OpenedAt:       now,
	}); err != nil {
		s.note(h, "open position: "+err.Error())
		return
	}

	msg := fmt.Sprintf("BUY %.8f %s @ %.8f fee %.8f", exec.Quantity, h.desc.Symbol, exec.AvgPrice, exec.Commission)
	s.recordTrade(h, msg, events.TradeEvent{
		TradeID: tradeID, Side: string(common.SideBuy), Quantity: exec.Quantity,
		Price: exec.AvgPrice, Commission: exec.Commission, Time: now,
	})
}

func (s *Scheduler) applySell(ctx context.Context, h *runHandle, exec order.Execution) {
	closed, err := h.machine.Close(exec.AvgPrice, exec.Commission)
	if err != nil {
		s.note(h, "close position: "+err.Error())
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	entry := closed.Position
	sellID, err := s.store.CreateTrade(pctx, db.Trade{
		AccountID:      h.key.AccountID,
		Symbol:         h.desc.Symbol,
		Side:           string(common.SideSell),
		Quantity:       exec.Quantity,
		Price:          exec.AvgPrice,
		Commission:     exec.Commission,
		StrategyID:     h.key.StrategyID,
		Status:         db.TradeClosed,
		RelatedTradeID: entry.OpeningTradeID,
		Profit:         closed.Profit,
		CreatedAt:      closed.ClosedAt.UTC(),
	})
	if err != nil {
		s.log.Error().Err(err).Str("account_id", h.key.AccountID).Str("strategy_id", h.key.StrategyID).Msg("persist sell trade failed")
		s.note(h, "persist sell trade failed: "+err.Error())
	}

	if entry.OpeningTradeID != 0 {
		if err := s.store.UpdateTrade(pctx, entry.OpeningTradeID, db.TradeUpdate{
			Status: db.TradeClosed, RelatedTradeID: sellID,
		}); err != nil {
			s.note(h, "close entry trade failed: "+err.Error())
		}
		if sellID != 0 {
			if _, err := s.store.CreateTradePair(pctx, db.TradePair{
				AccountID:     h.key.AccountID,
				Symbol:        h.desc.Symbol,
				StrategyID:    h.key.StrategyID,
				EntryTradeID:  entry.OpeningTradeID,
				ExitTradeID:   sellID,
				Profit:        closed.Profit,
				ProfitPercent: closed.ProfitPct(),
				EntryTime:     entry.OpenedAt.UTC(),
				ExitTime:      closed.ClosedAt.UTC(),
			}); err != nil {
				s.note(h, "record trade pair failed: "+err.Error())
			}
		}
	}

	msg := fmt.Sprintf("SELL %.8f %s @ %.8f fee %.8f profit %.8f (%.2f%%)",
		exec.Quantity, h.desc.Symbol, exec.AvgPrice, exec.Commission, closed.Profit, closed.ProfitPct())
	s.recordTrade(h, msg, events.TradeEvent{
		TradeID: sellID, Side: string(common.SideSell), Quantity: exec.Quantity,
		Price: exec.AvgPrice, Commission: exec.Commission, Profit: closed.Profit, Time: closed.ClosedAt,
	})
}

func (s *Scheduler) recordTrade(h *runHandle, msg string, ev events.TradeEvent) {
	s.note(h, msg)
	s.logs.AddTrade(h.key, msg)
	ev.AccountID, ev.StrategyID, ev.Symbol = h.key.AccountID, h.key.StrategyID, h.desc.Symbol
	s.bus.Publish(events.EventTradeExecuted, ev)
}

// note appends to the run's detail log and mirrors it on the bus.
func (s *Scheduler) note(h *runHandle, msg string) {
	e := s.logs.AddDetail(h.key, msg)
	s.bus.Publish(events.EventRunLog, events.LogEvent{
		AccountID: h.key.AccountID, StrategyID: h.key.StrategyID, Message: msg, Time: e.Time,
	})
}

// cleanup runs on every loop exit.
func (s *Scheduler) cleanup(h *runHandle, log zerolog.Logger) {
	defer close(h.done)
	defer h.cancel()

	s.mu.Lock()
	if s.runs[h.key] == h {
		delete(s.runs, h.key)
	}
	s.mu.Unlock()

	keep := s.shuttingDown.Load() && s.opts.ResumeRuns
	if !keep {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := s.store.StopRun(ctx, h.runID); err != nil {
			log.Error().Err(err).Msg("mark run stopped failed")
		}
		cancel()
	}

	s.note(h, "stopped")
	s.bus.Publish(events.EventRunStopped, events.RunEvent{
		AccountID: h.key.AccountID, StrategyID: h.key.StrategyID, RunID: h.runID, Time: time.Now(),
	})
	log.Info().Bool("kept_active", keep).Msg("run stopped")
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

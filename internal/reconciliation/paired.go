package reconciliation

import (
	"context"
	"fmt"
	"strings"

	"tradex-core/pkg/db"
)

// Paired consumes entry/exit pairs recorded when lots were closed.
type Paired struct {
	store Store
}

func NewPaired(store Store) *Paired {
	return &Paired{store: store}
}

func (p *Paired) Summarize(ctx context.Context, accountID string) (Summary, error) {
	pairs, err := p.store.GetTradePairs(ctx, accountID, 0, 0)
	if err != nil {
		return Summary{}, fmt.Errorf("load trade pairs: %w", err)
	}
	trades, err := p.store.GetTrades(ctx, accountID, 0, 0)
	if err != nil {
		return Summary{}, fmt.Errorf("load trades: %w", err)
	}
	return SummarizePairs(pairs, trades), nil
}

// SummarizePairs builds a Summary from pairs. A closed exit that links back
// to an earlier entry but has no pair row is counted through its stored
// profit. Trades outside any round trip are open positions: every such BUY,
// and manual SELL entries that are still open.
func SummarizePairs(pairs []db.TradePair, trades []db.Trade) Summary {
	var (
		sum           Summary
		wins, closed  int
		durationTotal float64
	)
	byID := make(map[int64]db.Trade, len(trades))
	for _, t := range trades {
		byID[t.ID] = t
	}
	entries := make(map[int64]struct{}, len(pairs))
	exits := make(map[int64]struct{}, len(pairs))

	book := func(exitID int64, symbol, side string, profit float64, minutes float64) {
		sum.TotalProfit += profit
		closed++
		if profit > 0 {
			wins++
		}
		durationTotal += minutes
		sum.History = append(sum.History, HistoryEntry{ID: exitID, Pair: symbol, Type: side, Status: "Closed", Profit: profit})
		sum.Chart = append(sum.Chart, chartPoint(exitID, profit))
	}

	for _, pr := range pairs {
		entries[pr.EntryTradeID] = struct{}{}
		exits[pr.ExitTradeID] = struct{}{}
		side := "SELL"
		if t, ok := byID[pr.ExitTradeID]; ok {
			side = strings.ToUpper(t.Side)
		}
		book(pr.ExitTradeID, pr.Symbol, side, pr.Profit, pr.ExitTime.Sub(pr.EntryTime).Minutes())
	}

	for _, t := range trades {
		if !isUnpairedExit(t, entries, exits) {
			continue
		}
		entries[t.RelatedTradeID] = struct{}{}
		exits[t.ID] = struct{}{}
		var minutes float64
		if entry, ok := byID[t.RelatedTradeID]; ok {
			minutes = t.CreatedAt.Sub(entry.CreatedAt).Minutes()
		}
		book(t.ID, t.Symbol, strings.ToUpper(t.Side), t.Profit, minutes)
	}

	for _, t := range trades {
		if _, used := entries[t.ID]; used {
			continue
		}
		if _, used := exits[t.ID]; used {
			continue
		}
		side := strings.ToUpper(t.Side)
		shortOpen := side == "SELL" && t.StrategyID == db.ManualStrategyID && t.Status == db.TradeOpen
		if side != "BUY" && !shortOpen {
			continue
		}
		sum.OpenPositionCount++
		sum.History = append(sum.History, HistoryEntry{ID: t.ID, Pair: t.Symbol, Type: side, Status: "Open"})
	}

	sum.WinRate = winRate(wins, closed)
	if closed > 0 {
		sum.AvgDurationMinutes = durationTotal / float64(closed)
	}
	return sum
}

// isUnpairedExit reports a closed trade that points back at an earlier entry
// while neither side appears in a stored pair.
func isUnpairedExit(t db.Trade, entries, exits map[int64]struct{}) bool {
	if t.Status != db.TradeClosed || t.RelatedTradeID == 0 || t.RelatedTradeID >= t.ID {
		return false
	}
	if _, ok := exits[t.ID]; ok {
		return false
	}
	_, ok := entries[t.RelatedTradeID]
	return !ok
}

// Package reconciliation turns an account's trade history into realized
// profit/loss statistics.
package reconciliation

import (
	"context"
	"fmt"

	"tradex-core/pkg/db"
)

// TradeStore reads raw trades.
type TradeStore interface {
	GetTrades(ctx context.Context, accountID string, offset, limit int) ([]db.Trade, error)
}

// PairStore reads pre-matched entry/exit pairs.
type PairStore interface {
	GetTradePairs(ctx context.Context, accountID string, offset, limit int) ([]db.TradePair, error)
	CountTradePairs(ctx context.Context, accountID string) (int, error)
}

// Store is everything the reconcilers read.
type Store interface {
	TradeStore
	PairStore
}

// Reconciler computes a Summary for one account.
type Reconciler interface {
	Summarize(ctx context.Context, accountID string) (Summary, error)
}

// Summary is the dashboard view of an account's trading results.
type Summary struct {
	TotalProfit        float64        `json:"total_profit"`
	WinRate            float64        `json:"win_rate"`
	OpenPositionCount  int            `json:"open_position_count"`
	AvgDurationMinutes float64        `json:"avg_duration_minutes"`
	History            []HistoryEntry `json:"history"`
	Chart              []ChartPoint   `json:"chart"`
	// OpenLots is filled by the FIFO path only.
	OpenLots []Lot `json:"open_lots,omitempty"`
}

// HistoryEntry is one row of the trade history table.
type HistoryEntry struct {
	ID     int64   `json:"id"`
	Pair   string  `json:"pair"`
	Type   string  `json:"type"`
	Status string  `json:"status"`
	Profit float64 `json:"profit"`
}

// ChartPoint is one closed trade split into its profit and loss bars.
type ChartPoint struct {
	Name   string  `json:"name"`
	Profit float64 `json:"profit"`
	Loss   float64 `json:"loss"`
}

func chartPoint(id int64, profit float64) ChartPoint {
	p := ChartPoint{Name: fmt.Sprintf("%d", id)}
	if profit > 0 {
		p.Profit = profit
	} else {
		p.Loss = -profit
	}
	return p
}

func winRate(wins, closed int) float64 {
	if closed == 0 {
		return 0
	}
	return float64(wins) / float64(closed) * 100
}

// Select returns a reconciler that uses stored pairs for accounts that have
// any and falls back to FIFO matching of raw trades otherwise.
func Select(store Store, feeRate float64) Reconciler {
	return &selector{
		store:  store,
		fifo:   NewFIFO(store, feeRate),
		paired: NewPaired(store),
	}
}

type selector struct {
	store  PairStore
	fifo   *FIFO
	paired *Paired
}

func (s *selector) Summarize(ctx context.Context, accountID string) (Summary, error) {
	n, err := s.store.CountTradePairs(ctx, accountID)
	if err != nil {
		return Summary{}, fmt.Errorf("count trade pairs: %w", err)
	}
	if n > 0 {
		return s.paired.Summarize(ctx, accountID)
	}
	return s.fifo.Summarize(ctx, accountID)
}

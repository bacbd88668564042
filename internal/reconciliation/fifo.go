package reconciliation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradex-core/pkg/db"
)

// qtyEpsilon absorbs float dust when a lot is consumed exactly.
const qtyEpsilon = 1e-12

// Lot is an open (partially) unmatched BUY.
type Lot struct {
	TradeID  int64     `json:"trade_id"`
	Symbol   string    `json:"symbol"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	OpenedAt time.Time `json:"opened_at"`
}

// FIFO matches SELLs against the oldest open BUY lots of the same symbol.
type FIFO struct {
	store   TradeStore
	feeRate float64
}

func NewFIFO(store TradeStore, feeRate float64) *FIFO {
	return &FIFO{store: store, feeRate: feeRate}
}

func (f *FIFO) Summarize(ctx context.Context, accountID string) (Summary, error) {
	trades, err := f.store.GetTrades(ctx, accountID, 0, 0)
	if err != nil {
		return Summary{}, fmt.Errorf("load trades: %w", err)
	}
	return MatchFIFO(trades, f.feeRate), nil
}

// MatchFIFO reconciles trades, which must be ordered by id. Manual SELL
// entries open short lots that are closed by the BUY linked to them.
func MatchFIFO(trades []db.Trade, feeRate float64) Summary {
	queues := map[string][]*Lot{}
	shorts := map[string][]*Lot{}
	var (
		sum            Summary
		closed, wins   int
		durationTotal  float64
		durationSample int
	)
	closeSlice := func(t db.Trade, profit float64) {
		sum.TotalProfit += profit
		closed++
		if profit > 0 {
			wins++
		}
		sum.History = append(sum.History, HistoryEntry{ID: t.ID, Pair: t.Symbol, Type: strings.ToUpper(t.Side), Status: "Closed", Profit: profit})
		sum.Chart = append(sum.Chart, chartPoint(t.ID, profit))
	}

	for _, t := range trades {
		switch strings.ToUpper(t.Side) {
		case "BUY":
			if q, ok := coveringShorts(t, shorts[t.Symbol]); ok {
				remaining := t.Quantity
				profit := 0.0
				for remaining > qtyEpsilon && len(q) > 0 {
					lot := q[0]
					take := min(lot.Quantity, remaining)
					profit += (lot.Price-t.Price)*take - (t.Price+lot.Price)*take*feeRate
					remaining -= take
					lot.Quantity -= take
					if lot.Quantity <= qtyEpsilon {
						durationTotal += t.CreatedAt.Sub(lot.OpenedAt).Minutes()
						durationSample++
						q = q[1:]
					}
				}
				shorts[t.Symbol] = removeClosed(shorts[t.Symbol])
				closeSlice(t, profit)
				continue
			}
			queues[t.Symbol] = append(queues[t.Symbol], &Lot{
				TradeID: t.ID, Symbol: t.Symbol, Quantity: t.Quantity, Price: t.Price, OpenedAt: t.CreatedAt,
			})
			sum.History = append(sum.History, HistoryEntry{ID: t.ID, Pair: t.Symbol, Type: "BUY", Status: "Open"})

		case "SELL":
			if isShortEntry(t, len(queues[t.Symbol])) {
				shorts[t.Symbol] = append(shorts[t.Symbol], &Lot{
					TradeID: t.ID, Symbol: t.Symbol, Quantity: t.Quantity, Price: t.Price, OpenedAt: t.CreatedAt,
				})
				sum.History = append(sum.History, HistoryEntry{ID: t.ID, Pair: t.Symbol, Type: "SELL", Status: "Open"})
				continue
			}
			remaining := t.Quantity
			profit := 0.0
			q := queues[t.Symbol]
			for remaining > qtyEpsilon && len(q) > 0 {
				lot := q[0]
				take := min(lot.Quantity, remaining)
				profit += (t.Price-lot.Price)*take - (t.Price+lot.Price)*take*feeRate
				remaining -= take
				lot.Quantity -= take
				if lot.Quantity <= qtyEpsilon {
					durationTotal += t.CreatedAt.Sub(lot.OpenedAt).Minutes()
					durationSample++
					q = q[1:]
				}
			}
			queues[t.Symbol] = q
			closeSlice(t, profit)

		default:
			sum.History = append(sum.History, HistoryEntry{ID: t.ID, Pair: t.Symbol, Type: t.Side, Status: "Unknown"})
		}
	}

	for _, t := range trades {
		// iterate trades again so lots come out in id order across symbols
		if strings.ToUpper(t.Side) != "BUY" {
			continue
		}
		for _, lot := range queues[t.Symbol] {
			if lot.TradeID == t.ID {
				sum.OpenLots = append(sum.OpenLots, *lot)
			}
		}
	}

	sum.OpenPositionCount = len(sum.OpenLots)
	for _, q := range shorts {
		sum.OpenPositionCount += len(q)
	}
	sum.WinRate = winRate(wins, closed)
	if durationSample > 0 {
		sum.AvgDurationMinutes = durationTotal / float64(durationSample)
	}
	return sum
}

// isShortEntry reports a manual SELL that opens a position: one linked to a
// later exit, or an unlinked one with no long lot to close.
func isShortEntry(t db.Trade, openLots int) bool {
	if t.StrategyID != db.ManualStrategyID {
		return false
	}
	if t.RelatedTradeID > t.ID {
		return true
	}
	return t.RelatedTradeID == 0 && openLots == 0
}

// coveringShorts returns the short lots a BUY closes: the one it links to,
// or for an unlinked manual exit every open short of the symbol.
func coveringShorts(t db.Trade, open []*Lot) ([]*Lot, bool) {
	if len(open) == 0 {
		return nil, false
	}
	if t.RelatedTradeID != 0 && t.RelatedTradeID < t.ID {
		for _, lot := range open {
			if lot.TradeID == t.RelatedTradeID {
				return []*Lot{lot}, true
			}
		}
		return nil, false
	}
	if t.StrategyID == db.ManualStrategyID && t.RelatedTradeID == 0 && t.Status == db.TradeClosed {
		return open, true
	}
	return nil, false
}

func removeClosed(q []*Lot) []*Lot {
	out := q[:0]
	for _, lot := range q {
		if lot.Quantity > qtyEpsilon {
			out = append(out, lot)
		}
	}
	return out
}

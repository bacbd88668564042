package events

import "time"

// Event enumerates topics published inside the core.
type Event string

const (
	EventTradeExecuted Event = "trade.executed"
	EventRunLog        Event = "run.log"
	EventRunStarted    Event = "run.started"
	EventRunStopped    Event = "run.stopped"
	EventManualClosed  Event = "manual.closed"
)

// TradeEvent is published after an order fill was applied.
type TradeEvent struct {
	AccountID  string    `json:"account_id"`
	StrategyID string    `json:"strategy_id"`
	TradeID    int64     `json:"trade_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	Profit     float64   `json:"profit,omitempty"`
	Time       time.Time `json:"time"`
}

// LogEvent mirrors a run's detail log line.
type LogEvent struct {
	AccountID  string    `json:"account_id"`
	StrategyID string    `json:"strategy_id"`
	Message    string    `json:"message"`
	Time       time.Time `json:"time"`
}

// RunEvent signals a run lifecycle change.
type RunEvent struct {
	AccountID  string    `json:"account_id"`
	StrategyID string    `json:"strategy_id"`
	RunID      int64     `json:"run_id"`
	Time       time.Time `json:"time"`
}

// Account returns the owning account of a known payload, or "".
func Account(payload any) string {
	switch p := payload.(type) {
	case TradeEvent:
		return p.AccountID
	case LogEvent:
		return p.AccountID
	case RunEvent:
		return p.AccountID
	}
	return ""
}

package engine

import (
	"time"

	"tradex-core/internal/state"
	"tradex-core/internal/strategy"
)

// RunKey identifies one strategy run of one account.
type RunKey struct {
	AccountID  string
	StrategyID string
}

func (k RunKey) String() string { return k.AccountID + "/" + k.StrategyID }

// RunInfo describes a launched run.
type RunInfo struct {
	RunID      int64     `json:"run_id"`
	AccountID  string    `json:"account_id"`
	StrategyID string    `json:"strategy_id"`
	Amount     float64   `json:"amount"`
	StartedAt  time.Time `json:"started_at"`
}

// StrategyStatus is a registered strategy with its run state for an account.
type StrategyStatus struct {
	strategy.Descriptor
	Running bool `json:"running"`
	// Local is false when the run is only known from storage, e.g. owned by
	// another instance.
	Local    bool            `json:"local"`
	Amount   float64         `json:"amount,omitempty"`
	Position *state.Position `json:"position,omitempty"`
}

// LogType selects a log feed.
type LogType string

const (
	LogDetail LogType = "detail"
	LogTrade  LogType = "trade"
)

// LogEntry is one timestamped line of a feed.
type LogEntry struct {
	Time       time.Time `json:"time"`
	StrategyID string    `json:"strategy_id"`
	Message    string    `json:"message"`
}

package db

import "time"

// Trade statuses.
const (
	TradeOpen   = "open"
	TradeClosed = "closed"
)

// Run statuses.
const (
	RunActive  = "active"
	RunStopped = "stopped"
)

// ManualStrategyID tags trades placed through the manual trade monitor.
const ManualStrategyID = "manual"

// Trade is one executed order leg.
type Trade struct {
	ID             int64
	AccountID      string
	Symbol         string
	Side           string // BUY or SELL
	Quantity       float64
	Price          float64
	Commission     float64
	StrategyID     string
	Status         string
	RelatedTradeID int64 // 0 when unset
	Profit         float64
	OrderID        string
	TakeProfit     float64
	StopLoss       float64
	CreatedAt      time.Time
}

// TradeUpdate carries the mutable fields of a trade.
type TradeUpdate struct {
	Status         string
	RelatedTradeID int64
	Profit         float64
}

// TradePair links the entry and exit trades of one closed lot.
type TradePair struct {
	ID            int64
	AccountID     string
	Symbol        string
	StrategyID    string
	EntryTradeID  int64
	ExitTradeID   int64
	Profit        float64
	ProfitPercent float64
	EntryTime     time.Time
	ExitTime      time.Time
}

// Run is the persisted record of a strategy run for an account.
type Run struct {
	ID         int64
	AccountID  string
	StrategyID string
	Amount     float64
	Status     string
	InstanceID string
	StartedAt  time.Time
	StoppedAt  *time.Time
}

// User represents an application user. The user id doubles as the account id.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Credential holds an account's encrypted exchange API key pair.
type Credential struct {
	AccountID          string
	APIKeyEncrypted    string
	APISecretEncrypted string
	KeyVersion         int
	Testnet            bool
	UpdatedAt          time.Time
}

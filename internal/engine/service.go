// Package engine runs strategies for many accounts concurrently: one polling
// loop per (account, strategy) that turns candles into orders and trades.
package engine

import (
	"context"

	"tradex-core/internal/strategy"
	"tradex-core/pkg/db"
	"tradex-core/pkg/exchanges/common"
)

// Service is the control surface used by the API layer.
type Service interface {
	// Start launches a run; amount overrides the strategy's trade size when non-nil.
	Start(ctx context.Context, accountID, strategyID string, amount *float64) (RunInfo, error)
	Stop(ctx context.Context, accountID, strategyID string) error
	Status(ctx context.Context, accountID string) ([]StrategyStatus, error)
	Logs(accountID, strategyID string, kind LogType) ([]LogEntry, error)
}

// MarketDataSource supplies candles and exchange filters.
type MarketDataSource interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]strategy.Candle, error)
	// GetMinNotional returns 0 when the venue publishes no minimum.
	GetMinNotional(ctx context.Context, symbol string) (float64, error)
}

// OrderGateway places market orders for one account.
type OrderGateway = common.Gateway

// GatewayResolver returns the order gateway of an account.
type GatewayResolver interface {
	Gateway(ctx context.Context, accountID string) (OrderGateway, error)
}

// PersistentStore is the storage the scheduler reads and appends to.
type PersistentStore interface {
	CreateTrade(ctx context.Context, t db.Trade) (int64, error)
	UpdateTrade(ctx context.Context, id int64, u db.TradeUpdate) error
	GetTrades(ctx context.Context, accountID string, offset, limit int) ([]db.Trade, error)
	GetTradePairs(ctx context.Context, accountID string, offset, limit int) ([]db.TradePair, error)
	CreateTradePair(ctx context.Context, p db.TradePair) (int64, error)
	FindOpenTrade(ctx context.Context, accountID, strategyID string) (*db.Trade, error)

	CreateRun(ctx context.Context, r db.Run) (int64, error)
	StopRun(ctx context.Context, runID int64) error
	GetActiveRuns(ctx context.Context, accountID string) ([]db.Run, error)
	ListActiveRuns(ctx context.Context, instanceID string) ([]db.Run, error)
}

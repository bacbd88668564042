package common

import "context"

// Gateway abstracts a trading venue.
type Gateway interface {
	PlaceMarketOrder(ctx context.Context, req MarketOrder) (OrderAck, error)
}

// BalanceReader is implemented by gateways that can report account balances.
type BalanceReader interface {
	Balances(ctx context.Context) ([]Balance, error)
}

package gateway

import (
	"github.com/rs/zerolog"

	"tradex-core/internal/order"
	exspot "tradex-core/pkg/exchanges/binance/spot"
	exchange "tradex-core/pkg/exchanges/common"
)

// Credentials is a decrypted exchange key pair.
type Credentials struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

// Factory builds the gateway of one account.
type Factory func(accountID string, creds Credentials) (exchange.Gateway, error)

// SpotFactory places real orders on Binance spot. Testnet is forced on when
// either the process or the account asks for it.
func SpotFactory(testnet bool, log zerolog.Logger) Factory {
	return func(accountID string, creds Credentials) (exchange.Gateway, error) {
		if creds.APIKey == "" || creds.APISecret == "" {
			return nil, exspot.ErrMissingCredentials
		}
		return exspot.New(exspot.Config{
			APIKey:    creds.APIKey,
			APISecret: creds.APISecret,
			Testnet:   testnet || creds.Testnet,
		}, log.With().Str("account_id", accountID).Logger()), nil
	}
}

// PaperFactory gives each account its own simulated book priced from prices.
func PaperFactory(prices order.PriceSource, cfg order.DryRunSimConfig, log zerolog.Logger) Factory {
	return func(accountID string, _ Credentials) (exchange.Gateway, error) {
		return order.NewPaperGateway(prices, cfg, log.With().Str("account_id", accountID).Logger()), nil
	}
}

package order

import (
	"sort"

	"tradex-core/pkg/exchanges/common"
)

// Execution is the realized outcome of a filled market order.
type Execution struct {
	AvgPrice   float64
	Quantity   float64
	Commission float64
	// Estimated is set when the ack carried no per-fill detail and the price
	// was derived from the cumulative quote quantity.
	Estimated bool
	// ForeignFeeAssets lists commission assets seen in fills. Commission is
	// summed as if it were paid in the quote asset, so any entry here means
	// Commission is an approximation.
	ForeignFeeAssets []string
}

// Extract derives average price, executed quantity and commission from an
// order acknowledgment.
func Extract(ack common.OrderAck) Execution {
	if len(ack.Fills) == 0 {
		var price float64
		if ack.ExecutedQty > 0 {
			price = ack.CummulativeQuoteQty / ack.ExecutedQty
		}
		return Execution{
			AvgPrice:  price,
			Quantity:  ack.ExecutedQty,
			Estimated: true,
		}
	}

	var notional, qty, commission float64
	assets := map[string]struct{}{}
	for _, f := range ack.Fills {
		notional += f.Price * f.Qty
		qty += f.Qty
		commission += f.Commission
		if f.CommissionAsset != "" {
			assets[f.CommissionAsset] = struct{}{}
		}
	}

	exec := Execution{Quantity: qty, Commission: commission}
	if qty > 0 {
		exec.AvgPrice = notional / qty
	}
	quote := quoteAsset(ack.Symbol)
	for a := range assets {
		if a != quote {
			exec.ForeignFeeAssets = append(exec.ForeignFeeAssets, a)
		}
	}
	sort.Strings(exec.ForeignFeeAssets)
	return exec
}

var quoteAssets = []string{"USDT", "USDC", "FDUSD", "BUSD", "TUSD", "BTC", "ETH", "BNB", "EUR", "TRY"}

// quoteAsset guesses the quote asset from a concatenated symbol like BTCUSDT.
func quoteAsset(symbol string) string {
	for _, q := range quoteAssets {
		if len(symbol) > len(q) && symbol[len(symbol)-len(q):] == q {
			return q
		}
	}
	return ""
}

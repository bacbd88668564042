package common

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// MarketOrder is a market order intent. Exactly one of Quantity (base asset)
// or QuoteQuantity (notional in the quote asset) is set.
type MarketOrder struct {
	Symbol        string
	Side          Side
	Quantity      float64
	QuoteQuantity float64
	ClientID      string // optional client order id
}

// Fill is one execution line of an order acknowledgment.
type Fill struct {
	Price           float64
	Qty             float64
	Commission      float64
	CommissionAsset string
	TradeID         int64
}

// OrderAck is the exchange's response to an order placement.
// Fills may be empty when the venue returns a degraded (ACK/RESULT) response.
type OrderAck struct {
	ExchangeOrderID     string
	ClientID            string
	Symbol              string
	Side                Side
	Status              OrderStatus
	ExecutedQty         float64
	CummulativeQuoteQty float64
	Fills               []Fill
	TransactTime        time.Time
}

// Balance is one asset line of an account.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// Total is the free plus locked amount.
func (b Balance) Total() float64 { return b.Free + b.Locked }

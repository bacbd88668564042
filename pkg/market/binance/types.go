package market

// Kline represents a single candlestick with the official Binance fields.
type Kline struct {
	Symbol              string
	OpenTime            int64   // 0: open time (ms)
	Open                float64 // 1
	High                float64 // 2
	Low                 float64 // 3
	Close               float64 // 4
	Volume              float64 // 5: base asset volume
	CloseTime           int64   // 6: close time (ms)
	QuoteVolume         float64 // 7
	NumberOfTrades      int     // 8
	TakerBuyBaseVolume  float64 // 9
	TakerBuyQuoteVolume float64 // 10
}

// Ticker holds the latest traded price of a symbol.
type Ticker struct {
	Symbol string
	Price  float64
}

// SymbolFilter is one entry of an exchangeInfo symbol's filter list.
type SymbolFilter struct {
	FilterType  string `json:"filterType"`
	MinNotional string `json:"minNotional"`
	StepSize    string `json:"stepSize"`
	MinQty      string `json:"minQty"`
}

// Ticker24h is the rolling 24 hour window statistics of a symbol.
type Ticker24h struct {
	Symbol             string  `json:"symbol"`
	PriceChange        float64 `json:"price_change"`
	PriceChangePercent float64 `json:"price_change_percent"`
	LastPrice          float64 `json:"last_price"`
	High               float64 `json:"high"`
	Low                float64 `json:"low"`
	Volume             float64 `json:"volume"`
	QuoteVolume        float64 `json:"quote_volume"`
}

package strategy

import "fmt"

// Candle is one OHLCV bar; times are exchange milliseconds.
type Candle struct {
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64
}

// Signal is the decision emitted for the latest candle.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// Kind enumerates the supported strategy variants.
type Kind string

const (
	KindSqueezeBreakout Kind = "squeeze_breakout"
	KindEMACrossover    Kind = "ema_crossover"
	KindEMATrend        Kind = "ema_trend"
)

// Params holds indicator lookbacks and thresholds. Each kind reads only the
// fields it needs; zero values are filled from the kind's defaults.
type Params struct {
	TrendLength   int     `yaml:"trend_length" json:"trend_length,omitempty"`
	FastLength    int     `yaml:"fast_length" json:"fast_length,omitempty"`
	SlowLength    int     `yaml:"slow_length" json:"slow_length,omitempty"`
	BandLength    int     `yaml:"band_length" json:"band_length,omitempty"`
	BandMult      float64 `yaml:"band_mult" json:"band_mult,omitempty"`
	SqueezeLength int     `yaml:"squeeze_length" json:"squeeze_length,omitempty"`
	MaxBandWidth  float64 `yaml:"max_band_width" json:"max_band_width,omitempty"`
	VolLength     int     `yaml:"vol_length" json:"vol_length,omitempty"`
	MinVolatility float64 `yaml:"min_volatility" json:"min_volatility,omitempty"`
}

// Descriptor is the immutable identity and parameter set of a strategy.
type Descriptor struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Kind          Kind    `json:"kind"`
	Symbol        string  `json:"symbol"`
	Interval      string  `json:"interval"`
	Params        Params  `json:"parameters"`
	DefaultAmount float64 `json:"default_amount,omitempty"`
}

// WarmUp is the minimum candle count: the longest lookback plus two
// (latest and previous candle are both evaluated).
func (d Descriptor) WarmUp() int {
	v, ok := variants[d.Kind]
	if !ok {
		return 0
	}
	longest := 0
	for _, n := range v.lookbacks(withDefaults(d.Kind, d.Params)) {
		if n > longest {
			longest = n
		}
	}
	return longest + 2
}

// InsufficientDataError is returned when fewer candles than the warm-up are supplied.
type InsufficientDataError struct {
	StrategyID string
	Have       int
	Need       int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("strategy %s: insufficient candles: have %d, need %d", e.StrategyID, e.Have, e.Need)
}

package strategy

import "tradex-core/internal/indicators"

// squeezeBreakout buys a channel breakout out of a low-volatility range in an uptrend.
// The channel and band width are measured on the previous (completed) candle so the
// breakout candle never sees itself.
func squeezeBreakout(p Params, candles []Candle) Signal {
	n := len(candles)
	last, prev := n-1, n-2

	cl := closes(candles)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
	}

	trend := indicators.EMA(cl, p.TrendLength)
	uptrend := cl[last] > trend[last]
	compressed := indicators.BandWidthAt(cl, p.BandLength, p.BandMult, prev) <= p.MaxBandWidth
	channelHigh := indicators.HighestAt(highs, p.SqueezeLength, prev)
	channelLow := indicators.LowestAt(lows, p.SqueezeLength, prev)

	switch {
	case uptrend && compressed && cl[last] > channelHigh:
		return SignalBuy
	case cl[last] < channelLow:
		return SignalSell
	case cl[last] < trend[last] && cl[prev] >= trend[prev]:
		return SignalSell
	}
	return SignalHold
}

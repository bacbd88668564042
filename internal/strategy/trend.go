package strategy

import "tradex-core/internal/indicators"

// emaTrend follows the side of the EMA that the last two closes agree on.
func emaTrend(p Params, candles []Candle) Signal {
	cl := closes(candles)
	last, prev := len(cl)-1, len(cl)-2
	ema := indicators.EMA(cl, p.TrendLength)

	switch {
	case cl[prev] > ema[prev] && cl[last] > ema[last]:
		return SignalBuy
	case cl[prev] < ema[prev] && cl[last] < ema[last]:
		return SignalSell
	}
	return SignalHold
}

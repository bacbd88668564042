package strategy

import "tradex-core/internal/indicators"

// emaCrossover trades fast/slow EMA crosses; entries need a minimum relative volatility.
func emaCrossover(p Params, candles []Candle) Signal {
	cl := closes(candles)
	last, prev := len(cl)-1, len(cl)-2

	fast := indicators.EMA(cl, p.FastLength)
	slow := indicators.EMA(cl, p.SlowLength)

	crossUp := fast[prev] <= slow[prev] && fast[last] > slow[last]
	crossDown := fast[prev] >= slow[prev] && fast[last] < slow[last]

	if crossUp {
		if cl[last] <= 0 {
			return SignalHold
		}
		vol := indicators.StdDevAt(cl, p.VolLength, last) / cl[last]
		if vol >= p.MinVolatility {
			return SignalBuy
		}
		return SignalHold
	}
	if crossDown {
		return SignalSell
	}
	return SignalHold
}

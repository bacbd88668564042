package indicators

import "math"

// StdDevAt is the population standard deviation of the period values ending at end.
func StdDevAt(values []float64, period, end int) float64 {
	if !window(len(values), period, end) {
		return 0
	}
	mean := SMAAt(values, period, end)
	variance := 0.0
	for i := end - period + 1; i <= end; i++ {
		d := values[i] - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(period))
}

// BandWidthAt is the Bollinger band width (upper-lower)/middle at end.
func BandWidthAt(values []float64, period int, mult float64, end int) float64 {
	mid := SMAAt(values, period, end)
	if mid == 0 {
		return 0
	}
	return 2 * mult * StdDevAt(values, period, end) / mid
}

// HighestAt returns the max of the period values ending at end.
func HighestAt(values []float64, period, end int) float64 {
	if !window(len(values), period, end) {
		return 0
	}
	hi := values[end-period+1]
	for i := end - period + 2; i <= end; i++ {
		if values[i] > hi {
			hi = values[i]
		}
	}
	return hi
}

// LowestAt returns the min of the period values ending at end.
func LowestAt(values []float64, period, end int) float64 {
	if !window(len(values), period, end) {
		return 0
	}
	lo := values[end-period+1]
	for i := end - period + 2; i <= end; i++ {
		if values[i] < lo {
			lo = values[i]
		}
	}
	return lo
}

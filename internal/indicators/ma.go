package indicators

// SMA calculates the simple moving average for the last period values.
func SMA(values []float64, period int) float64 {
	return SMAAt(values, period, len(values)-1)
}

// SMAAt is SMA over the period values ending at index end (inclusive).
func SMAAt(values []float64, period, end int) float64 {
	if !window(len(values), period, end) {
		return 0
	}
	sum := 0.0
	for i := end - period + 1; i <= end; i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

// EMA returns the exponential moving average series for values.
// alpha = 2/(length+1); the series is seeded with the first value, not an SMA warm start.
func EMA(values []float64, length int) []float64 {
	if len(values) == 0 || length <= 0 {
		return nil
	}
	alpha := 2.0 / float64(length+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// window reports whether [end-period+1, end] lies inside a slice of length n.
func window(n, period, end int) bool {
	return period > 0 && end < n && end-period+1 >= 0
}

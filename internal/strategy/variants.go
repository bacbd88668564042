package strategy

import (
	"errors"
	"fmt"
)

// ErrUnknownKind is returned for a Descriptor whose Kind is not in the variant table.
var ErrUnknownKind = errors.New("unknown strategy kind")

// variant binds a Kind to its defaults, lookbacks, and decision function.
// The signal function may assume len(candles) >= WarmUp().
type variant struct {
	defaults  Params
	lookbacks func(p Params) []int
	signal    func(p Params, candles []Candle) Signal
}

var variants = map[Kind]variant{
	KindSqueezeBreakout: {
		defaults: Params{
			TrendLength:   50,
			BandLength:    20,
			BandMult:      2.0,
			SqueezeLength: 20,
			MaxBandWidth:  0.04,
		},
		lookbacks: func(p Params) []int { return []int{p.TrendLength, p.BandLength, p.SqueezeLength} },
		signal:    squeezeBreakout,
	},
	KindEMACrossover: {
		defaults: Params{
			FastLength:    9,
			SlowLength:    21,
			VolLength:     20,
			MinVolatility: 0.001,
		},
		lookbacks: func(p Params) []int { return []int{p.FastLength, p.SlowLength, p.VolLength} },
		signal:    emaCrossover,
	},
	KindEMATrend: {
		defaults:  Params{TrendLength: 50},
		lookbacks: func(p Params) []int { return []int{p.TrendLength} },
		signal:    emaTrend,
	},
}

// Kinds lists the supported variants.
func Kinds() []Kind {
	return []Kind{KindSqueezeBreakout, KindEMACrossover, KindEMATrend}
}

// ValidKind reports whether k is in the variant table.
func ValidKind(k Kind) bool {
	_, ok := variants[k]
	return ok
}

// withDefaults fills zero-valued params from the kind's defaults.
func withDefaults(k Kind, p Params) Params {
	d := variants[k].defaults
	if p.TrendLength == 0 {
		p.TrendLength = d.TrendLength
	}
	if p.FastLength == 0 {
		p.FastLength = d.FastLength
	}
	if p.SlowLength == 0 {
		p.SlowLength = d.SlowLength
	}
	if p.BandLength == 0 {
		p.BandLength = d.BandLength
	}
	if p.BandMult == 0 {
		p.BandMult = d.BandMult
	}
	if p.SqueezeLength == 0 {
		p.SqueezeLength = d.SqueezeLength
	}
	if p.MaxBandWidth == 0 {
		p.MaxBandWidth = d.MaxBandWidth
	}
	if p.VolLength == 0 {
		p.VolLength = d.VolLength
	}
	if p.MinVolatility == 0 {
		p.MinVolatility = d.MinVolatility
	}
	return p
}

func validateParams(k Kind, p Params) error {
	for _, n := range variants[k].lookbacks(p) {
		if n <= 0 {
			return fmt.Errorf("%s: lookback lengths must be > 0", k)
		}
	}
	if k == KindEMACrossover && p.FastLength >= p.SlowLength {
		return fmt.Errorf("%s: fast_length must be < slow_length", k)
	}
	if k == KindSqueezeBreakout && (p.BandMult <= 0 || p.MaxBandWidth <= 0) {
		return fmt.Errorf("%s: band_mult and max_band_width must be > 0", k)
	}
	return nil
}

// ComputeSignal evaluates d against candles (oldest first).
func ComputeSignal(d Descriptor, candles []Candle) (Signal, error) {
	v, ok := variants[d.Kind]
	if !ok {
		return SignalHold, fmt.Errorf("%w: %s", ErrUnknownKind, d.Kind)
	}
	if need := d.WarmUp(); len(candles) < need {
		return SignalHold, &InsufficientDataError{StrategyID: d.ID, Have: len(candles), Need: need}
	}
	return v.signal(withDefaults(d.Kind, d.Params), candles), nil
}

func closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

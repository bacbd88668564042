package strategy

import (
	"fmt"
	"sort"
	"strings"
)

// Registry is the frozen set of strategies known to the process.
// It is built once at startup and never mutated afterwards.
type Registry struct {
	byID  map[string]Descriptor
	order []string
}

// NewRegistry validates descs and freezes them. Params are completed with kind defaults.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{byID: make(map[string]Descriptor, len(descs))}
	for _, d := range descs {
		d.ID = strings.TrimSpace(d.ID)
		d.Symbol = strings.ToUpper(strings.TrimSpace(d.Symbol))
		if d.ID == "" {
			return nil, fmt.Errorf("strategy id is required")
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate strategy id %q", d.ID)
		}
		if !ValidKind(d.Kind) {
			return nil, fmt.Errorf("strategy %s: %w: %q", d.ID, ErrUnknownKind, d.Kind)
		}
		if d.Symbol == "" || d.Interval == "" {
			return nil, fmt.Errorf("strategy %s: symbol and interval are required", d.ID)
		}
		d.Params = withDefaults(d.Kind, d.Params)
		if err := validateParams(d.Kind, d.Params); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", d.ID, err)
		}
		if d.Name == "" {
			d.Name = d.ID
		}
		r.byID[d.ID] = d
		r.order = append(r.order, d.ID)
	}
	sort.Strings(r.order)
	return r, nil
}

// Get looks up a strategy by id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// List returns all strategies sorted by id.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Len returns the number of registered strategies.
func (r *Registry) Len() int { return len(r.order) }

// DefaultDescriptors is the built-in strategy table.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{
			ID:       "squeeze_btc",
			Name:     "BTC Squeeze Breakout",
			Kind:     KindSqueezeBreakout,
			Symbol:   "BTCUSDT",
			Interval: "15m",
		},
		{
			ID:       "ema_cross_eth",
			Name:     "ETH EMA Crossover",
			Kind:     KindEMACrossover,
			Symbol:   "ETHUSDT",
			Interval: "5m",
		},
		{
			ID:       "trend_bnb",
			Name:     "BNB EMA Trend",
			Kind:     KindEMATrend,
			Symbol:   "BNBUSDT",
			Interval: "1h",
		},
	}
}

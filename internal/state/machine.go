package state

import (
	"errors"
	"sync"
	"time"

	"tradex-core/internal/strategy"
)

var (
	ErrAlreadyOpen = errors.New("position already open")
	ErrFlat        = errors.New("no open position")
	ErrInvalidLot  = errors.New("position quantity must be > 0")
)

// State is the lifecycle phase of a RunKey's position.
type State string

const (
	Flat State = "FLAT"
	Open State = "OPEN"
)

// Position is the single open lot held by one (account, strategy) run.
type Position struct {
	Symbol         string    `json:"symbol"`
	EntryPrice     float64   `json:"entry_price"`
	Quantity       float64   `json:"quantity"`
	Commission     float64   `json:"commission"`
	OpeningTradeID int64     `json:"opening_trade_id"`
	OpenedAt       time.Time `json:"opened_at"`
}

// Closed is the outcome of closing a position.
type Closed struct {
	Position       Position
	ExitPrice      float64
	ExitCommission float64
	Profit         float64
	ClosedAt       time.Time
}

// ProfitPct is profit relative to the entry notional, in percent.
func (c Closed) ProfitPct() float64 {
	notional := c.Position.EntryPrice * c.Position.Quantity
	if notional == 0 {
		return 0
	}
	return c.Profit / notional * 100
}

// Machine tracks at most one open lot. It is driven by one polling loop and
// read concurrently by status queries.
type Machine struct {
	mu  sync.RWMutex
	pos *Position
}

// NewMachine returns a machine in the Flat state.
func NewMachine() *Machine {
	return &Machine{}
}

// State reports Flat or Open.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pos == nil {
		return Flat
	}
	return Open
}

// Position returns a copy of the open lot, if any.
func (m *Machine) Position() (Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pos == nil {
		return Position{}, false
	}
	return *m.pos, true
}

// Actionable reports whether sig would cause a transition. BUY while Open and
// SELL while Flat are no-ops, as is HOLD.
func (m *Machine) Actionable(sig strategy.Signal) bool {
	switch sig {
	case strategy.SignalBuy:
		return m.State() == Flat
	case strategy.SignalSell:
		return m.State() == Open
	default:
		return false
	}
}

// Open moves Flat -> Open.
func (m *Machine) Open(p Position) error {
	if p.Quantity <= 0 {
		return ErrInvalidLot
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos != nil {
		return ErrAlreadyOpen
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now()
	}
	m.pos = &p
	return nil
}

// Close moves Open -> Flat, always closing the full lot.
// profit = (exit - entry) * qty - entry commission - exit commission.
func (m *Machine) Close(exitPrice, exitCommission float64) (Closed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos == nil {
		return Closed{}, ErrFlat
	}
	p := *m.pos
	m.pos = nil
	return Closed{
		Position:       p,
		ExitPrice:      exitPrice,
		ExitCommission: exitCommission,
		Profit:         (exitPrice-p.EntryPrice)*p.Quantity - p.Commission - exitCommission,
		ClosedAt:       time.Now(),
	}, nil
}

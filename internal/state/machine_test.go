package state

import (
	"errors"
	"math"
	"testing"

	"tradex-core/internal/strategy"
)

func TestMachineTransitions(t *testing.T) {
	m := NewMachine()
	if m.State() != Flat {
		t.Fatalf("new machine state = %s, want FLAT", m.State())
	}

	if err := m.Open(Position{Symbol: "BTCUSDT", EntryPrice: 100, Quantity: 2, Commission: 0.2, OpeningTradeID: 7}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if m.State() != Open {
		t.Fatalf("state = %s, want OPEN", m.State())
	}

	closed, err := m.Close(110, 0.22)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	want := (110-100)*2 - 0.2 - 0.22
	if math.Abs(closed.Profit-want) > 1e-9 {
		t.Errorf("profit = %v, want %v", closed.Profit, want)
	}
	if closed.Position.OpeningTradeID != 7 || closed.Position.Quantity != 2 {
		t.Errorf("closed position = %+v", closed.Position)
	}
	if m.State() != Flat {
		t.Fatalf("state after close = %s, want FLAT", m.State())
	}
}

func TestActionable(t *testing.T) {
	tests := []struct {
		name string
		open bool
		sig  strategy.Signal
		want bool
	}{
		{"buy while flat", false, strategy.SignalBuy, true},
		{"sell while flat", false, strategy.SignalSell, false},
		{"hold while flat", false, strategy.SignalHold, false},
		{"buy while open", true, strategy.SignalBuy, false},
		{"sell while open", true, strategy.SignalSell, true},
		{"hold while open", true, strategy.SignalHold, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine()
			if tt.open {
				_ = m.Open(Position{EntryPrice: 1, Quantity: 1})
			}
			if got := m.Actionable(tt.sig); got != tt.want {
				t.Errorf("Actionable(%s) = %v, want %v", tt.sig, got, tt.want)
			}
		})
	}
}

func TestBuyWhileOpenDoesNotMutate(t *testing.T) {
	m := NewMachine()
	orig := Position{Symbol: "ETHUSDT", EntryPrice: 50, Quantity: 3, OpeningTradeID: 1}
	_ = m.Open(orig)

	if err := m.Open(Position{EntryPrice: 60, Quantity: 9}); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("second Open err = %v, want ErrAlreadyOpen", err)
	}
	got, ok := m.Position()
	if !ok || got.EntryPrice != orig.EntryPrice || got.Quantity != orig.Quantity || got.OpeningTradeID != 1 {
		t.Fatalf("position mutated: %+v", got)
	}
}

func TestSellWhileFlatEmitsNothing(t *testing.T) {
	m := NewMachine()
	closed, err := m.Close(100, 0)
	if !errors.Is(err, ErrFlat) {
		t.Fatalf("Close err = %v, want ErrFlat", err)
	}
	if closed.Position.Quantity != 0 || closed.Profit != 0 {
		t.Fatalf("expected zero Closed, got %+v", closed)
	}
}

func TestOpenRejectsEmptyLot(t *testing.T) {
	if err := NewMachine().Open(Position{EntryPrice: 1}); !errors.Is(err, ErrInvalidLot) {
		t.Fatalf("err = %v, want ErrInvalidLot", err)
	}
}

func TestProfitPct(t *testing.T) {
	c := Closed{Position: Position{EntryPrice: 100, Quantity: 2}, Profit: 10}
	if got := c.ProfitPct(); math.Abs(got-5) > 1e-9 {
		t.Fatalf("ProfitPct = %v, want 5", got)
	}
}

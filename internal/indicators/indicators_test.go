package indicators

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEMASeededByFirstValue(t *testing.T) {
	values := []float64{10, 11, 12, 13}
	got := EMA(values, 3) // alpha = 0.5

	want := []float64{10, 10.5, 11.25, 12.125}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !almostEqual(got[i], want[i]) {
			t.Errorf("EMA[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEMAEmpty(t *testing.T) {
	if EMA(nil, 5) != nil {
		t.Fatal("expected nil series for empty input")
	}
	if EMA([]float64{1}, 0) != nil {
		t.Fatal("expected nil series for zero length")
	}
}

func TestSMAAt(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	tests := []struct {
		name   string
		period int
		end    int
		want   float64
	}{
		{"tail", 3, 4, 4},
		{"middle", 2, 2, 2.5},
		{"whole", 5, 4, 3},
		{"too long", 6, 4, 0},
		{"end out of range", 2, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SMAAt(values, tt.period, tt.end); !almostEqual(got, tt.want) {
				t.Errorf("SMAAt = %v, want %v", got, tt.want)
			}
		})
	}
	if got := SMA(values, 2); !almostEqual(got, 4.5) {
		t.Errorf("SMA = %v, want 4.5", got)
	}
}

func TestStdDevAtPopulation(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	if got := StdDevAt(values, 8, 7); !almostEqual(got, 2) {
		t.Fatalf("StdDevAt = %v, want 2", got)
	}
}

func TestBandWidthAt(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9} // mean 5, sd 2
	if got := BandWidthAt(values, 8, 2, 7); !almostEqual(got, 1.6) {
		t.Fatalf("BandWidthAt = %v, want 1.6", got)
	}
}

func TestChannelExcludesLaterValues(t *testing.T) {
	values := []float64{5, 9, 3, 7, 100}
	if got := HighestAt(values, 3, 3); got != 9 {
		t.Errorf("HighestAt = %v, want 9", got)
	}
	if got := LowestAt(values, 3, 3); got != 3 {
		t.Errorf("LowestAt = %v, want 3", got)
	}
}

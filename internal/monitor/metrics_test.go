package monitor

import "testing"

func TestLatencyHistogramWindow(t *testing.T) {
	h := NewLatencyHistogram(4)
	if s := h.Stats(); s.Count != 0 {
		t.Fatalf("empty stats = %+v", s)
	}
	for _, v := range []float64{10, 20, 30, 40, 50, 60} {
		h.Record(v)
	}
	s := h.Stats()
	if s.Count != 4 || s.Min != 30 || s.Max != 60 || s.Avg != 45 {
		t.Fatalf("stats = %+v, want window of the last 4 samples", s)
	}
	h.Record(5)
	if s := h.Stats(); s.Min != 5 {
		t.Fatalf("stats not refreshed after new sample: %+v", s)
	}
}

func TestSnapshotCountersAndGauges(t *testing.T) {
	m := NewMetrics()
	m.IncOrdersPlaced()
	m.IncOrdersPlaced()
	m.IncOrderFailures()
	m.IncPanics()
	m.RegisterGauge("active_runs", func() int { return 3 })
	NewTimer(m.OrderLatency).Stop()

	s := m.GetSnapshot()
	if s.OrdersPlaced != 2 || s.OrderFailures != 1 || s.Panics != 1 {
		t.Fatalf("counters = %+v", s)
	}
	if s.Gauges["active_runs"] != 3 {
		t.Fatalf("gauges = %v", s.Gauges)
	}
	if s.OrderLatency.Count != 1 {
		t.Fatalf("order latency count = %d", s.OrderLatency.Count)
	}
}

package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks scheduler and execution performance.
type Metrics struct {
	// Latency histograms
	OrderLatency  *LatencyHistogram
	CandleLatency *LatencyHistogram
	SignalLatency *LatencyHistogram

	ordersPlaced    atomic.Uint64
	orderFailures   atomic.Uint64
	signals         atomic.Uint64
	iterationErrors atomic.Uint64
	panics          atomic.Uint64

	mu     sync.RWMutex
	gauges map[string]func() int

	startedAt time.Time
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		OrderLatency:  NewLatencyHistogram(1000),
		CandleLatency: NewLatencyHistogram(1000),
		SignalLatency: NewLatencyHistogram(1000),
		gauges:        make(map[string]func() int),
		startedAt:     time.Now(),
	}
}

// LatencyHistogram keeps a sliding window of latency samples.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	next        int
	full        bool
	dirty       bool
	cachedStats LatencyStats
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{samples: make([]float64, size), dirty: true}
}

// Record adds a latency sample in milliseconds, overwriting the oldest when full.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples[h.next] = latencyMs
	h.next = (h.next + 1) % len(h.samples)
	if h.next == 0 {
		h.full = true
	}
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg and percentiles; recomputed only after new samples.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty {
		return h.cachedStats
	}
	n := h.next
	if h.full {
		n = len(h.samples)
	}
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples[:n])
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n-1)*0.95)],
		P99:   sorted[int(float64(n-1)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *Metrics) IncOrdersPlaced()    { m.ordersPlaced.Add(1) }
func (m *Metrics) IncOrderFailures()   { m.orderFailures.Add(1) }
func (m *Metrics) IncSignals()         { m.signals.Add(1) }
func (m *Metrics) IncIterationErrors() { m.iterationErrors.Add(1) }
func (m *Metrics) IncPanics()          { m.panics.Add(1) }

// RegisterGauge exposes a value sampled at snapshot time.
func (m *Metrics) RegisterGauge(name string, fn func() int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = fn
}

// Snapshot is a point-in-time view of the metrics.
type Snapshot struct {
	OrderLatency    LatencyStats   `json:"order_latency"`
	CandleLatency   LatencyStats   `json:"candle_latency"`
	SignalLatency   LatencyStats   `json:"signal_latency"`
	OrdersPlaced    uint64         `json:"orders_placed"`
	OrderFailures   uint64         `json:"order_failures"`
	Signals         uint64         `json:"signals"`
	IterationErrors uint64         `json:"iteration_errors"`
	Panics          uint64         `json:"panics_recovered"`
	Gauges          map[string]int `json:"gauges"`
	GoroutineCount  int            `json:"goroutine_count"`
	HeapAlloc       uint64         `json:"heap_alloc_bytes"`
	Uptime          string         `json:"uptime"`
	Timestamp       time.Time      `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *Metrics) GetSnapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	gauges := make(map[string]int, len(m.gauges))
	for name, fn := range m.gauges {
		gauges[name] = fn()
	}
	m.mu.RUnlock()

	return Snapshot{
		OrderLatency:    m.OrderLatency.Stats(),
		CandleLatency:   m.CandleLatency.Stats(),
		SignalLatency:   m.SignalLatency.Stats(),
		OrdersPlaced:    m.ordersPlaced.Load(),
		OrderFailures:   m.orderFailures.Load(),
		Signals:         m.signals.Load(),
		IterationErrors: m.iterationErrors.Load(),
		Panics:          m.panics.Load(),
		Gauges:          gauges,
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		Uptime:          time.Since(m.startedAt).Round(time.Second).String(),
		Timestamp:       time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}

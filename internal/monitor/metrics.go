// Package monitor collects process counters and latency histograms.
package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks stream throughput, order activity and API latency.
// A nil *SystemMetrics ignores every call.
type SystemMetrics struct {
	// Latency histograms
	OrderLatency *LatencyHistogram
	APILatency   *LatencyHistogram

	// Counters
	ticksProcessed   atomic.Uint64
	quotesProcessed  atomic.Uint64
	signalsGenerated atomic.Uint64
	ordersPlaced     atomic.Uint64
	errorsCount      atomic.Uint64
	apiRequests      atomic.Uint64
	apiErrors        atomic.Uint64

	started time.Time
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		OrderLatency: NewLatencyHistogram(1000),
		APILatency:   NewLatencyHistogram(1000),
		started:      time.Now(),
	}
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool         // Whether samples have changed since last Stats()
	cachedStats LatencyStats // Cached computed stats
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		// Shift window: remove oldest
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true // Mark as dirty for lazy recomputation
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
// Uses lazy computation - only recomputes when samples have changed.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Return cached stats if samples haven't changed
	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}
	idx := func(q float64) int {
		i := int(float64(n) * q)
		if i >= n {
			i = n - 1
		}
		return i
	}

	// Compute new stats
	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[idx(0.5)],
		P95:   sorted[idx(0.95)],
		P99:   sorted[idx(0.99)],
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

// IncrementTicks counts a trade tick handed to the strategies.
func (m *SystemMetrics) IncrementTicks() {
	if m != nil {
		m.ticksProcessed.Add(1)
	}
}

// IncrementQuotes counts a top-of-book update.
func (m *SystemMetrics) IncrementQuotes() {
	if m != nil {
		m.quotesProcessed.Add(1)
	}
}

// IncrementSignals counts an entry signal acted upon.
func (m *SystemMetrics) IncrementSignals() {
	if m != nil {
		m.signalsGenerated.Add(1)
	}
}

// RecordOrder counts a placed order and its round trip.
func (m *SystemMetrics) RecordOrder(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ordersPlaced.Add(1)
	m.OrderLatency.RecordDuration(d)
	if err != nil {
		m.errorsCount.Add(1)
	}
}

// IncrementErrors counts a recovered failure.
func (m *SystemMetrics) IncrementErrors() {
	if m != nil {
		m.errorsCount.Add(1)
	}
}

// RecordAPI counts an HTTP request.
func (m *SystemMetrics) RecordAPI(d time.Duration, status int) {
	if m == nil {
		return
	}
	m.apiRequests.Add(1)
	m.APILatency.RecordDuration(d)
	if status >= 400 {
		m.apiErrors.Add(1)
	}
}

// MetricsSnapshot is a point-in-time copy of the metrics.
type MetricsSnapshot struct {
	OrderLatency     LatencyStats  `json:"order_latency"`
	APILatency       LatencyStats  `json:"api_latency"`
	TicksProcessed   uint64        `json:"ticks_processed"`
	QuotesProcessed  uint64        `json:"quotes_processed"`
	SignalsGenerated uint64        `json:"signals_generated"`
	OrdersPlaced     uint64        `json:"orders_placed"`
	ErrorsCount      uint64        `json:"errors_count"`
	APIRequests      uint64        `json:"api_requests"`
	APIErrors        uint64        `json:"api_errors"`
	GoroutineCount   int           `json:"goroutine_count"`
	HeapAlloc        uint64        `json:"heap_alloc_bytes"`
	Uptime           time.Duration `json:"uptime_ns"`
	Timestamp        time.Time     `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{Timestamp: time.Now()}
	}
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		OrderLatency:     m.OrderLatency.Stats(),
		APILatency:       m.APILatency.Stats(),
		TicksProcessed:   m.ticksProcessed.Load(),
		QuotesProcessed:  m.quotesProcessed.Load(),
		SignalsGenerated: m.signalsGenerated.Load(),
		OrdersPlaced:     m.ordersPlaced.Load(),
		ErrorsCount:      m.errorsCount.Load(),
		APIRequests:      m.apiRequests.Load(),
		APIErrors:        m.apiErrors.Load(),
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		Uptime:           time.Since(m.started),
		Timestamp:        time.Now(),
	}
}

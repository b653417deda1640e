package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks process-wide performance and owns one RunnerMetrics per strategy.
type SystemMetrics struct {
	mu      sync.RWMutex
	runners map[string]*RunnerMetrics

	APILatency *LatencyHistogram

	apiRequests uint64
	apiErrors   uint64

	started time.Time
}

// RunnerMetrics counts what one strategy runner did. Safe for concurrent use.
type RunnerMetrics struct {
	EventLatency    *LatencyHistogram // mark through last action
	SnapshotLatency *LatencyHistogram
	OrderLatency    *LatencyHistogram // one submit or cancel round trip

	eventsProcessed  uint64
	eventsDropped    uint64
	eventsStale      uint64
	ordersPlaced     uint64
	ordersRejected   uint64
	cancelsRequested uint64
	cancelsFailed    uint64
	fillsApplied     uint64
	errorsCount      uint64
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are recomputed lazily, only after new samples arrive.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		runners:    make(map[string]*RunnerMetrics),
		APILatency: NewLatencyHistogram(1000),
		started:    time.Now(),
	}
}

// NewRunnerMetrics creates an unregistered runner metrics set.
func NewRunnerMetrics() *RunnerMetrics {
	return &RunnerMetrics{
		EventLatency:    NewLatencyHistogram(1000),
		SnapshotLatency: NewLatencyHistogram(1000),
		OrderLatency:    NewLatencyHistogram(1000),
	}
}

// Runner returns the metrics for a strategy id, creating them on first use.
func (m *SystemMetrics) Runner(id string) *RunnerMetrics {
	m.mu.RLock()
	rm, ok := m.runners[id]
	m.mu.RUnlock()
	if ok {
		return rm
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if rm, ok := m.runners[id]; ok {
		return rm
	}
	rm = NewRunnerMetrics()
	m.runners[id] = rm
	return rm
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
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
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
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
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

func (r *RunnerMetrics) IncrementEvents()    { atomic.AddUint64(&r.eventsProcessed, 1) }
func (r *RunnerMetrics) IncrementDropped()   { atomic.AddUint64(&r.eventsDropped, 1) }
func (r *RunnerMetrics) IncrementStale()     { atomic.AddUint64(&r.eventsStale, 1) }
func (r *RunnerMetrics) IncrementPlaced()    { atomic.AddUint64(&r.ordersPlaced, 1) }
func (r *RunnerMetrics) IncrementRejected()  { atomic.AddUint64(&r.ordersRejected, 1) }
func (r *RunnerMetrics) IncrementCancels()   { atomic.AddUint64(&r.cancelsRequested, 1) }
func (r *RunnerMetrics) IncrementCancelErr() { atomic.AddUint64(&r.cancelsFailed, 1) }
func (r *RunnerMetrics) IncrementFills()     { atomic.AddUint64(&r.fillsApplied, 1) }
func (r *RunnerMetrics) IncrementErrors()    { atomic.AddUint64(&r.errorsCount, 1) }

// IncrementAPI increments served API requests.
func (m *SystemMetrics) IncrementAPI() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncrementAPIErrors increments API requests answered with a 5xx.
func (m *SystemMetrics) IncrementAPIErrors() {
	atomic.AddUint64(&m.apiErrors, 1)
}

// RunnerSnapshot is a point-in-time copy of one runner's metrics.
type RunnerSnapshot struct {
	EventLatency     LatencyStats `json:"event_latency"`
	SnapshotLatency  LatencyStats `json:"snapshot_latency"`
	OrderLatency     LatencyStats `json:"order_latency"`
	EventsProcessed  uint64       `json:"events_processed"`
	EventsDropped    uint64       `json:"events_dropped"`
	EventsStale      uint64       `json:"events_stale"`
	OrdersPlaced     uint64       `json:"orders_placed"`
	OrdersRejected   uint64       `json:"orders_rejected"`
	CancelsRequested uint64       `json:"cancels_requested"`
	CancelsFailed    uint64       `json:"cancels_failed"`
	FillsApplied     uint64       `json:"fills_applied"`
	ErrorsCount      uint64       `json:"errors_count"`
}

// Snapshot returns current runner counters.
func (r *RunnerMetrics) Snapshot() RunnerSnapshot {
	return RunnerSnapshot{
		EventLatency:     r.EventLatency.Stats(),
		SnapshotLatency:  r.SnapshotLatency.Stats(),
		OrderLatency:     r.OrderLatency.Stats(),
		EventsProcessed:  atomic.LoadUint64(&r.eventsProcessed),
		EventsDropped:    atomic.LoadUint64(&r.eventsDropped),
		EventsStale:      atomic.LoadUint64(&r.eventsStale),
		OrdersPlaced:     atomic.LoadUint64(&r.ordersPlaced),
		OrdersRejected:   atomic.LoadUint64(&r.ordersRejected),
		CancelsRequested: atomic.LoadUint64(&r.cancelsRequested),
		CancelsFailed:    atomic.LoadUint64(&r.cancelsFailed),
		FillsApplied:     atomic.LoadUint64(&r.fillsApplied),
		ErrorsCount:      atomic.LoadUint64(&r.errorsCount),
	}
}

// MetricsSnapshot is the process-wide view served by the API.
type MetricsSnapshot struct {
	Runners        map[string]RunnerSnapshot `json:"runners"`
	APILatency     LatencyStats              `json:"api_latency"`
	APIRequests    uint64                    `json:"api_requests"`
	APIErrors      uint64                    `json:"api_errors"`
	GoroutineCount int                       `json:"goroutine_count"`
	HeapAlloc      uint64                    `json:"heap_alloc_bytes"`
	HeapSys        uint64                    `json:"heap_sys_bytes"`
	Uptime         string                    `json:"uptime"`
	Timestamp      time.Time                 `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	runners := make(map[string]RunnerSnapshot, len(m.runners))
	for id, rm := range m.runners {
		runners[id] = rm.Snapshot()
	}
	m.mu.RUnlock()

	return MetricsSnapshot{
		Runners:        runners,
		APILatency:     m.APILatency.Stats(),
		APIRequests:    atomic.LoadUint64(&m.apiRequests),
		APIErrors:      atomic.LoadUint64(&m.apiErrors),
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      memStats.HeapAlloc,
		HeapSys:        memStats.HeapSys,
		Uptime:         time.Since(m.started).Round(time.Second).String(),
		Timestamp:      time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}

// Copyright 2025 Joseph Cumines
//
// Metrics registry for observability

package transport

import (
	"fmt"
	"io"
	"slices"
	"sync"
	"time"
)

// Metric names exported by the inspector.
const (
	MetricRPCsTotal         = "inspector_rpcs_total"
	MetricRPCDuration       = "inspector_rpc_duration_seconds"
	MetricFetchesTotal      = "inspector_tree_fetches_total"
	MetricTreeBytesTotal    = "inspector_tree_bytes_total"
	MetricStreamsActive     = "inspector_device_streams_active"
	MetricRateLimitedTotal  = "inspector_rate_limited_total"
	MetricHeartbeatsTotal   = "inspector_heartbeats_total"
	MetricStreamEventsTotal = "inspector_stream_events_total"
)

// Fetch outcomes recorded against MetricFetchesTotal.
const (
	FetchSuccess      = "success"
	FetchNotConnected = "not_connected"
	FetchAmbiguous    = "ambiguous"
	FetchTimeout      = "timeout"
	FetchDisconnected = "disconnected"
	FetchCanceled     = "canceled"
	FetchError        = "error"
)

// MetricsRegistry provides thread-safe metrics collection for the inspector
// server. Values are held in memory and exported in Prometheus text format.
type MetricsRegistry struct {
	counters   map[string]*counter
	histograms map[string]*histogram
	gauges     map[string]*gauge
	mu         sync.RWMutex
}

// counter is a monotonically increasing value per label combination.
type counter struct {
	values map[string]uint64
	mu     sync.RWMutex
}

// histogram is a bucketed distribution per label combination.
type histogram struct {
	counts  map[string][]uint64 // non-cumulative, last entry is +Inf
	sums    map[string]float64
	totals  map[string]uint64
	buckets []float64
	mu      sync.RWMutex
}

type gauge struct {
	values map[string]float64
	mu     sync.RWMutex
}

// Default histogram buckets for RPC latencies (in seconds). The upper range
// covers the fetch timeout.
var defaultLatencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
}

// NewMetricsRegistry creates a registry with the inspector metrics registered.
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		counters:   make(map[string]*counter),
		histograms: make(map[string]*histogram),
		gauges:     make(map[string]*gauge),
	}

	m.registerCounter(MetricRPCsTotal)
	m.registerCounter(MetricFetchesTotal)
	m.registerCounter(MetricTreeBytesTotal)
	m.registerCounter(MetricRateLimitedTotal)
	m.registerCounter(MetricHeartbeatsTotal)
	m.registerCounter(MetricStreamEventsTotal)
	m.registerHistogram(MetricRPCDuration, defaultLatencyBuckets)
	m.registerGauge(MetricStreamsActive)

	return m
}

func (m *MetricsRegistry) registerCounter(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] = &counter{values: make(map[string]uint64)}
}

func (m *MetricsRegistry) registerHistogram(name string, buckets []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms[name] = &histogram{
		buckets: buckets,
		counts:  make(map[string][]uint64),
		sums:    make(map[string]float64),
		totals:  make(map[string]uint64),
	}
}

func (m *MetricsRegistry) registerGauge(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = &gauge{values: make(map[string]float64)}
}

// AddCounter adds delta to a counter for the given label combination.
// Labels should be formatted as: key1="value1",key2="value2"
// Unknown metric names are ignored.
func (m *MetricsRegistry) AddCounter(name string, labels string, delta uint64) {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if !ok {
		return
	}

	c.mu.Lock()
	c.values[labels] += delta
	c.mu.Unlock()
}

// IncrementCounter increments a counter by 1.
func (m *MetricsRegistry) IncrementCounter(name string, labels string) {
	m.AddCounter(name, labels, 1)
}

// ObserveHistogram records a value in a histogram for the given label combination.
func (m *MetricsRegistry) ObserveHistogram(name string, labels string, value float64) {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	counts, exists := h.counts[labels]
	if !exists {
		counts = make([]uint64, len(h.buckets)+1)
		h.counts[labels] = counts
	}
	h.sums[labels] += value
	h.totals[labels]++

	i, _ := slices.BinarySearch(h.buckets, value)
	counts[i]++
}

// SetGauge sets a gauge to a specific value.
func (m *MetricsRegistry) SetGauge(name string, labels string, value float64) {
	m.updateGauge(name, labels, func(float64) float64 { return value })
}

// IncrementGauge adds delta to a gauge.
func (m *MetricsRegistry) IncrementGauge(name string, labels string, delta float64) {
	m.updateGauge(name, labels, func(v float64) float64 { return v + delta })
}

func (m *MetricsRegistry) updateGauge(name, labels string, fn func(float64) float64) {
	m.mu.RLock()
	g, ok := m.gauges[name]
	m.mu.RUnlock()
	if !ok {
		return
	}

	g.mu.Lock()
	g.values[labels] = fn(g.values[labels])
	g.mu.Unlock()
}

// CounterValue returns the current value of a counter, or 0.
func (m *MetricsRegistry) CounterValue(name string, labels string) uint64 {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[labels]
}

// GaugeValue returns the current value of a gauge, or 0.
func (m *MetricsRegistry) GaugeValue(name string, labels string) float64 {
	m.mu.RLock()
	g, ok := m.gauges[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.values[labels]
}

// promWriter accumulates the first write error so callers can emit a whole
// block before checking.
type promWriter struct {
	w   io.Writer
	err error
}

func (p *promWriter) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

// series writes one sample, with or without a label set.
func (p *promWriter) series(name, labels string, value any) {
	if labels == "" {
		p.printf("%s %v\n", name, value)
		return
	}
	p.printf("%s{%s} %v\n", name, labels, value)
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// WritePrometheus writes all metrics in Prometheus text format to the
// writer. Output is sorted by metric name and then by label set.
func (m *MetricsRegistry) WritePrometheus(w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p := &promWriter{w: w}

	for _, name := range sortedKeys(m.counters) {
		c := m.counters[name]
		c.mu.RLock()
		p.printf("# TYPE %s counter\n", name)
		for _, l := range sortedKeys(c.values) {
			p.series(name, l, c.values[l])
		}
		c.mu.RUnlock()
	}

	for _, name := range sortedKeys(m.gauges) {
		g := m.gauges[name]
		g.mu.RLock()
		p.printf("# TYPE %s gauge\n", name)
		for _, l := range sortedKeys(g.values) {
			p.printf("%s %g\n", withLabels(name, l), g.values[l])
		}
		g.mu.RUnlock()
	}

	for _, name := range sortedKeys(m.histograms) {
		h := m.histograms[name]
		h.mu.RLock()
		p.printf("# TYPE %s histogram\n", name)
		for _, l := range sortedKeys(h.counts) {
			prefix := ""
			if l != "" {
				prefix = l + ","
			}
			counts := h.counts[l]
			var cumulative uint64
			for i, bound := range h.buckets {
				cumulative += counts[i]
				p.printf("%s_bucket{%sle=\"%g\"} %d\n", name, prefix, bound, cumulative)
			}
			cumulative += counts[len(h.buckets)]
			p.printf("%s_bucket{%sle=\"+Inf\"} %d\n", name, prefix, cumulative)
			p.printf("%s %g\n", withLabels(name+"_sum", l), h.sums[l])
			p.printf("%s %d\n", withLabels(name+"_count", l), h.totals[l])
		}
		h.mu.RUnlock()
	}

	return p.err
}

func withLabels(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

// RecordRPC records a completed RPC with its gRPC status code name.
func (m *MetricsRegistry) RecordRPC(method string, code string, duration time.Duration) {
	m.IncrementCounter(MetricRPCsTotal, fmt.Sprintf(`method=%q,code=%q`, method, code))
	m.ObserveHistogram(MetricRPCDuration, fmt.Sprintf(`method=%q`, method), duration.Seconds())
}

// RecordFetch records the outcome of one tree fetch and, on success, the
// payload size.
func (m *MetricsRegistry) RecordFetch(outcome string, bytes int) {
	m.IncrementCounter(MetricFetchesTotal, fmt.Sprintf(`outcome=%q`, outcome))
	if outcome == FetchSuccess && bytes > 0 {
		m.AddCounter(MetricTreeBytesTotal, "", uint64(bytes))
	}
}

// RecordRateLimited records a request rejected by the rate limiter.
func (m *MetricsRegistry) RecordRateLimited(method string) {
	m.IncrementCounter(MetricRateLimitedTotal, fmt.Sprintf(`method=%q`, method))
}

// RecordHeartbeat records a keep-alive received on a device stream.
func (m *MetricsRegistry) RecordHeartbeat() {
	m.IncrementCounter(MetricHeartbeatsTotal, "")
}

// RecordStreamEvent records a device stream lifecycle event, such as
// "opened", "closed" or "rejected".
func (m *MetricsRegistry) RecordStreamEvent(event string) {
	m.IncrementCounter(MetricStreamEventsTotal, fmt.Sprintf(`event=%q`, event))
}

// SetActiveStreams sets the number of registered device streams.
func (m *MetricsRegistry) SetActiveStreams(count int) {
	m.SetGauge(MetricStreamsActive, "", float64(count))
}

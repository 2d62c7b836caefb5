// Copyright 2025 Joseph Cumines
//
// Metrics unit tests

package transport

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func writeMetrics(t *testing.T, m *MetricsRegistry) string {
	t.Helper()
	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus error: %v", err)
	}
	return buf.String()
}

func TestMetricsRegistry_IncrementCounter(t *testing.T) {
	m := NewMetricsRegistry()

	m.IncrementCounter(MetricFetchesTotal, `outcome="success"`)
	m.IncrementCounter(MetricFetchesTotal, `outcome="success"`)
	m.IncrementCounter(MetricFetchesTotal, `outcome="timeout"`)

	output := writeMetrics(t, m)
	if !strings.Contains(output, `inspector_tree_fetches_total{outcome="success"} 2`) {
		t.Errorf("Expected success counter = 2, got:\n%s", output)
	}
	if !strings.Contains(output, `inspector_tree_fetches_total{outcome="timeout"} 1`) {
		t.Errorf("Expected timeout counter = 1, got:\n%s", output)
	}
	if got := m.CounterValue(MetricFetchesTotal, `outcome="success"`); got != 2 {
		t.Errorf("CounterValue = %d, want 2", got)
	}
}

func TestMetricsRegistry_ObserveHistogram_Cumulative(t *testing.T) {
	m := NewMetricsRegistry()

	labels := `method="/accessibility.AccessibilityService/GetAccessibilityTree"`
	m.ObserveHistogram(MetricRPCDuration, labels, 0.003)
	m.ObserveHistogram(MetricRPCDuration, labels, 0.25)
	m.ObserveHistogram(MetricRPCDuration, labels, 20)

	output := writeMetrics(t, m)
	for _, want := range []string{
		`inspector_rpc_duration_seconds_bucket{` + labels + `,le="0.001"} 0`,
		`inspector_rpc_duration_seconds_bucket{` + labels + `,le="0.005"} 1`,
		`inspector_rpc_duration_seconds_bucket{` + labels + `,le="0.25"} 2`,
		`inspector_rpc_duration_seconds_bucket{` + labels + `,le="10"} 2`,
		`inspector_rpc_duration_seconds_bucket{` + labels + `,le="+Inf"} 3`,
		`inspector_rpc_duration_seconds_count{` + labels + `} 3`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q, got:\n%s", want, output)
		}
	}
}

func TestMetricsRegistry_Gauges(t *testing.T) {
	m := NewMetricsRegistry()

	m.SetActiveStreams(5)
	m.SetActiveStreams(2)
	m.IncrementGauge(MetricStreamsActive, "", 1)
	m.IncrementGauge(MetricStreamsActive, "", -2)

	if got := m.GaugeValue(MetricStreamsActive, ""); got != 1 {
		t.Errorf("GaugeValue = %g, want 1", got)
	}
	output := writeMetrics(t, m)
	if !strings.Contains(output, "inspector_device_streams_active 1\n") {
		t.Errorf("Expected gauge = 1, got:\n%s", output)
	}
}

func TestMetricsRegistry_RecordRPC(t *testing.T) {
	m := NewMetricsRegistry()

	m.RecordRPC("/window_info.WindowInfoService/GetCurrentWindowInfo", "OK", 50*time.Millisecond)
	m.RecordRPC("/window_info.WindowInfoService/GetCurrentWindowInfo", "Unavailable", 100*time.Millisecond)

	output := writeMetrics(t, m)
	if !strings.Contains(output, `method="/window_info.WindowInfoService/GetCurrentWindowInfo",code="OK"} 1`) {
		t.Errorf("Expected OK counter, got:\n%s", output)
	}
	if !strings.Contains(output, `code="Unavailable"} 1`) {
		t.Errorf("Expected Unavailable counter, got:\n%s", output)
	}
}

func TestMetricsRegistry_RecordFetch(t *testing.T) {
	m := NewMetricsRegistry()

	m.RecordFetch(FetchSuccess, 1024)
	m.RecordFetch(FetchSuccess, 512)
	m.RecordFetch(FetchTimeout, 0)

	if got := m.CounterValue(MetricTreeBytesTotal, ""); got != 1536 {
		t.Errorf("tree bytes = %d, want 1536", got)
	}
	if got := m.CounterValue(MetricFetchesTotal, `outcome="timeout"`); got != 1 {
		t.Errorf("timeouts = %d, want 1", got)
	}
}

func TestMetricsRegistry_ConcurrentAccess(t *testing.T) {
	m := NewMetricsRegistry()

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Go(func() {
			m.RecordRPC("/accessibility.AccessibilityService/GetAccessibilityTree", "OK", time.Duration(i)*time.Millisecond)
			m.SetActiveStreams(i)
			m.RecordHeartbeat()
		})
	}
	wg.Wait()

	if got := m.CounterValue(MetricHeartbeatsTotal, ""); got != 100 {
		t.Errorf("heartbeats = %d, want 100", got)
	}
	output := writeMetrics(t, m)
	if !strings.Contains(output, "inspector_rpcs_total") {
		t.Error("Expected inspector_rpcs_total in output")
	}
}

func TestMetricsRegistry_UnknownMetric(t *testing.T) {
	m := NewMetricsRegistry()

	m.IncrementCounter("unknown_counter", "")
	m.ObserveHistogram("unknown_histogram", "", 1.0)
	m.SetGauge("unknown_gauge", "", 1.0)
	m.IncrementGauge("unknown_gauge", "", 1.0)

	output := writeMetrics(t, m)
	if strings.Contains(output, "unknown_") {
		t.Errorf("Should not contain unknown metrics, got:\n%s", output)
	}
	if m.CounterValue("unknown_counter", "") != 0 || m.GaugeValue("unknown_gauge", "") != 0 {
		t.Error("unknown metrics reported values")
	}
}

func TestMetricsRegistry_WritePrometheus_Types(t *testing.T) {
	m := NewMetricsRegistry()

	m.RecordStreamEvent("opened")
	m.RecordRateLimited("/accessibility.AccessibilityService/GetAccessibilityTree")

	output := writeMetrics(t, m)
	for _, want := range []string{
		"# TYPE inspector_rpcs_total counter",
		"# TYPE inspector_rpc_duration_seconds histogram",
		"# TYPE inspector_device_streams_active gauge",
		`inspector_stream_events_total{event="opened"} 1`,
		`inspector_rate_limited_total{method="/accessibility.AccessibilityService/GetAccessibilityTree"} 1`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q, got:\n%s", want, output)
		}
	}
}

type failingWriter struct{ after int }

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.after <= 0 {
		return 0, errors.New("broken pipe")
	}
	f.after--
	return len(p), nil
}

func TestMetricsRegistry_WritePrometheus_Error(t *testing.T) {
	m := NewMetricsRegistry()
	m.RecordFetch(FetchSuccess, 10)

	if err := m.WritePrometheus(&failingWriter{after: 2}); err == nil {
		t.Error("WritePrometheus error = nil, want write failure")
	}
}

package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame processing counters
	FramesIngested  atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesDropped   atomic.Uint64
	FramesAnnotated atomic.Uint64

	// Error counters
	IngestErrors   atomic.Uint64
	AnnotateErrors atomic.Uint64
	ArchiveErrors  atomic.Uint64
	WebRTCErrors   atomic.Uint64

	// Alert counters
	CriticalAlerts atomic.Uint64
	PreAlerts      atomic.Uint64
	CriticalNow    atomic.Uint64
	HistorySize    atomic.Uint64

	// Archive
	ArchiveWritten atomic.Uint64
	ArchiveDropped atomic.Uint64

	// Latency tracking
	FrameLatencyMs    atomic.Uint64 // Capture to classification
	ClassifyLatencyUs atomic.Uint64

	// Stream clients
	SSEClients       atomic.Int64
	WebSocketClients atomic.Int64
	WebRTCClients    atomic.Int64
	MJPEGClients     atomic.Int64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

func counter(v *atomic.Uint64) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

func gauge(v *atomic.Int64) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	gauges := []struct {
		name, help string
		fn         func() float64
	}{
		{"safety_frames_ingested_total", "Total frame reports accepted", counter(&m.FramesIngested)},
		{"safety_frames_processed_total", "Total frames classified", counter(&m.FramesProcessed)},
		{"safety_frames_dropped_total", "Total frame reports dropped because the queue was full", counter(&m.FramesDropped)},
		{"safety_frames_annotated_total", "Total annotated frames produced", counter(&m.FramesAnnotated)},

		{"safety_ingest_errors_total", "Total rejected frame reports", counter(&m.IngestErrors)},
		{"safety_annotate_errors_total", "Total annotation failures", counter(&m.AnnotateErrors)},
		{"safety_archive_errors_total", "Total archive write failures", counter(&m.ArchiveErrors)},
		{"safety_webrtc_errors_total", "Total WebRTC errors", counter(&m.WebRTCErrors)},

		{"safety_critical_alerts_total", "Total CRITICAL alerts recorded", counter(&m.CriticalAlerts)},
		{"safety_pre_alerts_total", "Total PRE-ALERT alerts recorded", counter(&m.PreAlerts)},
		{"safety_critical_now", "Critical alerts in the latest frame", counter(&m.CriticalNow)},
		{"safety_alert_history_size", "Alerts retained in history", counter(&m.HistorySize)},

		{"safety_archive_written_total", "Total alerts written to the archive", counter(&m.ArchiveWritten)},
		{"safety_archive_dropped_total", "Total alerts dropped before archiving", counter(&m.ArchiveDropped)},

		{"safety_frame_latency_ms", "Latest capture-to-classification latency in milliseconds", counter(&m.FrameLatencyMs)},
		{"safety_classify_latency_us", "Latest classification latency in microseconds", counter(&m.ClassifyLatencyUs)},

		{"safety_sse_clients", "Connected SSE clients", gauge(&m.SSEClients)},
		{"safety_websocket_clients", "Connected WebSocket clients", gauge(&m.WebSocketClients)},
		{"safety_webrtc_clients", "Connected WebRTC clients", gauge(&m.WebRTCClients)},
		{"safety_mjpeg_clients", "Connected MJPEG clients", gauge(&m.MJPEGClients)},
	}

	for _, g := range gauges {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			g.fn,
		))
	}
}

// UpdateFrameLatency records the latency since the frame was captured
func (m *Metrics) UpdateFrameLatency(captureTime time.Time) {
	latency := time.Since(captureTime).Milliseconds()
	if latency < 0 {
		latency = 0
	}
	m.FrameLatencyMs.Store(uint64(latency))
}

// UpdateClassifyLatency records how long one classification took
func (m *Metrics) UpdateClassifyLatency(duration time.Duration) {
	m.ClassifyLatencyUs.Store(uint64(duration.Microseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

package outbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector defines the interface for collecting drain metrics
type MetricsCollector interface {
	RecordReplay(table, operation string, success bool, duration time.Duration)
	RecordDropped(table, operation string)
	RecordQueueDepth(depth int)
	RecordPass(result Result, duration time.Duration)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordReplay(string, string, bool, time.Duration) {}
func (NoOpMetricsCollector) RecordDropped(string, string)                     {}
func (NoOpMetricsCollector) RecordQueueDepth(int)                             {}
func (NoOpMetricsCollector) RecordPass(Result, time.Duration)                 {}

// PrometheusMetrics implements MetricsCollector using Prometheus
type PrometheusMetrics struct {
	replays      *prometheus.CounterVec
	replayTime   *prometheus.HistogramVec
	dropped      *prometheus.CounterVec
	queueDepth   prometheus.Gauge
	passDuration prometheus.Histogram
	passes       *prometheus.CounterVec
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgersync",
			Subsystem: "drain",
			Name:      "replays_total",
			Help:      "Queue entries replayed against the remote, by outcome.",
		}, []string{"table", "operation", "status"}),
		replayTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledgersync",
			Subsystem: "drain",
			Name:      "replay_duration_seconds",
			Help:      "Latency of a single remote replay.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"table", "operation"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgersync",
			Subsystem: "drain",
			Name:      "dropped_total",
			Help:      "Queue entries dropped after exhausting retries.",
		}, []string{"table", "operation"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledgersync",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Entries waiting in the sync queue.",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ledgersync",
			Subsystem: "drain",
			Name:      "pass_duration_seconds",
			Help:      "Duration of a full drain pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgersync",
			Subsystem: "drain",
			Name:      "passes_total",
			Help:      "Drain passes, by whether they were interrupted.",
		}, []string{"interrupted"}),
	}
	if reg != nil {
		reg.MustRegister(m.replays, m.replayTime, m.dropped, m.queueDepth, m.passDuration, m.passes)
	}
	return m
}

func (m *PrometheusMetrics) RecordReplay(table, operation string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.replays.WithLabelValues(table, operation, status).Inc()
	m.replayTime.WithLabelValues(table, operation).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordDropped(table, operation string) {
	m.dropped.WithLabelValues(table, operation).Inc()
}

func (m *PrometheusMetrics) RecordQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *PrometheusMetrics) RecordPass(result Result, duration time.Duration) {
	interrupted := "false"
	if result.Interrupted {
		interrupted = "true"
	}
	m.passes.WithLabelValues(interrupted).Inc()
	m.passDuration.Observe(duration.Seconds())
}

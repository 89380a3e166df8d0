// Package monitoring - metrics.go exposes Prometheus collectors.
//
// DESIGN: One Metrics value owns every collector and its registry, so tests can
// create isolated instances without hitting duplicate-registration panics on the
// default registry. Served on /metrics via Handler().
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects operational metrics for the proxy and the log worker.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	streamChunks    prometheus.Counter
	queueDepth      prometheus.Gauge
	workerBatches   prometheus.Counter
	workerFailures  prometheus.Counter
	recordsWritten  *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aiproxy_requests_total",
				Help: "Proxied requests by service and outcome",
			},
			[]string{"service", "outcome"},
		),
		upstreamLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aiproxy_upstream_latency_seconds",
				Help:    "Latency of upstream provider calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		streamChunks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aiproxy_stream_chunks_forwarded_total",
				Help: "Stream chunks forwarded to clients",
			},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "aiproxy_log_queue_depth",
				Help: "Items observed in the last access log drain",
			},
		),
		workerBatches: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aiproxy_log_worker_batches_total",
				Help: "Drain cycles processed by the access log worker",
			},
		),
		workerFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aiproxy_log_worker_failures_total",
				Help: "Access log items that failed to persist",
			},
		),
		recordsWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aiproxy_log_records_written_total",
				Help: "Access log records written by direction",
			},
			[]string{"direction"},
		),
	}
}

// RecordRequest records a proxied request outcome.
func (m *Metrics) RecordRequest(service, outcome string) {
	m.requests.WithLabelValues(service, outcome).Inc()
}

// RecordUpstreamLatency records the duration of one upstream call.
func (m *Metrics) RecordUpstreamLatency(service string, d time.Duration) {
	m.upstreamLatency.WithLabelValues(service).Observe(d.Seconds())
}

// RecordStreamChunk counts one forwarded stream chunk.
func (m *Metrics) RecordStreamChunk() { m.streamChunks.Inc() }

// RecordDrain records one worker drain cycle of n items.
func (m *Metrics) RecordDrain(n int) {
	m.workerBatches.Inc()
	m.queueDepth.Set(float64(n))
}

// RecordWriteFailure counts one item that could not be persisted.
func (m *Metrics) RecordWriteFailure() { m.workerFailures.Inc() }

// RecordWrite counts one persisted record.
func (m *Metrics) RecordWrite(direction string) {
	m.recordsWritten.WithLabelValues(direction).Inc()
}

// Handler returns the /metrics HTTP handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

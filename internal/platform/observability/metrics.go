package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exported by the server.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive   prometheus.Gauge
	SessionsTotal    *prometheus.CounterVec
	WindowsProcessed *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	MessagesSent     *prometheus.CounterVec
	DecoderBytes     prometheus.Counter

	BatchRequests *prometheus.CounterVec
	BatchDuration *prometheus.HistogramVec

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "live_sessions_active",
			Help: "Number of live translation sessions currently streaming",
		}),
		SessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "live_sessions_total",
			Help: "Live sessions by terminal outcome",
		}, []string{"outcome"}),
		WindowsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "live_windows_processed_total",
			Help: "PCM windows processed by outcome",
		}, []string{"outcome"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Duration of recognition, translation and synthesis calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"stage"}),
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "live_messages_sent_total",
			Help: "Outbound live channel messages by event",
		}, []string{"event"}),
		DecoderBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_decoder_bytes_total",
			Help: "PCM bytes read from decoder processes",
		}),

		BatchRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_requests_total",
			Help: "Batch translation requests by kind and outcome",
		}, []string{"kind", "outcome"}),
		BatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_request_duration_seconds",
			Help:    "End to end batch translation duration",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"kind"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, path and status",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

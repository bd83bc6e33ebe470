// Package monitoring exposes Prometheus metrics for the proxy: gateway
// traffic, rewrite throughput and failures, session store churn, and
// rate limiting.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Rewrite metrics
	RewritesTotal   *prometheus.CounterVec
	RewriteFailures *prometheus.CounterVec
	RewriteDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsEvicted prometheus.Counter

	// Pipeline metrics
	RateLimitHits  prometheus.Counter
	PipelineErrors *prometheus.CounterVec
}

// NewMetrics creates a metrics collector registered on reg. A nil reg
// uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	if reg == nil {
		factory = promauto.With(prometheus.DefaultRegisterer)
	}

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webveil_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webveil_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webveil_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		RewritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webveil_rewrites_total",
				Help: "Content rewrites by content type",
			},
			[]string{"content_type"},
		),
		RewriteFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webveil_rewrite_failures_total",
				Help: "Rewrites that degraded to passthrough",
			},
			[]string{"content_type"},
		),
		RewriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webveil_rewrite_duration_seconds",
				Help:    "Content rewrite duration in seconds",
				Buckets: []float64{.0001, .001, .01, .05, .1, .5, 1},
			},
			[]string{"content_type"},
		),
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webveil_sessions_active",
				Help: "Sessions currently held by the store",
			},
		),
		SessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webveil_sessions_created_total",
				Help: "Sessions created",
			},
		),
		SessionsEvicted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webveil_sessions_evicted_total",
				Help: "Sessions removed by the eviction sweep",
			},
		),
		RateLimitHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webveil_rate_limit_hits_total",
				Help: "Requests rejected by rate limiting",
			},
		),
		PipelineErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webveil_pipeline_errors_total",
				Help: "Middleware handler failures by phase",
			},
			[]string{"phase"},
		),
	}
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	if respSize > 0 {
		m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
	}
}

// RecordRewrite records one content rewrite.
func (m *Metrics) RecordRewrite(contentType string, duration time.Duration) {
	m.RewritesTotal.WithLabelValues(contentType).Inc()
	m.RewriteDuration.WithLabelValues(contentType).Observe(duration.Seconds())
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the Prometheus metrics exported by the relay.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Provider metrics
	ProviderRequests *prometheus.CounterVec
	ProviderFailures *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec

	// Relay specific
	UploadBytes     prometheus.Histogram
	AnswerFallbacks prometheus.Counter
	KeepWarmPings   *prometheus.CounterVec
}

// New creates the metrics on a private registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vocalize_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vocalize_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		ProviderRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vocalize_provider_requests_total",
			Help: "Total number of provider calls",
		}, []string{"provider", "operation"}),
		ProviderFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vocalize_provider_failures_total",
			Help: "Total number of failed provider calls",
		}, []string{"provider", "operation"}),
		ProviderDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vocalize_provider_duration_seconds",
			Help:    "Provider call duration",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "operation"}),
		UploadBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vocalize_upload_bytes",
			Help:    "Size of uploaded audio in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		AnswerFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "vocalize_answer_fallbacks_total",
			Help: "Answers replaced by the fallback reply",
		}),
		KeepWarmPings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vocalize_keep_warm_pings_total",
			Help: "Keep-warm health pings by outcome",
		}, []string{"outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordProvider records one provider call.
func (m *Metrics) RecordProvider(provider, operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(provider, operation).Inc()
	m.ProviderDuration.WithLabelValues(provider, operation).Observe(seconds)
	if err != nil {
		m.ProviderFailures.WithLabelValues(provider, operation).Inc()
	}
}

// RecordHTTP records one HTTP request.
func (m *Metrics) RecordHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the authorization service.
type Metrics struct {
	authRequestsTotal   *prometheus.CounterVec
	authDuration        *prometheus.HistogramVec
	authErrorsTotal     *prometheus.CounterVec
	rateLimitHitsTotal  *prometheus.CounterVec
	nonceStoreOpsTotal  *prometheus.CounterVec
	storeOpDuration     *prometheus.HistogramVec
	registry            *prometheus.Registry
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gatekeeper"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.authRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_requests_total",
			Help:      "Total number of authorization requests",
		},
		[]string{"result", "reason", "method"},
	)

	m.authDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "auth_duration_seconds",
			Help:      "Authorization request duration in seconds",
			Buckets: []float64{
				.001, .005, .01, .025, .05,
				.075, .1, .25, .5, 1,
			},
		},
		[]string{"method"},
	)

	m.authErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_errors_total",
			Help:      "Total number of authorization errors",
		},
		[]string{"error_type"},
	)

	m.rateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_hits_total",
			Help:      "Total number of rate limit denials",
		},
		[]string{"client_id"},
	)

	m.nonceStoreOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonce_store_operations_total",
			Help:      "Total number of nonce store operations",
		},
		[]string{"operation", "status"},
	)

	m.storeOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Backing store operation duration in seconds",
			Buckets: []float64{
				.0005, .001, .005, .01, .025,
				.05, .1, .25, .5, 1,
			},
		},
		[]string{"operation"},
	)

	m.registry.MustRegister(
		m.authRequestsTotal,
		m.authDuration,
		m.authErrorsTotal,
		m.rateLimitHitsTotal,
		m.nonceStoreOpsTotal,
		m.storeOpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordAuthRequest records an authorization decision.
func (m *Metrics) RecordAuthRequest(result, reason, method string, duration time.Duration) {
	m.authRequestsTotal.WithLabelValues(result, reason, method).Inc()
	m.authDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordAuthError records an internal authorization error.
func (m *Metrics) RecordAuthError(errorType string) {
	m.authErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordRateLimitHit records a rate limit denial for a client.
func (m *Metrics) RecordRateLimitHit(clientID string) {
	m.rateLimitHitsTotal.WithLabelValues(clientID).Inc()
}

// RecordNonceStoreOp records a nonce store operation.
func (m *Metrics) RecordNonceStoreOp(operation, status string) {
	m.nonceStoreOpsTotal.WithLabelValues(operation, status).Inc()
}

// RecordStoreOp records the duration of a backing store operation.
func (m *Metrics) RecordStoreOp(operation string, duration time.Duration) {
	m.storeOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

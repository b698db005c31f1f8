package ledgerline

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector publishes Prometheus metrics for the request pipeline and
// the reliability layers. All methods are nil-safe so an unconfigured
// collector costs nothing.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal        *prometheus.CounterVec
	circuitBreakerState *prometheus.GaugeVec
	rateLimiterTokens   *prometheus.GaugeVec

	tokenRefreshes      *prometheus.CounterVec
	tokenRefreshSeconds prometheus.Histogram

	idempotencyHits    prometheus.Counter
	idempotencyMisses  prometheus.Counter
	idempotencyEntries prometheus.Gauge

	errorsTotal *prometheus.CounterVec

	registry prometheus.Registerer
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer, which tests use to isolate metric registration.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerline_requests_total",
				Help: "Total number of API requests made",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledgerline_request_duration_seconds",
				Help:    "Duration of API requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ledgerline_requests_in_flight",
				Help: "Number of API requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerline_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint", "attempt"},
		),
		circuitBreakerState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ledgerline_circuit_breaker_state",
				Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		rateLimiterTokens: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ledgerline_rate_limiter_tokens",
				Help: "Available local rate limiter tokens",
			},
			[]string{"name"},
		),
		tokenRefreshes: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerline_token_refreshes_total",
				Help: "Total number of token endpoint round trips",
			},
			[]string{"outcome"},
		),
		tokenRefreshSeconds: promauto.With(registry).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ledgerline_token_refresh_duration_seconds",
				Help:    "Duration of token endpoint round trips in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		idempotencyHits: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "ledgerline_idempotency_hits_total",
				Help: "Total number of idempotency cache hits",
			},
		),
		idempotencyMisses: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "ledgerline_idempotency_misses_total",
				Help: "Total number of idempotency cache misses",
			},
		),
		idempotencyEntries: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "ledgerline_idempotency_store_entries",
				Help: "Current number of cached idempotency results",
			},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerline_errors_total",
				Help: "Total number of errors by classification",
			},
			[]string{"type", "method", "endpoint"},
		),
		registry: registry,
	}
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}
	code := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, code, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, code, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRetry increments the retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(method, endpoint string, attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(method, endpoint, strconv.Itoa(attempt)).Inc()
}

// RecordCircuitBreakerState sets the breaker state gauge.
func (mc *MetricsCollector) RecordCircuitBreakerState(name string, state CircuitState) {
	if mc == nil {
		return
	}
	mc.circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRateLimiterTokens sets the available-token gauge.
func (mc *MetricsCollector) RecordRateLimiterTokens(name string, tokens int) {
	if mc == nil {
		return
	}
	mc.rateLimiterTokens.WithLabelValues(name).Set(float64(tokens))
}

// RecordTokenRefresh counts a token endpoint round trip and its duration.
func (mc *MetricsCollector) RecordTokenRefresh(success bool, duration time.Duration) {
	if mc == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	mc.tokenRefreshes.WithLabelValues(outcome).Inc()
	mc.tokenRefreshSeconds.Observe(duration.Seconds())
}

// RecordIdempotency counts an idempotency cache lookup.
func (mc *MetricsCollector) RecordIdempotency(hit bool) {
	if mc == nil {
		return
	}
	if hit {
		mc.idempotencyHits.Inc()
	} else {
		mc.idempotencyMisses.Inc()
	}
}

// RecordIdempotencyStoreSize sets the cached-result count gauge.
func (mc *MetricsCollector) RecordIdempotencyStoreSize(entries int) {
	if mc == nil {
		return
	}
	mc.idempotencyEntries.Set(float64(entries))
}

// RecordError increments the error counter by classification.
func (mc *MetricsCollector) RecordError(errorType, method, endpoint string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}

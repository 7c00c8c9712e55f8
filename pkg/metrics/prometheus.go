// Package metrics provides Prometheus metrics for the matcha composite service.
package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultRefreshInterval = 10 * time.Second
	nanosPerMillisecond    = 1e6
)

// Manager owns every collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	constLabels      map[string]string
	registry         prometheus.Registerer

	// HTTP surface
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorsByEndpoint    *prometheus.CounterVec

	// Downstream gateways
	downstreamRequests *prometheus.CounterVec
	downstreamLatency  *prometheus.HistogramVec

	// Orchestration
	summaries            *prometheus.CounterVec
	degradedDependencies *prometheus.CounterVec

	// Authentication
	authFailures *prometheus.CounterVec
	tokensIssued *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton used by the Record* helpers

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // keeps default Go collectors out of /metrics

func init() { //nolint:gochecknoinits // global collectors must exist before the first request
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "matcha",
		subsystem:        "composite",
		histogramBuckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

// Enabled reports whether recording is active.
func (m *Manager) Enabled() bool { return m.enabled }

// RefreshInterval is the period of the background gauge updater.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

func (m *Manager) initializeMetrics() { //nolint:funlen // one block per collector
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.constLabels)

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_requests_total",
		Help:        "Total number of HTTP requests by endpoint, method and status",
		ConstLabels: labels,
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "HTTP request duration in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByEndpoint = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_errors_total",
		Help:        "HTTP error responses by endpoint, method and error type",
		ConstLabels: labels,
	}, []string{"endpoint", "method", "error_type"})

	m.downstreamRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "downstream_requests_total",
		Help:        "Calls to downstream services by service and outcome",
		ConstLabels: labels,
	}, []string{"service", "outcome"})

	m.downstreamLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "downstream_latency_milliseconds",
		Help:        "Downstream call latency in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	}, []string{"service"})

	m.summaries = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "summaries_total",
		Help:        "User summaries by outcome (ok, degraded, not_found, unauthenticated, error)",
		ConstLabels: labels,
	}, []string{"outcome"})

	m.degradedDependencies = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "degraded_dependencies_total",
		Help:        "Dependency failures absorbed into an empty summary section",
		ConstLabels: labels,
	}, []string{"service"})

	m.authFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "auth_failures_total",
		Help:        "Rejected authentication attempts by reason",
		ConstLabels: labels,
	}, []string{"reason"})

	m.tokensIssued = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "tokens_issued_total",
		Help:        "Access tokens issued by login method",
		ConstLabels: labels,
	}, []string{"method"})

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "system_memory_bytes",
		Help:        "Heap bytes allocated",
		ConstLabels: labels,
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "system_goroutines",
		Help:        "Number of live goroutines",
		ConstLabels: labels,
	})

	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "system_gc_pause_milliseconds",
		Help:        "Average GC pause time in milliseconds",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		ConstLabels: labels,
	})
}

// RecordHTTPRequest records an HTTP request.
func (m *Manager) RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	if !m.enabled {
		return
	}
	m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByEndpoint records an HTTP error response.
func (m *Manager) RecordErrorByEndpoint(endpoint, method, errorType string) {
	if !m.enabled {
		return
	}
	m.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordDownstreamCall records the outcome and latency of one gateway call.
func (m *Manager) RecordDownstreamCall(service, outcome string, latencyMs float64) {
	if !m.enabled {
		return
	}
	m.downstreamRequests.WithLabelValues(service, outcome).Inc()
	m.downstreamLatency.WithLabelValues(service).Observe(latencyMs)
}

// RecordSummary counts a summary outcome.
func (m *Manager) RecordSummary(outcome string) {
	if !m.enabled {
		return
	}
	m.summaries.WithLabelValues(outcome).Inc()
}

// RecordDegradedDependency counts an absorbed dependency failure.
func (m *Manager) RecordDegradedDependency(service string) {
	if !m.enabled {
		return
	}
	m.degradedDependencies.WithLabelValues(service).Inc()
}

// RecordAuthFailure counts a rejected authentication attempt.
func (m *Manager) RecordAuthFailure(reason string) {
	if !m.enabled {
		return
	}
	m.authFailures.WithLabelValues(reason).Inc()
}

// RecordTokenIssued counts an issued access token.
func (m *Manager) RecordTokenIssued(method string) {
	if !m.enabled {
		return
	}
	m.tokensIssued.WithLabelValues(method).Inc()
}

// Global helpers bound to the package manager.

// RecordHTTPRequest records an HTTP request and its duration.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.RecordHTTPRequest(endpoint, method, statusCode, durationMs)
}

// RecordErrorByEndpoint records an HTTP error response.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.RecordErrorByEndpoint(endpoint, method, errorType)
}

// RecordDownstreamCall records one gateway call.
func RecordDownstreamCall(service, outcome string, latencyMs float64) {
	globalManager.RecordDownstreamCall(service, outcome, latencyMs)
}

// RecordSummary counts a summary outcome.
func RecordSummary(outcome string) {
	globalManager.RecordSummary(outcome)
}

// RecordDegradedDependency counts an absorbed dependency failure.
func RecordDegradedDependency(service string) {
	globalManager.RecordDegradedDependency(service)
}

// RecordAuthFailure counts a rejected authentication attempt.
func RecordAuthFailure(reason string) {
	globalManager.RecordAuthFailure(reason)
}

// RecordTokenIssued counts an issued access token.
func RecordTokenIssued(method string) {
	globalManager.RecordTokenIssued(method)
}

// SampleSystem records heap usage, goroutine count and average GC pause once.
func (m *Manager) SampleSystem() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.systemMemoryUsage.Set(float64(ms.Alloc))
	m.systemGoroutineCount.Set(float64(runtime.NumGoroutine()))
	if ms.NumGC > 0 {
		m.systemGCPauseTime.Observe(float64(ms.PauseTotalNs) / float64(ms.NumGC) / nanosPerMillisecond)
	}
}

// RunSystemUpdater samples system gauges every RefreshInterval until ctx is done.
func (m *Manager) RunSystemUpdater(ctx context.Context) {
	ticker := time.NewTicker(m.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SampleSystem()
		}
	}
}

// StartSystemUpdater runs the global manager's system updater. A
// non-positive interval keeps the current one. It blocks until ctx is done.
func StartSystemUpdater(ctx context.Context, interval time.Duration) {
	WithRefreshInterval(interval)(globalManager)
	globalManager.SampleSystem()
	globalManager.RunSystemUpdater(ctx)
}

// GetRegistry returns the custom Prometheus registry used by the service.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

package telemetry

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for 3scale-sync.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Document metrics
	documentsReconciled *prometheus.CounterVec
	documentDuration    *prometheus.HistogramVec

	// Entity metrics
	entityOutcomes *prometheus.CounterVec
	entityDuration *prometheus.HistogramVec

	// Tenant Admin API metrics
	tenantRequests        *prometheus.CounterVec
	tenantRequestDuration *prometheus.HistogramVec
	tenantRequestErrors   *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Governance metrics
	policyViolations *prometheus.CounterVec

	// Watch mode metrics
	activeRuns   prometheus.Gauge
	watchReloads *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Run metrics
		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of sync runs started",
			},
			[]string{"trigger"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of sync runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of sync runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		// Document metrics
		documentsReconciled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_reconciled_total",
				Help:      "Total number of configuration documents reconciled",
			},
			[]string{"environment", "status"},
		),
		documentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "document_duration_seconds",
				Help:      "Duration of document reconciliation in seconds",
				Buckets:   buckets,
			},
			[]string{"environment"},
		),

		// Entity metrics
		entityOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entity_outcomes_total",
				Help:      "Total number of entity reconciliation outcomes",
			},
			[]string{"kind", "outcome"},
		),
		entityDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "entity_duration_seconds",
				Help:      "Duration of entity reconciliation in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		// Tenant Admin API metrics
		tenantRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tenant_requests_total",
				Help:      "Total number of tenant Admin API requests",
			},
			[]string{"method", "status"},
		),
		tenantRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tenant_request_duration_seconds",
				Help:      "Duration of tenant Admin API requests in seconds",
				Buckets:   buckets,
			},
			[]string{"method"},
		),
		tenantRequestErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tenant_request_errors_total",
				Help:      "Total number of failed tenant Admin API requests",
			},
			[]string{"method", "status"},
		),

		// Error metrics
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		// Governance metrics
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of governance policy violations",
			},
			[]string{"policy", "severity"},
		),

		// Watch mode metrics
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active sync runs",
			},
		),
		watchReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watch_reloads_total",
				Help:      "Total number of watch mode reloads",
			},
			[]string{"trigger"},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.documentsReconciled,
		m.documentDuration,
		m.entityOutcomes,
		m.entityDuration,
		m.tenantRequests,
		m.tenantRequestDuration,
		m.tenantRequestErrors,
		m.errorsByClass,
		m.errorsByCode,
		m.policyViolations,
		m.activeRuns,
		m.watchReloads,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs. The trigger is
// "cli" for one-shot invocations and "watch" for watch mode re-runs.
func (m *Metrics) RecordRunStarted(trigger string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(trigger).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Document Metrics

// RecordDocument records the reconciliation of one configuration document.
func (m *Metrics) RecordDocument(environment, status string, duration time.Duration) {
	if m.documentsReconciled == nil {
		return
	}
	m.documentsReconciled.WithLabelValues(environment, status).Inc()
	m.documentDuration.WithLabelValues(environment).Observe(duration.Seconds())
}

// Entity Metrics

// RecordEntity records the terminal outcome of one entity reconciliation
// step.
func (m *Metrics) RecordEntity(kind, outcome string, duration time.Duration) {
	if m.entityOutcomes == nil {
		return
	}
	m.entityOutcomes.WithLabelValues(kind, outcome).Inc()
	m.entityDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// Tenant Admin API Metrics

// RecordTenantRequest records one tenant Admin API request. Status is the
// HTTP status code, or zero for network-level failures. Request paths are
// not used as labels; they embed tenant entity IDs.
func (m *Metrics) RecordTenantRequest(method string, status int, duration time.Duration) {
	if m.tenantRequests == nil {
		return
	}
	code := strconv.Itoa(status)
	m.tenantRequests.WithLabelValues(method, code).Inc()
	m.tenantRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
	if status == 0 || status >= 400 {
		m.tenantRequestErrors.WithLabelValues(method, code).Inc()
	}
}

// TenantRequestObserver returns a callback suitable for the threescale
// client's per-request observer hook.
func (m *Metrics) TenantRequestObserver() func(method, path string, status int, duration time.Duration) {
	return func(method, _ string, status int, duration time.Duration) {
		m.RecordTenantRequest(method, status, duration)
	}
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Governance Metrics

// RecordPolicyViolation records a governance policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Watch Mode Metrics

// RecordWatchReload records a watch mode reload. The trigger is "config"
// for configuration file changes and "policy" for policy file changes.
func (m *Metrics) RecordWatchReload(trigger string) {
	if m.watchReloads == nil {
		return
	}
	m.watchReloads.WithLabelValues(trigger).Inc()
}

// SetActiveRuns sets the current number of active runs.
func (m *Metrics) SetActiveRuns(count float64) {
	if m.activeRuns == nil {
		return
	}
	m.activeRuns.Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the extension orchestrator.
type Metrics struct {
	config MetricsConfig

	// Compatibility metrics
	compatChecks       *prometheus.CounterVec
	compatCheckSeconds *prometheus.HistogramVec
	compatCacheHits    *prometheus.CounterVec

	// Conflict detection metrics
	conflictAnalyses *prometheus.CounterVec
	conflictsFound   *prometheus.CounterVec
	analysisSeconds  prometheus.Histogram

	// Deployment metrics
	deploymentsStarted   *prometheus.CounterVec
	deploymentsCompleted *prometheus.CounterVec
	deploymentSeconds    *prometheus.HistogramVec
	rolloutPhaseSeconds  *prometheus.HistogramVec
	rollbacks            *prometheus.CounterVec
	activeDeployments    prometheus.Gauge

	// Health check metrics
	healthChecks *prometheus.CounterVec

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

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		compatChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compatibility_checks_total",
				Help:      "Total number of compatibility checks",
			},
			[]string{"result"},
		),
		compatCheckSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "compatibility_check_duration_seconds",
				Help:      "Duration of compatibility checks in seconds",
				Buckets:   buckets,
			},
			[]string{"result"},
		),
		compatCacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compatibility_cache_requests_total",
				Help:      "Compatibility cache requests by outcome",
			},
			[]string{"outcome"},
		),

		conflictAnalyses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conflict_analyses_total",
				Help:      "Total number of conflict detection runs",
			},
			[]string{"verdict"},
		),
		conflictsFound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conflicts_found_total",
				Help:      "Conflicts found by type and severity",
			},
			[]string{"type", "severity"},
		),
		analysisSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "conflict_analysis_duration_seconds",
				Help:      "Duration of conflict analysis in seconds",
				Buckets:   buckets,
			},
		),

		deploymentsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_started_total",
				Help:      "Total number of deployments started",
			},
			[]string{"strategy", "type"},
		),
		deploymentsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_completed_total",
				Help:      "Total number of deployments completed",
			},
			[]string{"status"},
		),
		deploymentSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deployment_duration_seconds",
				Help:      "Duration of deployment execution in seconds",
				Buckets:   buckets,
			},
			[]string{"strategy", "status"},
		),
		rolloutPhaseSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rollout_phase_duration_seconds",
				Help:      "Duration of individual rollout phases in seconds",
				Buckets:   buckets,
			},
			[]string{"strategy", "phase"},
		),
		rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_total",
				Help:      "Total number of rollbacks by trigger",
			},
			[]string{"trigger"},
		),
		activeDeployments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_deployments",
				Help:      "Number of deployments currently in flight",
			},
		),

		healthChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "health_checks_total",
				Help:      "Total number of extension health checks by status",
			},
			[]string{"check_type", "status"},
		),
	}

	collectors := []prometheus.Collector{
		m.compatChecks, m.compatCheckSeconds, m.compatCacheHits,
		m.conflictAnalyses, m.conflictsFound, m.analysisSeconds,
		m.deploymentsStarted, m.deploymentsCompleted, m.deploymentSeconds,
		m.rolloutPhaseSeconds, m.rollbacks, m.activeDeployments,
		m.healthChecks,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// enabled reports whether this instance records anything.
func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordCompatibilityCheck records one compatibility check.
func (m *Metrics) RecordCompatibilityCheck(compatible bool, duration time.Duration) {
	if !m.enabled() {
		return
	}
	result := "incompatible"
	if compatible {
		result = "compatible"
	}
	m.compatChecks.WithLabelValues(result).Inc()
	m.compatCheckSeconds.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordCompatibilityCacheRequest records a cache hit or miss.
func (m *Metrics) RecordCompatibilityCacheRequest(hit bool) {
	if !m.enabled() {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.compatCacheHits.WithLabelValues(outcome).Inc()
}

// RecordConflictAnalysis records one detection run and its findings.
func (m *Metrics) RecordConflictAnalysis(canInstall bool, duration time.Duration) {
	if !m.enabled() {
		return
	}
	verdict := "blocked"
	if canInstall {
		verdict = "installable"
	}
	m.conflictAnalyses.WithLabelValues(verdict).Inc()
	m.analysisSeconds.Observe(duration.Seconds())
}

// RecordConflict records one conflict finding.
func (m *Metrics) RecordConflict(conflictType, severity string) {
	if !m.enabled() {
		return
	}
	m.conflictsFound.WithLabelValues(conflictType, severity).Inc()
}

// RecordDeploymentStarted records the start of a deployment.
func (m *Metrics) RecordDeploymentStarted(strategy, deploymentType string) {
	if !m.enabled() {
		return
	}
	m.deploymentsStarted.WithLabelValues(strategy, deploymentType).Inc()
	m.activeDeployments.Inc()
}

// RecordDeploymentCompleted records a finished deployment.
func (m *Metrics) RecordDeploymentCompleted(strategy, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.deploymentsCompleted.WithLabelValues(status).Inc()
	m.deploymentSeconds.WithLabelValues(strategy, status).Observe(duration.Seconds())
	m.activeDeployments.Dec()
}

// RecordRolloutPhase records one rollout phase duration.
func (m *Metrics) RecordRolloutPhase(strategy, phase string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.rolloutPhaseSeconds.WithLabelValues(strategy, phase).Observe(duration.Seconds())
}

// RecordRollback records a rollback by trigger (manual, auto).
func (m *Metrics) RecordRollback(trigger string) {
	if !m.enabled() {
		return
	}
	m.rollbacks.WithLabelValues(trigger).Inc()
}

// RecordHealthCheck records one extension health check.
func (m *Metrics) RecordHealthCheck(checkType, status string) {
	if !m.enabled() {
		return
	}
	m.healthChecks.WithLabelValues(checkType, status).Inc()
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

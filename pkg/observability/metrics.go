package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the configuration access subsystem
type Metrics struct {
	// Access control metrics
	AccessChecksTotal   *prometheus.CounterVec
	AccessDeniedTotal   *prometheus.CounterVec
	AccessCheckDuration *prometheus.HistogramVec
	DecisionCacheHits   prometheus.Counter
	DecisionCacheMisses prometheus.Counter

	// Audit metrics
	AuditEventsTotal      *prometheus.CounterVec
	AuditWriteErrorsTotal prometheus.Counter
	AuditLogRotationsTotal prometheus.Counter
	AuditFilesPrunedTotal  prometheus.Counter

	// Secrets metrics
	CipherOperationsTotal    *prometheus.CounterVec
	RotationTransitionsTotal *prometheus.CounterVec
	RotationsActive          prometheus.Gauge
	SecretsBackendErrors     *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		AccessChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confgate_access_checks_total",
				Help: "Total number of field access checks",
			},
			[]string{"permission", "environment", "allowed"},
		),
		AccessDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confgate_access_denied_total",
				Help: "Total number of denied field access attempts",
			},
			[]string{"permission", "environment"},
		),
		AccessCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "confgate_access_check_duration_seconds",
				Help:    "Field access check duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"permission"},
		),
		DecisionCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "confgate_decision_cache_hits_total",
				Help: "Access decision cache hits",
			},
		),
		DecisionCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "confgate_decision_cache_misses_total",
				Help: "Access decision cache misses",
			},
		),
		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confgate_audit_events_total",
				Help: "Total number of audit events written",
			},
			[]string{"action", "severity"},
		),
		AuditWriteErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "confgate_audit_write_errors_total",
				Help: "Audit sink write failures reported to the side channel",
			},
		),
		AuditLogRotationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "confgate_audit_log_rotations_total",
				Help: "Audit log file size rotations",
			},
		),
		AuditFilesPrunedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "confgate_audit_files_pruned_total",
				Help: "Audit log files removed by retention pruning",
			},
		),
		CipherOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confgate_cipher_operations_total",
				Help: "Encrypt/decrypt operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		RotationTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confgate_rotation_transitions_total",
				Help: "Secret rotation state transitions",
			},
			[]string{"state"},
		),
		RotationsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "confgate_rotations_active",
				Help: "Rotations currently in a non-terminal state",
			},
		),
		SecretsBackendErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confgate_secrets_backend_errors_total",
				Help: "Secrets backend operation failures",
			},
			[]string{"backend", "operation"},
		),
	}

	registry.MustRegister(
		m.AccessChecksTotal,
		m.AccessDeniedTotal,
		m.AccessCheckDuration,
		m.DecisionCacheHits,
		m.DecisionCacheMisses,
		m.AuditEventsTotal,
		m.AuditWriteErrorsTotal,
		m.AuditLogRotationsTotal,
		m.AuditFilesPrunedTotal,
		m.CipherOperationsTotal,
		m.RotationTransitionsTotal,
		m.RotationsActive,
		m.SecretsBackendErrors,
	)

	return m
}

// Handler returns an HTTP handler exposing the registry in Prometheus format
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

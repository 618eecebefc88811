package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the fabricsync engine.
type Metrics struct {
	config MetricsConfig

	// Sync attempt metrics
	syncsStarted   *prometheus.CounterVec
	syncsCompleted *prometheus.CounterVec
	syncDuration   *prometheus.HistogramVec
	syncsRejected  *prometheus.CounterVec

	// Resource metrics
	resourcesByState *prometheus.GaugeVec
	fabricStatus     *prometheus.GaugeVec

	// Ingestion metrics
	ingestionOutcomes *prometheus.CounterVec

	// Repository metrics
	checkouts        *prometheus.CounterVec
	checkoutDuration *prometheus.HistogramVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// System metrics
	activeSyncs prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance
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

		syncsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "syncs_started_total",
				Help:      "Total number of sync attempts started",
			},
			[]string{"trigger"},
		),
		syncsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "syncs_completed_total",
				Help:      "Total number of sync attempts completed",
			},
			[]string{"outcome"},
		),
		syncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_duration_seconds",
				Help:      "Duration of sync attempts in seconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),
		syncsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "syncs_rejected_total",
				Help:      "Total number of sync requests rejected because a sync was already in flight",
			},
			[]string{"fabric_id"},
		),

		resourcesByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resources_by_state",
				Help:      "Current number of managed resources per lifecycle state",
			},
			[]string{"fabric_id", "state"},
		),
		fabricStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "fabric_status",
				Help:      "Current fabric sync status (1 for the active status, 0 otherwise)",
			},
			[]string{"fabric_id", "status"},
		),

		ingestionOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_outcomes_total",
				Help:      "Total number of ingestion decisions by outcome",
			},
			[]string{"fabric_id", "outcome"},
		),

		checkouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repo_checkouts_total",
				Help:      "Total number of repository checkouts",
			},
			[]string{"status"},
		),
		checkoutDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "repo_checkout_duration_seconds",
				Help:      "Duration of repository checkouts in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of sync errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of sync errors by error code",
			},
			[]string{"code"},
		),

		activeSyncs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_syncs",
				Help:      "Current number of sync attempts in flight",
			},
		),
	}

	registry.MustRegister(
		m.syncsStarted,
		m.syncsCompleted,
		m.syncDuration,
		m.syncsRejected,
		m.resourcesByState,
		m.fabricStatus,
		m.ingestionOutcomes,
		m.checkouts,
		m.checkoutDuration,
		m.errorsByClass,
		m.errorsByCode,
		m.activeSyncs,
	)

	return m, nil
}

// RecordSyncStarted increments the counter for started sync attempts.
func (m *Metrics) RecordSyncStarted(trigger string) {
	if m.syncsStarted == nil {
		return
	}
	m.syncsStarted.WithLabelValues(trigger).Inc()
	m.activeSyncs.Inc()
}

// RecordSyncCompleted records a finished sync attempt with its outcome.
func (m *Metrics) RecordSyncCompleted(outcome string, duration time.Duration) {
	if m.syncsCompleted == nil {
		return
	}
	m.syncsCompleted.WithLabelValues(outcome).Inc()
	m.syncDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.activeSyncs.Dec()
}

// RecordSyncRejected records a sync request that found the fabric busy.
func (m *Metrics) RecordSyncRejected(fabricID string) {
	if m.syncsRejected == nil {
		return
	}
	m.syncsRejected.WithLabelValues(fabricID).Inc()
}

// SetResourceStateCount sets the resource count for one lifecycle state.
func (m *Metrics) SetResourceStateCount(fabricID, state string, count float64) {
	if m.resourcesByState == nil {
		return
	}
	m.resourcesByState.WithLabelValues(fabricID, state).Set(count)
}

// SetFabricStatus marks the fabric's active status. All other known statuses
// for the fabric are zeroed so exactly one series reads 1.
func (m *Metrics) SetFabricStatus(fabricID, active string, all []string) {
	if m.fabricStatus == nil {
		return
	}
	for _, status := range all {
		value := 0.0
		if status == active {
			value = 1.0
		}
		m.fabricStatus.WithLabelValues(fabricID, status).Set(value)
	}
}

// RecordIngestionOutcome records one ingestion decision.
func (m *Metrics) RecordIngestionOutcome(fabricID, outcome string) {
	if m.ingestionOutcomes == nil {
		return
	}
	m.ingestionOutcomes.WithLabelValues(fabricID, outcome).Inc()
}

// RecordCheckout records a repository checkout with its duration.
func (m *Metrics) RecordCheckout(status string, duration time.Duration) {
	if m.checkouts == nil {
		return
	}
	m.checkouts.WithLabelValues(status).Inc()
	m.checkoutDuration.WithLabelValues(status).Observe(duration.Seconds())
}

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

// Handler returns an HTTP handler serving the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ListenAndServe starts the metrics HTTP endpoint. It blocks until the
// server exits.
func (m *Metrics) ListenAndServe() error {
	if !m.config.Enabled {
		return nil
	}
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

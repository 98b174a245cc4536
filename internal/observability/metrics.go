package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the research session service.
// Metrics are organized by subsystem: sessions, coordinator operations, storage,
// change events, reports, analytics, and the SSE stream. All counters and
// histograms are registered via promauto for automatic registration with the
// default Prometheus registry.
type Metrics struct {
	// SessionsStarted counts the total number of session coordinators created.
	SessionsStarted prometheus.Counter

	// SessionsEvicted counts the total number of coordinators evicted for idleness.
	SessionsEvicted prometheus.Counter

	// ActiveSessions tracks the number of coordinators currently held by the manager.
	ActiveSessions prometheus.Gauge

	// DegradedInitializations counts initializations that fell back to fresh
	// in-memory state because the backing store could not be read.
	DegradedInitializations prometheus.Counter

	// OperationsTotal counts coordinator operations, labeled by operation name.
	OperationsTotal *prometheus.CounterVec

	// OperationDuration observes coordinator operation duration in seconds, labeled by operation.
	OperationDuration *prometheus.HistogramVec

	// PersistDuration observes write-through persistence duration in seconds, labeled by backend.
	PersistDuration *prometheus.HistogramVec

	// StorageErrors counts failed store operations, labeled by store operation (get, set, set_multi, delete).
	StorageErrors *prometheus.CounterVec

	// ChangeEvents counts notifications emitted on the bus, labeled by event name.
	ChangeEvents *prometheus.CounterVec

	// MessagesDeduplicated counts messages suppressed by the duplicate window.
	MessagesDeduplicated prometheus.Counter

	// SelectionsRejected counts source selections refused at tier capacity.
	SelectionsRejected prometheus.Counter

	// UnknownTiers counts tier resolutions that fell back to the most restrictive limit.
	UnknownTiers prometheus.Counter

	// ReportTransitions counts report status transition attempts, labeled by
	// from state, to state, and whether the transition was allowed.
	ReportTransitions *prometheus.CounterVec

	// ReportsGenerated counts successfully completed report generations.
	ReportsGenerated prometheus.Counter

	// ReportsFailed counts report generations that ended in the error state.
	ReportsFailed prometheus.Counter

	// ReportDuration observes end-to-end report generation duration in seconds.
	ReportDuration prometheus.Histogram

	// StaleResultsDiscarded counts async continuations dropped because the
	// conversation changed while the network call was in flight.
	StaleResultsDiscarded prometheus.Counter

	// AnalyticsForwarded counts events handed off to the analytics sink.
	AnalyticsForwarded prometheus.Counter

	// AnalyticsDropped counts events the analytics sink discarded (queue full or broker failure).
	AnalyticsDropped prometheus.Counter

	// SSEClients tracks the number of connected event-stream subscribers.
	SSEClients prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Sessions
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of session coordinators created",
		}),
		SessionsEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Total number of session coordinators evicted for idleness",
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of session coordinators currently in memory",
		}),
		DegradedInitializations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_initializations_total",
			Help:      "Total number of initializations that degraded to fresh in-memory state",
		}),

		// Coordinator operations
		OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of coordinator operations by operation",
		}, []string{"operation"}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of coordinator operations in seconds by operation",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"operation"}),

		// Storage
		PersistDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_duration_seconds",
			Help:      "Duration of write-through persistence in seconds by backend",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"backend"}),
		StorageErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Total number of failed store operations by operation",
		}, []string{"operation"}),

		// Change notifications
		ChangeEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_events_total",
			Help:      "Total number of change notifications emitted by event name",
		}, []string{"event"}),
		MessagesDeduplicated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_deduplicated_total",
			Help:      "Total number of messages suppressed by the duplicate window",
		}),
		SelectionsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selections_rejected_total",
			Help:      "Total number of source selections refused at tier capacity",
		}),
		UnknownTiers: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_tiers_total",
			Help:      "Total number of tier resolutions that fell back to the most restrictive limit",
		}),

		// Reports
		ReportTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_transitions_total",
			Help:      "Total number of report status transition attempts by from, to, and outcome",
		}, []string{"from", "to", "allowed"}),
		ReportsGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_generated_total",
			Help:      "Total number of reports generated successfully",
		}),
		ReportsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_failed_total",
			Help:      "Total number of report generations that failed",
		}),
		ReportDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_duration_seconds",
			Help:      "End-to-end duration of report generation in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		StaleResultsDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_results_discarded_total",
			Help:      "Total number of async results discarded after a conversation change",
		}),

		// Analytics
		AnalyticsForwarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_forwarded_total",
			Help:      "Total number of events forwarded to the analytics sink",
		}),
		AnalyticsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_dropped_total",
			Help:      "Total number of events dropped by the analytics sink",
		}),

		// Event stream
		SSEClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sse_clients",
			Help:      "Number of connected event-stream subscribers",
		}),
	}
}

// RecordSessionStarted records that a session coordinator was created.
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionEvicted records that a session coordinator was removed from the manager.
func (m *Metrics) RecordSessionEvicted() {
	m.SessionsEvicted.Inc()
	m.ActiveSessions.Dec()
}

// RecordDegradedInitialization records an initialization that could not read the store.
func (m *Metrics) RecordDegradedInitialization() {
	m.DegradedInitializations.Inc()
}

// RecordOperation records a completed coordinator operation.
func (m *Metrics) RecordOperation(operation string, durationSeconds float64) {
	m.OperationsTotal.WithLabelValues(operation).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordPersist records a write-through persistence to the backing store.
func (m *Metrics) RecordPersist(backend string, durationSeconds float64) {
	m.PersistDuration.WithLabelValues(backend).Observe(durationSeconds)
}

// RecordStorageError records a failed store operation.
func (m *Metrics) RecordStorageError(operation string) {
	m.StorageErrors.WithLabelValues(operation).Inc()
}

// RecordChangeEvent records a notification emitted on the bus.
func (m *Metrics) RecordChangeEvent(event string) {
	m.ChangeEvents.WithLabelValues(event).Inc()
}

// RecordMessageDeduplicated records a message suppressed by the duplicate window.
func (m *Metrics) RecordMessageDeduplicated() {
	m.MessagesDeduplicated.Inc()
}

// RecordSelectionRejected records a selection refused at tier capacity.
func (m *Metrics) RecordSelectionRejected() {
	m.SelectionsRejected.Inc()
}

// RecordUnknownTier records a tier resolution that fell back to the most restrictive limit.
func (m *Metrics) RecordUnknownTier() {
	m.UnknownTiers.Inc()
}

// RecordReportTransition records a report status transition attempt.
func (m *Metrics) RecordReportTransition(from, to string, allowed bool) {
	outcome := "true"
	if !allowed {
		outcome = "false"
	}
	m.ReportTransitions.WithLabelValues(from, to, outcome).Inc()
}

// RecordReportGenerated records a successful report generation.
func (m *Metrics) RecordReportGenerated(durationSeconds float64) {
	m.ReportsGenerated.Inc()
	m.ReportDuration.Observe(durationSeconds)
}

// RecordReportFailed records a report generation that ended in the error state.
func (m *Metrics) RecordReportFailed(durationSeconds float64) {
	m.ReportsFailed.Inc()
	m.ReportDuration.Observe(durationSeconds)
}

// RecordStaleResultDiscarded records an async result dropped after a conversation change.
func (m *Metrics) RecordStaleResultDiscarded() {
	m.StaleResultsDiscarded.Inc()
}

// RecordAnalyticsForwarded records an event handed off to the analytics sink.
func (m *Metrics) RecordAnalyticsForwarded() {
	m.AnalyticsForwarded.Inc()
}

// RecordAnalyticsDropped records an event the analytics sink discarded.
func (m *Metrics) RecordAnalyticsDropped() {
	m.AnalyticsDropped.Inc()
}

// RecordSSEClientConnected records a new event-stream subscriber.
func (m *Metrics) RecordSSEClientConnected() {
	m.SSEClients.Inc()
}

// RecordSSEClientDisconnected records an event-stream subscriber going away.
func (m *Metrics) RecordSSEClientDisconnected() {
	m.SSEClients.Dec()
}

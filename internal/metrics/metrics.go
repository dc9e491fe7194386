// Package metrics provides Prometheus metrics for LogNexus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "lognexus"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks concurrent HTTP requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)

	// SSEClients tracks connected event stream subscribers.
	SSEClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "sse_clients",
			Help:      "Number of connected event stream clients",
		},
	)
)

// Ingest metrics
var (
	// IngestLogsTotal counts ingested log entries by level.
	IngestLogsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "logs_total",
			Help:      "Total log entries ingested",
		},
		[]string{"level"},
	)

	// IngestHeartbeatsTotal counts received heartbeats.
	IngestHeartbeatsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "heartbeats_total",
			Help:      "Total server heartbeats received",
		},
	)

	// IngestExecutionsTotal counts completed executions by status.
	IngestExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "executions_total",
			Help:      "Total job executions completed",
		},
		[]string{"status"},
	)
)

// Alerting metrics
var (
	// AlertEvaluationsTotal counts condition evaluations by type and result
	// (fired, quiet, error).
	AlertEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "evaluations_total",
			Help:      "Total alert condition evaluations",
		},
		[]string{"type", "result"},
	)

	// AlertEvaluationDuration tracks the duration of a full evaluation pass.
	AlertEvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "evaluation_pass_duration_seconds",
			Help:      "Duration of a scheduled evaluation pass in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// AlertTriggersTotal counts created alert instances.
	AlertTriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "triggers_total",
			Help:      "Total alert instances created",
		},
		[]string{"type", "severity"},
	)

	// AlertTriggersSkipped counts trigger attempts that created nothing,
	// by reason (throttled, conflict).
	AlertTriggersSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "triggers_skipped_total",
			Help:      "Total trigger attempts that did not create an instance",
		},
		[]string{"reason"},
	)

	// AlertTransitionsTotal counts instance status changes by target status.
	AlertTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "transitions_total",
			Help:      "Total alert instance status transitions",
		},
		[]string{"to"},
	)

	// NotificationsTotal counts delivery attempts by channel and result.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "deliveries_total",
			Help:      "Total notification delivery attempts",
		},
		[]string{"channel", "result"},
	)
)

// Monitor metrics
var (
	// ServersOfflineTotal counts servers marked offline by the monitor.
	ServersOfflineTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "servers_offline_total",
			Help:      "Total servers transitioned to Offline",
		},
	)

	// MonitorChecksTotal counts health check passes.
	MonitorChecksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "checks_total",
			Help:      "Total server health check passes",
		},
	)
)

// Buffer metrics
var (
	// BufferPending tracks entries waiting to be flushed.
	BufferPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "pending_entries",
			Help:      "Log entries waiting to be flushed to storage",
		},
	)

	// BufferDroppedTotal counts dropped entries due to backpressure.
	BufferDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "dropped_total",
			Help:      "Total entries dropped due to buffer overflow",
		},
	)

	// BufferFlushesTotal counts flush operations.
	BufferFlushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "flushes_total",
			Help:      "Total buffer flush operations",
		},
	)

	// BufferInsertedTotal counts successfully inserted entries.
	BufferInsertedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "inserted_total",
			Help:      "Total entries inserted to storage",
		},
	)

	// BufferFlushErrors counts flush errors.
	BufferFlushErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "flush_errors_total",
			Help:      "Total buffer flush errors",
		},
	)
)

// Storage metrics
var (
	// StorageQueryDuration tracks query latency.
	StorageQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "query_duration_seconds",
			Help:      "Storage query latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation", "backend"},
	)

	// StorageErrors counts storage operation errors.
	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Total storage operation errors",
		},
		[]string{"operation", "backend"},
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

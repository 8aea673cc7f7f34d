// Package metrics provides Prometheus metrics for the engine's passes,
// alerting and read API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "querypulse"

var (
	// RunsTotal counts finished passes by kind and terminal status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of ETL runs by kind and status.",
		},
		[]string{"kind", "status"},
	)

	// RunDurationSeconds is pass latency by kind.
	RunDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "ETL run duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2.5, 10), // 50ms to ~3h
		},
		[]string{"kind"},
	)

	// RecordsTotal counts records pulled by record passes by outcome
	// (processed, skipped, duplicate, failed).
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Total number of raw execution records by outcome.",
		},
		[]string{"outcome"},
	)

	// AlertsTotal counts alert candidates by category and outcome
	// (emitted, suppressed).
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Total number of alert candidates by category and outcome.",
		},
		[]string{"category", "outcome"},
	)

	// SourceRetriesTotal counts telemetry source retries after transient errors.
	SourceRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_retries_total",
			Help:      "Total number of telemetry source fetch retries.",
		},
	)

	// MergeConflictsTotal counts pass transactions retried after write contention.
	MergeConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_conflicts_total",
			Help:      "Total number of pass transactions retried after a merge conflict.",
		},
	)

	// BaselinesComputed is the number of baselines written by the last
	// baseline pass.
	BaselinesComputed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "baselines_computed",
			Help:      "Number of baselines written by the most recent baseline pass.",
		},
	)

	// WatermarkSeconds is the end of the last completed record-pass window as
	// a unix timestamp.
	WatermarkSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watermark_seconds",
			Help:      "End of the last completed record-pass window (unix seconds) by partition.",
		},
		[]string{"partition"},
	)

	// MaintenanceTotal counts post-retention store maintenance by mode
	// (analyze, vacuum) and outcome (ok, failed).
	MaintenanceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_total",
			Help:      "Total number of store maintenance runs by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	// NotificationsTotal counts webhook deliveries by channel type and
	// outcome (sent, failed, dropped).
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of webhook notifications by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	// HTTPRequestTotal counts read API requests by method, route and status.
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, route, and status.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDurationSeconds is read API latency by method and route.
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~9.3s
		},
		[]string{"method", "route"},
	)
)

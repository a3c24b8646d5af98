// Package telemetry provides application-level observability for the audit engine.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<AUD_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format (Content-Type: text/plain; version=0.0.4) and is intended to be scraped by
// a Prometheus server every 15–60 seconds.  It is NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Audit record counters by action kind and reversibility tier
//   - Snapshot counters and captured payload bytes
//   - Undo attempt counters by outcome
//   - Notification creation counters by type
//   - Retention sweep duration and reclaimed-row counters
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/admin/records/:id)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as record ids. Domain metrics label only
// closed enumerations (action kinds, tiers, outcomes, notification types) —
// never entity ids or user ids.
//
// # Usage
//
// Import the package for side effects so metrics are registered before the HTTP server
// starts listening:
//
//	import _ "github.com/domara/audit-engine/internal/telemetry"
//
// Or import it directly and use an exported var:
//
//	telemetry.AuditRecordsTotal.WithLabelValues(string(rec.Action), string(rec.Tier)).Inc()
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template (e.g. /api/v1/admin/records/:id/undo),
// NOT the raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - Requests by route:                 sum by (path) (rate(http_requests_total[5m]))
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Recording metrics — incremented by the audit recorder on every persisted record.
//
// AuditRecordsTotal is a CounterVec with labels {action, tier}. Both labels are
// closed enumerations (seven action kinds, four tiers).
//
// Example PromQL queries:
//   - Mutation rate by action:       sum by (action) (rate(audit_records_total{action=~"create|update|delete"}[5m]))
//   - Share of impossible records:   sum(rate(audit_records_total{tier="impossible"}[1h])) / sum(rate(audit_records_total[1h]))
//
// SnapshotsTotal is a CounterVec with label {outcome}: "captured" when the
// structured snapshot committed, "degraded" when snapshot failure downgraded the
// record to non-undoable. A rising degraded rate means backups are silently not
// being taken and undo coverage is shrinking.
//
// SnapshotBytesTotal counts structured payload bytes captured, for capacity
// planning of the data_backups table.
var (
	AuditRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_records_total",
			Help: "Total number of audit records written, by action kind and reversibility tier.",
		},
		[]string{"action", "tier"},
	)

	SnapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshots_total",
			Help: "Total number of snapshot attempts, by outcome (captured, degraded).",
		},
		[]string{"outcome"},
	)

	SnapshotBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snapshot_bytes_total",
			Help: "Total structured payload bytes captured into data backups.",
		},
	)
)

// Undo metrics — recorded by the undo executor.
//
// UndoAttemptsTotal is a CounterVec with label {outcome}: completed, failed,
// blocked (analysis refused), race_lost (a sibling action won the transition),
// or cancelled.
//
// Example PromQL queries:
//   - Undo failure rate:  sum(rate(undo_attempts_total{outcome="failed"}[1h]))
//   - Contention signal:  increase(undo_attempts_total{outcome="race_lost"}[24h])
var UndoAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "undo_attempts_total",
		Help: "Total number of undo executions, by outcome.",
	},
	[]string{"outcome"},
)

// NotificationsCreatedTotal is a CounterVec with label {type} incremented once
// per user notification persisted (admin_action, undo_performed, system_alert,
// account_update).
var NotificationsCreatedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_created_total",
		Help: "Total number of user notifications created, by type.",
	},
	[]string{"type"},
)

// Retention sweep metrics — recorded by the retention sweep background job.
//
// RetentionSweepDuration is a Histogram using the default Prometheus buckets.
// Each observation represents one complete sweep cycle.
//
// RetentionSweptTotal is a CounterVec with label {kind}: records, groups,
// notifications, or bundles. An alert on a flat counter while records keep
// expiring catches a stalled sweep.
var (
	RetentionSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "retention_sweep_duration_seconds",
			Help:    "Duration of a single retention sweep cycle.",
			Buckets: prometheus.DefBuckets,
		},
	)

	RetentionSweptTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retention_swept_total",
			Help: "Total number of expired rows and file bundles reclaimed by the retention sweep, by kind.",
		},
		[]string{"kind"},
	)
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <AUD_DATABASE_MAX_CONNECTIONS> * 100
//   - Alert on near-exhaustion: db_open_connections > 20  (for max_connections=25)
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}

// Package telemetry provides application-level observability for the telemetry hub.
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started in cmd/server — not by the
// Gin router — on the port configured via telemetry.metrics.prometheus_port
// (default 9090), at GET /metrics.
//
// HTTP metrics use c.FullPath() (route template such as /api/sensor-data)
// rather than the raw request URL so user-supplied path or query segments
// cannot inflate label cardinality.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
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

// Ingestion metrics.
//
// ReadingsIngestedTotal counts accepted submissions by path: "queued" when the
// reading was handed to the job queue, "direct" when the queue was unavailable
// and the reading was written synchronously. rejected submissions are counted
// separately so the two series sum to total submission attempts.
//
// Example PromQL:
//   - Queue health: rate(readings_ingested_total{path="direct"}[5m]) > 0
//     firing for a sustained period means Redis is down or refusing writes.
var (
	ReadingsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readings_ingested_total",
			Help: "Accepted sensor reading submissions, by ingestion path (queued or direct).",
		},
		[]string{"path"},
	)

	ReadingsRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "readings_rejected_total",
			Help: "Sensor reading submissions rejected due to persistence failure.",
		},
	)
)

// Retry-worker metrics, labelled by terminal or intermediate outcome:
// "persisted", "retried", "abandoned", "duplicate" (job replay suppressed by
// the idempotency key).
var IngestJobsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ingest_jobs_total",
		Help: "Ingestion job processing outcomes in the retry worker.",
	},
	[]string{"outcome"},
)

// RateLimitRejectionsTotal counts requests rejected by the sliding-window
// limiter, labelled by the limited endpoint group ("login", "password_reset").
var RateLimitRejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rate_limit_rejections_total",
		Help: "Requests rejected with 429 by the sliding-window rate limiter.",
	},
	[]string{"scope"},
)

// DBConnectionsOpen reports the current number of open connections in the
// database/sql pool. Polled every 30 s by StartDBStatsCollector.
var DBConnectionsOpen = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_connections_open",
		Help: "Current number of open connections in the database pool.",
	},
)

// StartDBStatsCollector launches a goroutine that polls db.Stats() every 30
// seconds and exports the open-connection count. The goroutine runs for the
// lifetime of the process; it is intentionally not tied to graceful shutdown
// because it holds no resources beyond the ticker.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := db.Stats()
			DBConnectionsOpen.Set(float64(stats.OpenConnections))
			slog.Debug("db pool stats", "open", stats.OpenConnections, "in_use", stats.InUse, "idle", stats.Idle)
		}
	}()
}

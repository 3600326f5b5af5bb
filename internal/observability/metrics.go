// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Sync metrics
	SyncRunsTotal      *prometheus.CounterVec
	SyncRunDuration    prometheus.Histogram
	SchedulerSkipped   prometheus.Counter
	WatermarkTimestamp prometheus.Gauge

	// Source metrics
	PagesFetched      prometheus.Counter
	SourceCallLatency prometheus.Histogram
	SourceErrors      *prometheus.CounterVec

	// Ledger metrics
	RecordsInserted   prometheus.Counter
	RecordsDuplicates prometheus.Counter

	// Rate limiter metrics
	LimiterDecisions *prometheus.CounterVec

	// Job queue metrics
	JobsEnqueued  prometheus.Counter
	JobAttempts   prometheus.Counter
	JobRetries    prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsFailed    prometheus.Counter

	// API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Health metrics
	LastSuccessfulSync prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "ledger_sync"
	}

	return &Metrics{
		// Sync metrics
		SyncRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of sync runs by outcome",
		}, []string{"outcome"}),
		SyncRunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Sync run duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		SchedulerSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "ticks_skipped_total",
			Help:      "Scheduler ticks skipped because a run was in flight",
		}),
		WatermarkTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "watermark_timestamp",
			Help:      "Unix timestamp of the committed sync watermark",
		}),

		// Source metrics
		PagesFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "pages_fetched_total",
			Help:      "Total number of pages fetched from the transaction source",
		}),
		SourceCallLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "call_latency_seconds",
			Help:      "Transaction source call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		SourceErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "errors_total",
			Help:      "Total number of transaction source errors by kind",
		}, []string{"kind"}),

		// Ledger metrics
		RecordsInserted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "records_inserted_total",
			Help:      "Total number of transaction records inserted",
		}),
		RecordsDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "records_duplicate_total",
			Help:      "Total number of already-synced records skipped",
		}),

		// Rate limiter metrics
		LimiterDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Total number of rate limiter decisions by outcome",
		}, []string{"decision"}),

		// Job queue metrics
		JobsEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "enqueued_total",
			Help:      "Total number of page jobs enqueued",
		}),
		JobAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "attempts_total",
			Help:      "Total number of page job attempts started",
		}),
		JobRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "retries_total",
			Help:      "Total number of page job retries scheduled",
		}),
		JobsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "completed_total",
			Help:      "Total number of page jobs completed",
		}),
		JobsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "failed_total",
			Help:      "Total number of page jobs that exhausted their attempts",
		}),

		// API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		// Health metrics
		LastSuccessfulSync: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_sync_timestamp",
			Help:      "Unix timestamp of last successful sync run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordSyncRun records a finished sync run.
func RecordSyncRun(outcome string, duration time.Duration) {
	DefaultMetrics.SyncRunsTotal.WithLabelValues(outcome).Inc()
	DefaultMetrics.SyncRunDuration.Observe(duration.Seconds())
}

// RecordWatermark updates the watermark and last-success gauges.
func RecordWatermark(t time.Time) {
	DefaultMetrics.WatermarkTimestamp.Set(float64(t.Unix()))
	DefaultMetrics.LastSuccessfulSync.SetToCurrentTime()
}

// RecordTickSkipped increments the skipped scheduler ticks counter.
func RecordTickSkipped() {
	DefaultMetrics.SchedulerSkipped.Inc()
}

// RecordPageFetched records a successful source call.
func RecordPageFetched(latency time.Duration) {
	DefaultMetrics.PagesFetched.Inc()
	DefaultMetrics.SourceCallLatency.Observe(latency.Seconds())
}

// RecordSourceError records a failed source call.
func RecordSourceError(kind string) {
	DefaultMetrics.SourceErrors.WithLabelValues(kind).Inc()
}

// RecordUpsert records the outcome of a ledger batch.
func RecordUpsert(inserted, duplicates int) {
	DefaultMetrics.RecordsInserted.Add(float64(inserted))
	DefaultMetrics.RecordsDuplicates.Add(float64(duplicates))
}

// RecordLimiterDecision records a rate limiter decision.
func RecordLimiterDecision(decision string) {
	DefaultMetrics.LimiterDecisions.WithLabelValues(decision).Inc()
}

// RecordJobEnqueued increments the enqueued jobs counter.
func RecordJobEnqueued() {
	DefaultMetrics.JobsEnqueued.Inc()
}

// RecordJobAttempt increments the job attempts counter.
func RecordJobAttempt() {
	DefaultMetrics.JobAttempts.Inc()
}

// RecordJobRetry increments the job retries counter.
func RecordJobRetry() {
	DefaultMetrics.JobRetries.Inc()
}

// RecordJobCompleted increments the completed jobs counter.
func RecordJobCompleted() {
	DefaultMetrics.JobsCompleted.Inc()
}

// RecordJobFailed increments the terminally failed jobs counter.
func RecordJobFailed() {
	DefaultMetrics.JobsFailed.Inc()
}

// RecordHTTPRequest records an API request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	DefaultMetrics.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	DefaultMetrics.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

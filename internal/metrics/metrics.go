// Package metrics holds the Prometheus instruments shared by the sync
// pipelines and the query API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all fundsync Prometheus metrics.
type Registry struct {
	registry *prometheus.Registry

	// Job metrics
	JobDuration *prometheus.HistogramVec
	JobRuns     *prometheus.CounterVec
	ActiveJobs  prometheus.Gauge

	// Row metrics
	RowsInserted *prometheus.CounterVec
	RowsUpdated  *prometheus.CounterVec
	RowsDropped  *prometheus.CounterVec

	// Venue API metrics
	VenueRequests *prometheus.CounterVec
	VenueErrors   *prometheus.CounterVec

	// Query API metrics
	HTTPDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// NewRegistry creates the registry with every fundsync metric registered.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fundsync_job_duration_seconds",
				Help:    "Duration of sync job executions in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"venue", "pipeline", "result"},
		),

		JobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundsync_job_runs_total",
				Help: "Total sync job executions by outcome",
			},
			[]string{"venue", "pipeline", "result"},
		),

		ActiveJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fundsync_active_jobs",
				Help: "Number of sync jobs currently executing",
			},
		),

		RowsInserted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundsync_rows_inserted_total",
				Help: "Total funding rows inserted by pipeline",
			},
			[]string{"venue", "pipeline"},
		),

		RowsUpdated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundsync_rows_updated_total",
				Help: "Total online rows updated in place",
			},
			[]string{"venue"},
		),

		RowsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundsync_rows_dropped_total",
				Help: "Total rows dropped by validation",
			},
			[]string{"venue", "pipeline"},
		),

		VenueRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundsync_venue_requests_total",
				Help: "Total per-symbol venue operations attempted",
			},
			[]string{"venue", "operation"},
		),

		VenueErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundsync_venue_errors_total",
				Help: "Total per-symbol venue operations that failed after retries",
			},
			[]string{"venue", "operation"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fundsync_http_request_duration_seconds",
				Help:    "Query API request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"route", "method", "status"},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundsync_cache_hits_total",
				Help: "Total query cache hits",
			},
			[]string{"endpoint"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundsync_cache_misses_total",
				Help: "Total query cache misses",
			},
			[]string{"endpoint"},
		),
	}

	r.registry.MustRegister(
		r.JobDuration,
		r.JobRuns,
		r.ActiveJobs,
		r.RowsInserted,
		r.RowsUpdated,
		r.RowsDropped,
		r.VenueRequests,
		r.VenueErrors,
		r.HTTPDuration,
		r.CacheHits,
		r.CacheMisses,
	)

	return r
}

// Handler exposes the registry for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

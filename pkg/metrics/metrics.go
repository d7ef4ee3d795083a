// Package metrics defines the Prometheus metric collectors used across the
// pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	EventsPublishedTotal *prometheus.CounterVec
	EventsConsumedTotal  *prometheus.CounterVec
	RetriesTotal         prometheus.Counter
	DeadLetteredTotal    prometheus.Counter
	ReplayedTotal        prometheus.Counter
	PipelineDuration     prometheus.Histogram
	PipelineRowsTotal    prometheus.Counter
	UploadBytesTotal     prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_events_published_total",
				Help: "Stream entries published by stream key and outcome (ok, error).",
			},
			[]string{"stream", "outcome"},
		),
		EventsConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_events_consumed_total",
				Help: "Stream entries consumed by event type and result (succeeded, failed, unknown).",
			},
			[]string{"event_type", "result"},
		),
		RetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "worker_retries_total",
				Help: "Successor entries republished after a handler failure.",
			},
		),
		DeadLetteredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "worker_dead_lettered_total",
				Help: "Entries routed to the dead-letter stream.",
			},
		),
		ReplayedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dlq_replayed_total",
				Help: "Dead-letter entries replayed onto the main stream.",
			},
		),
		PipelineDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pipeline_duration_seconds",
				Help:    "Transformation pipeline run duration in seconds.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		PipelineRowsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_rows_written_total",
				Help: "Rows written to the transformation target table.",
			},
		),
		UploadBytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "upload_bytes_total",
				Help: "Raw bytes accepted by the upload endpoint.",
			},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.EventsPublishedTotal,
		m.EventsConsumedTotal,
		m.RetriesTotal,
		m.DeadLetteredTotal,
		m.ReplayedTotal,
		m.PipelineDuration,
		m.PipelineRowsTotal,
		m.UploadBytesTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Package metrics defines the Prometheus collectors for the barrier
// explorer and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/barrier-explorer/internal/barrier"
)

const namespace = "barriers"

// Metrics holds the collectors and the registry they are registered with.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	RecomputeDuration   *prometheus.HistogramVec
	IngestRecordsTotal  *prometheus.CounterVec
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by method, route, and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		RecomputeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "facet_recompute_seconds",
				Help:      "Facet engine recompute latency by strategy (rescan, incremental).",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"strategy"},
		),
		IngestRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_records_total",
				Help:      "Barrier records ingested, by outcome (ranked, unranked, malformed).",
			},
			[]string{"outcome"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RecomputeDuration,
		m.IngestRecordsTotal,
	)
	return m
}

// ObserveRecompute records one engine recompute. Its signature matches
// facet.WithObserver.
func (m *Metrics) ObserveRecompute(strategy string, elapsed time.Duration) {
	m.RecomputeDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// ObserveIngest records the outcome of one ingestion batch.
func (m *Metrics) ObserveIngest(stats barrier.IngestStats) {
	m.IngestRecordsTotal.WithLabelValues("ranked").Add(float64(stats.Ranked))
	m.IngestRecordsTotal.WithLabelValues("unranked").Add(float64(stats.Records - stats.Ranked))
	m.IngestRecordsTotal.WithLabelValues("malformed").Add(float64(stats.Malformed))
}

// TrackSessions registers a gauge reporting the live session count.
func (m *Metrics) TrackSessions(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of cached exploration sessions.",
		},
		func() float64 { return float64(count()) },
	))
}

// Handler returns the Prometheus scrape HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry        *prometheus.Registry
	PagesTotal      prometheus.Counter
	FetchesTotal    *prometheus.CounterVec
	FetchDuration   prometheus.Histogram
	RecordsTotal    prometheus.Counter
	RetriesTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
	WorkersInFlight prometheus.Gauge
	TraversalsTotal *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_listing_pages_total",
			Help: "Total listing pages visited.",
		},
	)
	fetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_detail_fetches_total",
			Help: "Detail fetch outcomes per item.",
		},
		[]string{"outcome"},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_detail_fetch_duration_seconds",
			Help:    "Latency of one detail fetch attempt.",
			Buckets: prometheus.DefBuckets,
		},
	)
	records := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_records_total",
			Help: "Total normalized records sent to the pipeline.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of retry attempts.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_workers_in_flight",
			Help: "Detail fetches currently executing.",
		},
	)
	traversals := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_traversals_total",
			Help: "Listing traversals by stop reason.",
		},
		[]string{"stop_reason"},
	)

	registry.MustRegister(pages, fetches, fetchDuration, records, retries, errorsTotal, inFlight, traversals)

	return &Metrics{
		Registry:        registry,
		PagesTotal:      pages,
		FetchesTotal:    fetches,
		FetchDuration:   fetchDuration,
		RecordsTotal:    records,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
		WorkersInFlight: inFlight,
		TraversalsTotal: traversals,
	}
}

// IncPage increments the listing pages counter.
func (m *Metrics) IncPage() {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
}

// IncFetch counts one finished item by outcome.
func (m *Metrics) IncFetch(outcome string) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records a fetch attempt duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// IncRecords increments the records counter.
func (m *Metrics) IncRecords() {
	if m == nil {
		return
	}
	m.RecordsTotal.Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// TrackInFlight adjusts the in-flight gauge by delta.
func (m *Metrics) TrackInFlight(delta float64) {
	if m == nil {
		return
	}
	m.WorkersInFlight.Add(delta)
}

// IncTraversal counts a finished traversal by stop reason.
func (m *Metrics) IncTraversal(reason string) {
	if m == nil {
		return
	}
	m.TraversalsTotal.WithLabelValues(reason).Inc()
}

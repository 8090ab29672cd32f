package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	RecordsTotal      prometheus.Counter
	RetriesTotal      prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	PagesTotal        prometheus.Counter
	LayoutMatches     *prometheus.CounterVec
	IdentityRotations prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued by the scraper.",
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for scraper requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	records := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_records_total",
			Help: "Total number of product records extracted.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of fetch retries.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of failed fetch attempts by type.",
		},
		[]string{"error_type"},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_pages_total",
			Help: "Total number of listing pages processed.",
		},
	)
	layouts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_layout_matches_total",
			Help: "Listing pages by matched layout schema.",
		},
		[]string{"schema"},
	)
	rotations := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_identity_rotations_total",
			Help: "Total number of client identity rotations.",
		},
	)

	registry.MustRegister(requests, requestDuration, records, retries, errorsTotal, pages, layouts, rotations)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		RecordsTotal:      records,
		RetriesTotal:      retries,
		ErrorsTotal:       errorsTotal,
		PagesTotal:        pages,
		LayoutMatches:     layouts,
		IdentityRotations: rotations,
	}
}

// IncRequest increments the requests counter for an outcome label.
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddRecords adds n extracted records.
func (m *Metrics) AddRecords(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsTotal.Add(float64(n))
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

// IncPage counts a processed page and the schema that matched it.
func (m *Metrics) IncPage(schema string) {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
	m.LayoutMatches.WithLabelValues(schema).Inc()
}

// IncRotation counts an identity rotation.
func (m *Metrics) IncRotation() {
	if m == nil {
		return
	}
	m.IdentityRotations.Inc()
}

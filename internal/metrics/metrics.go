// Package metrics exposes Prometheus counters for identifier parsing and
// catalog ingest.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/starford/mrtrack/internal/scanid"
)

// Metrics provides observability for parsing and ingest. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Successful parses by convention
	Parsed *prometheus.CounterVec

	// Parse, translation and render failures by error kind
	Errors *prometheus.CounterVec

	ScansIndexed prometheus.Counter

	// Files left out of the catalog by reason
	ScansRejected *prometheus.CounterVec

	SyncDuration prometheus.Histogram
}

// New registers every metric with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Parsed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mrtrack_identifiers_parsed_total",
			Help: "Identifiers parsed successfully by convention",
		}, []string{"convention"}),

		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mrtrack_identifier_errors_total",
			Help: "Identifier failures by error kind",
		}, []string{"kind"}), // kind: "grammar_mismatch", "field_validation", ...

		ScansIndexed: f.NewCounter(prometheus.CounterOpts{
			Name: "mrtrack_scans_indexed_total",
			Help: "Scan files written to the catalog",
		}),

		ScansRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mrtrack_scans_rejected_total",
			Help: "Scan files rejected by the catalog by reason",
		}, []string{"kind"}),

		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mrtrack_catalog_sync_duration_seconds",
			Help:    "Duration of a full incoming directory sync",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
	}
}

// ObserveParse records the outcome of one parse.
func (m *Metrics) ObserveParse(id scanid.Identifier, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ObserveError(err)
		return
	}
	m.Parsed.WithLabelValues(id.Convention().String()).Inc()
}

// ObserveError counts an identifier failure under its error kind. Errors
// that are not identifier failures are counted as "internal".
func (m *Metrics) ObserveError(err error) {
	if m == nil || err == nil {
		return
	}
	kind := scanid.KindOf(err)
	if kind == "" {
		kind = "internal"
	}
	m.Errors.WithLabelValues(kind).Inc()
}

// IncrementIndexed records a scan written to the catalog.
func (m *Metrics) IncrementIndexed() {
	if m != nil {
		m.ScansIndexed.Inc()
	}
}

// IncrementRejected records a rejected file.
func (m *Metrics) IncrementRejected(kind string) {
	if m != nil {
		m.ScansRejected.WithLabelValues(kind).Inc()
	}
}

// ObserveSync records the duration of a full sync.
func (m *Metrics) ObserveSync(d time.Duration) {
	if m != nil {
		m.SyncDuration.Observe(d.Seconds())
	}
}

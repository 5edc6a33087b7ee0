package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	fetched     *prometheus.CounterVec
	skipped     *prometheus.CounterVec
	upserted    *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	staleness   *prometheus.GaugeVec
	predictions *prometheus.CounterVec
	embeddings  *prometheus.CounterVec
}

// New creates a recorder registered with the default registerer.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder registered with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		fetched: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalystpull_source_records_fetched_total",
				Help: "Raw records fetched from upstream sources",
			},
			[]string{"source"},
		),
		skipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalystpull_source_records_skipped_total",
				Help: "Raw records dropped before upsert, by reason",
			},
			[]string{"source", "reason"},
		),
		upserted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalystpull_catalysts_upserted_total",
				Help: "Catalyst drafts written, by result",
			},
			[]string{"source", "result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalystpull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalystpull_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		staleness: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "catalystpull_source_staleness_seconds",
				Help: "Age of the newest record per source",
			},
			[]string{"source"},
		),
		predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalystpull_predictions_total",
				Help: "Prediction requests by cache result",
			},
			[]string{"cache"},
		),
		embeddings: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalystpull_embeddings_total",
				Help: "Embeddings computed, by provider that produced them",
			},
			[]string{"provider"},
		),
	}
}

func (r *Recorder) RecordFetched(source string, n int) {
	r.fetched.WithLabelValues(source).Add(float64(n))
}

func (r *Recorder) RecordSkipped(source, reason string, n int) {
	r.skipped.WithLabelValues(source, reason).Add(float64(n))
}

func (r *Recorder) RecordUpserted(source string, inserted, duplicates int) {
	r.upserted.WithLabelValues(source, "inserted").Add(float64(inserted))
	r.upserted.WithLabelValues(source, "duplicate").Add(float64(duplicates))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordStaleness(source string, seconds float64) {
	r.staleness.WithLabelValues(source).Set(seconds)
}

func (r *Recorder) RecordPrediction(cache string) {
	r.predictions.WithLabelValues(cache).Inc()
}

func (r *Recorder) RecordEmbeddings(provider string, n int) {
	r.embeddings.WithLabelValues(provider).Add(float64(n))
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordFetched(string, int) {}
func (Nop) RecordSkipped(string, string, int) {}
func (Nop) RecordUpserted(string, int, int) {}
func (Nop) RecordError(string) {}
func (Nop) RecordLatency(string, float64) {}
func (Nop) RecordStaleness(string, float64) {}
func (Nop) RecordPrediction(string) {}
func (Nop) RecordEmbeddings(string, int) {}

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	fetches  *prometheus.CounterVec
	retries  *prometheus.CounterVec
	ingests  *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	topMover *prometheus.GaugeVec

	mu        sync.Mutex
	lastMover prometheus.Labels
}

// New registers the collectors on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		fetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moverpull_upstream_fetches_total",
				Help: "Upstream fetches by endpoint and final result",
			},
			[]string{"endpoint", "result"},
		),
		retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moverpull_upstream_retries_total",
				Help: "Upstream retries by failure class",
			},
			[]string{"class"},
		),
		ingests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moverpull_ingest_outcomes_total",
				Help: "Per-date ingest outcomes",
			},
			[]string{"outcome"},
		),
		errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moverpull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "moverpull_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 90, 120, 300, 600, 1200},
			},
			[]string{"operation"},
		),
		topMover: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "moverpull_top_mover_percent_change",
				Help: "Percent change of the most recently stored top mover",
			},
			[]string{"ticker"},
		),
	}
}

func (r *Recorder) RecordFetch(endpoint, result string) {
	r.fetches.WithLabelValues(endpoint, result).Inc()
}

func (r *Recorder) RecordRetry(class string) {
	r.retries.WithLabelValues(class).Inc()
}

func (r *Recorder) RecordIngest(outcome string) {
	r.ingests.WithLabelValues(outcome).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errors.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordTopMover keeps a single series: the previous ticker's series is dropped.
func (r *Recorder) RecordTopMover(ticker string, percent float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastMover != nil && r.lastMover["ticker"] != ticker {
		r.topMover.Delete(r.lastMover)
	}
	r.lastMover = prometheus.Labels{"ticker": ticker}
	r.topMover.With(r.lastMover).Set(percent)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordFetch(string, string) {}
func (Nop) RecordRetry(string) {}
func (Nop) RecordIngest(string) {}
func (Nop) RecordError(string) {}
func (Nop) RecordLatency(string, float64) {}
func (Nop) RecordTopMover(string, float64) {}

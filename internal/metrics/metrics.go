// Package metrics exposes Prometheus collectors for the corpus pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	documentsTotal         *prometheus.CounterVec
	bytesTotal             *prometheus.CounterVec
	fetchDurationSeconds   *prometheus.HistogramVec
	extractionsTotal       *prometheus.CounterVec
	sourceErrorsTotal      *prometheus.CounterVec
	rateLimitDelaysSeconds *prometheus.HistogramVec
	sweepsTotal            *prometheus.CounterVec
	activeWorkers          prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_documents_total",
				Help: "Total documents fetched, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_bytes_total",
				Help: "Total raw bytes stored, labeled by source.",
			},
			[]string{"source"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "corpus_fetch_duration_seconds",
				Help:    "Histogram of download durations, labeled by source.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"source"},
		)

		extractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_extractions_total",
				Help: "Total extraction results, labeled by method.",
			},
			[]string{"method"},
		)

		sourceErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_source_errors_total",
				Help: "Total adapter/fetch errors, labeled by source.",
			},
			[]string{"source"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "corpus_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations, labeled by source.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)

		sweepsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_sweeps_total",
				Help: "Total pipeline sweeps, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "corpus_active_workers",
				Help: "Workers currently processing a document.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDocument increments the per-source document counter.
func ObserveDocument(source, outcome string, bytesFetched int) {
	if documentsTotal == nil {
		return
	}
	documentsTotal.WithLabelValues(source, outcome).Inc()
	if bytesFetched > 0 {
		bytesTotal.WithLabelValues(source).Add(float64(bytesFetched))
	}
}

// ObserveFetchDuration records one download duration.
func ObserveFetchDuration(source string, d time.Duration) {
	if fetchDurationSeconds == nil {
		return
	}
	fetchDurationSeconds.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveExtraction increments the per-method extraction counter.
func ObserveExtraction(method string) {
	if extractionsTotal == nil {
		return
	}
	extractionsTotal.WithLabelValues(method).Inc()
}

// ObserveSourceError increments the per-source error counter.
func ObserveSourceError(source string) {
	if sourceErrorsTotal == nil {
		return
	}
	sourceErrorsTotal.WithLabelValues(source).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(source string, d time.Duration) {
	if rateLimitDelaysSeconds == nil {
		return
	}
	rateLimitDelaysSeconds.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveSweep increments the sweep counter for the given status.
func ObserveSweep(status string) {
	if sweepsTotal == nil {
		return
	}
	sweepsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}

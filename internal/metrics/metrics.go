// Package metrics exposes Prometheus collectors for the caching service.
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
	doccacheDocumentsTotal       *prometheus.CounterVec
	doccacheContentBytesTotal    prometheus.Counter
	doccacheFetchDurationSeconds prometheus.Histogram
	doccachePassDurationSeconds  prometheus.Histogram
	doccacheActivePasses         prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		doccacheDocumentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "doccache_documents_total",
				Help: "Total number of documents processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		doccacheContentBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "doccache_content_bytes_total",
				Help: "Total bytes of cached document content.",
			},
		)

		doccacheFetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "doccache_fetch_duration_seconds",
				Help:    "Histogram of per-document fetch latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
		)

		doccachePassDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "doccache_pass_duration_seconds",
				Help:    "Histogram of full caching pass durations.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
		)

		doccacheActivePasses = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "doccache_active_passes",
				Help: "Number of caching passes currently in flight.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDocument increments the per-outcome document counter.
func ObserveDocument(outcome string, bytesCached int) {
	doccacheDocumentsTotal.WithLabelValues(outcome).Inc()
	if bytesCached > 0 {
		doccacheContentBytesTotal.Add(float64(bytesCached))
	}
}

// ObserveFetch records the duration of one document fetch.
func ObserveFetch(duration time.Duration) {
	doccacheFetchDurationSeconds.Observe(duration.Seconds())
}

// ObservePass records the duration of one full pass.
func ObservePass(duration time.Duration) {
	doccachePassDurationSeconds.Observe(duration.Seconds())
}

// IncActivePasses increments the in-flight pass gauge.
func IncActivePasses() {
	doccacheActivePasses.Inc()
}

// DecActivePasses decrements the in-flight pass gauge.
func DecActivePasses() {
	doccacheActivePasses.Dec()
}

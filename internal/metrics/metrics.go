// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesDiscoveredTotal *prometheus.CounterVec
	pagesProcessedTotal  *prometheus.CounterVec
	fetchAttemptsTotal   *prometheus.CounterVec
	spaPromotionsTotal   prometheus.Counter
	fetchDurationSeconds prometheus.Histogram
	queueDepth           *prometheus.GaugeVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times.
func Init() {
	once.Do(func() {
		pagesDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webharvest_pages_discovered_total",
				Help: "Discovery messages handled, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		pagesProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webharvest_pages_processed_total",
				Help: "Processing messages handled, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webharvest_fetch_attempts_total",
				Help: "Direct fetch attempts, labeled by result.",
			},
			[]string{"result"},
		)

		spaPromotionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webharvest_spa_promotions_total",
				Help: "Fetches promoted to the headless renderer.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webharvest_fetch_duration_seconds",
				Help:    "Latency of FetchAuto calls including politeness delay.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		queueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "webharvest_queue_depth",
				Help: "Buffered plus in-flight messages per queue.",
			},
			[]string{"queue"},
		)
	})
}

// RecordDiscovery counts one handled discovery message.
func RecordDiscovery(outcome string) {
	if pagesDiscoveredTotal == nil {
		return
	}
	pagesDiscoveredTotal.WithLabelValues(outcome).Inc()
}

// RecordProcessing counts one handled processing message.
func RecordProcessing(outcome string) {
	if pagesProcessedTotal == nil {
		return
	}
	pagesProcessedTotal.WithLabelValues(outcome).Inc()
}

// RecordFetchAttempt counts one direct fetch attempt.
func RecordFetchAttempt(result string) {
	if fetchAttemptsTotal == nil {
		return
	}
	fetchAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordSPAPromotion counts one headless promotion.
func RecordSPAPromotion() {
	if spaPromotionsTotal == nil {
		return
	}
	spaPromotionsTotal.Inc()
}

// ObserveFetchDuration records the latency of one FetchAuto call.
func ObserveFetchDuration(d time.Duration) {
	if fetchDurationSeconds == nil {
		return
	}
	fetchDurationSeconds.Observe(d.Seconds())
}

// SetQueueDepth publishes the current depth of a queue.
func SetQueueDepth(queue string, depth int) {
	if queueDepth == nil {
		return
	}
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}

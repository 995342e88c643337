// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesTotal           *prometheus.CounterVec
	bytesTotal           *prometheus.CounterVec
	fetchRetriesTotal    prometheus.Counter
	chunksTotal          prometheus.Counter
	frontierDepth        prometheus.Gauge
	activeWorkers        prometheus.Gauge
	rateLimitDelaySecond prometheus.Histogram

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docscraper_pages_total",
				Help: "Pages processed, labeled by site and outcome (succeeded, extraction_skipped, fetch_failed).",
			},
			[]string{"site", "outcome"},
		)

		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docscraper_bytes_total",
				Help: "Bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "docscraper_fetch_retries_total",
				Help: "Fetch attempts beyond the first, across all URLs.",
			},
		)

		chunksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "docscraper_chunks_total",
				Help: "Chunks produced for oversized documents.",
			},
		)

		frontierDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "docscraper_frontier_depth",
				Help: "URLs currently queued in the frontier.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "docscraper_active_workers",
				Help: "Workers currently processing a URL.",
			},
		)

		rateLimitDelaySecond = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docscraper_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL, or "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the page counter for one processed URL.
func ObservePage(site, outcome string, bytesFetched int) {
	if pagesTotal == nil {
		return
	}
	host := SanitizeSite(site)
	pagesTotal.WithLabelValues(host, outcome).Inc()
	if bytesFetched > 0 {
		bytesTotal.WithLabelValues(host).Add(float64(bytesFetched))
	}
}

// ObserveRetry counts one fetch retry.
func ObserveRetry() {
	if fetchRetriesTotal != nil {
		fetchRetriesTotal.Inc()
	}
}

// ObserveChunks counts chunks emitted for one document.
func ObserveChunks(n int) {
	if chunksTotal != nil && n > 0 {
		chunksTotal.Add(float64(n))
	}
}

// SetFrontierDepth records the current frontier size.
func SetFrontierDepth(n int) {
	if frontierDepth != nil {
		frontierDepth.Set(float64(n))
	}
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

// ObserveRateLimitDelay records a wait introduced by the shared limiter.
func ObserveRateLimitDelay(d time.Duration) {
	if rateLimitDelaySecond != nil {
		rateLimitDelaySecond.Observe(d.Seconds())
	}
}

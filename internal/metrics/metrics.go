// Package metrics exposes Prometheus collectors for the ripper.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ripperItemsTotal              *prometheus.CounterVec
	ripperDispatchTotal           *prometheus.CounterVec
	ripperPagesTotal              *prometheus.CounterVec
	ripperBytesTotal              *prometheus.CounterVec
	ripperRipsTotal               *prometheus.CounterVec
	ripperActiveWorkers           prometheus.Gauge
	ripperRateLimitDelaysSeconds  *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	ripperHeadlessPromotionsTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		ripperItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ripper_items_total",
				Help: "Items that reached a terminal state, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		ripperDispatchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ripper_dispatch_total",
				Help: "Dispatch decisions, labeled by mode (submitted, skipped, url_only, rejected).",
			},
			[]string{"mode"},
		)

		ripperPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ripper_pages_total",
				Help: "Album pages visited by the crawl loop, labeled by site.",
			},
			[]string{"site"},
		)

		ripperBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ripper_bytes_total",
				Help: "Bytes written by download workers, labeled by site.",
			},
			[]string{"site"},
		)

		ripperRipsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ripper_rips_total",
				Help: "Finished rips, labeled by status.",
			},
			[]string{"status"},
		)

		ripperActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ripper_active_workers",
				Help: "Number of pool workers currently running a download.",
			},
		)

		ripperRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ripper_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		ripperHeadlessPromotionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ripper_headless_promotions_total",
				Help: "Album pages re-fetched with the headless renderer.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveItem counts one item outcome (completed, errored, exists).
func ObserveItem(locator, outcome string) {
	Init()
	ripperItemsTotal.WithLabelValues(SanitizeSite(locator), outcome).Inc()
}

// ObserveDispatch counts one dispatch decision.
func ObserveDispatch(mode string) {
	Init()
	ripperDispatchTotal.WithLabelValues(mode).Inc()
}

// ObservePage counts one visited album page.
func ObservePage(location string) {
	Init()
	ripperPagesTotal.WithLabelValues(SanitizeSite(location)).Inc()
}

// ObserveBytes adds the size of a written file.
func ObserveBytes(locator string, n int) {
	Init()
	if n > 0 {
		ripperBytesTotal.WithLabelValues(SanitizeSite(locator)).Add(float64(n))
	}
}

// ObserveRip counts a finished rip by status.
func ObserveRip(status string) {
	Init()
	ripperRipsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveHeadlessPromotion counts a probe promoted to headless rendering.
func ObserveHeadlessPromotion() {
	Init()
	ripperHeadlessPromotionsTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	ripperActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	ripperActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	ripperRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

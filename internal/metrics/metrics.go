// Package metrics exposes Prometheus collectors for the relay services.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchBackoffSeconds        prometheus.Histogram
	crawlsTotal                *prometheus.CounterVec
	postsIngestedTotal         *prometheus.CounterVec
	postsSkippedTotal          *prometheus.CounterVec
	sessionLoginsTotal         *prometheus.CounterVec
	sendAttemptsTotal          *prometheus.CounterVec
	distributionsTotal         *prometheus.CounterVec
	eventsPublishedTotal       *prometheus.CounterVec
	eventsConsumedTotal        *prometheus.CounterVec
	rpcThrottleSeconds         *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_fetch_attempts_total",
				Help: "Source page navigations, labeled by classified outcome.",
			},
			[]string{"outcome"},
		)

		fetchBackoffSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_fetch_backoff_seconds",
				Help:    "Time spent sleeping after rate-limited or timed-out fetches.",
				Buckets: []float64{1, 10, 30, 60, 120},
			},
		)

		crawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_crawls_total",
				Help: "Crawl loop iterations, labeled by outcome kind.",
			},
			[]string{"outcome"},
		)

		postsIngestedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_posts_ingested_total",
				Help: "New posts persisted, labeled by source handle.",
			},
			[]string{"source"},
		)

		postsSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_posts_skipped_total",
				Help: "Post blocks dropped during extraction because they could not be read, labeled by source handle.",
			},
			[]string{"source"},
		)

		sessionLoginsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_session_logins_total",
				Help: "Login handshakes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		sendAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_send_attempts_total",
				Help: "Send attempts to target channels, labeled by media kind and result.",
			},
			[]string{"kind", "result"},
		)

		distributionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_distributions_total",
				Help: "Per-channel distribution outcomes.",
			},
			[]string{"outcome"},
		)

		eventsPublishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_events_published_total",
				Help: "Disposition events published, labeled by mark and result.",
			},
			[]string{"mark", "result"},
		)

		eventsConsumedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_events_consumed_total",
				Help: "Disposition events handled by the consumer, labeled by result.",
			},
			[]string{"result"},
		)

		rpcThrottleSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_rpc_throttle_seconds",
				Help:    "Delay added by the outgoing Telegram request limiter, labeled by key.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"key"},
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetchAttempt counts one page navigation by its classified outcome.
func ObserveFetchAttempt(outcome string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBackoff records a retry sleep.
func ObserveBackoff(d time.Duration) {
	Init()
	fetchBackoffSeconds.Observe(d.Seconds())
}

// ObserveCrawl counts one crawl iteration and the posts it stored.
func ObserveCrawl(source, outcome string, newPosts int) {
	Init()
	crawlsTotal.WithLabelValues(outcome).Inc()
	if newPosts > 0 {
		postsIngestedTotal.WithLabelValues(source).Add(float64(newPosts))
	}
}

// ObservePostSkipped counts one unreadable post block.
func ObservePostSkipped(source string) {
	Init()
	postsSkippedTotal.WithLabelValues(source).Inc()
}

// ObserveLogin counts one login handshake.
func ObserveLogin(outcome string) {
	Init()
	sessionLoginsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSend counts one send attempt.
func ObserveSend(kind, result string) {
	Init()
	sendAttemptsTotal.WithLabelValues(kind, result).Inc()
}

// ObserveDistribution counts one target channel's outcome for a cycle.
func ObserveDistribution(outcome string) {
	Init()
	distributionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveEventPublished counts one disposition event publish.
func ObserveEventPublished(mark, result string) {
	Init()
	eventsPublishedTotal.WithLabelValues(mark, result).Inc()
}

// ObserveEventConsumed counts one consumed disposition event.
func ObserveEventConsumed(result string) {
	Init()
	eventsConsumedTotal.WithLabelValues(result).Inc()
}

// ObserveThrottle records time spent waiting for a rate limit token.
func ObserveThrottle(key string, d time.Duration) {
	Init()
	rpcThrottleSeconds.WithLabelValues(key).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Package metrics exposes Prometheus collectors for the orchestration service.
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
	jobsSubmittedTotal         *prometheus.CounterVec
	queueDepth                 *prometheus.GaugeVec
	activeWorkers              *prometheus.GaugeVec
	fetchDurationSeconds       *prometheus.HistogramVec
	fetchErrorsTotal           *prometheus.CounterVec
	retriesTotal               *prometheus.CounterVec
	creditsDebitedTotal        prometheus.Counter
	debitConflictsTotal        prometheus.Counter
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		jobsSubmittedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anycrawl_jobs_submitted_total",
				Help: "Total number of jobs accepted, labeled by kind and engine.",
			},
			[]string{"kind", "engine"},
		)

		queueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "anycrawl_queue_depth",
				Help: "Units currently buffered per engine queue.",
			},
			[]string{"engine"},
		)

		activeWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "anycrawl_active_workers",
				Help: "Workers currently executing a unit, labeled by engine.",
			},
			[]string{"engine"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anycrawl_fetch_duration_seconds",
				Help:    "Histogram of engine fetch latencies, labeled by engine.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"engine"},
		)

		fetchErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anycrawl_fetch_errors_total",
				Help: "Total fetch failures, labeled by engine and error kind.",
			},
			[]string{"engine", "kind"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anycrawl_retries_total",
				Help: "Total unit re-enqueues after a retryable failure, labeled by engine.",
			},
			[]string{"engine"},
		)

		creditsDebitedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "anycrawl_credits_debited_total",
				Help: "Total credits debited across all accounts.",
			},
		)

		debitConflictsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "anycrawl_debit_conflicts_total",
				Help: "Duplicate debit attempts rejected by the ledger.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anycrawl_rate_limit_delays_seconds",
				Help:    "Histogram of politeness wait durations, labeled by domain.",
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

// ObserveJobSubmitted increments the submission counter.
func ObserveJobSubmitted(kind, engine string) {
	jobsSubmittedTotal.WithLabelValues(kind, engine).Inc()
}

// SetQueueDepth records the buffered unit count for an engine queue.
func SetQueueDepth(engine string, depth int) {
	queueDepth.WithLabelValues(engine).Set(float64(depth))
}

// IncActiveWorkers increments the active workers gauge for an engine.
func IncActiveWorkers(engine string) {
	activeWorkers.WithLabelValues(engine).Inc()
}

// DecActiveWorkers decrements the active workers gauge for an engine.
func DecActiveWorkers(engine string) {
	activeWorkers.WithLabelValues(engine).Dec()
}

// ObserveFetch records one engine fetch.
func ObserveFetch(engine string, duration time.Duration) {
	fetchDurationSeconds.WithLabelValues(engine).Observe(duration.Seconds())
}

// ObserveFetchError increments the fetch failure counter.
func ObserveFetchError(engine, kind string) {
	fetchErrorsTotal.WithLabelValues(engine, kind).Inc()
}

// ObserveRetry increments the retry counter for an engine.
func ObserveRetry(engine string) {
	retriesTotal.WithLabelValues(engine).Inc()
}

// ObserveDebit records a successful ledger debit.
func ObserveDebit(amount int64) {
	creditsDebitedTotal.Add(float64(amount))
}

// ObserveDebitConflict records a duplicate debit rejection.
func ObserveDebitConflict() {
	debitConflictsTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

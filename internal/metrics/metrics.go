// Package metrics exposes Prometheus collectors for the gateway.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeJobs                 prometheus.Gauge
	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	templateMutationsTotal     *prometheus.CounterVec
	serviceStartsTotal         *prometheus.CounterVec
	bootstrapDurationSeconds   prometheus.Histogram
	rateLimitedTotal           prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "helios_active_jobs",
				Help: "Number of jobs currently registered and streaming output.",
			},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "helios_jobs_total",
				Help: "Total number of finished job runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "helios_job_duration_seconds",
				Help:    "Histogram of job run durations, labeled by outcome.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
			},
			[]string{"outcome"},
		)

		templateMutationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "helios_template_mutations_total",
				Help: "Total number of template store mutations, labeled by operation and result.",
			},
			[]string{"op", "result"},
		)

		serviceStartsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "helios_service_starts_total",
				Help: "Service start attempts during bootstrap, labeled by service and result.",
			},
			[]string{"service", "result"},
		)

		bootstrapDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "helios_bootstrap_duration_seconds",
				Help:    "Time taken to start every registered service.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
			},
		)

		rateLimitedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "helios_rate_limited_total",
				Help: "Job run requests rejected by the per-client rate limit.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	Init()
	activeJobs.Inc()
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	Init()
	activeJobs.Dec()
}

// ObserveJob records a finished run and how long it streamed.
func ObserveJob(outcome string, duration time.Duration) {
	Init()
	jobsTotal.WithLabelValues(outcome).Inc()
	jobDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveTemplateMutation counts a template store write.
func ObserveTemplateMutation(op string, err error) {
	Init()
	templateMutationsTotal.WithLabelValues(op, result(err)).Inc()
}

// ObserveServiceStart counts one service start attempt.
func ObserveServiceStart(service string, err error) {
	Init()
	serviceStartsTotal.WithLabelValues(service, result(err)).Inc()
}

// ObserveBootstrap records the wall time of a bootstrap pass.
func ObserveBootstrap(duration time.Duration) {
	Init()
	bootstrapDurationSeconds.Observe(duration.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveRateLimited counts a request rejected by the rate limiter.
func ObserveRateLimited() {
	Init()
	rateLimitedTotal.Inc()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "portfolio"

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

// CSRF metrics
var (
	CSRFTokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "csrf_tokens_issued_total",
			Help:      "Total number of CSRF token issuances",
		},
		[]string{"status"}, // "new" or "existing"
	)

	CSRFValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "csrf_validations_total",
			Help:      "Total number of CSRF validations by result",
		},
		[]string{"result"},
	)

	CSRFSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "csrf_sessions_swept_total",
			Help:      "Total number of expired CSRF sessions removed",
		},
	)
)

// Rate limit metrics
var (
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Total number of requests rejected by the rate limiter",
		},
		[]string{"path"},
	)

	RateLimitErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_errors_total",
			Help:      "Total number of rate limiter backend failures (request allowed)",
		},
	)
)

// Contact and email metrics
var (
	ContactSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contact_submissions_total",
			Help:      "Total number of contact form submissions by outcome",
		},
		[]string{"outcome"},
	)

	EmailAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "email_attempts_total",
			Help:      "Total number of SMTP send attempts by result",
		},
		[]string{"result"}, // "success" or "failure"
	)

	EmailSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "email_send_duration_seconds",
			Help:      "Time to deliver a message including retries",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)
)

// Scheduled task metrics
var (
	ScheduledTaskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_task_runs_total",
			Help:      "Total number of scheduled task runs",
		},
		[]string{"task", "status"},
	)

	ScheduledTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduled_task_duration_seconds",
			Help:      "Scheduled task execution time distribution",
			Buckets:   []float64{.001, .01, .1, .5, 1, 5, 30},
		},
		[]string{"task"},
	)
)

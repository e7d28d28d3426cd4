// ABOUTME: Prometheus collectors for submissions, airdrop jobs and HTTP traffic
// ABOUTME: A nil *Metrics is valid and records nothing

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wren"

// Metrics holds the gateway's collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	submissions   *prometheus.CounterVec
	unconfirmed   prometheus.Counter
	airdropJobs   *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	nonceFailures prometheus.Counter
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_total",
				Help:      "Transaction submissions by outcome.",
			},
			[]string{"outcome"},
		),
		unconfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_unconfirmed_total",
			Help:      "Submissions accepted for broadcast without a confirmed status.",
		}),
		airdropJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "airdrop",
				Name:      "jobs_total",
				Help:      "Airdrop jobs reaching a terminal state.",
			},
			[]string{"kind", "state"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		nonceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonce_unavailable_total",
			Help:      "Builds that failed to read the durable nonce.",
		}),
	}

	m.registry.MustRegister(
		m.submissions,
		m.unconfirmed,
		m.airdropJobs,
		m.httpRequests,
		m.httpDuration,
		m.nonceFailures,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// UnconfirmedCounter exposes the unconfirmed-submission counter for tests.
func (m *Metrics) UnconfirmedCounter() prometheus.Counter {
	return m.unconfirmed
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Submission records a submission outcome such as "accepted" or "exhausted".
func (m *Metrics) Submission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

// Unconfirmed records a submission returned without a confirmed status.
func (m *Metrics) Unconfirmed() {
	if m == nil {
		return
	}
	m.unconfirmed.Inc()
}

// AirdropJob records a job reaching a terminal state.
func (m *Metrics) AirdropJob(kind, state string) {
	if m == nil {
		return
	}
	m.airdropJobs.WithLabelValues(kind, state).Inc()
}

// NonceUnavailable records a failed nonce read.
func (m *Metrics) NonceUnavailable() {
	if m == nil {
		return
	}
	m.nonceFailures.Inc()
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	m.httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// Package metrics exposes Prometheus instrumentation for session and retry
// activity. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sessionguard"

type Metrics struct {
	logins          *prometheus.CounterVec
	converged       prometheus.Counter
	failures        *prometheus.CounterVec
	backoff         prometheus.Histogram
	episodes        *prometheus.CounterVec
	episodeDuration *prometheus.HistogramVec
}

// New registers all collectors on reg. Passing nil uses a fresh registry so
// repeated construction in tests never collides.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		logins: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "logins_total",
				Help:      "Authentication round-trips by outcome",
			},
			[]string{"outcome"},
		),
		converged: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_converged_total",
				Help:      "Session refreshes satisfied by a session another caller already obtained",
			},
		),
		failures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failures_total",
				Help:      "Failed call attempts by endpoint and failure category",
			},
			[]string{"endpoint", "category"},
		),
		backoff: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backoff_seconds",
				Help:      "Back-off delays slept before retrying a transient failure",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		),
		episodes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "episodes_total",
				Help:      "External calls by endpoint and final outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		episodeDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "episode_duration_seconds",
				Help:      "Wall time of one external call including retries, by final outcome",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint", "outcome"},
		),
	}
}

func (m *Metrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveConverged() {
	if m == nil {
		return
	}
	m.converged.Inc()
}

func (m *Metrics) ObserveFailure(endpoint string, category string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(endpoint, category).Inc()
}

func (m *Metrics) ObserveBackoff(d time.Duration) {
	if m == nil {
		return
	}
	m.backoff.Observe(d.Seconds())
}

func (m *Metrics) ObserveEpisode(endpoint string, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.episodes.WithLabelValues(endpoint, outcome).Inc()
	m.episodeDuration.WithLabelValues(endpoint, outcome).Observe(elapsed.Seconds())
}

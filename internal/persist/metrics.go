package persist

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments sync attempts and outcomes.
type Metrics struct {
	attempts *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics registers sync metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "doorvox_sync_attempts_total",
			Help: "Individual sync attempts by result class (ok, network, timeout, ...).",
		}, []string{"class"}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "doorvox_sync_outcomes_total",
			Help: "Completed Persist calls by final outcome.",
		}, []string{"outcome"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "doorvox_sync_attempt_duration_seconds",
			Help:    "Wall time of individual sync attempts.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

func (m *Metrics) observeAttempt(class string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(class).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

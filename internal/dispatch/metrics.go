package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the dispatcher's Prometheus collectors.
type Metrics struct {
	attempts   *prometheus.CounterVec
	dispatches *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mailflow",
				Name:      "send_attempts_total",
				Help:      "Provider send attempts by outcome (success or error kind)",
			},
			[]string{"provider", "outcome"},
		),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mailflow",
				Name:      "dispatch_total",
				Help:      "Messages dispatched by final result",
			},
			[]string{"result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mailflow",
				Name:      "send_duration_seconds",
				Help:      "Duration of a single provider send attempt",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.attempts, m.dispatches, m.duration)
	}
	return m
}

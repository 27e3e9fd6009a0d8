// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the scheduler. A nil *Metrics records nothing.
type Metrics struct {
	submitted prometheus.Counter
	finished  *prometheus.CounterVec
	inFlight  prometheus.Gauge
	poolSize  prometheus.Gauge
	duration  prometheus.Histogram
}

// NewMetrics registers the scheduler metrics with reg. A nil reg creates unregistered metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		submitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "hueq",
			Name:      "statements_submitted_total",
			Help:      "Statements submitted to the remote service.",
		}),
		finished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hueq",
			Name:      "statements_finished_total",
			Help:      "Statements that reached a final state, by outcome.",
		}, []string{"outcome"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "hueq",
			Name:      "statements_in_flight",
			Help:      "Statements currently holding a scheduler slot.",
		}),
		poolSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "hueq",
			Name:      "pool_workers",
			Help:      "Notebooks in the worker pool.",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hueq",
			Name:      "statement_duration_seconds",
			Help:      "Time from submission to a final state.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
		}),
	}
}

func (m *Metrics) submit() {
	if m == nil {
		return
	}
	m.submitted.Inc()
	m.inFlight.Inc()
}

// finish records a job that held a slot. Submission failures never held one.
func (m *Metrics) finish(outcome string, heldSlot bool, took time.Duration) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(outcome).Inc()
	if heldSlot {
		m.inFlight.Dec()
		m.duration.Observe(took.Seconds())
	}
}

func (m *Metrics) setPoolSize(n int) {
	if m == nil {
		return
	}
	m.poolSize.Set(float64(n))
}

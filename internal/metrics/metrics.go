// Package metrics exposes Prometheus instrumentation for the decision engine.
//
// The engines emit structured events here (step transitions, match
// confidence, cache hits, learning outcomes); the API server serves them
// on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors so tests can build isolated registries
// instead of relying on the global default.
type Metrics struct {
	StepTransitions *prometheus.CounterVec
	CacheEvents     *prometheus.CounterVec
	LearningEvents  *prometheus.CounterVec
	Handoffs        *prometheus.CounterVec
	MatchConfidence prometheus.Histogram
}

// New creates the collectors and registers them on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StepTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapdesk_step_transitions_total",
				Help: "Total number of flow step transitions",
			},
			[]string{"flow", "step_type"},
		),
		CacheEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapdesk_cache_events_total",
				Help: "Response cache lookups by result",
			},
			[]string{"result"},
		),
		LearningEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapdesk_learning_events_total",
				Help: "Learning attempts by outcome",
			},
			[]string{"result"},
		),
		Handoffs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapdesk_handoffs_total",
				Help: "Transfers to human agents by reason",
			},
			[]string{"reason"},
		),
		MatchConfidence: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "zapdesk_match_confidence",
				Help:    "Confidence of matching engine results",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
	}
	reg.MustRegister(m.StepTransitions, m.CacheEvents, m.LearningEvents, m.Handoffs, m.MatchConfidence)
	return m
}

// NewDefault registers on the default Prometheus registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

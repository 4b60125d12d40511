package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: terminal decisions by outcome.
	DecisionsTotal *prometheus.CounterVec

	// Latency: per-stage evaluation time, labeled by outcome.
	StageDuration *prometheus.HistogramVec

	// Errors: stages that went INDETERMINATE after retries.
	CollaboratorFailures *prometheus.CounterVec

	// Requests cancelled by their submitter before a terminal decision.
	CancellationsTotal prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object: without a registry the metrics still work, just unexported.
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		DecisionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "priorauth_decisions_total",
			Help: "Terminal decisions produced by the pipeline.",
		}, []string{"decision"}),

		StageDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "priorauth_stage_duration_seconds",
			Help:    "Histogram of per-stage evaluation latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"stage", "outcome"}),

		CollaboratorFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "priorauth_collaborator_failures_total",
			Help: "Stages reporting INDETERMINATE after exhausting retries.",
		}, []string{"stage"}),

		CancellationsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "priorauth_cancellations_total",
			Help: "Requests cancelled by the submitter before a terminal decision.",
		}),
	}
}

// Package metrics exposes Prometheus instrumentation for the commit
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TasksByState tracks how many tasks currently sit in each lifecycle
	// state.
	TasksByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vocalcommit",
		Name:      "tasks_by_state",
		Help:      "Number of tasks currently in each lifecycle state.",
	}, []string{"state"})

	// TaskTransitions counts lifecycle transitions by destination state.
	TaskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vocalcommit",
		Name:      "task_transitions_total",
		Help:      "Total task state transitions by destination state.",
	}, []string{"to"})

	// GatewayCalls counts model gateway calls by backend and outcome.
	GatewayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vocalcommit",
		Name:      "gateway_calls_total",
		Help:      "Model gateway calls by backend and outcome.",
	}, []string{"backend", "outcome"})

	// LimiterWaitSeconds observes how long callers blocked in the rate
	// limiter before being admitted.
	LimiterWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vocalcommit",
		Name:      "limiter_wait_seconds",
		Help:      "Time spent waiting for rate limiter admission.",
		Buckets:   []float64{0, 1, 5, 15, 30, 60, 120},
	})

	// CommitsTotal counts local commits by outcome.
	CommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vocalcommit",
		Name:      "commits_total",
		Help:      "Local commits by outcome.",
	}, []string{"outcome"})

	// PushesTotal counts remote pushes by outcome.
	PushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vocalcommit",
		Name:      "pushes_total",
		Help:      "Remote pushes by outcome.",
	}, []string{"outcome"})
)

// Handler serves the default registry for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

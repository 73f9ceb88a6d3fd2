package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the agent's instrumentation surface. Every error path in the
// orchestrator increments a counter here or produces a state transition;
// nothing is dropped silently.
type Metrics struct {
	registry *prometheus.Registry

	// GraphFetchFailures counts failed update-graph fetches.
	GraphFetchFailures prometheus.Counter
	// Resolutions counts resolution passes by outcome (selected, none,
	// withheld, off-graph).
	Resolutions *prometheus.CounterVec
	// Transitions counts state-machine transitions by entered state.
	Transitions *prometheus.CounterVec
	// PlatformFailures counts daemon call failures by error kind.
	PlatformFailures *prometheus.CounterVec
	// FinalizationChecks counts strategy evaluations by decision.
	FinalizationChecks *prometheus.CounterVec
}

// New builds the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		GraphFetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shepherd_graph_fetch_failures_total",
			Help: "Number of failed update-graph fetches.",
		}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shepherd_resolutions_total",
			Help: "Number of update resolution passes by outcome.",
		}, []string{"outcome"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shepherd_state_transitions_total",
			Help: "Number of agent state transitions by entered state.",
		}, []string{"state"}),
		PlatformFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shepherd_platform_failures_total",
			Help: "Number of failed OS-update daemon calls by error kind.",
		}, []string{"kind"}),
		FinalizationChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shepherd_finalization_checks_total",
			Help: "Number of finalization strategy evaluations by decision.",
		}, []string{"decision"}),
	}
	m.registry.MustRegister(
		m.GraphFetchFailures,
		m.Resolutions,
		m.Transitions,
		m.PlatformFailures,
		m.FinalizationChecks,
	)
	return m
}

// Registry exposes the private registry for serving.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

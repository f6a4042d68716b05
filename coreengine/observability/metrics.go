// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the agent network.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// TASK METRICS
// =============================================================================

var (
	taskExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expertmesh_task_executions_total",
			Help: "Total number of task executions",
		},
		[]string{"agent", "state"}, // state: completed, failed, canceled
	)

	taskDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "expertmesh_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"agent"},
	)
)

// =============================================================================
// ROUTING METRICS
// =============================================================================

var (
	routingDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expertmesh_routing_decisions_total",
			Help: "Total number of routing decisions",
		},
		[]string{"label", "source"}, // source: classifier, default
	)

	delegationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expertmesh_delegations_total",
			Help: "Total number of worker delegations",
		},
		[]string{"label", "status"}, // status: success, error
	)
)

// =============================================================================
// COMPLETION SERVICE METRICS
// =============================================================================

var (
	completionCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expertmesh_completion_calls_total",
			Help: "Total number of completion service calls",
		},
		[]string{"model", "status"}, // status: success, error
	)

	completionDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "expertmesh_completion_duration_seconds",
			Help:    "Completion service call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordTaskExecution records a finished task.
// This should be called after the terminal status event is emitted.
func RecordTaskExecution(agent string, state string, durationMS int) {
	taskExecutionsTotal.WithLabelValues(agent, state).Inc()
	taskDurationSeconds.WithLabelValues(agent).Observe(float64(durationMS) / 1000.0)
}

// RecordRoutingDecision records one routing decision.
// Source distinguishes classifier output from default-label substitution.
func RecordRoutingDecision(label string, source string) {
	routingDecisionsTotal.WithLabelValues(label, source).Inc()
}

// RecordDelegation records one worker delegation attempt.
func RecordDelegation(label string, status string) {
	delegationsTotal.WithLabelValues(label, status).Inc()
}

// RecordCompletionCall records completion service call metrics.
func RecordCompletionCall(model string, status string, durationMS int) {
	completionCallsTotal.WithLabelValues(model, status).Inc()
	completionDurationSeconds.WithLabelValues(model).Observe(float64(durationMS) / 1000.0)
}

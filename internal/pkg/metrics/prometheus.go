package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WorkflowExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "officeflow_workflow_executions_total",
			Help: "Total number of workflow executions by terminal status and trigger type",
		},
		[]string{"status", "trigger_type"},
	)

	WorkflowExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "officeflow_workflow_execution_duration_seconds",
			Help:    "Workflow execution duration in seconds, start to terminal state",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"workflow_id"},
	)

	WorkflowsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "officeflow_workflows_in_progress",
			Help: "Number of workflow runs currently RUNNING or PAUSED",
		},
	)

	NodeExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "officeflow_node_executions_total",
			Help: "Total number of node executions by node type and terminal status",
		},
		[]string{"node_type", "status"},
	)

	NodeExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "officeflow_node_execution_duration_seconds",
			Help:    "Node execution duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"node_type"},
	)

	RetriesScheduledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "officeflow_retries_scheduled_total",
			Help: "Total number of node retries scheduled",
		},
		[]string{"node_type"},
	)

	CircuitBreakerTripsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "officeflow_circuit_breaker_trips_total",
			Help: "Total number of times a circuit breaker opened for a downstream service",
		},
		[]string{"service"},
	)

	CompensationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "officeflow_compensations_total",
			Help: "Total number of compensation plans executed, by outcome",
		},
		[]string{"outcome"},
	)

	dispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "officeflow_dispatch_queue_depth",
			Help: "Number of node dispatch requests currently in flight, awaiting a result",
		},
	)
)

// queueDepth is the source of truth for dispatchQueueDepth: a plain
// sync/atomic counter incremented by the dispatcher when a request is
// published and decremented by the orchestrator when its result arrives,
// copied into the gauge on every change. The teacher's scheduler
// queue gauge set an absolute value computed from a racy read-then-write of
// two separately-locked counters; this one only ever moves by +1/-1 so it
// can never drift out of sync with the thing it measures.
var queueDepth atomic.Int64

// IncQueueDepth records one more node dispatch request in flight.
func IncQueueDepth() {
	dispatchQueueDepth.Set(float64(queueDepth.Add(1)))
}

// DecQueueDepth records one fewer node dispatch request in flight.
func DecQueueDepth() {
	dispatchQueueDepth.Set(float64(queueDepth.Add(-1)))
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordWorkflowExecution records a terminal workflow outcome.
func RecordWorkflowExecution(workflowID, status, triggerType string, durationSeconds float64) {
	WorkflowExecutionsTotal.WithLabelValues(status, triggerType).Inc()
	if durationSeconds > 0 {
		WorkflowExecutionDuration.WithLabelValues(workflowID).Observe(durationSeconds)
	}
}

// RecordNodeExecution records a terminal node outcome.
func RecordNodeExecution(nodeType, status string, durationSeconds float64) {
	NodeExecutionsTotal.WithLabelValues(nodeType, status).Inc()
	if durationSeconds > 0 {
		NodeExecutionDuration.WithLabelValues(nodeType).Observe(durationSeconds)
	}
}

// Package metrics exposes prometheus/client_golang collectors for the
// orchestrator, following original_source/main.go's promhttp.Handler()
// wiring (the stock gauges/counters there, actually registered here instead
// of only in a comment).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TasksSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_tasks_submitted_total",
		Help: "Tasks accepted into the admission queue, by type.",
	}, []string{"type"})

	TasksCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_tasks_completed_total",
		Help: "Tasks reaching Completed, by type.",
	}, []string{"type"})

	TasksFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_tasks_failed_total",
		Help: "Tasks reaching Failed, by type.",
	}, []string{"type"})

	TasksTimedOut = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_tasks_timed_out_total",
		Help: "Tasks reaching TimedOut, by type.",
	}, []string{"type"})

	AgentsRegistered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_agents_registered_total",
		Help: "Agent registrations accepted.",
	})

	AgentsUnregistered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_agents_unregistered_total",
		Help: "Agent unregistrations processed.",
	})

	WorkflowsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_workflows_started_total",
		Help: "Workflows transitioned from Draft to Active.",
	})

	WorkflowsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_workflows_completed_total",
		Help: "Workflows reaching Completed.",
	})

	WorkflowsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_workflows_failed_total",
		Help: "Workflows reaching Failed.",
	})

	TasksPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_tasks_pending",
		Help: "Tasks waiting for capability match.",
	})

	TasksRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_tasks_running",
		Help: "Tasks currently assigned to an agent.",
	})

	AgentInboxDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orchestrator_agent_inbox_depth",
		Help: "Queued tasks waiting in an agent's dispatch inbox.",
	}, []string{"agent_id"})

	TaskDispatchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orchestrator_task_dispatch_latency_seconds",
		Help:    "Time from task submission to agent assignment.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		TasksSubmitted,
		TasksCompleted,
		TasksFailed,
		TasksTimedOut,
		AgentsRegistered,
		AgentsUnregistered,
		WorkflowsStarted,
		WorkflowsCompleted,
		WorkflowsFailed,
		TasksPending,
		TasksRunning,
		AgentInboxDepth,
		TaskDispatchLatency,
	)
}

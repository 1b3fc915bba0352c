// Package metrics exposes Prometheus instrumentation for the placement
// planner, code generator, and runtime, in the same registration style as
// a typical distributed-systems control plane.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Topology metrics
	TopologyNodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nebula_topology_nodes_total",
			Help: "Total number of topology nodes by buffering state",
		},
		[]string{"buffering"},
	)

	TopologyNodeLocksHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nebula_topology_node_locks_held",
			Help: "Number of topology node write-locks currently held",
		},
	)

	// Placement metrics
	PlacementAmendmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_placement_amendments_total",
			Help: "Total number of placement amendments by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	PlacementLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nebula_placement_latency_seconds",
			Help:    "Time taken to complete a placement amendment in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	PathSelectionRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nebula_path_selection_retries_total",
			Help: "Total number of path-selection retries across all amendments",
		},
	)

	NetworkOperatorsInsertedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_network_operators_inserted_total",
			Help: "Total number of network sink/source operators inserted by kind",
		},
		[]string{"kind"},
	)

	// Fault-tolerance placement metrics
	FTPlacementScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nebula_ft_placement_score",
			Help:    "Computed placement score of the selected fault-tolerance candidate path",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	FTBufferingNodesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nebula_ft_buffering_nodes_total",
			Help: "Total number of topology nodes selected for tuple buffering",
		},
	)

	// Code generation metrics
	CodeGenDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nebula_codegen_duration_seconds",
			Help:    "Time taken to generate pipeline source in seconds by backend",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	CodeGenFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_codegen_failures_total",
			Help: "Total number of code-generation failures by backend",
		},
		[]string{"backend"},
	)

	CompilationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nebula_compilation_duration_seconds",
			Help:    "Time taken to compile generated pipeline source in seconds by backend",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// Runtime metrics
	PipelinesExecutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_pipelines_executed_total",
			Help: "Total number of pipeline stage executions by status",
		},
		[]string{"status"},
	)

	TuplesProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nebula_tuples_processed_total",
			Help: "Total number of tuples processed across all pipelines",
		},
	)

	BufferPoolWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nebula_buffer_pool_wait_duration_seconds",
			Help:    "Time spent blocked waiting for a free tuple buffer in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Global execution plan metrics
	SubPlanVersionBumpsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nebula_sub_plan_version_bumps_total",
			Help: "Total number of query sub-plan version increments",
		},
	)

	ExecutionNodesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nebula_execution_nodes_total",
			Help: "Total number of execution nodes tracked in the global execution plan",
		},
	)

	// Trigger scheduler metrics
	WindowTriggerDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nebula_window_trigger_duration_seconds",
			Help:    "Time taken for one on-time trigger sweep across registered pipelines in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WindowTriggerFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nebula_window_trigger_failures_total",
			Help: "Total number of pipelines whose on-time trigger sweep returned an error",
		},
	)

	// Reconciliation loop metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nebula_reconciliation_duration_seconds",
			Help:    "Time taken for one worker-reliability reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nebula_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles run",
		},
	)

	NodesMarkedUnreliableTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nebula_nodes_marked_unreliable_total",
			Help: "Total number of topology nodes marked unreliable after missing their heartbeat deadline",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TopologyNodesTotal,
		TopologyNodeLocksHeld,
		PlacementAmendmentsTotal,
		PlacementLatency,
		PathSelectionRetriesTotal,
		NetworkOperatorsInsertedTotal,
		FTPlacementScore,
		FTBufferingNodesTotal,
		CodeGenDuration,
		CodeGenFailuresTotal,
		CompilationDuration,
		PipelinesExecutedTotal,
		TuplesProcessedTotal,
		BufferPoolWaitDuration,
		SubPlanVersionBumpsTotal,
		ExecutionNodesTotal,
		WindowTriggerDuration,
		WindowTriggerFailuresTotal,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		NodesMarkedUnreliableTotal,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

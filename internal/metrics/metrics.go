// Package metrics exposes Prometheus instrumentation for the schedule
// engine, queue resource manager, and file move pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Flow/Node/Task counts
	FlowsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cos_flows_total",
			Help: "Total number of workflow instances by status",
		},
		[]string{"status"},
	)

	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cos_nodes_total",
			Help: "Total number of node instances by kind and status",
		},
		[]string{"kind", "status"},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cos_tasks_total",
			Help: "Total number of tasks by type and status",
		},
		[]string{"type", "status"},
	)

	// Raft (schedule engine durability log)
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cos_raft_is_leader",
			Help: "Whether this node is the Raft leader for the schedule log (1 = leader, 0 = follower)",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cos_raft_apply_duration_seconds",
			Help:    "Time taken to apply a ChangeMsg to the schedule log",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Schedule engine
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cos_schedule_transitions_total",
			Help: "Total number of state transitions applied, by kind and target status",
		},
		[]string{"kind", "status"},
	)

	TransitionsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cos_schedule_transitions_dropped_total",
			Help: "Total number of ChangeMsg events dropped as idempotent replays",
		},
		[]string{"kind"},
	)

	// Queue resource manager
	QueueUsedMemory = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cos_queue_used_memory_bytes",
			Help: "Memory currently reserved on a queue",
		},
		[]string{"queue_id"},
	)

	QueueUsedCores = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cos_queue_used_cores",
			Help: "CPU cores currently reserved on a queue",
		},
		[]string{"queue_id"},
	)

	AdmissionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cos_admission_latency_seconds",
			Help:    "Time taken to select a queue for a task",
			Buckets: prometheus.DefBuckets,
		},
	)

	AdmissionRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cos_admission_rejected_total",
			Help: "Total number of tasks rejected for lack of an available queue",
		},
	)

	// Reconciliation
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cos_reconciliation_duration_seconds",
			Help:    "Time taken for a queue-heartbeat reconciliation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cos_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	// File move pipeline
	FlashUploadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cos_flash_uploads_total",
			Help: "Total number of uploads short-circuited via flash upload",
		},
	)

	MoveExecuteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cos_move_execute_duration_seconds",
			Help:    "Time taken to execute a registered file move after cache completion",
			Buckets: prometheus.DefBuckets,
		},
	)

	MultipartCompletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cos_multipart_completions_total",
			Help: "Total number of multipart uploads completed, by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		FlowsTotal,
		NodesTotal,
		TasksTotal,
		RaftLeader,
		RaftApplyDuration,
		TransitionsTotal,
		TransitionsDropped,
		QueueUsedMemory,
		QueueUsedCores,
		AdmissionLatency,
		AdmissionRejected,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		FlashUploadsTotal,
		MoveExecuteDuration,
		MultipartCompletionsTotal,
	)
}

// Handler returns the Prometheus HTTP handler for a transport to mount.
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

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TasksTotal counts finished judge tasks by final verdict.
	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judge_tasks_total",
			Help: "Total number of judge tasks completed, by final verdict",
		},
		[]string{"verdict"},
	)
	// TestsTotal counts judged test cases by verdict.
	TestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judge_tests_total",
			Help: "Total number of test cases judged, by verdict",
		},
		[]string{"verdict"},
	)
	// TaskDuration observes wall-clock time per judge task.
	TaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "judge_task_duration_seconds",
			Help:    "Judge task duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)
	// TasksInFlight gauges tasks currently running in the executor.
	TasksInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "judge_tasks_in_flight",
			Help: "Number of judge tasks currently executing",
		},
	)
	// MessagesDropped counts broker deliveries acked without judging.
	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judge_messages_dropped_total",
			Help: "Broker messages acknowledged without judging, by reason",
		},
		[]string{"reason"},
	)
	// HeartbeatSweeps counts stale worker rows reaped.
	HeartbeatSweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "judge_worker_rows_reaped_total",
			Help: "Stale worker liveness rows deleted by this process",
		},
	)
)

var initOnce sync.Once

// InitMetrics registers all metrics with the default registry. Safe to
// call from multiple components.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			TasksTotal,
			TestsTotal,
			TaskDuration,
			TasksInFlight,
			MessagesDropped,
			HeartbeatSweeps,
		)
	})
}

// TaskFinished records a completed judge task.
func TaskFinished(verdict string, seconds float64) {
	TasksTotal.WithLabelValues(verdict).Inc()
	TaskDuration.Observe(seconds)
}

// TestJudged records one judged test case.
func TestJudged(verdict string) {
	TestsTotal.WithLabelValues(verdict).Inc()
}

// MessageDropped records an ack-and-drop delivery.
func MessageDropped(reason string) {
	MessagesDropped.WithLabelValues(reason).Inc()
}

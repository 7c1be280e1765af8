package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	dispatchTotal    prometheus.Counter
	dispatchDuration prometheus.Histogram
	dispatchRequests prometheus.Histogram
	dispatchDropped  prometheus.Counter

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	loopIterationsTotal   prometheus.Counter
	loopTerminationsTotal *prometheus.CounterVec
	plannerDuration       prometheus.Histogram

	subagentCallTotal    *prometheus.CounterVec
	subagentCallDuration *prometheus.HistogramVec
	subagentWaitTotal    *prometheus.CounterVec

	queueTasksTotal   *prometheus.CounterVec
	queueTaskDuration *prometheus.HistogramVec
	queueDepth        *prometheus.GaugeVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			dispatchTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "dispatch_total",
					Help: "Total tool dispatch batches.",
				},
			),
			dispatchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "dispatch_duration_seconds",
					Help:    "Dispatch batch duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			dispatchRequests: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "dispatch_requested_calls",
					Help:    "Requested tool calls per dispatch batch.",
					Buckets: []float64{1, 2, 4, 8, 16, 32},
				},
			),
			dispatchDropped: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "dispatch_dropped_calls_total",
					Help: "Calls dropped by deduplication or the per-turn cap.",
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			loopIterationsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "loop_iterations_total",
					Help: "Total agent loop iterations.",
				},
			),
			loopTerminationsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "loop_terminations_total",
					Help: "Total agent loop terminations by reason.",
				},
				[]string{"reason"},
			),
			plannerDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "planner_duration_seconds",
					Help:    "Model completion call duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			subagentCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "subagent_call_total",
					Help: "Total sub-agent remote calls by assistant and status.",
				},
				[]string{"assistant", "status"},
			),
			subagentCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "subagent_call_duration_seconds",
					Help:    "Sub-agent remote call duration in seconds by assistant.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"assistant"},
			),
			subagentWaitTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "subagent_lock_waits_total",
					Help: "Times a sub-agent call waited for the session lock.",
				},
				[]string{"assistant"},
			),
			queueTasksTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "queue_tasks_total",
					Help: "Total queued tasks by lane and status.",
				},
				[]string{"lane", "status"},
			),
			queueTaskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "queue_task_duration_seconds",
					Help:    "Queued task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			queueDepth: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_depth",
					Help: "Current queued task count by lane.",
				},
				[]string{"lane"},
			),
		}

		prometheus.MustRegister(
			m.dispatchTotal,
			m.dispatchDuration,
			m.dispatchRequests,
			m.dispatchDropped,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.loopIterationsTotal,
			m.loopTerminationsTotal,
			m.plannerDuration,
			m.subagentCallTotal,
			m.subagentCallDuration,
			m.subagentWaitTotal,
			m.queueTasksTotal,
			m.queueTaskDuration,
			m.queueDepth,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordDispatch(requested, executed int, duration time.Duration) {
	m := getMetrics()
	m.dispatchTotal.Inc()
	m.dispatchDuration.Observe(duration.Seconds())
	m.dispatchRequests.Observe(float64(requested))
	if requested > executed {
		m.dispatchDropped.Add(float64(requested - executed))
	}
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordLoopIteration() {
	getMetrics().loopIterationsTotal.Inc()
}

func RecordLoopTermination(reason string) {
	getMetrics().loopTerminationsTotal.WithLabelValues(reason).Inc()
}

func RecordPlannerCall(duration time.Duration) {
	getMetrics().plannerDuration.Observe(duration.Seconds())
}

func RecordSubAgentCall(assistant string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.subagentCallTotal.WithLabelValues(assistant, status).Inc()
	m.subagentCallDuration.WithLabelValues(assistant).Observe(duration.Seconds())
}

func RecordSubAgentLockWait(assistant string) {
	getMetrics().subagentWaitTotal.WithLabelValues(assistant).Inc()
}

func RecordQueueEnqueue(lane string, depth int) {
	getMetrics().queueDepth.WithLabelValues(lane).Set(float64(depth))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, depth int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.queueTasksTotal.WithLabelValues(lane, status).Inc()
	m.queueTaskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueDepth.WithLabelValues(lane).Set(float64(depth))
}

func SetQueueSize(lane string, depth int) {
	getMetrics().queueDepth.WithLabelValues(lane).Set(float64(depth))
}

package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	checkpointSaveDuration prometheus.Histogram
	checkpointLoadDuration prometheus.Histogram
	checkpointWritesTotal  *prometheus.CounterVec
	corruptSkippedTotal    prometheus.Counter

	toolDispatchTotal    *prometheus.CounterVec
	toolDispatchDuration *prometheus.HistogramVec

	decisionDuration *prometheus.HistogramVec
	runTotal         *prometheus.CounterVec
	runCycles        prometheus.Histogram
	activeRuns       prometheus.Gauge

	queueSize    *prometheus.GaugeVec
	queueTotal   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	recallSearchDuration prometheus.Histogram
	recallNotesTotal     prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			checkpointSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "checkpoint_save_duration_seconds",
					Help:    "Checkpoint write duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			checkpointLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "checkpoint_load_duration_seconds",
					Help:    "Checkpoint read duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			checkpointWritesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "checkpoint_writes_total",
					Help: "Total checkpoint writes by status.",
				},
				[]string{"status"},
			),
			corruptSkippedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "checkpoint_corrupt_skipped_total",
					Help: "Corrupt checkpoints skipped during history reads.",
				},
			),
			toolDispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_dispatch_total",
					Help: "Total tool dispatches by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolDispatchDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_dispatch_duration_seconds",
					Help:    "Tool dispatch duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			decisionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "decision_step_duration_seconds",
					Help:    "Decision step duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Total agent runs by status.",
				},
				[]string{"status"},
			),
			runCycles: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "agent_run_cycles",
					Help:    "Decision/Action cycles per run.",
					Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
				},
			),
			activeRuns: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "agent_runs_active",
					Help: "Currently executing agent runs.",
				},
			),
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "runqueue_size",
					Help: "Current run queue size by lane.",
				},
				[]string{"lane"},
			),
			queueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "runqueue_tasks_total",
					Help: "Run queue task completions by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "runqueue_task_duration_seconds",
					Help:    "Run queue task duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			recallSearchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "recall_search_duration_seconds",
					Help:    "Recall cache search duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			recallNotesTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "recall_notes_total",
					Help: "Total notes held by the recall cache.",
				},
			),
		}

		prometheus.MustRegister(
			m.checkpointSaveDuration,
			m.checkpointLoadDuration,
			m.checkpointWritesTotal,
			m.corruptSkippedTotal,
			m.toolDispatchTotal,
			m.toolDispatchDuration,
			m.decisionDuration,
			m.runTotal,
			m.runCycles,
			m.activeRuns,
			m.queueSize,
			m.queueTotal,
			m.taskDuration,
			m.recallSearchDuration,
			m.recallNotesTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns an HTTP handler exposing the default registry.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordCheckpointSave(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.checkpointWritesTotal.WithLabelValues(status).Inc()
	m.checkpointSaveDuration.Observe(duration.Seconds())
}

func RecordCheckpointLoad(duration time.Duration) {
	getMetrics().checkpointLoadDuration.Observe(duration.Seconds())
}

func RecordCorruptSkipped() {
	getMetrics().corruptSkippedTotal.Inc()
}

func RecordToolDispatch(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolDispatchTotal.WithLabelValues(tool, status).Inc()
	m.toolDispatchDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordDecisionStep(provider string, duration time.Duration) {
	getMetrics().decisionDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordRun(status string, cycles int) {
	m := getMetrics()
	m.runTotal.WithLabelValues(status).Inc()
	m.runCycles.Observe(float64(cycles))
}

func RunStarted() {
	getMetrics().activeRuns.Inc()
}

func RunFinished() {
	getMetrics().activeRuns.Dec()
}

func SetQueueSize(lane string, size int) {
	getMetrics().queueSize.WithLabelValues(lane).Set(float64(size))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, size int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.queueTotal.WithLabelValues(lane, status).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(size))
}

func RecordRecallSearch(duration time.Duration) {
	getMetrics().recallSearchDuration.Observe(duration.Seconds())
}

func SetRecallNotes(total int) {
	getMetrics().recallNotesTotal.Set(float64(total))
}

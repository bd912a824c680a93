// Package metrics holds the prometheus collectors of the service. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	generations        *prometheus.CounterVec
	providerAttempts   *prometheus.CounterVec
	itemsCompleted     *prometheus.CounterVec
	duplicates         prometheus.Counter
	itemFailures       *prometheus.CounterVec
	runningLoops       prometheus.Gauge
	remainingItems     *prometheus.GaugeVec
	errorLogs          *prometheus.CounterVec
	generationDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_generations_total",
				Help: "Completion requests by content shape and outcome",
			},
			[]string{"shape", "outcome"},
		),
		providerAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_provider_attempts_total",
				Help: "Calls to the generative provider by response status",
			},
			[]string{"status"},
		),
		itemsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_items_completed_total",
				Help: "Workflow items recorded as completed",
			},
			[]string{"workflow_type"},
		),
		duplicates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "quill_duplicate_completions_total",
				Help: "Completions discarded because another worker finished the item first",
			},
		),
		itemFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_item_failures_total",
				Help: "Automation items that failed, by stage",
			},
			[]string{"stage"},
		),
		runningLoops: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quill_automation_loops_running",
				Help: "Automation loops running in this process",
			},
		),
		remainingItems: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quill_workflow_remaining_items",
				Help: "Eligible candidates left per running workflow",
			},
			[]string{"workflow_id"},
		),
		errorLogs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_error_logs_total",
				Help: "Error log entries written, by level and source",
			},
			[]string{"level", "source"},
		),
		generationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quill_generation_duration_seconds",
				Help:    "Wall time of one completion including retries",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.generations,
			m.providerAttempts,
			m.itemsCompleted,
			m.duplicates,
			m.itemFailures,
			m.runningLoops,
			m.remainingItems,
			m.errorLogs,
			m.generationDuration,
		)
	}
	return m
}

func (m *Metrics) Generation(shape, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(shape, outcome).Inc()
	m.generationDuration.Observe(seconds)
}

func (m *Metrics) ProviderAttempt(status int) {
	if m == nil {
		return
	}
	label := "transport_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.providerAttempts.WithLabelValues(label).Inc()
}

func (m *Metrics) ItemCompleted(workflowType string) {
	if m == nil {
		return
	}
	m.itemsCompleted.WithLabelValues(workflowType).Inc()
}

func (m *Metrics) DuplicateCompletion() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *Metrics) ItemFailed(stage string) {
	if m == nil {
		return
	}
	m.itemFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) LoopStarted() {
	if m == nil {
		return
	}
	m.runningLoops.Inc()
}

func (m *Metrics) LoopStopped() {
	if m == nil {
		return
	}
	m.runningLoops.Dec()
}

func (m *Metrics) SetRemaining(workflowID uint, remaining int64) {
	if m == nil {
		return
	}
	m.remainingItems.WithLabelValues(strconv.FormatUint(uint64(workflowID), 10)).Set(float64(remaining))
}

// ForgetWorkflow drops the remaining gauge of a workflow that stopped running.
func (m *Metrics) ForgetWorkflow(workflowID uint) {
	if m == nil {
		return
	}
	m.remainingItems.DeleteLabelValues(strconv.FormatUint(uint64(workflowID), 10))
}

func (m *Metrics) ErrorLogged(level, source string) {
	if m == nil {
		return
	}
	m.errorLogs.WithLabelValues(level, source).Inc()
}

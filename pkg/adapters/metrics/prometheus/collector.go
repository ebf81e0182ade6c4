package prometheus

import (
	"time"

	"github.com/garymjr/beadworks/internal/domain"
	"github.com/garymjr/beadworks/internal/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var _ ports.MetricsCollector = (*Collector)(nil)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	workersTotal     *prometheus.GaugeVec
	workersBusy      *prometheus.GaugeVec
	acquisitions     *prometheus.CounterVec
	acquireWaitTime  *prometheus.HistogramVec
	sessionsFinished *prometheus.CounterVec
	sessionDuration  *prometheus.HistogramVec
	activeSessions   prometheus.Gauge
	subtasks         *prometheus.CounterVec
	subtaskDuration  *prometheus.HistogramVec
	persistence      *prometheus.CounterVec

	// Agent metrics
	llmCalls       *prometheus.CounterVec
	llmTokens      *prometheus.CounterVec
	llmLatency     *prometheus.HistogramVec
	toolExecutions *prometheus.CounterVec
	toolFailures   *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
}

// NewCollector creates a Prometheus metrics collector registered on reg.
// A nil reg uses the default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		workersTotal: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "beadworks_workers_total",
				Help: "Number of pooled workers by role",
			},
			[]string{"role"},
		),
		workersBusy: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "beadworks_workers_busy",
				Help: "Number of busy workers by role",
			},
			[]string{"role"},
		),
		acquisitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beadworks_worker_acquisitions_total",
				Help: "Total number of worker acquisitions by outcome",
			},
			[]string{"role", "outcome"},
		),
		acquireWaitTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beadworks_worker_acquire_wait_seconds",
				Help:    "Time spent waiting for a free worker",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"role"},
		),
		sessionsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beadworks_sessions_finished_total",
				Help: "Total number of work sessions that reached a terminal status",
			},
			[]string{"status", "success"},
		),
		sessionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beadworks_session_duration_seconds",
				Help:    "Work session duration in seconds",
				Buckets: []float64{1, 10, 30, 60, 300, 600, 1200, 1800, 3600},
			},
			[]string{"status"},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "beadworks_active_sessions",
				Help: "Number of currently active work sessions",
			},
		),
		subtasks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beadworks_subtasks_total",
				Help: "Total number of subtasks attempted by outcome",
			},
			[]string{"outcome"},
		),
		subtaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beadworks_subtask_duration_seconds",
				Help:    "Subtask duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"outcome"},
		),
		persistence: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beadworks_snapshot_operations_total",
				Help: "Total number of session snapshot loads and saves by outcome",
			},
			[]string{"op", "outcome"},
		),
		llmCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beadworks_llm_calls_total",
				Help: "Total number of LLM API calls",
			},
			[]string{"model", "outcome"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beadworks_llm_tokens_total",
				Help: "Total number of LLM tokens used",
			},
			[]string{"model", "type"},
		),
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beadworks_llm_latency_seconds",
				Help:    "LLM API call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 60},
			},
			[]string{"model"},
		),
		toolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beadworks_tool_executions_total",
				Help: "Total number of agent tool executions",
			},
			[]string{"tool"},
		),
		toolFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beadworks_tool_failures_total",
				Help: "Total number of agent tool failures",
			},
			[]string{"tool"},
		),
		toolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beadworks_tool_duration_seconds",
				Help:    "Agent tool execution duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 30},
			},
			[]string{"tool"},
		),
	}
}

// RecordPoolStatus records worker occupancy for a role
func (c *Collector) RecordPoolStatus(role domain.Role, total, busy int) {
	c.workersTotal.WithLabelValues(string(role)).Set(float64(total))
	c.workersBusy.WithLabelValues(string(role)).Set(float64(busy))
}

// RecordAcquire records the outcome of a worker acquisition and how long it waited
func (c *Collector) RecordAcquire(role domain.Role, outcome string, wait time.Duration) {
	c.acquisitions.WithLabelValues(string(role), outcome).Inc()
	c.acquireWaitTime.WithLabelValues(string(role)).Observe(wait.Seconds())
}

// RecordSessionFinished records a work session reaching a terminal status
func (c *Collector) RecordSessionFinished(status domain.WorkStatus, success bool, duration time.Duration) {
	c.sessionsFinished.WithLabelValues(string(status), boolLabel(success)).Inc()
	c.sessionDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// RecordSubtask records one subtask attempt
func (c *Collector) RecordSubtask(outcome string, duration time.Duration) {
	c.subtasks.WithLabelValues(outcome).Inc()
	c.subtaskDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetActiveSessions sets the number of currently active sessions
func (c *Collector) SetActiveSessions(count int) {
	c.activeSessions.Set(float64(count))
}

// RecordPersistence records a snapshot load or save
func (c *Collector) RecordPersistence(op, outcome string) {
	c.persistence.WithLabelValues(op, outcome).Inc()
}

// RecordLLMCall records one model call with its latency and token usage
func (c *Collector) RecordLLMCall(model string, err error, latency time.Duration, inputTokens, outputTokens int64) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.llmCalls.WithLabelValues(model, outcome).Inc()
	c.llmLatency.WithLabelValues(model).Observe(latency.Seconds())
	if inputTokens > 0 {
		c.llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		c.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records one agent tool call
func (c *Collector) RecordToolExecution(tool string, failed bool, duration time.Duration) {
	c.toolExecutions.WithLabelValues(tool).Inc()
	if failed {
		c.toolFailures.WithLabelValues(tool).Inc()
	}
	c.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

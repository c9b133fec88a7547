// Package metrics exposes Prometheus instrumentation for the engine,
// scheduler and webhook dispatcher.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Run metrics
	RunsStarted    *prometheus.CounterVec
	RunsCompleted  *prometheus.CounterVec
	RunsFailed     *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	RunsInProgress prometheus.Gauge

	// Node execution metrics
	NodeExecutionsTotal   *prometheus.CounterVec
	NodeExecutionDuration *prometheus.HistogramVec
	NodeRetries           *prometheus.CounterVec
	QueueDepth            prometheus.Gauge

	// Scheduler metrics
	ScheduledWorkflows prometheus.Gauge
	ScheduleFires      *prometheus.CounterVec

	// Webhook metrics
	WebhookDeliveries *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of workflow runs started",
			},
			[]string{"initiated_by"},
		),
		RunsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of workflow runs completed",
			},
			[]string{"workflow_id"},
		),
		RunsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_failed_total",
				Help:      "Total number of workflow runs failed",
			},
			[]string{"workflow_id"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Workflow run duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600},
			},
			[]string{"workflow_id"},
		),
		RunsInProgress: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_in_progress",
				Help:      "Number of workflow runs currently executing",
			},
		),
		NodeExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_executions_total",
				Help:      "Total number of node execution attempts",
			},
			[]string{"category", "status"},
		),
		NodeExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_execution_duration_seconds",
				Help:      "Node execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"category"},
		),
		NodeRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_retries_total",
				Help:      "Total number of node retry attempts",
			},
			[]string{"category"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Number of entries waiting in run scheduler queues",
			},
		),
		ScheduledWorkflows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduled_workflows",
				Help:      "Number of workflows registered with the cron scheduler",
			},
		),
		ScheduleFires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "schedule_fires_total",
				Help:      "Total number of cron schedule fires",
			},
			[]string{"workflow_id"},
		),
		WebhookDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_deliveries_total",
				Help:      "Total number of webhook delivery attempts",
			},
			[]string{"success"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.RunsStarted, m.RunsCompleted, m.RunsFailed, m.RunDuration,
			m.RunsInProgress, m.NodeExecutionsTotal, m.NodeExecutionDuration,
			m.NodeRetries, m.QueueDepth, m.ScheduledWorkflows, m.ScheduleFires,
			m.WebhookDeliveries,
		)
	}

	return m
}

// ObserveRun records the terminal metrics for a run.
func (m *Metrics) ObserveRun(workflowID, status string, d time.Duration) {
	switch status {
	case "completed":
		m.RunsCompleted.WithLabelValues(workflowID).Inc()
	case "failed":
		m.RunsFailed.WithLabelValues(workflowID).Inc()
	}
	m.RunDuration.WithLabelValues(workflowID).Observe(d.Seconds())
}

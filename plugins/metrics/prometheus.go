package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rom8726/stepflow"
)

// PrometheusCollector exposes engine lifecycle events as Prometheus
// metrics. Attach it with Bind, which subscribes to the engine's event bus.
type PrometheusCollector struct {
	workflowStarted   *prometheus.CounterVec
	workflowCompleted *prometheus.CounterVec
	workflowFailed    *prometheus.CounterVec
	workflowDuration  *prometheus.HistogramVec
	workflowRetries   *prometheus.CounterVec

	stepStarted   *prometheus.CounterVec
	stepCompleted *prometheus.CounterVec
	stepFailed    *prometheus.CounterVec

	approvalsRequested *prometheus.CounterVec
	approvalsSubmitted *prometheus.CounterVec
	cancellations      *prometheus.CounterVec
}

func NewPrometheusCollector(registry prometheus.Registerer) *PrometheusCollector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	return &PrometheusCollector{
		workflowStarted: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_workflow_started_total",
				Help: "Total number of workflow executions started",
			},
			[]string{"workflow_id"},
		),
		workflowCompleted: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_workflow_completed_total",
				Help: "Total number of workflow executions completed",
			},
			[]string{"workflow_id"},
		),
		workflowFailed: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_workflow_failed_total",
				Help: "Total number of workflow executions that failed",
			},
			[]string{"workflow_id", "code"},
		),
		workflowDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stepflow_workflow_duration_seconds",
				Help:    "Duration of completed workflow executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"workflow_id"},
		),
		workflowRetries: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_workflow_retries_total",
				Help: "Total number of whole-workflow retry attempts",
			},
			[]string{"workflow_id"},
		),
		stepStarted: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_step_started_total",
				Help: "Total number of step executions started",
			},
			[]string{"workflow_id", "step_id", "step_type"},
		),
		stepCompleted: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_step_completed_total",
				Help: "Total number of completed step executions",
			},
			[]string{"workflow_id", "step_id", "step_type"},
		),
		stepFailed: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_step_failed_total",
				Help: "Total number of failed step executions",
			},
			[]string{"workflow_id", "step_id", "step_type"},
		),
		approvalsRequested: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_approvals_requested_total",
				Help: "Total number of approval gates reached",
			},
			[]string{"workflow_id", "step_id"},
		),
		approvalsSubmitted: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_approvals_submitted_total",
				Help: "Total number of approval decisions submitted",
			},
			[]string{"workflow_id", "step_id", "decision"},
		),
		cancellations: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_executions_cancelled_total",
				Help: "Total number of cancelled executions",
			},
			[]string{"workflow_id"},
		),
	}
}

// Bind subscribes the collector to the bus. Call once per collector.
func (c *PrometheusCollector) Bind(bus *stepflow.EventBus) {
	bus.SubscribeAll(c.handle)
}

func (c *PrometheusCollector) handle(event stepflow.Event) {
	workflowID := "unknown"
	if event.Execution != nil {
		workflowID = event.Execution.WorkflowID
	} else if event.Workflow != nil {
		workflowID = event.Workflow.ID
	}

	switch event.Type {
	case stepflow.EventWorkflowStarted:
		c.workflowStarted.WithLabelValues(workflowID).Inc()
		if event.Execution != nil && event.Execution.Metadata.RetryCount > 0 {
			c.workflowRetries.WithLabelValues(workflowID).Inc()
		}
	case stepflow.EventWorkflowCompleted:
		c.workflowCompleted.WithLabelValues(workflowID).Inc()
		if event.Execution != nil {
			c.workflowDuration.WithLabelValues(workflowID).
				Observe(float64(event.Execution.DurationSeconds))
		}
	case stepflow.EventWorkflowFailed:
		code := ""
		if event.Err != nil {
			code = event.Err.Code
		}
		c.workflowFailed.WithLabelValues(workflowID, code).Inc()
	case stepflow.EventStepStarted:
		if event.Step != nil {
			c.stepStarted.WithLabelValues(workflowID, event.Step.ID, string(event.Step.Type)).Inc()
		}
	case stepflow.EventStepCompleted:
		if event.Step != nil {
			c.stepCompleted.WithLabelValues(workflowID, event.Step.ID, string(event.Step.Type)).Inc()
		}
	case stepflow.EventStepFailed:
		if event.Step != nil {
			c.stepFailed.WithLabelValues(workflowID, event.Step.ID, string(event.Step.Type)).Inc()
		}
	case stepflow.EventApprovalRequested:
		if event.Approval != nil {
			c.approvalsRequested.WithLabelValues(workflowID, event.Approval.StepID).Inc()
		}
	case stepflow.EventApprovalSubmitted:
		if event.Approval != nil {
			c.approvalsSubmitted.WithLabelValues(workflowID, event.Approval.StepID,
				string(event.Approval.Status)).Inc()
		}
	case stepflow.EventExecutionCancelled:
		c.cancellations.WithLabelValues(workflowID).Inc()
	}
}

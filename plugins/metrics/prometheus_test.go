package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rom8726/stepflow"
)

func sampleExecution(workflowID string) *stepflow.WorkflowExecution {
	return &stepflow.WorkflowExecution{
		ID:              "exec-1",
		WorkflowID:      workflowID,
		Status:          stepflow.StatusRunning,
		DurationSeconds: 3,
	}
}

func TestPrometheusCollectorWorkflowMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	bus := stepflow.NewEventBus()
	c.Bind(bus)

	wfID := "wf-A"

	bus.Publish(stepflow.Event{Type: stepflow.EventWorkflowStarted, Execution: sampleExecution(wfID)})
	bus.Publish(stepflow.Event{Type: stepflow.EventWorkflowCompleted, Execution: sampleExecution(wfID)})
	bus.Publish(stepflow.Event{
		Type:      stepflow.EventWorkflowFailed,
		Execution: sampleExecution(wfID),
		Err:       stepflow.NewExecutionError(stepflow.CodeStepError, "boom", "s1"),
	})

	if got := testutil.ToFloat64(c.workflowStarted.WithLabelValues(wfID)); got != 1 {
		t.Fatalf("workflowStarted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.workflowCompleted.WithLabelValues(wfID)); got != 1 {
		t.Fatalf("workflowCompleted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.workflowFailed.WithLabelValues(wfID, stepflow.CodeStepError)); got != 1 {
		t.Fatalf("workflowFailed = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.workflowDuration); n == 0 {
		t.Fatalf("workflowDuration has no observations")
	}
}

func TestPrometheusCollectorStepAndSignalMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	bus := stepflow.NewEventBus()
	c.Bind(bus)

	wfID := "wf-B"
	step := &stepflow.WorkflowStep{ID: "verify", Type: stepflow.StepTypeDataEntry}

	bus.Publish(stepflow.Event{Type: stepflow.EventStepStarted, Execution: sampleExecution(wfID), Step: step})
	bus.Publish(stepflow.Event{Type: stepflow.EventStepCompleted, Execution: sampleExecution(wfID), Step: step})
	bus.Publish(stepflow.Event{Type: stepflow.EventStepFailed, Execution: sampleExecution(wfID), Step: step})

	approval := &stepflow.Approval{StepID: "gate", Status: stepflow.ApprovalApproved}
	bus.Publish(stepflow.Event{Type: stepflow.EventApprovalRequested, Execution: sampleExecution(wfID), Approval: approval})
	bus.Publish(stepflow.Event{Type: stepflow.EventApprovalSubmitted, Execution: sampleExecution(wfID), Approval: approval})
	bus.Publish(stepflow.Event{Type: stepflow.EventExecutionCancelled, Execution: sampleExecution(wfID)})

	stepLabels := []string{wfID, "verify", string(stepflow.StepTypeDataEntry)}
	if got := testutil.ToFloat64(c.stepStarted.WithLabelValues(stepLabels...)); got != 1 {
		t.Fatalf("stepStarted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.stepCompleted.WithLabelValues(stepLabels...)); got != 1 {
		t.Fatalf("stepCompleted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.stepFailed.WithLabelValues(stepLabels...)); got != 1 {
		t.Fatalf("stepFailed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.approvalsRequested.WithLabelValues(wfID, "gate")); got != 1 {
		t.Fatalf("approvalsRequested = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.approvalsSubmitted.WithLabelValues(wfID, "gate", "approved")); got != 1 {
		t.Fatalf("approvalsSubmitted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.cancellations.WithLabelValues(wfID)); got != 1 {
		t.Fatalf("cancellations = %v, want 1", got)
	}
}

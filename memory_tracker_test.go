package stepflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackedExecution(workflowID string, status ExecutionStatus) *WorkflowExecution {
	wf := &Workflow{ID: workflowID, Name: workflowID, Steps: linearSteps("a")}
	execution := newExecution(wf, ExecutionContext{}, nil)
	execution.Status = status

	return execution
}

func TestMemoryTrackerRoundTrip(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryTracker()

	execution := trackedExecution("wf-v1", StatusPending)
	require.NoError(t, tracker.Create(ctx, execution))

	// Mutations after Create are invisible until the next Update.
	execution.markStepCompleted("a")

	stored, err := tracker.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.CompletedSteps)

	require.NoError(t, tracker.Update(ctx, execution))
	stored, err = tracker.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, stored.CompletedSteps)

	assert.Equal(t, 1, tracker.UpdateCount(execution.ID))
}

func TestMemoryTrackerErrors(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryTracker()

	_, err := tracker.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrExecutionNotFound)

	err = tracker.Update(ctx, trackedExecution("wf-v1", StatusRunning))
	assert.ErrorIs(t, err, ErrExecutionNotFound)

	_, err = tracker.GetWorkflow(ctx, "nope")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestMemoryTrackerWorkflows(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryTracker()

	wf := &Workflow{ID: "wf-v1", Name: "wf", Steps: linearSteps("a")}
	require.NoError(t, tracker.SaveWorkflow(ctx, wf))

	stored, err := tracker.GetWorkflow(ctx, "wf-v1")
	require.NoError(t, err)
	assert.Equal(t, "wf", stored.Name)
}

func TestMemoryTrackerListAndCount(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryTracker()

	for i := 0; i < 3; i++ {
		require.NoError(t, tracker.Create(ctx, trackedExecution("wf-v1", StatusCompleted)))
	}
	require.NoError(t, tracker.Create(ctx, trackedExecution("wf-v1", StatusRunning)))

	completed, err := tracker.ListExecutions(ctx, StatusCompleted, 0)
	require.NoError(t, err)
	assert.Len(t, completed, 3)

	all, err := tracker.ListExecutions(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2, "limit applies")

	counts, err := tracker.CountByStatus(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, counts[StatusCompleted])
	assert.EqualValues(t, 1, counts[StatusRunning])
}

func TestMemoryTrackerPrune(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryTracker()

	old := trackedExecution("wf-v1", StatusCompleted)
	past := time.Now().Add(-time.Hour)
	old.CompletedAt = &past
	require.NoError(t, tracker.Create(ctx, old))

	fresh := trackedExecution("wf-v1", StatusCompleted)
	now := time.Now()
	fresh.CompletedAt = &now
	require.NoError(t, tracker.Create(ctx, fresh))

	running := trackedExecution("wf-v1", StatusRunning)
	require.NoError(t, tracker.Create(ctx, running))

	pruned := tracker.Prune(10 * time.Minute)
	assert.Equal(t, 1, pruned)

	_, err := tracker.Get(ctx, old.ID)
	assert.ErrorIs(t, err, ErrExecutionNotFound)

	_, err = tracker.Get(ctx, fresh.ID)
	assert.NoError(t, err)

	_, err = tracker.Get(ctx, running.ID)
	assert.NoError(t, err, "non-terminal executions are never pruned")
}

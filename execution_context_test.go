package stepflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataBagBasics(t *testing.T) {
	bag := NewDataBag(map[string]any{"a": 1})

	val, ok := bag.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, val)

	_, ok = bag.Get("missing")
	assert.False(t, ok)

	bag.Set("b", "two")
	bag.Merge(map[string]any{"c": 3, "a": 10})

	assert.Equal(t, 3, bag.Len())
	val, _ = bag.Get("a")
	assert.Equal(t, 10, val, "merge overwrites existing keys")
}

func TestDataBagLookupPath(t *testing.T) {
	bag := NewDataBag(map[string]any{
		"order": map[string]any{
			"customer": map[string]any{"id": "C-1"},
			"total":    99.5,
		},
	})

	val, ok := bag.Lookup("order.customer.id")
	require.True(t, ok)
	assert.Equal(t, "C-1", val)

	val, ok = bag.Lookup("order.total")
	require.True(t, ok)
	assert.Equal(t, 99.5, val)

	_, ok = bag.Lookup("order.customer.email")
	assert.False(t, ok)

	// Descending through a non-map value.
	_, ok = bag.Lookup("order.total.cents")
	assert.False(t, ok)

	_, ok = bag.Lookup("")
	assert.False(t, ok)
}

func TestDataBagSnapshotIsolation(t *testing.T) {
	bag := NewDataBag(map[string]any{"a": 1})

	snapshot := bag.Snapshot()
	bag.Set("a", 2)
	bag.Set("b", 3)

	assert.Equal(t, 1, snapshot["a"])
	_, ok := snapshot["b"]
	assert.False(t, ok)
}

func TestDataBagJSONRoundTrip(t *testing.T) {
	bag := NewDataBag(map[string]any{"amount": 12.5, "tags": []any{"x", "y"}})

	raw, err := json.Marshal(bag)
	require.NoError(t, err)

	var restored DataBag
	require.NoError(t, json.Unmarshal(raw, &restored))

	amount, ok := restored.Get("amount")
	require.True(t, ok)
	assert.Equal(t, 12.5, amount)
	assert.Equal(t, 2, restored.Len())
}

func TestNewExecutionSeedsState(t *testing.T) {
	wf := &Workflow{
		ID:      "seed-v1",
		Name:    "seed",
		Version: 3,
		Steps: []WorkflowStep{
			{ID: "gate", Type: StepTypeApproval},
		},
		Variables: []WorkflowVariable{
			{Name: "limit", Type: "number", Default: 100},
		},
	}

	execution := newExecution(wf, ExecutionContext{UserID: "u", TenantID: "t"},
		map[string]any{"limit": 250, "extra": "kept"})

	assert.NotEmpty(t, execution.ID)
	assert.Equal(t, "seed-v1", execution.WorkflowID)
	assert.Equal(t, 3, execution.WorkflowVersion)
	assert.Equal(t, StatusPending, execution.Status)
	assert.Equal(t, 250, execution.Variables["limit"])
	assert.True(t, execution.Metadata.RequiresApproval,
		"an approval step implies the flag even without the setting")
	assert.Equal(t, 1, execution.Metadata.AttemptNumber)

	extra, ok := execution.Data.Get("extra")
	require.True(t, ok)
	assert.Equal(t, "kept", extra)
}

func TestExecutionPrepareRetryResetsTrail(t *testing.T) {
	wf := &Workflow{ID: "r-v1", Name: "r", Steps: linearSteps("a", "b")}
	execution := newExecution(wf, ExecutionContext{}, map[string]any{"k": "v"})

	execution.markStarted()
	execution.markStepCompleted("a")
	require.True(t, execution.claimStep("a"))
	execution.finish(StatusFailed, NewExecutionError(CodeStepError, "boom", "b"))

	execution.prepareRetry()

	assert.Equal(t, StatusPending, execution.Status)
	assert.Nil(t, execution.Error)
	assert.Nil(t, execution.CompletedAt)
	assert.Empty(t, execution.CompletedSteps)
	assert.Empty(t, execution.CurrentStep)
	assert.Equal(t, 1, execution.Metadata.RetryCount)
	assert.Equal(t, 2, execution.Metadata.AttemptNumber)
	assert.True(t, execution.claimStep("a"), "claims reset with the attempt")

	// The data bag survives across attempts.
	val, ok := execution.Data.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", val)
}

func TestExecutionApprovalRecords(t *testing.T) {
	wf := &Workflow{ID: "a-v1", Name: "a", Steps: linearSteps("gate")}
	execution := newExecution(wf, ExecutionContext{}, nil)

	first := execution.addApproval("gate")
	assert.Equal(t, ApprovalPending, first.Status)

	// Re-entry reuses the pending record.
	second := execution.addApproval("gate")
	assert.Len(t, execution.Metadata.Approvals, 1)
	assert.Equal(t, first.StepID, second.StepID)

	comment := "ok"
	require.NoError(t, execution.resolveApproval("gate", "bob", ApprovalApproved, &comment))

	state, ok := execution.approvalState("gate")
	require.True(t, ok)
	assert.Equal(t, ApprovalApproved, state)

	assert.ErrorIs(t,
		execution.resolveApproval("gate", "bob", ApprovalApproved, nil),
		ErrApprovalNotFound)

	_, ok = execution.approvalState("other")
	assert.False(t, ok)
}

func TestExecutionSnapshotIsolation(t *testing.T) {
	wf := &Workflow{ID: "s-v1", Name: "s", Steps: linearSteps("a", "b")}
	execution := newExecution(wf, ExecutionContext{}, nil)
	execution.markStarted()
	execution.markStepCompleted("a")

	snapshot := execution.Snapshot()

	execution.markStepCompleted("b")
	execution.Data.Set("late", true)
	execution.addApproval("b")

	assert.Equal(t, []string{"a"}, snapshot.CompletedSteps)
	assert.Empty(t, snapshot.Metadata.Approvals)
	_, ok := snapshot.Data.Get("late")
	assert.False(t, ok)
}

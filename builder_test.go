package stepflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderLinearChain(t *testing.T) {
	wf, err := NewWorkflow("onboarding").
		Step("collect", StepTypeDataEntry, WithStepName("Collect documents")).
		Step("contract", StepTypeDocumentGen, WithStepConfig(map[string]any{"template": "contract"})).
		Step("notify", StepTypeNotification, WithStepTimeout(10*time.Second)).
		Build()
	require.NoError(t, err)

	assert.Equal(t, "onboarding-v1", wf.ID)
	assert.Equal(t, 1, wf.Version)
	require.Len(t, wf.Steps, 3)

	assert.Equal(t, []string{"contract"}, wf.Steps[0].Next)
	assert.Equal(t, []string{"notify"}, wf.Steps[1].Next)
	assert.Empty(t, wf.Steps[2].Next)

	assert.Equal(t, "Collect documents", wf.Steps[0].Name)
	assert.Equal(t, "contract", wf.Steps[1].Config["template"])
	assert.Equal(t, 10*time.Second, wf.Steps[2].Timeout)
}

func TestBuilderWorkflowOptions(t *testing.T) {
	wf, err := NewWorkflow("tenant-flow",
		WithWorkflowID("custom-id"),
		WithTenant("acme"),
		WithVersion(4),
		WithParallelExecution(),
		WithRequireApproval(),
		WithNotifyOnCompletion(),
		WithGlobalTimeout(time.Minute),
		WithVariable("region", "string", "eu"),
	).
		Step("only", StepTypeDataEntry).
		Build()
	require.NoError(t, err)

	assert.Equal(t, "custom-id", wf.ID)
	assert.Equal(t, "acme", wf.TenantID)
	assert.Equal(t, 4, wf.Version)
	assert.True(t, wf.Settings.ParallelExecution)
	assert.True(t, wf.Settings.RequireApproval)
	assert.True(t, wf.Settings.NotifyOnCompletion)
	assert.Equal(t, time.Minute, wf.Settings.Timeout)
	require.Len(t, wf.Variables, 1)
	assert.Equal(t, "region", wf.Variables[0].Name)
}

func TestBuilderBranching(t *testing.T) {
	wf, err := NewWorkflow("claims").
		Step("triage", StepTypeDecision).
		StepIf("investigate", StepTypeDataEntry,
			Condition{Field: "severity", Operator: OpGte, Value: 3}).
		Step("settle", StepTypeIntegration).
		From("triage").
		StepIf("fast_pay", StepTypeIntegration,
			Condition{Field: "severity", Operator: OpLt, Value: 3}).
		Then("settle").
		Build()
	require.NoError(t, err)

	triage := wf.Step("triage")
	require.NotNil(t, triage)
	assert.Equal(t, []string{"investigate", "fast_pay"}, triage.Next)

	require.Len(t, triage.Conditions, 2)
	assert.Equal(t, "investigate", triage.Conditions[0].Target)
	assert.Equal(t, "fast_pay", triage.Conditions[1].Target)

	assert.Equal(t, []string{"settle"}, wf.Step("investigate").Next)
	assert.Equal(t, []string{"settle"}, wf.Step("fast_pay").Next)
}

func TestBuilderErrors(t *testing.T) {
	t.Run("duplicate step", func(t *testing.T) {
		_, err := NewWorkflow("dup").
			Step("a", StepTypeDataEntry).
			Step("a", StepTypeDataEntry).
			Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate step id")
	})

	t.Run("from unknown step", func(t *testing.T) {
		_, err := NewWorkflow("ghost").
			Step("a", StepTypeDataEntry).
			From("nowhere").
			Build()
		require.Error(t, err)
	})

	t.Run("then unknown step", func(t *testing.T) {
		_, err := NewWorkflow("ghost2").
			Step("a", StepTypeDataEntry).
			Then("nowhere").
			Build()
		require.Error(t, err)
	})

	t.Run("step if before any step", func(t *testing.T) {
		_, err := NewWorkflow("headless").
			StepIf("b", StepTypeDataEntry, Condition{Field: "x", Operator: OpEq, Value: 1}).
			Build()
		require.Error(t, err)
	})

	t.Run("build runs validation", func(t *testing.T) {
		// Then creates a cycle, caught at Build time.
		_, err := NewWorkflow("loop").
			Step("a", StepTypeDataEntry).
			Step("b", StepTypeDataEntry).
			Then("a").
			Build()
		require.Error(t, err)
	})
}

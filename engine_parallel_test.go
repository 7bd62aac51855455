package stepflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// concurrencyProbe tracks how many executors overlap in time.
type concurrencyProbe struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (p *concurrencyProbe) enter() {
	p.mu.Lock()
	p.current++
	if p.current > p.peak {
		p.peak = p.current
	}
	p.mu.Unlock()
}

func (p *concurrencyProbe) leave() {
	p.mu.Lock()
	p.current--
	p.mu.Unlock()
}

func (p *concurrencyProbe) maxOverlap() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.peak
}

func probeExecutor(probe *concurrencyProbe, hold time.Duration) ExecutorFunc {
	return func(ctx context.Context, _ *WorkflowStep, _ *WorkflowExecution) error {
		probe.enter()
		defer probe.leave()

		select {
		case <-time.After(hold):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func fanOutWorkflow(t *testing.T, parallel bool) *Workflow {
	t.Helper()

	opts := []WorkflowOption{}
	if parallel {
		opts = append(opts, WithParallelExecution())
	}

	wf, err := NewWorkflow("fan-out", opts...).
		Step("prepare", stepTypeTest).
		Step("branch_a", stepTypeTest).
		From("prepare").
		Step("branch_b", stepTypeTest).
		From("prepare").
		Step("branch_c", stepTypeTest).
		Build()
	require.NoError(t, err)

	return wf
}

func TestEngineParallelGroupOverlaps(t *testing.T) {
	probe := &concurrencyProbe{}
	engine := newTestEngine(t)
	engine.RegisterExecutor(stepTypeTest, probeExecutor(probe, 50*time.Millisecond))

	wf := fanOutWorkflow(t, true)

	execution, err := engine.StartWorkflow(context.Background(), wf, ExecutionContext{}, nil)
	require.NoError(t, err)

	final := waitForExecutionStatus(t, engine, execution.ID, StatusCompleted)

	assert.Greater(t, probe.maxOverlap(), 1, "parallel branches should run concurrently")
	assert.ElementsMatch(t,
		[]string{"prepare", "branch_a", "branch_b", "branch_c"},
		final.CompletedSteps)
}

func TestEngineSequentialGroupDoesNotOverlap(t *testing.T) {
	probe := &concurrencyProbe{}
	engine := newTestEngine(t)
	engine.RegisterExecutor(stepTypeTest, probeExecutor(probe, 20*time.Millisecond))

	wf := fanOutWorkflow(t, false)

	execution, err := engine.StartWorkflow(context.Background(), wf, ExecutionContext{}, nil)
	require.NoError(t, err)

	final := waitForExecutionStatus(t, engine, execution.ID, StatusCompleted)

	assert.Equal(t, 1, probe.maxOverlap(), "without the parallel setting branches run one at a time")
	assert.Equal(t,
		[]string{"prepare", "branch_a", "branch_b", "branch_c"},
		final.CompletedSteps)
}

func TestEngineParallelBranchFailureFailsExecution(t *testing.T) {
	rec := newStepRecorder()
	engine := newTestEngine(t, WithEvictionGrace(0), WithRetryBaseDelay(5*time.Millisecond))
	engine.RegisterExecutor(stepTypeTest, ExecutorFunc(
		func(_ context.Context, step *WorkflowStep, _ *WorkflowExecution) error {
			rec.record(step.ID)
			if step.ID == "branch_b" {
				return NewExecutionError(CodeStepError, "downstream rejected the payload", step.ID)
			}

			return nil
		}))

	wf, err := NewWorkflow("fan-out-failure", WithParallelExecution()).
		Step("prepare", stepTypeTest).
		Step("branch_a", stepTypeTest).
		From("prepare").
		Step("branch_b", stepTypeTest).
		Build()
	require.NoError(t, err)

	execution, err := engine.StartWorkflow(context.Background(), wf, ExecutionContext{}, nil)
	require.NoError(t, err)

	// Retries re-run the whole workflow until the ceiling is reached.
	deadline := time.Now().Add(10 * time.Second)
	var final *WorkflowExecution
	for time.Now().Before(deadline) {
		current, err := engine.GetExecution(context.Background(), execution.ID)
		require.NoError(t, err)
		if current.Status == StatusFailed && current.Metadata.RetryCount == RetryCeiling {
			final = current

			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotNil(t, final, "execution never exhausted its retries")

	require.NotNil(t, final.Error)
	assert.Equal(t, CodeStepError, final.Error.Code)
	assert.Equal(t, RetryCeiling+1, rec.calls("branch_b"))
}

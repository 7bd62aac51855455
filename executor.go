package stepflow

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
)

// StepExecutor runs one typed unit of work. Implementations mutate
// execution.Data as their side effect and must respect ctx: the engine
// cancels it on timeout and on cooperative cancellation.
type StepExecutor interface {
	Execute(ctx context.Context, step *WorkflowStep, execution *WorkflowExecution) error
}

// ExecutorFunc adapts a plain function to the StepExecutor interface.
type ExecutorFunc func(ctx context.Context, step *WorkflowStep, execution *WorkflowExecution) error

func (f ExecutorFunc) Execute(ctx context.Context, step *WorkflowStep, execution *WorkflowExecution) error {
	return f(ctx, step, execution)
}

// ExecutorRegistry maps a step's declared type to the executor capable of
// running it. Resolving an unregistered type is a configuration error.
type ExecutorRegistry struct {
	mu        sync.RWMutex
	executors map[StepType]StepExecutor
}

func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{
		executors: make(map[StepType]StepExecutor),
	}
}

// NewDefaultRegistry returns a registry with the built-in executors for the
// fixed step-type vocabulary. The approval slot is a no-op: the engine
// gates approval steps before executor dispatch.
func NewDefaultRegistry(integrations IntegrationService) *ExecutorRegistry {
	registry := NewExecutorRegistry()
	registry.Register(StepTypeDataEntry, &DataEntryExecutor{})
	registry.Register(StepTypeDocumentGen, &DocumentGenExecutor{})
	registry.Register(StepTypeDecision, &DecisionExecutor{})
	registry.Register(StepTypeIntegration, &IntegrationExecutor{Service: integrations})
	registry.Register(StepTypeApproval, ExecutorFunc(func(context.Context, *WorkflowStep, *WorkflowExecution) error {
		return nil
	}))
	registry.Register(StepTypeNotification, &NotificationExecutor{})

	return registry
}

func (r *ExecutorRegistry) Register(stepType StepType, executor StepExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[stepType] = wrapPanicExecutor(executor)
}

func (r *ExecutorRegistry) Resolve(stepType StepType) (StepExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, ok := r.executors[stepType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutorNotFound, stepType)
	}

	return executor, nil
}

func (r *ExecutorRegistry) Known(stepType StepType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[stepType]

	return ok
}

type noPanicExecutor struct {
	executor StepExecutor
}

func wrapPanicExecutor(executor StepExecutor) StepExecutor {
	if _, ok := executor.(*noPanicExecutor); ok {
		return executor
	}

	return &noPanicExecutor{executor: executor}
}

func (e *noPanicExecutor) Execute(
	ctx context.Context,
	step *WorkflowStep,
	execution *WorkflowExecution,
) (errRes error) {
	defer func() {
		if r := recover(); r != nil {
			errRes = fmt.Errorf("panic in executor for step %q: %v\n%s", step.ID, r, debug.Stack())
		}
	}()

	return e.executor.Execute(ctx, step, execution)
}

// decodeConfig unmarshals a step's config into a typed struct via JSON.
func decodeConfig(config map[string]any, target any) error {
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	return nil
}

package stepflow

import (
	"context"
)

// ExecutionTracker is the durable source of truth for execution state. The
// engine calls Update after every state-relevant mutation, so a crash loses
// at most one in-flight step. Implementations must be idempotent and
// order-preserving per execution id.
type ExecutionTracker interface {
	Create(ctx context.Context, execution *WorkflowExecution) error
	Update(ctx context.Context, execution *WorkflowExecution) error
	Get(ctx context.Context, id string) (*WorkflowExecution, error)
}

// WorkflowRepository is the read-only lookup the engine needs to resume an
// execution after an approval or a scheduled retry.
type WorkflowRepository interface {
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *Workflow) error
}

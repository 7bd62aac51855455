package api

import (
	"context"

	"github.com/rom8726/stepflow"
)

// Store is the read surface the API needs from a tracker. Both
// stepflow.PostgresTracker and stepflow.MemoryTracker satisfy it.
type Store interface {
	Get(ctx context.Context, id string) (*stepflow.WorkflowExecution, error)
	ListExecutions(ctx context.Context, status stepflow.ExecutionStatus, limit int) ([]*stepflow.WorkflowExecution, error)
	CountByStatus(ctx context.Context) (map[stepflow.ExecutionStatus]int64, error)
	GetWorkflow(ctx context.Context, id string) (*stepflow.Workflow, error)
}

type APIService struct {
	store Store
}

func NewAPIService(store Store) *APIService {
	return &APIService{store: store}
}

func (a *APIService) GetExecution(ctx context.Context, id string) (*stepflow.WorkflowExecution, error) {
	return a.store.Get(ctx, id)
}

func (a *APIService) GetExecutions(
	ctx context.Context,
	status stepflow.ExecutionStatus,
	limit int,
) ([]*stepflow.WorkflowExecution, error) {
	return a.store.ListExecutions(ctx, status, limit)
}

func (a *APIService) GetExecutionApprovals(ctx context.Context, id string) ([]stepflow.Approval, error) {
	execution, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	approvals := execution.Metadata.Approvals
	if approvals == nil {
		approvals = []stepflow.Approval{}
	}

	return approvals, nil
}

func (a *APIService) GetWorkflow(ctx context.Context, id string) (*stepflow.Workflow, error) {
	return a.store.GetWorkflow(ctx, id)
}

func (a *APIService) GetStats(ctx context.Context) (map[stepflow.ExecutionStatus]int64, error) {
	return a.store.CountByStatus(ctx)
}

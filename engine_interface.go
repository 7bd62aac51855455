package stepflow

import (
	"context"
)

// IEngine is the surface external transports need: reading execution state
// and delivering the two external signals.
type IEngine interface {
	GetExecution(ctx context.Context, id string) (*WorkflowExecution, error)
	SubmitApproval(ctx context.Context, executionID, stepID, userID string, approved bool, comment *string) error
	CancelExecution(ctx context.Context, id, reason string) error
}

var _ IEngine = (*Engine)(nil)

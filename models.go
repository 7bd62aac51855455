package stepflow

import (
	"time"
)

type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusPaused    ExecutionStatus = "paused"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
// The retry path (failed -> pending) is driven by the engine before the
// execution is considered settled.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type StepType string

const (
	StepTypeDataEntry    StepType = "data-entry"
	StepTypeDocumentGen  StepType = "document-gen"
	StepTypeDecision     StepType = "decision"
	StepTypeIntegration  StepType = "integration"
	StepTypeApproval     StepType = "approval"
	StepTypeNotification StepType = "notification"
)

// BuiltinStepTypes lists the fixed step-type vocabulary in registration order.
var BuiltinStepTypes = []StepType{
	StepTypeDataEntry,
	StepTypeDocumentGen,
	StepTypeDecision,
	StepTypeIntegration,
	StepTypeApproval,
	StepTypeNotification,
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

type ConditionOperator string

const (
	OpEq       ConditionOperator = "eq"
	OpNe       ConditionOperator = "ne"
	OpGt       ConditionOperator = "gt"
	OpGte      ConditionOperator = "gte"
	OpLt       ConditionOperator = "lt"
	OpLte      ConditionOperator = "lte"
	OpContains ConditionOperator = "contains"
	OpIn       ConditionOperator = "in"
	OpNotIn    ConditionOperator = "not_in"
)

// Condition guards the transition out of a step. Field is a dot path into
// the execution data bag. An empty Target gates the whole successor set;
// a non-empty Target gates only that successor.
type Condition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    any               `json:"value"`
	Target   string            `json:"target,omitempty"`
}

type WorkflowStep struct {
	ID         string         `json:"id"`
	Type       StepType       `json:"type"`
	Name       string         `json:"name"`
	Config     map[string]any `json:"config,omitempty"`
	Timeout    time.Duration  `json:"timeout,omitempty"` // 0 = inherit workflow/global default
	Next       []string       `json:"next,omitempty"`
	Conditions []Condition    `json:"conditions,omitempty"`
}

type WorkflowVariable struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Default any    `json:"default,omitempty"`
}

type WorkflowSettings struct {
	Timeout            time.Duration `json:"timeout,omitempty"` // global per-step timeout
	ParallelExecution  bool          `json:"parallel_execution"`
	RequireApproval    bool          `json:"require_approval"`
	NotifyOnCompletion bool          `json:"notify_on_completion"`
}

// Workflow is an immutable definition. The engine never mutates it; the
// authoring process that produces one lives outside this package.
type Workflow struct {
	ID        string             `json:"id"`
	TenantID  string             `json:"tenant_id"`
	Name      string             `json:"name"`
	Version   int                `json:"version"`
	Steps     []WorkflowStep     `json:"steps"`
	Variables []WorkflowVariable `json:"variables,omitempty"`
	Settings  WorkflowSettings   `json:"settings"`
	CreatedAt time.Time          `json:"created_at"`
}

// Step returns the step with the given id, or nil.
func (w *Workflow) Step(id string) *WorkflowStep {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}

	return nil
}

// ExecutionContext carries the identity that triggered a run.
type ExecutionContext struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
}

type Approval struct {
	StepID      string         `json:"step_id"`
	UserID      string         `json:"user_id,omitempty"`
	Status      ApprovalStatus `json:"status"`
	RequestedAt time.Time      `json:"requested_at"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
	Comment     *string        `json:"comment,omitempty"`
}

type ExecutionMetadata struct {
	AttemptNumber    int        `json:"attempt_number"`
	RetryCount       int        `json:"retry_count"`
	Approvals        []Approval `json:"approvals,omitempty"`
	RequiresApproval bool       `json:"requires_approval"`
}

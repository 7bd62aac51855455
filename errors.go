package stepflow

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrExecutionNotFound = errors.New("execution not found")
	ErrApprovalNotFound  = errors.New("approval not found")
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrExecutorNotFound  = errors.New("step executor not found")
	ErrExecutionFinished = errors.New("execution already finished")
)

// Error codes attached to ExecutionError records.
const (
	CodeConfigError       = "CONFIG_ERROR"
	CodeStepError         = "STEP_ERROR"
	CodeApprovalRejected  = "APPROVAL_REJECTED"
	CodeNotFound          = "NOT_FOUND"
	CodeExecutionCanceled = "EXECUTION_CANCELLED"
)

// ExecutionError is the durable error record attached to an execution on
// fatal failure and carried by step-level failure events.
type ExecutionError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	StepID    string    `json:"step_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Stack     string    `json:"stack,omitempty"`
}

func (e *ExecutionError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("%s: %s (step %s)", e.Code, e.Message, e.StepID)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewExecutionError builds an error record with the current timestamp.
func NewExecutionError(code, message, stepID string) *ExecutionError {
	return &ExecutionError{
		Code:      code,
		Message:   message,
		StepID:    stepID,
		Timestamp: time.Now(),
	}
}

// asExecutionError coerces an arbitrary traversal error into a durable
// record, preserving an existing *ExecutionError unchanged.
func asExecutionError(err error, stepID string) *ExecutionError {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr
	}

	return NewExecutionError(CodeStepError, err.Error(), stepID)
}

// isConfigError reports whether the error belongs to the configuration
// taxonomy, which is surfaced synchronously and never retried.
func isConfigError(err error) bool {
	if errors.Is(err, ErrExecutorNotFound) || errors.Is(err, ErrWorkflowNotFound) {
		return true
	}

	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Code == CodeConfigError
	}

	return false
}

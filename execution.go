package stepflow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// WorkflowExecution is one run of a workflow. It is mutated by the engine's
// traversal goroutines and by external signals (approval, cancel), so every
// mutation goes through the internal lock. Callers outside the engine only
// ever see snapshots.
type WorkflowExecution struct {
	mu sync.RWMutex

	// claimed guards against double execution of a step within one attempt
	// when branches converge. Not persisted; reset on retry.
	claimed map[string]struct{}

	// deferred holds steps whose branch reached them while a gate kept the
	// execution paused; the approval resume picks them back up. Not
	// persisted; reset on retry.
	deferred map[string]struct{}

	// inflight counts concurrent traversals so completion settles only
	// after the last one unwinds.
	inflight int

	ID              string            `json:"id"`
	WorkflowID      string            `json:"workflow_id"`
	WorkflowVersion int               `json:"workflow_version"`
	TenantID        string            `json:"tenant_id"`
	Status          ExecutionStatus   `json:"status"`
	CurrentStep     string            `json:"current_step,omitempty"`
	CompletedSteps  []string          `json:"completed_steps"`
	Data            *DataBag          `json:"data"`
	Variables       map[string]any    `json:"variables,omitempty"`
	Context         ExecutionContext  `json:"context"`
	Error           *ExecutionError   `json:"error,omitempty"`
	Metadata        ExecutionMetadata `json:"metadata"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	DurationSeconds int64             `json:"duration_seconds"`
	CreatedAt       time.Time         `json:"created_at"`
}

func newExecution(wf *Workflow, execCtx ExecutionContext, initialData map[string]any) *WorkflowExecution {
	variables := make(map[string]any, len(wf.Variables))
	for _, v := range wf.Variables {
		variables[v.Name] = v.Default
	}
	// Caller-supplied values override declared defaults by name.
	for name := range variables {
		if override, ok := initialData[name]; ok {
			variables[name] = override
		}
	}

	requiresApproval := wf.Settings.RequireApproval
	for _, step := range wf.Steps {
		if step.Type == StepTypeApproval {
			requiresApproval = true

			break
		}
	}

	return &WorkflowExecution{
		ID:              uuid.NewString(),
		WorkflowID:      wf.ID,
		WorkflowVersion: wf.Version,
		TenantID:        wf.TenantID,
		Status:          StatusPending,
		CompletedSteps:  []string{},
		Data:            NewDataBag(initialData),
		Variables:       variables,
		Context:         execCtx,
		Metadata: ExecutionMetadata{
			AttemptNumber:    1,
			RequiresApproval: requiresApproval,
		},
		CreatedAt: time.Now(),
	}
}

// Snapshot returns a deep-enough copy for persistence and external reads:
// slices, approvals and the data bag are cloned, so later mutations of the
// live execution do not leak into the copy.
func (e *WorkflowExecution) Snapshot() *WorkflowExecution {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := &WorkflowExecution{
		ID:              e.ID,
		WorkflowID:      e.WorkflowID,
		WorkflowVersion: e.WorkflowVersion,
		TenantID:        e.TenantID,
		Status:          e.Status,
		CurrentStep:     e.CurrentStep,
		CompletedSteps:  append([]string{}, e.CompletedSteps...),
		Data:            e.Data.clone(),
		Variables:       make(map[string]any, len(e.Variables)),
		Context:         e.Context,
		Metadata:        e.Metadata,
		DurationSeconds: e.DurationSeconds,
		CreatedAt:       e.CreatedAt,
	}

	for k, v := range e.Variables {
		out.Variables[k] = v
	}
	out.Metadata.Approvals = append([]Approval{}, e.Metadata.Approvals...)

	if e.Error != nil {
		errCopy := *e.Error
		out.Error = &errCopy
	}
	if e.StartedAt != nil {
		t := *e.StartedAt
		out.StartedAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		out.CompletedAt = &t
	}

	return out
}

func (e *WorkflowExecution) CurrentStatus() ExecutionStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.Status
}

// markStarted transitions pending to running. It refuses any other source
// status, so a cancel that lands before the traversal goroutine gets going
// is not overwritten.
func (e *WorkflowExecution) markStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Status != StatusPending {
		return false
	}
	e.Status = StatusRunning
	if e.StartedAt == nil {
		now := time.Now()
		e.StartedAt = &now
	}

	return true
}

// pause parks a running execution at an approval gate.
func (e *WorkflowExecution) pause() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Status != StatusRunning {
		return false
	}
	e.Status = StatusPaused

	return true
}

// resume lifts a paused execution back to running.
func (e *WorkflowExecution) resume() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Status != StatusPaused {
		return false
	}
	e.Status = StatusRunning

	return true
}

func (e *WorkflowExecution) setCurrentStep(stepID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CurrentStep = stepID
}

// markStepCompleted appends the step to CompletedSteps exactly once.
func (e *WorkflowExecution) markStepCompleted(stepID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, done := range e.CompletedSteps {
		if done == stepID {
			return
		}
	}
	e.CompletedSteps = append(e.CompletedSteps, stepID)
}

func (e *WorkflowExecution) hasCompletedStep(stepID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, done := range e.CompletedSteps {
		if done == stepID {
			return true
		}
	}

	return false
}

// finish transitions to a terminal status and records timing, unless a
// terminal status is already set. Terminal statuses are monotonic: the
// first one wins.
func (e *WorkflowExecution) finish(status ExecutionStatus, execErr *ExecutionError) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Status.Terminal() {
		return false
	}
	e.finishLocked(status, execErr)

	return true
}

// finishIfRunning settles a terminal status only from running, so a pause
// or cancel that raced the last step wins over completion.
func (e *WorkflowExecution) finishIfRunning(status ExecutionStatus, execErr *ExecutionError) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Status != StatusRunning {
		return false
	}
	e.finishLocked(status, execErr)

	return true
}

// Duration is a non-negative whole number of seconds.
func (e *WorkflowExecution) finishLocked(status ExecutionStatus, execErr *ExecutionError) {
	now := time.Now()
	e.Status = status
	e.Error = execErr
	e.CompletedAt = &now
	if e.StartedAt != nil {
		seconds := int64(now.Sub(*e.StartedAt) / time.Second)
		if seconds < 0 {
			seconds = 0
		}
		e.DurationSeconds = seconds
	}
}

// prepareRetry resets the execution for a whole-workflow re-run: the error
// is cleared, counters advance and the completed-steps trail starts over.
// The data bag survives across attempts.
func (e *WorkflowExecution) prepareRetry() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Status = StatusPending
	e.Error = nil
	e.CompletedAt = nil
	e.CurrentStep = ""
	e.CompletedSteps = []string{}
	e.claimed = nil
	e.deferred = nil
	e.Metadata.RetryCount++
	e.Metadata.AttemptNumber++
}

// claimStep atomically marks the step as taken by one traversal path within
// the current attempt. The first caller wins; converging branches after it
// get false and skip.
func (e *WorkflowExecution) claimStep(stepID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.claimed == nil {
		e.claimed = make(map[string]struct{})
	}
	if _, taken := e.claimed[stepID]; taken {
		return false
	}
	e.claimed[stepID] = struct{}{}

	return true
}

// releaseStep gives the claim back so a paused gate can be re-entered.
func (e *WorkflowExecution) releaseStep(stepID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.claimed, stepID)
}

// deferStep parks a step whose branch arrived while the execution was
// paused, so no work is silently dropped at a gate.
func (e *WorkflowExecution) deferStep(stepID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deferred == nil {
		e.deferred = make(map[string]struct{})
	}
	e.deferred[stepID] = struct{}{}
}

// takeDeferred drains the parked steps.
func (e *WorkflowExecution) takeDeferred() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.deferred) == 0 {
		return nil
	}
	ids := make([]string, 0, len(e.deferred))
	for id := range e.deferred {
		ids = append(ids, id)
	}
	e.deferred = nil

	return ids
}

func (e *WorkflowExecution) beginTraversal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inflight++
}

// endTraversal returns the number of traversals still in flight.
func (e *WorkflowExecution) endTraversal() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inflight--

	return e.inflight
}

func (e *WorkflowExecution) currentStepID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.CurrentStep
}

func (e *WorkflowExecution) retryCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.Metadata.RetryCount
}

// addApproval creates a pending approval record for the step, unless one
// already exists (approval re-entry is idempotent). It returns a copy.
func (e *WorkflowExecution) addApproval(stepID string) Approval {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.Metadata.Approvals {
		if e.Metadata.Approvals[i].StepID == stepID && e.Metadata.Approvals[i].Status == ApprovalPending {
			return e.Metadata.Approvals[i]
		}
	}

	record := Approval{
		StepID:      stepID,
		Status:      ApprovalPending,
		RequestedAt: time.Now(),
	}
	e.Metadata.Approvals = append(e.Metadata.Approvals, record)

	return record
}

// resolveApproval settles the pending record for the step. It returns
// ErrApprovalNotFound when no pending record exists.
func (e *WorkflowExecution) resolveApproval(stepID, userID string, status ApprovalStatus, comment *string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.Metadata.Approvals {
		approval := &e.Metadata.Approvals[i]
		if approval.StepID == stepID && approval.Status == ApprovalPending {
			now := time.Now()
			approval.UserID = userID
			approval.Status = status
			approval.DecidedAt = &now
			approval.Comment = comment

			return nil
		}
	}

	return ErrApprovalNotFound
}

// approvalState returns the status of the most recent approval record for
// the step, or ("", false) when none exists.
func (e *WorkflowExecution) approvalState(stepID string) (ApprovalStatus, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for i := len(e.Metadata.Approvals) - 1; i >= 0; i-- {
		if e.Metadata.Approvals[i].StepID == stepID {
			return e.Metadata.Approvals[i].Status, true
		}
	}

	return "", false
}

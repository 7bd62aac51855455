package stepflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultStepTimeout bounds a step executor when neither the step nor
	// the workflow settings declare a timeout.
	DefaultStepTimeout = 300 * time.Second

	// RetryCeiling is the maximum number of whole-workflow re-attempts
	// after a fatal failure.
	RetryCeiling = 3

	defaultRetryBaseDelay = time.Second
	defaultEvictionGrace  = 5 * time.Minute
)

// Engine orchestrates workflow executions: it starts runs, walks the step
// graph, fans out parallel groups, pauses at approval gates, retries on
// failure and emits lifecycle events. One process owns an execution's live
// state; the ExecutionTracker is the durable source of truth.
type Engine struct {
	tracker      ExecutionTracker
	repository   WorkflowRepository
	registry     *ExecutorRegistry
	bus          *EventBus
	logger       *slog.Logger
	integrations IntegrationService

	stepTimeout    time.Duration
	retryBaseDelay time.Duration
	evictionGrace  time.Duration

	mu         sync.RWMutex
	executions map[string]*WorkflowExecution
	workflows  map[string]*Workflow
	runs       map[string]*run

	timerMu sync.Mutex
	timers  map[string]*time.Timer

	wg sync.WaitGroup
}

// run carries the per-execution context used for cooperative cancellation.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func NewEngine(opts ...EngineOption) *Engine {
	engine := &Engine{
		stepTimeout:    DefaultStepTimeout,
		retryBaseDelay: defaultRetryBaseDelay,
		evictionGrace:  defaultEvictionGrace,
		executions:     make(map[string]*WorkflowExecution),
		workflows:      make(map[string]*Workflow),
		runs:           make(map[string]*run),
		timers:         make(map[string]*time.Timer),
	}

	for _, opt := range opts {
		opt(engine)
	}

	if engine.tracker == nil {
		engine.tracker = NewMemoryTracker()
	}
	if engine.repository == nil {
		if repo, ok := engine.tracker.(WorkflowRepository); ok {
			engine.repository = repo
		}
	}
	if engine.registry == nil {
		engine.registry = NewDefaultRegistry(engine.integrations)
	}
	if engine.bus == nil {
		engine.bus = NewEventBus()
	}
	if engine.logger == nil {
		engine.logger = slog.Default()
	}

	return engine
}

// RegisterExecutor replaces the executor for a step type.
func (engine *Engine) RegisterExecutor(stepType StepType, executor StepExecutor) {
	engine.registry.Register(stepType, executor)
}

// Events exposes the engine's event bus for observer registration.
func (engine *Engine) Events() *EventBus {
	return engine.bus
}

// Shutdown cancels pending retry timers and waits for in-flight traversals.
func (engine *Engine) Shutdown() {
	engine.timerMu.Lock()
	for id, timer := range engine.timers {
		if timer.Stop() {
			engine.wg.Done()
		}
		delete(engine.timers, id)
	}
	engine.timerMu.Unlock()

	engine.mu.Lock()
	for _, r := range engine.runs {
		r.cancel()
	}
	engine.mu.Unlock()

	engine.wg.Wait()
}

// StartWorkflow validates the definition, creates and persists a pending
// execution and kicks off asynchronous traversal. The call returns before
// the workflow completes; the workflow.started event marks the actual
// begin of execution.
func (engine *Engine) StartWorkflow(
	ctx context.Context,
	wf *Workflow,
	execCtx ExecutionContext,
	initialData map[string]any,
) (*WorkflowExecution, error) {
	if err := ValidateWorkflow(wf); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}

	for _, step := range wf.Steps {
		if !engine.registry.Known(step.Type) {
			return nil, fmt.Errorf("invalid workflow: %w: %s (step %s)", ErrExecutorNotFound, step.Type, step.ID)
		}
	}

	execution := newExecution(wf, execCtx, initialData)

	if err := engine.tracker.Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	if engine.repository != nil {
		if err := engine.repository.SaveWorkflow(ctx, wf); err != nil {
			engine.logger.Warn("[stepflow] save workflow for resume failed",
				"workflow_id", wf.ID, "error", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())

	engine.mu.Lock()
	engine.executions[execution.ID] = execution
	engine.workflows[wf.ID] = wf
	engine.runs[execution.ID] = &run{ctx: runCtx, cancel: cancel}
	engine.mu.Unlock()

	engine.wg.Add(1)
	go func() {
		defer engine.wg.Done()
		engine.runExecution(runCtx, wf, execution)
	}()

	return execution.Snapshot(), nil
}

// GetExecution returns a snapshot from the live map, falling back to the
// tracker for anything already evicted. Failed executions stay queryable
// with their full error trail.
func (engine *Engine) GetExecution(ctx context.Context, id string) (*WorkflowExecution, error) {
	engine.mu.RLock()
	execution, ok := engine.executions[id]
	engine.mu.RUnlock()

	if ok {
		return execution.Snapshot(), nil
	}

	return engine.tracker.Get(ctx, id)
}

// SubmitApproval resolves the pending approval record for the step. On
// approval the execution transitions back to running and traversal resumes
// from the approval step itself; the resolved record lets the gate fall
// through, so re-entry is idempotent. On rejection the execution fails
// terminally with APPROVAL_REJECTED and is never retried.
func (engine *Engine) SubmitApproval(
	ctx context.Context,
	executionID, stepID, userID string,
	approved bool,
	comment *string,
) error {
	execution, err := engine.liveExecution(executionID)
	if err != nil {
		return err
	}

	if execution.CurrentStatus().Terminal() {
		return fmt.Errorf("approval for execution %s: %w", executionID, ErrExecutionFinished)
	}

	status := ApprovalRejected
	if approved {
		status = ApprovalApproved
	}

	if err := execution.resolveApproval(stepID, userID, status, comment); err != nil {
		return fmt.Errorf("approval for step %s: %w", stepID, err)
	}

	engine.persist(ctx, execution)

	now := time.Now()
	record := &Approval{
		StepID:    stepID,
		UserID:    userID,
		Status:    status,
		DecidedAt: &now,
		Comment:   comment,
	}
	engine.emit(Event{Type: EventApprovalSubmitted, Execution: execution.Snapshot(), Approval: record})

	if !approved {
		execErr := NewExecutionError(CodeApprovalRejected, "approval rejected by "+userID, stepID)
		if execution.finish(StatusFailed, execErr) {
			engine.persist(ctx, execution)
			engine.emit(Event{Type: EventWorkflowFailed, Execution: execution.Snapshot(), Err: execErr})
			engine.scheduleEviction(executionID)
		}

		return nil
	}

	wf, err := engine.lookupWorkflow(ctx, execution.WorkflowID)
	if err != nil {
		return err
	}

	step := wf.Step(stepID)
	if step == nil {
		return fmt.Errorf("step %s not found in workflow %s", stepID, wf.ID)
	}

	if !execution.resume() {
		return fmt.Errorf("approval for execution %s: %w", executionID, ErrExecutionFinished)
	}
	engine.persist(ctx, execution)

	// Branches that arrived while the gate held the execution paused
	// resume alongside the gate itself, so none of their work is lost.
	resumeSteps := []*WorkflowStep{step}
	for _, deferredID := range execution.takeDeferred() {
		if deferredID == stepID {
			continue
		}
		if parked := wf.Step(deferredID); parked != nil {
			resumeSteps = append(resumeSteps, parked)
		}
	}

	runCtx := engine.runContext(executionID)

	engine.wg.Add(1)
	go func() {
		defer engine.wg.Done()
		engine.runFrom(runCtx, wf, execution, resumeSteps...)
	}()

	return nil
}

// CancelExecution transitions a non-terminal execution to cancelled and
// cancels its run context. Cancellation is cooperative: an in-flight step
// executor is not forcibly aborted, it only observes the context.
func (engine *Engine) CancelExecution(ctx context.Context, id, reason string) error {
	execution, err := engine.liveExecution(id)
	if err != nil {
		return err
	}

	var execErr *ExecutionError
	if reason != "" {
		execErr = NewExecutionError(CodeExecutionCanceled, reason, "")
	}

	// Settle the terminal status before cancelling the run context, so a
	// traversal unwinding on the cancelled context cannot settle a
	// different outcome afterwards.
	if !execution.finish(StatusCancelled, execErr) {
		return fmt.Errorf("cancel execution %s: %w", id, ErrExecutionFinished)
	}

	engine.mu.RLock()
	r := engine.runs[id]
	engine.mu.RUnlock()
	if r != nil {
		r.cancel()
	}
	engine.stopRetryTimer(id)

	engine.persist(ctx, execution)
	engine.emit(Event{Type: EventExecutionCancelled, Execution: execution.Snapshot(), Err: execErr})
	engine.scheduleEviction(id)

	return nil
}

func (engine *Engine) runExecution(ctx context.Context, wf *Workflow, execution *WorkflowExecution) {
	if !execution.markStarted() {
		// A cancel won the race before traversal began.
		return
	}
	engine.persist(ctx, execution)
	engine.emit(Event{Type: EventWorkflowStarted, Workflow: wf, Execution: execution.Snapshot()})

	start, err := findStartStep(wf)
	if err != nil {
		engine.handleExecutionFailure(ctx, wf, execution, NewExecutionError(CodeConfigError, err.Error(), ""))

		return
	}

	engine.runFrom(ctx, wf, execution, start)
}

// runFrom drives traversal from the given steps and settles the outcome:
// completion when the graph is exhausted, failure handling (and possibly a
// scheduled retry) on error, nothing when paused or cancelled. An approval
// resume can overlap the original traversal, so only the last traversal to
// unwind may settle completion.
func (engine *Engine) runFrom(ctx context.Context, wf *Workflow, execution *WorkflowExecution, steps ...*WorkflowStep) {
	execution.beginTraversal()

	var err error
	switch {
	case len(steps) == 1:
		err = engine.executeStep(ctx, wf, execution, steps[0])
	case wf.Settings.ParallelExecution:
		err = engine.executeParallelGroup(ctx, wf, execution, steps)
	default:
		for _, step := range steps {
			if err = engine.executeStep(ctx, wf, execution, step); err != nil {
				break
			}
		}
	}

	remaining := execution.endTraversal()

	if err != nil {
		engine.handleExecutionFailure(ctx, wf, execution, err)

		return
	}

	if remaining == 0 && execution.CurrentStatus() == StatusRunning {
		engine.completeWorkflow(ctx, wf, execution)
	}
}

func (engine *Engine) executeStep(
	ctx context.Context,
	wf *Workflow,
	execution *WorkflowExecution,
	step *WorkflowStep,
) error {
	if ctx.Err() != nil {
		return nil
	}
	if status := execution.CurrentStatus(); status != StatusRunning {
		// A branch that arrives while a gate holds the execution paused is
		// parked; the approval resume launches it again.
		if status == StatusPaused {
			execution.deferStep(step.ID)
		}

		return nil
	}

	// Converging edges deliver a step more than once; only the first
	// arrival within an attempt executes it.
	if !execution.claimStep(step.ID) {
		return nil
	}

	execution.setCurrentStep(step.ID)
	engine.persist(ctx, execution)

	if step.Type == StepTypeApproval {
		proceed, err := engine.gateApproval(ctx, execution, step)
		if err != nil || !proceed {
			return err
		}
	} else {
		executor, err := engine.registry.Resolve(step.Type)
		if err != nil {
			return fmt.Errorf("step %s: %w", step.ID, err)
		}

		engine.emit(Event{Type: EventStepStarted, Workflow: wf, Execution: execution.Snapshot(), Step: step})

		if err := engine.runStepWithTimeout(ctx, wf, executor, step, execution); err != nil {
			if ctx.Err() != nil {
				// External cancellation, already settled elsewhere.
				return nil
			}

			stepErr := asExecutionError(err, step.ID)
			engine.emit(Event{Type: EventStepFailed, Workflow: wf, Execution: execution.Snapshot(), Step: step, Err: stepErr})

			return stepErr
		}
	}

	execution.markStepCompleted(step.ID)
	engine.persist(ctx, execution)
	engine.emit(Event{Type: EventStepCompleted, Workflow: wf, Execution: execution.Snapshot(), Step: step})

	nextSteps := engine.resolveNextSteps(wf, step, execution)

	switch len(nextSteps) {
	case 0:
		return nil
	case 1:
		// Single successor stays on the same call stack.
		return engine.executeStep(ctx, wf, execution, nextSteps[0])
	default:
		if wf.Settings.ParallelExecution {
			return engine.executeParallelGroup(ctx, wf, execution, nextSteps)
		}

		// Sequential policy: each successor is its own singleton group.
		for _, next := range nextSteps {
			if err := engine.executeStep(ctx, wf, execution, next); err != nil {
				return err
			}
		}

		return nil
	}
}

// gateApproval handles an approval step before executor dispatch. It
// returns true when a resolved approval lets traversal pass the gate.
func (engine *Engine) gateApproval(ctx context.Context, execution *WorkflowExecution, step *WorkflowStep) (bool, error) {
	if state, ok := execution.approvalState(step.ID); ok {
		switch state {
		case ApprovalApproved:
			return true, nil
		case ApprovalRejected:
			// SubmitApproval already settled the execution.
			return false, nil
		}
	}

	record := execution.addApproval(step.ID)
	if !execution.pause() {
		// A cancel or a sibling failure settled the execution first.
		return false, nil
	}
	// The resume path re-enters this step, so the claim must not stick.
	execution.releaseStep(step.ID)
	engine.persist(ctx, execution)

	engine.emit(Event{Type: EventApprovalRequested, Execution: execution.Snapshot(), Step: step, Approval: &record})

	return false, nil
}

// runStepWithTimeout races the executor against the effective timeout:
// the step's own, else the workflow's global, else the engine default.
func (engine *Engine) runStepWithTimeout(
	ctx context.Context,
	wf *Workflow,
	executor StepExecutor,
	step *WorkflowStep,
	execution *WorkflowExecution,
) error {
	timeout := step.Timeout
	if timeout == 0 {
		timeout = wf.Settings.Timeout
	}
	if timeout == 0 {
		timeout = engine.stepTimeout
	}

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- executor.Execute(stepCtx, step, execution)
	}()

	select {
	case err := <-done:
		return err
	case <-stepCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return NewExecutionError(CodeStepError, "step execution timeout", step.ID)
	}
}

// resolveNextSteps computes the eligible successor set. Without conditions
// every declared successor is eligible. Untargeted conditions gate the
// whole set; a targeted condition gates only its successor, and successors
// no condition targets stay eligible.
func (engine *Engine) resolveNextSteps(wf *Workflow, step *WorkflowStep, execution *WorkflowExecution) []*WorkflowStep {
	if len(step.Next) == 0 {
		return nil
	}

	data := execution.Data.Snapshot()

	var global []Condition
	targeted := make(map[string][]Condition)
	for _, cond := range step.Conditions {
		if cond.Target == "" {
			global = append(global, cond)
		} else {
			targeted[cond.Target] = append(targeted[cond.Target], cond)
		}
	}

	if !EvaluateAll(global, data) {
		return nil
	}

	eligible := make([]*WorkflowStep, 0, len(step.Next))
	for _, nextID := range step.Next {
		if conds, gated := targeted[nextID]; gated && !EvaluateAll(conds, data) {
			continue
		}

		if next := wf.Step(nextID); next != nil {
			eligible = append(eligible, next)
		}
	}

	return eligible
}

// executeParallelGroup runs the whole successor set as one fan-out. Every
// member's sub-traversal must finish before the group completes; the first
// member error cancels the siblings and fails the execution.
func (engine *Engine) executeParallelGroup(
	ctx context.Context,
	wf *Workflow,
	execution *WorkflowExecution,
	group []*WorkflowStep,
) error {
	g, groupCtx := errgroup.WithContext(ctx)

	for _, member := range group {
		g.Go(func() error {
			return engine.executeStep(groupCtx, wf, execution, member)
		})
	}

	return g.Wait()
}

func (engine *Engine) completeWorkflow(ctx context.Context, wf *Workflow, execution *WorkflowExecution) {
	// Strictly running to completed: a pause or cancel that raced the last
	// step keeps its outcome.
	if !execution.finishIfRunning(StatusCompleted, nil) {
		return
	}
	execution.setCurrentStep("")
	engine.persist(ctx, execution)
	engine.emit(Event{Type: EventWorkflowCompleted, Workflow: wf, Execution: execution.Snapshot()})
	engine.scheduleEviction(execution.ID)
}

// handleExecutionFailure records the failure durably, then either leaves
// the execution terminal (configuration errors, exhausted ceiling) or
// schedules a whole-workflow re-run after an exponential backoff.
func (engine *Engine) handleExecutionFailure(
	ctx context.Context,
	wf *Workflow,
	execution *WorkflowExecution,
	err error,
) {
	execErr := asExecutionError(err, execution.currentStepID())
	if !execution.finish(StatusFailed, execErr) {
		// Another traversal or a cancel already settled the execution.
		return
	}
	engine.persist(ctx, execution)
	engine.emit(Event{Type: EventWorkflowFailed, Workflow: wf, Execution: execution.Snapshot(), Err: execErr})

	if isConfigError(err) {
		engine.scheduleEviction(execution.ID)

		return
	}

	if execution.retryCount() >= RetryCeiling {
		engine.logger.Warn("[stepflow] retry ceiling reached",
			"execution_id", execution.ID, "workflow_id", execution.WorkflowID,
			"retry_count", execution.retryCount())
		engine.scheduleEviction(execution.ID)

		return
	}

	execution.prepareRetry()
	engine.persist(ctx, execution)

	delay := CalculateRetryDelay(RetryStrategyExponential, engine.retryBaseDelay, execution.retryCount())
	engine.logger.Info("[stepflow] scheduling retry",
		"execution_id", execution.ID, "retry_count", execution.retryCount(), "delay", delay)

	engine.scheduleRetry(execution, delay)
}

func (engine *Engine) scheduleRetry(execution *WorkflowExecution, delay time.Duration) {
	engine.wg.Add(1)

	timer := time.AfterFunc(delay, func() {
		defer engine.wg.Done()
		engine.stopRetryTimer(execution.ID)

		if execution.CurrentStatus() != StatusPending {
			// Cancelled while waiting for the backoff timer.
			return
		}

		runCtx := engine.runContext(execution.ID)
		wf, err := engine.lookupWorkflow(runCtx, execution.WorkflowID)
		if err != nil {
			engine.handleExecutionFailure(runCtx, nil, execution,
				NewExecutionError(CodeConfigError, err.Error(), ""))

			return
		}

		engine.runExecution(runCtx, wf, execution)
	})

	engine.timerMu.Lock()
	if old, ok := engine.timers[execution.ID]; ok {
		old.Stop()
	}
	engine.timers[execution.ID] = timer
	engine.timerMu.Unlock()
}

func (engine *Engine) stopRetryTimer(id string) {
	engine.timerMu.Lock()
	defer engine.timerMu.Unlock()

	if timer, ok := engine.timers[id]; ok {
		if timer.Stop() {
			engine.wg.Done()
		}
		delete(engine.timers, id)
	}
}

func (engine *Engine) liveExecution(id string) (*WorkflowExecution, error) {
	engine.mu.RLock()
	defer engine.mu.RUnlock()

	execution, ok := engine.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, ErrExecutionNotFound)
	}

	return execution, nil
}

func (engine *Engine) runContext(id string) context.Context {
	engine.mu.RLock()
	defer engine.mu.RUnlock()

	if r, ok := engine.runs[id]; ok {
		return r.ctx
	}

	return context.Background()
}

func (engine *Engine) lookupWorkflow(ctx context.Context, id string) (*Workflow, error) {
	engine.mu.RLock()
	wf, ok := engine.workflows[id]
	engine.mu.RUnlock()

	if ok {
		return wf, nil
	}

	if engine.repository == nil {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrWorkflowNotFound)
	}

	wf, err := engine.repository.GetWorkflow(ctx, id)
	if err != nil {
		if errors.Is(err, ErrWorkflowNotFound) {
			return nil, err
		}

		return nil, fmt.Errorf("workflow %s: %w", id, err)
	}

	return wf, nil
}

func (engine *Engine) persist(ctx context.Context, execution *WorkflowExecution) {
	if err := engine.tracker.Update(ctx, execution); err != nil {
		engine.logger.Error("[stepflow] persist execution failed",
			"execution_id", execution.ID, "error", err)
	}
}

func (engine *Engine) emit(event Event) {
	engine.bus.Publish(event)
}

// scheduleEviction drops a terminal execution from the live maps after the
// grace period; the tracker keeps the durable record.
func (engine *Engine) scheduleEviction(id string) {
	if engine.evictionGrace <= 0 {
		return
	}

	time.AfterFunc(engine.evictionGrace, func() {
		engine.mu.Lock()
		defer engine.mu.Unlock()

		if execution, ok := engine.executions[id]; ok && execution.CurrentStatus().Terminal() {
			delete(engine.executions, id)
			if r, ok := engine.runs[id]; ok {
				r.cancel()
				delete(engine.runs, id)
			}
		}
	})
}

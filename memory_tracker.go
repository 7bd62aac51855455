package stepflow

import (
	"context"
	"sort"
	"sync"
	"time"
)

var (
	_ ExecutionTracker   = (*MemoryTracker)(nil)
	_ WorkflowRepository = (*MemoryTracker)(nil)
)

// MemoryTracker is the in-memory reference implementation of the tracker
// and workflow repository contracts. Every write stores a snapshot, so a
// later Get replays exactly what was persisted, not the live object.
type MemoryTracker struct {
	mu         sync.RWMutex
	executions map[string]*WorkflowExecution
	workflows  map[string]*Workflow
	updates    map[string]int
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		executions: make(map[string]*WorkflowExecution),
		workflows:  make(map[string]*Workflow),
		updates:    make(map[string]int),
	}
}

func (t *MemoryTracker) Create(_ context.Context, execution *WorkflowExecution) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.executions[execution.ID] = execution.Snapshot()

	return nil
}

func (t *MemoryTracker) Update(_ context.Context, execution *WorkflowExecution) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.executions[execution.ID]; !exists {
		return ErrExecutionNotFound
	}

	t.executions[execution.ID] = execution.Snapshot()
	t.updates[execution.ID]++

	return nil
}

func (t *MemoryTracker) Get(_ context.Context, id string) (*WorkflowExecution, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	execution, exists := t.executions[id]
	if !exists {
		return nil, ErrExecutionNotFound
	}

	return execution.Snapshot(), nil
}

// UpdateCount reports how many Update calls were persisted for an
// execution. Useful for asserting the persist-after-every-step contract.
func (t *MemoryTracker) UpdateCount(id string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.updates[id]
}

func (t *MemoryTracker) SaveWorkflow(_ context.Context, workflow *Workflow) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.workflows[workflow.ID] = workflow

	return nil
}

func (t *MemoryTracker) GetWorkflow(_ context.Context, id string) (*Workflow, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	workflow, exists := t.workflows[id]
	if !exists {
		return nil, ErrWorkflowNotFound
	}

	return workflow, nil
}

// ListExecutions returns stored snapshots, newest first, optionally
// filtered by status. A zero-value status means no filter.
func (t *MemoryTracker) ListExecutions(
	_ context.Context,
	status ExecutionStatus,
	limit int,
) ([]*WorkflowExecution, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var executions []*WorkflowExecution
	for _, execution := range t.executions {
		if status != "" && execution.Status != status {
			continue
		}
		executions = append(executions, execution.Snapshot())
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})
	if len(executions) > limit {
		executions = executions[:limit]
	}

	return executions, nil
}

// CountByStatus returns execution counts grouped by status.
func (t *MemoryTracker) CountByStatus(_ context.Context) (map[ExecutionStatus]int64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[ExecutionStatus]int64)
	for _, execution := range t.executions {
		counts[execution.Status]++
	}

	return counts, nil
}

// Prune removes terminal executions whose completion is older than the
// grace period and returns how many were dropped.
func (t *MemoryTracker) Prune(grace time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-grace)
	pruned := 0
	for id, execution := range t.executions {
		if !execution.Status.Terminal() || execution.CompletedAt == nil {
			continue
		}
		if execution.CompletedAt.Before(cutoff) {
			delete(t.executions, id)
			delete(t.updates, id)
			pruned++
		}
	}

	return pruned
}

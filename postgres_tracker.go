package stepflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	_ ExecutionTracker   = (*PostgresTracker)(nil)
	_ WorkflowRepository = (*PostgresTracker)(nil)
)

// PostgresTracker persists executions and workflow definitions in
// PostgreSQL. The full execution snapshot lives in a JSONB column; a few
// fields are extracted into columns for indexing and monitor queries.
type PostgresTracker struct {
	pool *pgxpool.Pool
}

func NewPostgresTracker(pool *pgxpool.Pool) *PostgresTracker {
	return &PostgresTracker{pool: pool}
}

func (tracker *PostgresTracker) Create(ctx context.Context, execution *WorkflowExecution) error {
	snapshot := execution.Snapshot()

	state, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal execution state: %w", err)
	}

	const query = `
INSERT INTO stepflow.executions (id, workflow_id, tenant_id, status, current_step, state, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`

	_, err = tracker.pool.Exec(ctx, query,
		snapshot.ID, snapshot.WorkflowID, snapshot.TenantID,
		snapshot.Status, snapshot.CurrentStep, state, snapshot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}

	return nil
}

func (tracker *PostgresTracker) Update(ctx context.Context, execution *WorkflowExecution) error {
	snapshot := execution.Snapshot()

	state, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal execution state: %w", err)
	}

	const query = `
UPDATE stepflow.executions
SET status = $2, current_step = $3, state = $4, updated_at = $5
WHERE id = $1`

	tag, err := tracker.pool.Exec(ctx, query,
		snapshot.ID, snapshot.Status, snapshot.CurrentStep, state, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExecutionNotFound
	}

	return nil
}

func (tracker *PostgresTracker) Get(ctx context.Context, id string) (*WorkflowExecution, error) {
	const query = `SELECT state FROM stepflow.executions WHERE id = $1`

	var state []byte
	err := tracker.pool.QueryRow(ctx, query, id).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}

		return nil, fmt.Errorf("select execution: %w", err)
	}

	var execution WorkflowExecution
	if err := json.Unmarshal(state, &execution); err != nil {
		return nil, fmt.Errorf("unmarshal execution state: %w", err)
	}

	return &execution, nil
}

func (tracker *PostgresTracker) SaveWorkflow(ctx context.Context, workflow *Workflow) error {
	definition, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}

	// Arbitrate on the primary key: the engine re-saves the definition on
	// every start, always under the same id.
	const query = `
INSERT INTO stepflow.workflows (id, tenant_id, name, version, definition, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE
SET tenant_id = EXCLUDED.tenant_id,
    name = EXCLUDED.name,
    version = EXCLUDED.version,
    definition = EXCLUDED.definition`

	_, err = tracker.pool.Exec(ctx, query,
		workflow.ID, workflow.TenantID, workflow.Name, workflow.Version,
		definition, workflow.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}

	return nil
}

func (tracker *PostgresTracker) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	const query = `SELECT definition FROM stepflow.workflows WHERE id = $1`

	var definition []byte
	err := tracker.pool.QueryRow(ctx, query, id).Scan(&definition)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("select workflow: %w", err)
	}

	var workflow Workflow
	if err := json.Unmarshal(definition, &workflow); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}

	return &workflow, nil
}

// ListExecutions returns recent execution snapshots, optionally filtered by
// status. A zero-value status means no filter.
func (tracker *PostgresTracker) ListExecutions(
	ctx context.Context,
	status ExecutionStatus,
	limit int,
) ([]*WorkflowExecution, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows pgx.Rows
		err  error
	)

	if status == "" {
		const query = `
SELECT state FROM stepflow.executions
ORDER BY created_at DESC
LIMIT $1`
		rows, err = tracker.pool.Query(ctx, query, limit)
	} else {
		const query = `
SELECT state FROM stepflow.executions
WHERE status = $1
ORDER BY created_at DESC
LIMIT $2`
		rows, err = tracker.pool.Query(ctx, query, status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("select executions: %w", err)
	}
	defer rows.Close()

	var executions []*WorkflowExecution
	for rows.Next() {
		var state []byte
		if err := rows.Scan(&state); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}

		var execution WorkflowExecution
		if err := json.Unmarshal(state, &execution); err != nil {
			return nil, fmt.Errorf("unmarshal execution state: %w", err)
		}
		executions = append(executions, &execution)
	}

	return executions, rows.Err()
}

// CountByStatus returns execution counts grouped by status.
func (tracker *PostgresTracker) CountByStatus(ctx context.Context) (map[ExecutionStatus]int64, error) {
	const query = `
SELECT status, COUNT(*) FROM stepflow.executions
GROUP BY status`

	rows, err := tracker.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count executions: %w", err)
	}
	defer rows.Close()

	counts := make(map[ExecutionStatus]int64)
	for rows.Next() {
		var status ExecutionStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = count
	}

	return counts, rows.Err()
}

// DeleteTerminalBefore removes completed, failed and cancelled executions
// last updated before the cutoff. It returns the number of rows removed.
func (tracker *PostgresTracker) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
DELETE FROM stepflow.executions
WHERE status IN ($1, $2, $3) AND updated_at < $4`

	tag, err := tracker.pool.Exec(ctx, query,
		StatusCompleted, StatusFailed, StatusCancelled, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete executions: %w", err)
	}

	return tag.RowsAffected(), nil
}

package stepflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var (
	_ ExecutionTracker   = (*SQLiteTracker)(nil)
	_ WorkflowRepository = (*SQLiteTracker)(nil)
)

// SQLiteTracker is a lightweight tracker backed by SQLite, suitable for
// single-process deployments and tests. Writes are serialized through a
// mutex because the store runs on a single connection.
type SQLiteTracker struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteInMemoryTracker creates a private in-memory SQLite database and
// initializes the schema.
func NewSQLiteInMemoryTracker() (*SQLiteTracker, error) {
	return NewSQLiteTracker(":memory:")
}

func NewSQLiteTracker(dsn string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	_, _ = db.Exec("PRAGMA journal_mode=WAL;")
	_, _ = db.Exec("PRAGMA foreign_keys=ON;")
	_, _ = db.Exec("PRAGMA busy_timeout=5000;")
	// single connection keeps :memory: consistent and avoids lock errors
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	tracker := &SQLiteTracker{db: db}
	if err := RunSQLiteMigrations(context.Background(), db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return tracker, nil
}

func (tracker *SQLiteTracker) Close() error {
	return tracker.db.Close()
}

func (tracker *SQLiteTracker) Create(ctx context.Context, execution *WorkflowExecution) error {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()

	snapshot := execution.Snapshot()

	state, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal execution state: %w", err)
	}

	const query = `
INSERT INTO executions (id, workflow_id, tenant_id, status, current_step, state, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tracker.db.ExecContext(ctx, query,
		snapshot.ID, snapshot.WorkflowID, snapshot.TenantID,
		snapshot.Status, snapshot.CurrentStep, state, snapshot.CreatedAt, snapshot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}

	return nil
}

func (tracker *SQLiteTracker) Update(ctx context.Context, execution *WorkflowExecution) error {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()

	snapshot := execution.Snapshot()

	state, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal execution state: %w", err)
	}

	const query = `
UPDATE executions SET status = ?, current_step = ?, state = ?, updated_at = ?
WHERE id = ?`

	res, err := tracker.db.ExecContext(ctx, query,
		snapshot.Status, snapshot.CurrentStep, state, time.Now(), snapshot.ID,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrExecutionNotFound
	}

	return nil
}

func (tracker *SQLiteTracker) Get(ctx context.Context, id string) (*WorkflowExecution, error) {
	const query = `SELECT state FROM executions WHERE id = ?`

	var state []byte
	err := tracker.db.QueryRowContext(ctx, query, id).Scan(&state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

func (tracker *SQLiteTracker) SaveWorkflow(ctx context.Context, workflow *Workflow) error {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()

	definition, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}

	const query = `
INSERT INTO workflows (id, tenant_id, name, version, definition, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	tenant_id = excluded.tenant_id,
	name = excluded.name,
	version = excluded.version,
	definition = excluded.definition`

	_, err = tracker.db.ExecContext(ctx, query,
		workflow.ID, workflow.TenantID, workflow.Name, workflow.Version,
		definition, workflow.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}

	return nil
}

func (tracker *SQLiteTracker) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	const query = `SELECT definition FROM workflows WHERE id = ?`

	var definition []byte
	err := tracker.db.QueryRowContext(ctx, query, id).Scan(&definition)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

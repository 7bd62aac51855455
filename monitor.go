package stepflow

import (
	"context"
	"time"
)

// Monitor answers operational queries over a PostgresTracker: per-workflow
// aggregates and the set of executions still in flight.
type Monitor struct {
	tracker *PostgresTracker
}

func NewMonitor(tracker *PostgresTracker) *Monitor {
	return &Monitor{tracker: tracker}
}

type WorkflowStats struct {
	WorkflowID          string        `json:"workflow_id"`
	TotalExecutions     int64         `json:"total_executions"`
	CompletedExecutions int64         `json:"completed_executions"`
	FailedExecutions    int64         `json:"failed_executions"`
	RunningExecutions   int64         `json:"running_executions"`
	PausedExecutions    int64         `json:"paused_executions"`
	AverageDuration     time.Duration `json:"average_duration"`
}

func (m *Monitor) GetWorkflowStats(ctx context.Context) ([]WorkflowStats, error) {
	const query = `
SELECT
	workflow_id,
	COUNT(*),
	COUNT(*) FILTER (WHERE status = 'completed'),
	COUNT(*) FILTER (WHERE status = 'failed'),
	COUNT(*) FILTER (WHERE status = 'running'),
	COUNT(*) FILTER (WHERE status = 'paused'),
	AVG((state->>'duration_seconds')::bigint) FILTER (WHERE status = 'completed')
FROM stepflow.executions
GROUP BY workflow_id
ORDER BY workflow_id`

	rows, err := m.tracker.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []WorkflowStats
	for rows.Next() {
		var s WorkflowStats
		var avgSeconds *float64

		err := rows.Scan(
			&s.WorkflowID,
			&s.TotalExecutions,
			&s.CompletedExecutions,
			&s.FailedExecutions,
			&s.RunningExecutions,
			&s.PausedExecutions,
			&avgSeconds,
		)
		if err != nil {
			return nil, err
		}

		if avgSeconds != nil {
			s.AverageDuration = time.Duration(*avgSeconds * float64(time.Second))
		}

		stats = append(stats, s)
	}

	return stats, rows.Err()
}

type ActiveExecution struct {
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	CurrentStep string          `json:"current_step"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// GetActiveExecutions returns executions that have not reached a terminal
// status, oldest first.
func (m *Monitor) GetActiveExecutions(ctx context.Context) ([]ActiveExecution, error) {
	const query = `
SELECT id, workflow_id, status, current_step, created_at, updated_at
FROM stepflow.executions
WHERE status IN ('pending', 'running', 'paused')
ORDER BY created_at`

	rows, err := m.tracker.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var active []ActiveExecution
	for rows.Next() {
		var a ActiveExecution
		err := rows.Scan(
			&a.ExecutionID,
			&a.WorkflowID,
			&a.Status,
			&a.CurrentStep,
			&a.CreatedAt,
			&a.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		active = append(active, a)
	}

	return active, rows.Err()
}

// CountByStatus proxies the tracker's grouped counts for API consumers.
func (m *Monitor) CountByStatus(ctx context.Context) (map[ExecutionStatus]int64, error) {
	return m.tracker.CountByStatus(ctx)
}

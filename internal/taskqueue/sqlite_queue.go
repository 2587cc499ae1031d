package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLiteQueue is a persistent step queue implementation backed by SQLite.
// It is safe for concurrent use for our purposes, using simple FIFO
// semantics based on an auto-incrementing row id.
type SQLiteQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteQueue initializes the steps table in the given DB and returns a new queue.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS propagation_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			step_id TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			workflow_id TEXT NOT NULL,
			condition_name TEXT NOT NULL DEFAULT '',
			task_instance_id TEXT NOT NULL DEFAULT '',
			child_workflow_id TEXT NOT NULL DEFAULT '',
			slot INTEGER NOT NULL DEFAULT 0,
			enqueued_at INTEGER NOT NULL,
			not_before INTEGER NOT NULL,
			attempts INTEGER NOT NULL
		);
	`)
	return err
}

// Ensure SQLiteQueue implements Queue.
var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) Enqueue(ctx context.Context, s Step) error {
	now := time.Now()
	enqueuedAt := now.UnixNano()
	if !s.EnqueuedAt.IsZero() {
		enqueuedAt = s.EnqueuedAt.UnixNano()
	}

	notBefore := enqueuedAt
	if !s.NotBefore.IsZero() {
		notBefore = s.NotBefore.UnixNano()
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO propagation_steps (step_id, type, workflow_id, condition_name, task_instance_id, child_workflow_id, slot, enqueued_at, not_before, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID,
		string(s.Type),
		s.WorkflowID,
		s.Condition,
		s.TaskInstanceID,
		s.ChildWorkflowID,
		s.Slot,
		enqueuedAt,
		notBefore,
		s.Attempts,
	)
	return err
}

// TryDequeue claims and deletes the oldest eligible step in one
// transaction, returning (nil, nil) when nothing is eligible.
func (q *SQLiteQueue) TryDequeue(ctx context.Context) (*Step, error) {
	now := time.Now().UnixNano()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	var (
		id          int64
		stepID      string
		typeStr     string
		workflowID  string
		condition   string
		taskInstID  string
		childWfID   string
		slot        int
		enqueuedInt int64
		notBefore   int64
		attempts    int
	)

	row := tx.QueryRowContext(ctx, `
		SELECT id, step_id, type, workflow_id, condition_name, task_instance_id, child_workflow_id, slot, enqueued_at, not_before, attempts
		FROM propagation_steps
		WHERE not_before <= ?
		ORDER BY id
		LIMIT 1`, now)
	err = row.Scan(&id, &stepID, &typeStr, &workflowID, &condition, &taskInstID, &childWfID, &slot, &enqueuedInt, &notBefore, &attempts)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	// Delete the row we just claimed.
	if _, err := tx.ExecContext(ctx, `DELETE FROM propagation_steps WHERE id = ?`, id); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Step{
		ID:              stepID,
		Type:            StepType(typeStr),
		WorkflowID:      workflowID,
		Condition:       condition,
		TaskInstanceID:  taskInstID,
		ChildWorkflowID: childWfID,
		Slot:            slot,
		EnqueuedAt:      time.Unix(0, enqueuedInt),
		NotBefore:       time.Unix(0, notBefore),
		Attempts:        attempts,
	}, nil
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Step, error) {
	for {
		step, err := q.TryDequeue(ctx)
		if err != nil {
			return nil, err
		}
		if step != nil {
			return step, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *SQLiteQueue) Len() int {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM propagation_steps`).Scan(&n)
	if err != nil {
		return 0
	}
	return n
}

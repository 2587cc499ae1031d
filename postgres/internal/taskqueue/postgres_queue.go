package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	coreq "github.com/petrijr/weft/internal/taskqueue"
)

// PostgresQueue implements the propagation step queue using a PostgreSQL
// table. Steps are stored as gob blobs; eligibility (NotBefore) and FIFO
// order live in their own columns so the claiming query never has to
// decode anything.
//
// The queue is FIFO by insertion order. Claiming uses
// SELECT ... FOR UPDATE SKIP LOCKED, so several processes can drain the
// same database without handing out a step twice.
type PostgresQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewPostgresQueue creates the required schema if needed and returns a
// new queue.
func NewPostgresQueue(db *sql.DB) (*PostgresQueue, error) {
	q := &PostgresQueue{
		db:           db,
		pollInterval: 100 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

// Ensure PostgresQueue implements Queue.
var _ coreq.Queue = (*PostgresQueue)(nil)

func (q *PostgresQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS propagation_steps (
			id BIGSERIAL PRIMARY KEY,
			payload BYTEA NOT NULL,
			not_before BIGINT NOT NULL DEFAULT 0
		);
	`)
	return err
}

func (q *PostgresQueue) Enqueue(ctx context.Context, s coreq.Step) error {
	if s.EnqueuedAt.IsZero() {
		s.EnqueuedAt = time.Now()
	}

	data, err := coreq.EncodeStep(s)
	if err != nil {
		return err
	}

	var notBefore int64
	if !s.NotBefore.IsZero() {
		notBefore = s.NotBefore.UnixNano()
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO propagation_steps (payload, not_before)
		VALUES ($1, $2)`,
		data, notBefore,
	)
	return err
}

// TryDequeue claims and deletes the oldest eligible step in one
// transaction, returning (nil, nil) when nothing is eligible.
func (q *PostgresQueue) TryDequeue(ctx context.Context) (*coreq.Step, error) {
	now := time.Now().UnixNano()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	var (
		id      int64
		payload []byte
	)

	// Lock the single oldest eligible row, if any.
	err = tx.QueryRowContext(ctx, `
		SELECT id, payload
		FROM propagation_steps
		WHERE not_before <= $1
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT 1`, now).Scan(&id, &payload)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	// Delete the claimed row within the same transaction.
	if _, err := tx.ExecContext(ctx, `DELETE FROM propagation_steps WHERE id = $1`, id); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	step, err := coreq.DecodeStep(payload)
	if err != nil {
		return nil, fmt.Errorf("decode step %d failed: %w", id, err)
	}
	return step, nil
}

func (q *PostgresQueue) Dequeue(ctx context.Context) (*coreq.Step, error) {
	// Reusable timer so idle polling does not allocate per iteration.
	tmr := time.NewTimer(0)
	if !tmr.Stop() {
		select {
		case <-tmr.C:
		default:
		}
	}
	defer tmr.Stop()

	for {
		step, err := q.TryDequeue(ctx)
		if err != nil {
			return nil, err
		}
		if step != nil {
			return step, nil
		}

		tmr.Reset(q.pollInterval)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tmr.C:
		}
	}
}

// Len returns an approximate number of queued steps.
func (q *PostgresQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM propagation_steps`).Scan(&n); err != nil {
		log.Printf("PostgresQueue: Len failed: %v", err)
		return 0
	}
	return n
}

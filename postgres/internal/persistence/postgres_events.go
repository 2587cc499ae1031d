package persistence

import (
	"context"
	"database/sql"
	"time"

	corep "github.com/petrijr/weft/internal/persistence"
	"github.com/petrijr/weft/pkg/api"
)

// PostgresEventStore stores the audit trail in PostgreSQL.
type PostgresEventStore struct {
	db *sql.DB
}

// Ensure PostgresEventStore implements the interface.
var _ corep.EventStore = (*PostgresEventStore)(nil)

func NewPostgresEventStore(db *sql.DB) (*PostgresEventStore, error) {
	s := &PostgresEventStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresEventStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_events (
			id BIGSERIAL PRIMARY KEY,
			instance_id TEXT NOT NULL,
			at BIGINT NOT NULL,
			type TEXT NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			workflow_name TEXT NOT NULL DEFAULT '',
			task_name TEXT NOT NULL DEFAULT '',
			entity_id TEXT NOT NULL DEFAULT '',
			from_state TEXT NOT NULL DEFAULT '',
			to_state TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_workflow_events_instance_id ON workflow_events(instance_id, id);
	`)
	return err
}

func (s *PostgresEventStore) AppendEvent(ctx context.Context, ev api.Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_events (instance_id, at, type, actor, workflow_name, task_name, entity_id, from_state, to_state, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.InstanceID,
		at.UnixNano(),
		string(ev.Type),
		ev.Actor,
		ev.WorkflowName,
		ev.TaskName,
		ev.EntityID,
		ev.From,
		ev.To,
		ev.Detail,
	)
	return err
}

func (s *PostgresEventStore) ListEvents(ctx context.Context, instanceID string) ([]api.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, at, type, actor, workflow_name, task_name, entity_id, from_state, to_state, detail
		FROM workflow_events
		WHERE instance_id = $1
		ORDER BY id ASC`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.Event
	for rows.Next() {
		var ev api.Event
		var atN int64
		var typ string
		if err := rows.Scan(&ev.InstanceID, &atN, &typ, &ev.Actor, &ev.WorkflowName, &ev.TaskName, &ev.EntityID, &ev.From, &ev.To, &ev.Detail); err != nil {
			return nil, err
		}
		ev.At = time.Unix(0, atN)
		ev.Type = api.EventType(typ)
		out = append(out, ev)
	}
	return out, rows.Err()
}

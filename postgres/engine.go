package postgres

import (
	"database/sql"

	"github.com/petrijr/weft/internal/engine"
	"github.com/petrijr/weft/internal/persistence"
	"github.com/petrijr/weft/pkg/api"

	pstore "github.com/petrijr/weft/postgres/internal/persistence"
	pqueue "github.com/petrijr/weft/postgres/internal/taskqueue"
)

// NewPostgresEngine returns an Engine that keeps instances, tasks, work
// items, the audit trail and the propagation step queue in PostgreSQL.
// Several processes may share the database: work item claims and step
// dequeues are both safe across them.
func NewPostgresEngine(db *sql.DB) (api.Engine, error) {
	return NewPostgresEngineWithObserver(db, nil)
}

// NewPostgresEngineWithObserver is NewPostgresEngine reporting transitions
// to the given Observer.
func NewPostgresEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	store, err := pstore.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	events, err := pstore.NewPostgresEventStore(db)
	if err != nil {
		return nil, err
	}
	queue, err := pqueue.NewPostgresQueue(db)
	if err != nil {
		return nil, err
	}

	return engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.Persistence{
			Instances: store,
			Tasks:     store,
			WorkItems: store,
			Events:    events,
		},
		Queue:    queue,
		Observer: obs,
	}), nil
}

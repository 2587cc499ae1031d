package weft

import (
	"database/sql"

	workerpkg "github.com/petrijr/weft/pkg/worker"
)

// WorkerBundle wires together an Engine and a Worker that drains its
// propagation queue.
//
// For now, we only provide a SQLite-backed bundle; the postgres, redis and
// mongo submodules provide the pieces for assembling their own.
type WorkerBundle struct {
	Engine Engine
	Worker *workerpkg.Worker
}

// NewSQLiteBundle constructs a durable Engine + Worker combo sharing the
// same SQLite database. Instances, tasks, work items, the audit trail and
// queued propagation steps are all persisted in the provided *sql.DB, so a
// restarted process picks up where the last one stopped.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:weft.db?_journal=WAL")
//	bundle, err := weft.NewSQLiteBundle(db, worker.Config{})
//	// register workflows on bundle.Engine
//	// go bundle.Worker.Run(ctx)
func NewSQLiteBundle(db *sql.DB, cfg workerpkg.Config) (*WorkerBundle, error) {
	eng, err := NewSQLiteEngine(db)
	if err != nil {
		return nil, err
	}

	w := workerpkg.NewWithConfig(eng, cfg)

	return &WorkerBundle{
		Engine: eng,
		Worker: w,
	}, nil
}

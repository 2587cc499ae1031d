package postgres

import (
	"database/sql"

	"github.com/petrijr/weft"
	pqueue "github.com/petrijr/weft/postgres/internal/taskqueue"
)

// NewPostgresQueue returns a standalone Postgres-backed propagation step
// queue, for wiring an engine whose stores live elsewhere.
func NewPostgresQueue(db *sql.DB) (weft.Queue, error) {
	return pqueue.NewPostgresQueue(db)
}

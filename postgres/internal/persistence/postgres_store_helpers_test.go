package persistence

import (
	"database/sql"
	"encoding/gob"
	"testing"

	"github.com/petrijr/weft/postgres/internal/testutil"
	"github.com/stretchr/testify/suite"
)

type pgSampleAttachment struct {
	Msg string
	N   int
}

type PostgresStoreTestSuite struct {
	suite.Suite
	dsn    string
	store  *PostgresStore
	events *PostgresEventStore
	db     *sql.DB
}

func TestPostgresStoreSuite(t *testing.T) {
	gob.Register(pgSampleAttachment{})
	testsuite := new(PostgresStoreTestSuite)
	testsuite.dsn = testutil.GetPostgresDSN(t)
	initTestPostgresStore(t, testsuite)
	suite.Run(t, testsuite)
}

func (p *PostgresStoreTestSuite) SetupTest() {
	_, err := p.db.Exec("TRUNCATE TABLE workflow_instances, task_instances, work_items, workflow_events")
	p.NoErrorf(err, "TRUNCATE failed: %v", err)
}

func initTestPostgresStore(t *testing.T, ts *PostgresStoreTestSuite) {
	t.Helper()

	db, err := sql.Open("pgx", ts.dsn)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	ts.db = db

	store, err := NewPostgresStore(db)
	if err != nil {
		t.Fatalf("NewPostgresStore failed: %v", err)
	}
	ts.store = store

	events, err := NewPostgresEventStore(db)
	if err != nil {
		t.Fatalf("NewPostgresEventStore failed: %v", err)
	}
	ts.events = events
}

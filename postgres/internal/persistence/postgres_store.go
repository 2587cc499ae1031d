package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	corep "github.com/petrijr/weft/internal/persistence"
	"github.com/petrijr/weft/pkg/api"
)

// PostgresStore is an InstanceStore, TaskStore and WorkItemStore backed by
// PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib" or "github.com/lib/pq").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresStore struct {
	db *sql.DB
}

// Ensure PostgresStore implements the interfaces.
var (
	_ corep.InstanceStore = (*PostgresStore)(nil)
	_ corep.TaskStore     = (*PostgresStore)(nil)
	_ corep.WorkItemStore = (*PostgresStore)(nil)
)

// NewPostgresStore initializes the required schema in the given database
// and returns a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresStore) initSchema() error {
	_, err := p.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_instances (
			id TEXT PRIMARY KEY,
			workflow_name TEXT NOT NULL,
			workflow_version TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			input BYTEA,
			vars BYTEA,
			output BYTEA,
			marking BYTEA,
			parent_task_instance TEXT NOT NULL DEFAULT '',
			failure TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			finished_at BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_workflow_instances_parent ON workflow_instances(parent_task_instance);

		CREATE TABLE IF NOT EXISTS task_instances (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			task_name TEXT NOT NULL,
			state TEXT NOT NULL,
			cardinality INTEGER NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			finished_at BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_task_instances_workflow ON task_instances(workflow_id);

		CREATE TABLE IF NOT EXISTS work_items (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			task_instance_id TEXT NOT NULL,
			task_name TEXT NOT NULL,
			state TEXT NOT NULL,
			claimant TEXT NOT NULL DEFAULT '',
			input BYTEA,
			output BYTEA,
			failure TEXT NOT NULL DEFAULT '',
			child_workflow_id TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			finished_at BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_work_items_workflow ON work_items(workflow_id);
		CREATE INDEX IF NOT EXISTS idx_work_items_task_instance ON work_items(task_instance_id);
	`)
	return err
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func timeOrZero(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func encodeInstanceBlobs(inst *api.WorkflowInstance) (input, vars, output, marking []byte, err error) {
	if input, err = corep.EncodeValue(inst.Input); err != nil {
		return
	}
	if vars, err = corep.EncodeValue(inst.Vars); err != nil {
		return
	}
	if output, err = corep.EncodeValue(inst.Output); err != nil {
		return
	}
	marking, err = corep.EncodeValue(inst.Marking)
	return
}

func (p *PostgresStore) SaveInstance(inst *api.WorkflowInstance) error {
	input, vars, output, marking, err := encodeInstanceBlobs(inst)
	if err != nil {
		return err
	}

	_, err = p.db.Exec(`
		INSERT INTO workflow_instances
			(id, workflow_name, workflow_version, state, input, vars, output, marking, parent_task_instance, failure, created_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		inst.ID,
		inst.Name,
		inst.Version,
		string(inst.State),
		input,
		vars,
		output,
		marking,
		inst.ParentTaskInstance,
		inst.Failure,
		unixOrZero(inst.CreatedAt),
		unixOrZero(inst.FinishedAt),
	)
	return err
}

func (p *PostgresStore) UpdateInstance(inst *api.WorkflowInstance) error {
	input, vars, output, marking, err := encodeInstanceBlobs(inst)
	if err != nil {
		return err
	}

	res, err := p.db.Exec(`
		UPDATE workflow_instances
		SET workflow_name        = $1,
		    workflow_version     = $2,
		    state                = $3,
		    input                = $4,
		    vars                 = $5,
		    output               = $6,
		    marking              = $7,
		    parent_task_instance = $8,
		    failure              = $9,
		    finished_at          = $10
		WHERE id = $11`,
		inst.Name,
		inst.Version,
		string(inst.State),
		input,
		vars,
		output,
		marking,
		inst.ParentTaskInstance,
		inst.Failure,
		unixOrZero(inst.FinishedAt),
		inst.ID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return corep.ErrInstanceNotFound
	}
	return nil
}

const instanceColumns = `id, workflow_name, workflow_version, state, input, vars, output, marking, parent_task_instance, failure, created_at, finished_at`

func scanInstance(scan func(dest ...any) error) (*api.WorkflowInstance, error) {
	var inst api.WorkflowInstance
	var state string
	var input, vars, output, marking []byte
	var createdAt, finishedAt int64

	if err := scan(
		&inst.ID, &inst.Name, &inst.Version, &state,
		&input, &vars, &output, &marking,
		&inst.ParentTaskInstance, &inst.Failure, &createdAt, &finishedAt,
	); err != nil {
		return nil, err
	}

	inst.State = api.WorkflowState(state)
	inst.CreatedAt = timeOrZero(createdAt)
	inst.FinishedAt = timeOrZero(finishedAt)

	var err error
	if inst.Input, err = corep.DecodeValue[api.Payload](input); err != nil {
		return nil, err
	}
	if inst.Vars, err = corep.DecodeValue[api.Payload](vars); err != nil {
		return nil, err
	}
	if inst.Output, err = corep.DecodeValue[api.Payload](output); err != nil {
		return nil, err
	}
	if inst.Marking, err = corep.DecodeValue[map[string]int](marking); err != nil {
		return nil, err
	}
	if inst.Marking == nil {
		inst.Marking = make(map[string]int)
	}
	return &inst, nil
}

func (p *PostgresStore) GetInstance(id string) (*api.WorkflowInstance, error) {
	row := p.db.QueryRow(`SELECT `+instanceColumns+` FROM workflow_instances WHERE id = $1`, id)
	inst, err := scanInstance(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, corep.ErrInstanceNotFound
	}
	return inst, err
}

func (p *PostgresStore) ListInstances(filter corep.InstanceFilter) ([]*api.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances`
	var args []any
	var clauses []string

	if filter.WorkflowName != "" {
		clauses = append(clauses, fmt.Sprintf("workflow_name = $%d", len(args)+1))
		args = append(args, filter.WorkflowName)
	}
	if filter.State != "" {
		clauses = append(clauses, fmt.Sprintf("state = $%d", len(args)+1))
		args = append(args, string(filter.State))
	}
	if filter.ParentTaskInstance != "" {
		clauses = append(clauses, fmt.Sprintf("parent_task_instance = $%d", len(args)+1))
		args = append(args, filter.ParentTaskInstance)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*api.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func (p *PostgresStore) SaveTask(task *api.TaskInstance) error {
	_, err := p.db.Exec(`
		INSERT INTO task_instances (id, workflow_id, task_name, state, cardinality, created_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		task.ID,
		task.WorkflowID,
		task.TaskName,
		string(task.State),
		task.Cardinality,
		unixOrZero(task.CreatedAt),
		unixOrZero(task.FinishedAt),
	)
	return err
}

func (p *PostgresStore) UpdateTask(task *api.TaskInstance) error {
	res, err := p.db.Exec(`
		UPDATE task_instances
		SET state = $1, cardinality = $2, finished_at = $3
		WHERE id = $4`,
		string(task.State),
		task.Cardinality,
		unixOrZero(task.FinishedAt),
		task.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return corep.ErrTaskNotFound
	}
	return nil
}

const taskColumns = `id, workflow_id, task_name, state, cardinality, created_at, finished_at`

func scanTask(scan func(dest ...any) error) (*api.TaskInstance, error) {
	var task api.TaskInstance
	var state string
	var createdAt, finishedAt int64

	if err := scan(&task.ID, &task.WorkflowID, &task.TaskName, &state, &task.Cardinality, &createdAt, &finishedAt); err != nil {
		return nil, err
	}
	task.State = api.TaskState(state)
	task.CreatedAt = timeOrZero(createdAt)
	task.FinishedAt = timeOrZero(finishedAt)
	return &task, nil
}

func (p *PostgresStore) GetTask(id string) (*api.TaskInstance, error) {
	row := p.db.QueryRow(`SELECT `+taskColumns+` FROM task_instances WHERE id = $1`, id)
	task, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, corep.ErrTaskNotFound
	}
	return task, err
}

func (p *PostgresStore) ListTasks(filter corep.TaskFilter) ([]*api.TaskInstance, error) {
	query := `SELECT ` + taskColumns + ` FROM task_instances`
	var args []any
	var clauses []string

	if filter.WorkflowID != "" {
		clauses = append(clauses, fmt.Sprintf("workflow_id = $%d", len(args)+1))
		args = append(args, filter.WorkflowID)
	}
	if filter.TaskName != "" {
		clauses = append(clauses, fmt.Sprintf("task_name = $%d", len(args)+1))
		args = append(args, filter.TaskName)
	}
	if filter.State != "" {
		clauses = append(clauses, fmt.Sprintf("state = $%d", len(args)+1))
		args = append(args, string(filter.State))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*api.TaskInstance
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (p *PostgresStore) SaveWorkItem(item *api.WorkItem) error {
	input, err := corep.EncodeValue(item.Input)
	if err != nil {
		return err
	}
	output, err := corep.EncodeValue(item.Output)
	if err != nil {
		return err
	}

	_, err = p.db.Exec(`
		INSERT INTO work_items
			(id, workflow_id, task_instance_id, task_name, state, claimant, input, output, failure, child_workflow_id, created_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		item.ID,
		item.WorkflowID,
		item.TaskInstanceID,
		item.TaskName,
		string(item.State),
		item.Claimant,
		input,
		output,
		item.Failure,
		item.ChildWorkflowID,
		unixOrZero(item.CreatedAt),
		unixOrZero(item.FinishedAt),
	)
	return err
}

func (p *PostgresStore) UpdateWorkItem(item *api.WorkItem) error {
	input, err := corep.EncodeValue(item.Input)
	if err != nil {
		return err
	}
	output, err := corep.EncodeValue(item.Output)
	if err != nil {
		return err
	}

	res, err := p.db.Exec(`
		UPDATE work_items
		SET state = $1, claimant = $2, input = $3, output = $4, failure = $5, child_workflow_id = $6, finished_at = $7
		WHERE id = $8`,
		string(item.State),
		item.Claimant,
		input,
		output,
		item.Failure,
		item.ChildWorkflowID,
		unixOrZero(item.FinishedAt),
		item.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return corep.ErrWorkItemNotFound
	}
	return nil
}

const workItemColumns = `id, workflow_id, task_instance_id, task_name, state, claimant, input, output, failure, child_workflow_id, created_at, finished_at`

func scanWorkItem(scan func(dest ...any) error) (*api.WorkItem, error) {
	var item api.WorkItem
	var state string
	var input, output []byte
	var createdAt, finishedAt int64

	if err := scan(
		&item.ID, &item.WorkflowID, &item.TaskInstanceID, &item.TaskName, &state,
		&item.Claimant, &input, &output, &item.Failure, &item.ChildWorkflowID,
		&createdAt, &finishedAt,
	); err != nil {
		return nil, err
	}

	item.State = api.WorkItemState(state)
	item.CreatedAt = timeOrZero(createdAt)
	item.FinishedAt = timeOrZero(finishedAt)

	var err error
	if item.Input, err = corep.DecodeValue[api.Payload](input); err != nil {
		return nil, err
	}
	if item.Output, err = corep.DecodeValue[api.Payload](output); err != nil {
		return nil, err
	}
	return &item, nil
}

func (p *PostgresStore) GetWorkItem(id string) (*api.WorkItem, error) {
	row := p.db.QueryRow(`SELECT `+workItemColumns+` FROM work_items WHERE id = $1`, id)
	item, err := scanWorkItem(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, corep.ErrWorkItemNotFound
	}
	return item, err
}

func (p *PostgresStore) ListWorkItems(filter corep.WorkItemFilter) ([]*api.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items`
	var args []any
	var clauses []string

	if filter.WorkflowID != "" {
		clauses = append(clauses, fmt.Sprintf("workflow_id = $%d", len(args)+1))
		args = append(args, filter.WorkflowID)
	}
	if filter.TaskInstanceID != "" {
		clauses = append(clauses, fmt.Sprintf("task_instance_id = $%d", len(args)+1))
		args = append(args, filter.TaskInstanceID)
	}
	if filter.TaskName != "" {
		clauses = append(clauses, fmt.Sprintf("task_name = $%d", len(args)+1))
		args = append(args, filter.TaskName)
	}
	if filter.State != "" {
		clauses = append(clauses, fmt.Sprintf("state = $%d", len(args)+1))
		args = append(args, string(filter.State))
	}
	if filter.ChildWorkflowID != "" {
		clauses = append(clauses, fmt.Sprintf("child_workflow_id = $%d", len(args)+1))
		args = append(args, filter.ChildWorkflowID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*api.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ClaimWorkItem is a compare-and-set on the state column, so exactly one
// of several processes sharing the database wins a claim.
func (p *PostgresStore) ClaimWorkItem(ctx context.Context, id, claimant string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE work_items
		SET state = $1, claimant = $2
		WHERE id = $3 AND state = $4`,
		string(api.WorkItemStarted),
		claimant,
		id,
		string(api.WorkItemInitialized),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	// Distinguish a lost race from a missing row.
	var state string
	err = p.db.QueryRowContext(ctx, `SELECT state FROM work_items WHERE id = $1`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return corep.ErrWorkItemNotFound
	}
	if err != nil {
		return err
	}
	return corep.ErrClaimConflict
}

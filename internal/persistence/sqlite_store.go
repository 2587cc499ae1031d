package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/petrijr/weft/pkg/api"
)

// SQLiteStore is an InstanceStore, TaskStore and WorkItemStore backed by
// SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements the interfaces.
var (
	_ InstanceStore = (*SQLiteStore)(nil)
	_ TaskStore     = (*SQLiteStore)(nil)
	_ WorkItemStore = (*SQLiteStore)(nil)
)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_instances (
			id TEXT PRIMARY KEY,
			workflow_name TEXT NOT NULL,
			workflow_version TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			input BLOB,
			vars BLOB,
			output BLOB,
			marking BLOB,
			parent_task_instance TEXT NOT NULL DEFAULT '',
			failure TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_workflow_instances_parent ON workflow_instances(parent_task_instance);

		CREATE TABLE IF NOT EXISTS task_instances (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			task_name TEXT NOT NULL,
			state TEXT NOT NULL,
			cardinality INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_task_instances_workflow ON task_instances(workflow_id);

		CREATE TABLE IF NOT EXISTS work_items (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			task_instance_id TEXT NOT NULL,
			task_name TEXT NOT NULL,
			state TEXT NOT NULL,
			claimant TEXT NOT NULL DEFAULT '',
			input BLOB,
			output BLOB,
			failure TEXT NOT NULL DEFAULT '',
			child_workflow_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL DEFAULT 0
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
	if input, err = EncodeValue(inst.Input); err != nil {
		return
	}
	if vars, err = EncodeValue(inst.Vars); err != nil {
		return
	}
	if output, err = EncodeValue(inst.Output); err != nil {
		return
	}
	marking, err = EncodeValue(inst.Marking)
	return
}

func (s *SQLiteStore) SaveInstance(inst *api.WorkflowInstance) error {
	input, vars, output, marking, err := encodeInstanceBlobs(inst)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO workflow_instances
			(id, workflow_name, workflow_version, state, input, vars, output, marking, parent_task_instance, failure, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

func (s *SQLiteStore) UpdateInstance(inst *api.WorkflowInstance) error {
	input, vars, output, marking, err := encodeInstanceBlobs(inst)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE workflow_instances
		SET workflow_name = ?, workflow_version = ?, state = ?, input = ?, vars = ?, output = ?, marking = ?, parent_task_instance = ?, failure = ?, finished_at = ?
		WHERE id = ?`,
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
		return ErrInstanceNotFound
	}
	return nil
}

func (s *SQLiteStore) scanInstance(scan func(dest ...any) error) (*api.WorkflowInstance, error) {
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
	if inst.Input, err = DecodeValue[api.Payload](input); err != nil {
		return nil, err
	}
	if inst.Vars, err = DecodeValue[api.Payload](vars); err != nil {
		return nil, err
	}
	if inst.Output, err = DecodeValue[api.Payload](output); err != nil {
		return nil, err
	}
	if inst.Marking, err = DecodeValue[map[string]int](marking); err != nil {
		return nil, err
	}
	if inst.Marking == nil {
		inst.Marking = make(map[string]int)
	}
	return &inst, nil
}

const instanceColumns = `id, workflow_name, workflow_version, state, input, vars, output, marking, parent_task_instance, failure, created_at, finished_at`

func (s *SQLiteStore) GetInstance(id string) (*api.WorkflowInstance, error) {
	row := s.db.QueryRow(`SELECT `+instanceColumns+` FROM workflow_instances WHERE id = ?`, id)
	inst, err := s.scanInstance(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInstanceNotFound
	}
	return inst, err
}

func (s *SQLiteStore) ListInstances(filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances`
	var args []any
	var clauses []string

	if filter.WorkflowName != "" {
		clauses = append(clauses, "workflow_name = ?")
		args = append(args, filter.WorkflowName)
	}
	if filter.State != "" {
		clauses = append(clauses, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.ParentTaskInstance != "" {
		clauses = append(clauses, "parent_task_instance = ?")
		args = append(args, filter.ParentTaskInstance)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*api.WorkflowInstance
	for rows.Next() {
		inst, err := s.scanInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func (s *SQLiteStore) SaveTask(task *api.TaskInstance) error {
	_, err := s.db.Exec(`
		INSERT INTO task_instances (id, workflow_id, task_name, state, cardinality, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
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

func (s *SQLiteStore) UpdateTask(task *api.TaskInstance) error {
	res, err := s.db.Exec(`
		UPDATE task_instances
		SET state = ?, cardinality = ?, finished_at = ?
		WHERE id = ?`,
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
		return ErrTaskNotFound
	}
	return nil
}

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

const taskColumns = `id, workflow_id, task_name, state, cardinality, created_at, finished_at`

func (s *SQLiteStore) GetTask(id string) (*api.TaskInstance, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM task_instances WHERE id = ?`, id)
	task, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

func (s *SQLiteStore) ListTasks(filter TaskFilter) ([]*api.TaskInstance, error) {
	query := `SELECT ` + taskColumns + ` FROM task_instances`
	var args []any
	var clauses []string

	if filter.WorkflowID != "" {
		clauses = append(clauses, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.TaskName != "" {
		clauses = append(clauses, "task_name = ?")
		args = append(args, filter.TaskName)
	}
	if filter.State != "" {
		clauses = append(clauses, "state = ?")
		args = append(args, string(filter.State))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.Query(query, args...)
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

func (s *SQLiteStore) SaveWorkItem(item *api.WorkItem) error {
	input, err := EncodeValue(item.Input)
	if err != nil {
		return err
	}
	output, err := EncodeValue(item.Output)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO work_items
			(id, workflow_id, task_instance_id, task_name, state, claimant, input, output, failure, child_workflow_id, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

func (s *SQLiteStore) UpdateWorkItem(item *api.WorkItem) error {
	input, err := EncodeValue(item.Input)
	if err != nil {
		return err
	}
	output, err := EncodeValue(item.Output)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE work_items
		SET state = ?, claimant = ?, input = ?, output = ?, failure = ?, child_workflow_id = ?, finished_at = ?
		WHERE id = ?`,
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
		return ErrWorkItemNotFound
	}
	return nil
}

func (s *SQLiteStore) scanWorkItem(scan func(dest ...any) error) (*api.WorkItem, error) {
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
	if item.Input, err = DecodeValue[api.Payload](input); err != nil {
		return nil, err
	}
	if item.Output, err = DecodeValue[api.Payload](output); err != nil {
		return nil, err
	}
	return &item, nil
}

const workItemColumns = `id, workflow_id, task_instance_id, task_name, state, claimant, input, output, failure, child_workflow_id, created_at, finished_at`

func (s *SQLiteStore) GetWorkItem(id string) (*api.WorkItem, error) {
	row := s.db.QueryRow(`SELECT `+workItemColumns+` FROM work_items WHERE id = ?`, id)
	item, err := s.scanWorkItem(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWorkItemNotFound
	}
	return item, err
}

func (s *SQLiteStore) ListWorkItems(filter WorkItemFilter) ([]*api.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items`
	var args []any
	var clauses []string

	if filter.WorkflowID != "" {
		clauses = append(clauses, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.TaskInstanceID != "" {
		clauses = append(clauses, "task_instance_id = ?")
		args = append(args, filter.TaskInstanceID)
	}
	if filter.TaskName != "" {
		clauses = append(clauses, "task_name = ?")
		args = append(args, filter.TaskName)
	}
	if filter.State != "" {
		clauses = append(clauses, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.ChildWorkflowID != "" {
		clauses = append(clauses, "child_workflow_id = ?")
		args = append(args, filter.ChildWorkflowID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*api.WorkItem
	for rows.Next() {
		item, err := s.scanWorkItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) ClaimWorkItem(ctx context.Context, id, claimant string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE work_items
		SET state = ?, claimant = ?
		WHERE id = ? AND state = ?`,
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
	err = s.db.QueryRowContext(ctx, `SELECT state FROM work_items WHERE id = ?`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrWorkItemNotFound
	}
	if err != nil {
		return err
	}
	return ErrClaimConflict
}

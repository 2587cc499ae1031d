package persistence

import (
	"context"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	corep "github.com/petrijr/weft/internal/persistence"
	"github.com/petrijr/weft/pkg/api"
)

func (p *PostgresStoreTestSuite) TestPostgresStore_InstanceSaveGetUpdate() {
	inst := &api.WorkflowInstance{
		ID:      "pg-test-1",
		Name:    "deal-pipeline",
		Version: "v2",
		State:   api.WorkflowStarted,
		Input: api.Payload{
			"amount": 100,
			"note":   pgSampleAttachment{Msg: "hello", N: 42},
		},
		Vars:      api.Payload{"amount": 100},
		Marking:   map[string]int{"received": 1},
		CreatedAt: time.Now(),
	}

	// Save
	err := p.store.SaveInstance(inst)
	p.NoErrorf(err, "SaveInstance failed: %v", err)

	// Get
	got, err := p.store.GetInstance("pg-test-1")
	p.NoErrorf(err, "GetInstance failed: %v", err)

	if got.Name != inst.Name || got.Version != inst.Version || got.State != inst.State {
		p.Failf("unexpected instance", "instance after Get: %+v", got)
	}
	if got.Input["amount"] != 100 {
		p.Failf("input lost", "input after Get: %+v", got.Input)
	}
	note, ok := got.Input["note"].(pgSampleAttachment)
	if !ok {
		p.Failf("expected note of type pgSampleAttachment", "got %T", got.Input["note"])
	}
	if note.Msg != "hello" || note.N != 42 {
		p.Failf("unexpected note", "payload: %+v", note)
	}
	if got.Marking["received"] != 1 {
		p.Failf("marking lost", "marking after Get: %+v", got.Marking)
	}
	if !got.FinishedAt.IsZero() {
		p.Failf("unexpected FinishedAt", "expected zero FinishedAt, got %v", got.FinishedAt)
	}

	// Update: mark completed with output and a cleared marking.
	got.State = api.WorkflowCompleted
	got.Output = api.Payload{"stage": "won"}
	got.Marking = map[string]int{}
	got.FinishedAt = time.Now()

	err = p.store.UpdateInstance(got)
	p.NoErrorf(err, "UpdateInstance failed: %v", err)

	got2, err := p.store.GetInstance(got.ID)
	p.NoErrorf(err, "GetInstance after update failed: %v", err)

	if got2.State != api.WorkflowCompleted || got2.Output["stage"] != "won" {
		p.Failf("update not persisted", "instance after update: %+v", got2)
	}
	if len(got2.Marking) != 0 {
		p.Failf("marking not cleared", "marking after update: %+v", got2.Marking)
	}
	if got2.FinishedAt.IsZero() {
		p.Failf("FinishedAt lost", "expected non-zero FinishedAt")
	}
}

func (p *PostgresStoreTestSuite) TestPostgresStore_InstanceNotFound() {
	_, err := p.store.GetInstance("missing")
	p.ErrorIsf(err, corep.ErrInstanceNotFound, "expected ErrInstanceNotFound, got %v", err)

	err = p.store.UpdateInstance(&api.WorkflowInstance{ID: "missing", Marking: map[string]int{}})
	p.ErrorIsf(err, corep.ErrInstanceNotFound, "expected ErrInstanceNotFound on update, got %v", err)
}

func (p *PostgresStoreTestSuite) TestPostgresStore_ListInstancesFilters() {
	now := time.Now()
	instances := []*api.WorkflowInstance{
		{ID: "pg-list-1", Name: "deal-pipeline", State: api.WorkflowStarted, CreatedAt: now},
		{ID: "pg-list-2", Name: "deal-pipeline", State: api.WorkflowCompleted, CreatedAt: now.Add(time.Millisecond)},
		{ID: "pg-list-3", Name: "approval", State: api.WorkflowStarted, ParentTaskInstance: "ti-9", CreatedAt: now.Add(2 * time.Millisecond)},
	}

	for _, inst := range instances {
		err := p.store.SaveInstance(inst)
		p.NoErrorf(err, "SaveInstance(%s) failed: %v", inst.ID, err)
	}

	// Unfiltered, ordered by creation time.
	all, err := p.store.ListInstances(corep.InstanceFilter{})
	p.NoErrorf(err, "ListInstances (no filter) failed: %v", err)

	if len(all) != len(instances) || all[0].ID != "pg-list-1" || all[2].ID != "pg-list-3" {
		p.Failf("unexpected listing", "expected %d ordered instances, got %+v", len(instances), all)
	}

	// Filter by workflow name and state.
	completed, err := p.store.ListInstances(corep.InstanceFilter{WorkflowName: "deal-pipeline", State: api.WorkflowCompleted})
	p.NoErrorf(err, "ListInstances (deal-pipeline + COMPLETED) failed: %v", err)

	if len(completed) != 1 || completed[0].ID != "pg-list-2" {
		p.Failf("unexpected filtered listing", "got %+v", completed)
	}

	// Filter by parent task instance, used for composite children.
	children, err := p.store.ListInstances(corep.InstanceFilter{ParentTaskInstance: "ti-9"})
	p.NoErrorf(err, "ListInstances (parent) failed: %v", err)

	if len(children) != 1 || children[0].ID != "pg-list-3" {
		p.Failf("unexpected parent listing", "got %+v", children)
	}
}

func (p *PostgresStoreTestSuite) TestPostgresStore_TaskSaveGetUpdateList() {
	now := time.Now()
	task := &api.TaskInstance{
		ID:         "pg-ti-1",
		WorkflowID: "pg-wf-1",
		TaskName:   "qualify",
		State:      api.TaskDisabled,
		CreatedAt:  now,
	}

	err := p.store.SaveTask(task)
	p.NoErrorf(err, "SaveTask failed: %v", err)

	task.State = api.TaskEnabled
	task.Cardinality = 3
	err = p.store.UpdateTask(task)
	p.NoErrorf(err, "UpdateTask failed: %v", err)

	got, err := p.store.GetTask("pg-ti-1")
	p.NoErrorf(err, "GetTask failed: %v", err)

	if got.State != api.TaskEnabled || got.Cardinality != 3 || got.TaskName != "qualify" {
		p.Failf("unexpected task", "task after update: %+v", got)
	}

	err = p.store.SaveTask(&api.TaskInstance{ID: "pg-ti-2", WorkflowID: "pg-wf-1", TaskName: "close", State: api.TaskDisabled, CreatedAt: now.Add(time.Millisecond)})
	p.NoErrorf(err, "SaveTask failed: %v", err)

	// Filter by workflow and state.
	enabled, err := p.store.ListTasks(corep.TaskFilter{WorkflowID: "pg-wf-1", State: api.TaskEnabled})
	p.NoErrorf(err, "ListTasks failed: %v", err)

	if len(enabled) != 1 || enabled[0].ID != "pg-ti-1" {
		p.Failf("unexpected task listing", "got %+v", enabled)
	}

	_, err = p.store.GetTask("missing")
	p.ErrorIsf(err, corep.ErrTaskNotFound, "expected ErrTaskNotFound, got %v", err)
}

func (p *PostgresStoreTestSuite) TestPostgresStore_WorkItemRoundTrip() {
	item := &api.WorkItem{
		ID:             "pg-wi-1",
		WorkflowID:     "pg-wf-1",
		TaskInstanceID: "pg-ti-1",
		TaskName:       "qualify",
		State:          api.WorkItemInitialized,
		Input:          api.Payload{"amount": 100},
		CreatedAt:      time.Now(),
	}

	err := p.store.SaveWorkItem(item)
	p.NoErrorf(err, "SaveWorkItem failed: %v", err)

	item.State = api.WorkItemCompleted
	item.Output = api.Payload{"stage": "won"}
	item.FinishedAt = time.Now()
	err = p.store.UpdateWorkItem(item)
	p.NoErrorf(err, "UpdateWorkItem failed: %v", err)

	got, err := p.store.GetWorkItem("pg-wi-1")
	p.NoErrorf(err, "GetWorkItem failed: %v", err)

	if got.State != api.WorkItemCompleted || got.Output["stage"] != "won" || got.Input["amount"] != 100 {
		p.Failf("unexpected work item", "work item after update: %+v", got)
	}

	// Filter by task instance, then by state.
	byTask, err := p.store.ListWorkItems(corep.WorkItemFilter{TaskInstanceID: "pg-ti-1"})
	p.NoErrorf(err, "ListWorkItems (task) failed: %v", err)
	if len(byTask) != 1 {
		p.Failf("unexpected work item listing", "expected 1 item for pg-ti-1, got %d", len(byTask))
	}

	initialized, err := p.store.ListWorkItems(corep.WorkItemFilter{WorkflowID: "pg-wf-1", State: api.WorkItemInitialized})
	p.NoErrorf(err, "ListWorkItems (state) failed: %v", err)
	if len(initialized) != 0 {
		p.Failf("unexpected work item listing", "expected no INITIALIZED items, got %+v", initialized)
	}

	_, err = p.store.GetWorkItem("missing")
	p.ErrorIsf(err, corep.ErrWorkItemNotFound, "expected ErrWorkItemNotFound, got %v", err)
}

func (p *PostgresStoreTestSuite) TestPostgresEventStore_AppendAndList() {
	ctx := context.Background()
	events := []api.Event{
		{InstanceID: "pg-ev-1", Type: api.EventWorkflowInitialized, Actor: "ops", WorkflowName: "deal-pipeline", To: string(api.WorkflowInitialized)},
		{InstanceID: "pg-ev-1", Type: api.EventWorkflowStarted, From: string(api.WorkflowInitialized), To: string(api.WorkflowStarted)},
		{InstanceID: "pg-ev-2", Type: api.EventWorkflowInitialized},
	}

	for _, ev := range events {
		err := p.events.AppendEvent(ctx, ev)
		p.NoErrorf(err, "AppendEvent failed: %v", err)
	}

	got, err := p.events.ListEvents(ctx, "pg-ev-1")
	p.NoErrorf(err, "ListEvents failed: %v", err)

	if len(got) != 2 {
		p.Failf("unexpected event count", "expected 2 events for pg-ev-1, got %d", len(got))
	}
	if got[0].Type != api.EventWorkflowInitialized || got[0].Actor != "ops" {
		p.Failf("unexpected first event", "event: %+v", got[0])
	}
	if got[1].From != string(api.WorkflowInitialized) || got[1].To != string(api.WorkflowStarted) {
		p.Failf("transition states lost", "event: %+v", got[1])
	}
	if got[0].At.IsZero() {
		p.Failf("missing timestamp", "expected AppendEvent to default the timestamp")
	}
}

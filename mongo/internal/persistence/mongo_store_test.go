package persistence

import (
	"context"
	"time"

	corep "github.com/petrijr/weft/internal/persistence"
	"github.com/petrijr/weft/pkg/api"
)

func (m *MongoStoreTestSuite) TestMongoStore_InstanceSaveGetUpdate() {
	inst := &api.WorkflowInstance{
		ID:      "mongo-test-1",
		Name:    "claim-intake",
		Version: "v3",
		State:   api.WorkflowStarted,
		Input: api.Payload{
			"policy": "P-204",
			"att":    mongoSampleAttachment{Msg: "hello", N: 42},
		},
		Vars:      api.Payload{"policy": "P-204", "severity": 2},
		Marking:   map[string]int{"filed": 1},
		CreatedAt: time.Now(),
	}

	// Save
	err := m.store.SaveInstance(inst)
	m.NoErrorf(err, "SaveInstance failed: %v", err)

	// Get
	got, err := m.store.GetInstance("mongo-test-1")
	m.NoErrorf(err, "GetInstance failed: %v", err)

	if got.Name != inst.Name || got.Version != inst.Version || got.State != inst.State {
		m.Failf("unexpected instance", "instance after Get: %+v", got)
	}
	if got.Input["policy"] != "P-204" || got.Vars["severity"] != 2 {
		m.Failf("payloads lost", "input %+v vars %+v", got.Input, got.Vars)
	}
	att, ok := got.Input["att"].(mongoSampleAttachment)
	if !ok {
		m.Failf("expected att of type mongoSampleAttachment", "got %T", got.Input["att"])
	}
	if att.Msg != "hello" || att.N != 42 {
		m.Failf("unexpected att", "payload: %+v", att)
	}
	if got.Marking["filed"] != 1 {
		m.Failf("marking lost", "marking after Get: %+v", got.Marking)
	}

	// Update: mark completed with output and a cleared marking.
	got.State = api.WorkflowCompleted
	got.Output = api.Payload{"approved": true}
	got.Marking = map[string]int{}
	got.FinishedAt = time.Now()

	err = m.store.UpdateInstance(got)
	m.NoErrorf(err, "UpdateInstance failed: %v", err)

	got2, err := m.store.GetInstance(got.ID)
	m.NoErrorf(err, "GetInstance after update failed: %v", err)

	if got2.State != api.WorkflowCompleted || got2.Output["approved"] != true {
		m.Failf("update not persisted", "instance after update: %+v", got2)
	}
	if len(got2.Marking) != 0 {
		m.Failf("marking not cleared", "marking after update: %+v", got2.Marking)
	}
	if got2.FinishedAt.IsZero() {
		m.Failf("FinishedAt lost", "expected non-zero FinishedAt")
	}
}

func (m *MongoStoreTestSuite) TestMongoStore_InstanceNotFound() {
	_, err := m.store.GetInstance("missing")
	m.ErrorIsf(err, corep.ErrInstanceNotFound, "expected ErrInstanceNotFound, got %v", err)

	err = m.store.UpdateInstance(&api.WorkflowInstance{ID: "missing", Marking: map[string]int{}})
	m.ErrorIsf(err, corep.ErrInstanceNotFound, "expected ErrInstanceNotFound on update, got %v", err)
}

func (m *MongoStoreTestSuite) TestMongoStore_ListInstancesFilters() {
	now := time.Now()
	instances := []*api.WorkflowInstance{
		{ID: "mongo-list-1", Name: "claim-intake", State: api.WorkflowStarted, CreatedAt: now},
		{ID: "mongo-list-2", Name: "claim-intake", State: api.WorkflowCompleted, CreatedAt: now.Add(time.Millisecond)},
		{ID: "mongo-list-3", Name: "fraud-review", State: api.WorkflowStarted, ParentTaskInstance: "ti-8", CreatedAt: now.Add(2 * time.Millisecond)},
	}

	for _, inst := range instances {
		err := m.store.SaveInstance(inst)
		m.NoErrorf(err, "SaveInstance(%s) failed: %v", inst.ID, err)
	}

	// Unfiltered, ordered by creation time.
	all, err := m.store.ListInstances(corep.InstanceFilter{})
	m.NoErrorf(err, "ListInstances (no filter) failed: %v", err)
	if len(all) != len(instances) || all[0].ID != "mongo-list-1" || all[2].ID != "mongo-list-3" {
		m.Failf("unexpected listing", "expected %d ordered instances, got %+v", len(instances), all)
	}

	// Filter by workflow name and state.
	completed, err := m.store.ListInstances(corep.InstanceFilter{WorkflowName: "claim-intake", State: api.WorkflowCompleted})
	m.NoErrorf(err, "ListInstances (claim-intake + COMPLETED) failed: %v", err)
	if len(completed) != 1 || completed[0].ID != "mongo-list-2" {
		m.Failf("unexpected filtered listing", "got %+v", completed)
	}

	// Filter by parent task instance.
	children, err := m.store.ListInstances(corep.InstanceFilter{ParentTaskInstance: "ti-8"})
	m.NoErrorf(err, "ListInstances (parent) failed: %v", err)
	if len(children) != 1 || children[0].ID != "mongo-list-3" {
		m.Failf("unexpected parent listing", "got %+v", children)
	}
}

func (m *MongoStoreTestSuite) TestMongoStore_ListKeepsSubMillisecondOrder() {
	// BSON datetimes would collapse these CreatedAt values to the same
	// millisecond; the integer timestamps must keep them apart.
	now := time.Now()
	first := &api.WorkflowInstance{ID: "mongo-ns-b", Name: "claim-intake", State: api.WorkflowStarted, CreatedAt: now}
	second := &api.WorkflowInstance{ID: "mongo-ns-a", Name: "claim-intake", State: api.WorkflowStarted, CreatedAt: now.Add(200 * time.Nanosecond)}

	err := m.store.SaveInstance(second)
	m.NoErrorf(err, "SaveInstance failed: %v", err)
	err = m.store.SaveInstance(first)
	m.NoErrorf(err, "SaveInstance failed: %v", err)

	all, err := m.store.ListInstances(corep.InstanceFilter{})
	m.NoErrorf(err, "ListInstances failed: %v", err)
	if len(all) != 2 || all[0].ID != "mongo-ns-b" || all[1].ID != "mongo-ns-a" {
		m.Failf("sub-millisecond order lost", "got %+v", all)
	}
}

func (m *MongoStoreTestSuite) TestMongoStore_TaskSaveGetUpdateList() {
	now := time.Now()
	task := &api.TaskInstance{
		ID:         "mongo-ti-1",
		WorkflowID: "mongo-wf-1",
		TaskName:   "triage",
		State:      api.TaskDisabled,
		CreatedAt:  now,
	}

	err := m.store.SaveTask(task)
	m.NoErrorf(err, "SaveTask failed: %v", err)

	task.State = api.TaskEnabled
	task.Cardinality = 2
	err = m.store.UpdateTask(task)
	m.NoErrorf(err, "UpdateTask failed: %v", err)

	got, err := m.store.GetTask("mongo-ti-1")
	m.NoErrorf(err, "GetTask failed: %v", err)
	if got.State != api.TaskEnabled || got.Cardinality != 2 || got.TaskName != "triage" {
		m.Failf("unexpected task", "task after update: %+v", got)
	}

	err = m.store.SaveTask(&api.TaskInstance{ID: "mongo-ti-2", WorkflowID: "mongo-wf-1", TaskName: "approve", State: api.TaskDisabled, CreatedAt: now.Add(time.Millisecond)})
	m.NoErrorf(err, "SaveTask failed: %v", err)

	enabled, err := m.store.ListTasks(corep.TaskFilter{WorkflowID: "mongo-wf-1", State: api.TaskEnabled})
	m.NoErrorf(err, "ListTasks failed: %v", err)
	if len(enabled) != 1 || enabled[0].ID != "mongo-ti-1" {
		m.Failf("unexpected task listing", "got %+v", enabled)
	}

	_, err = m.store.GetTask("missing")
	m.ErrorIsf(err, corep.ErrTaskNotFound, "expected ErrTaskNotFound, got %v", err)
}

func (m *MongoStoreTestSuite) TestMongoStore_WorkItemRoundTrip() {
	item := &api.WorkItem{
		ID:             "mongo-wi-1",
		WorkflowID:     "mongo-wf-1",
		TaskInstanceID: "mongo-ti-1",
		TaskName:       "triage",
		State:          api.WorkItemInitialized,
		Input:          api.Payload{"policy": "P-204"},
		CreatedAt:      time.Now(),
	}

	err := m.store.SaveWorkItem(item)
	m.NoErrorf(err, "SaveWorkItem failed: %v", err)

	item.State = api.WorkItemCompleted
	item.Output = api.Payload{"routed": "approve"}
	item.ChildWorkflowID = "mongo-child-1"
	item.FinishedAt = time.Now()
	err = m.store.UpdateWorkItem(item)
	m.NoErrorf(err, "UpdateWorkItem failed: %v", err)

	got, err := m.store.GetWorkItem("mongo-wi-1")
	m.NoErrorf(err, "GetWorkItem failed: %v", err)
	if got.State != api.WorkItemCompleted || got.Output["routed"] != "approve" || got.Input["policy"] != "P-204" {
		m.Failf("unexpected work item", "work item after update: %+v", got)
	}

	// ChildWorkflowID is assigned after the initial save; the filter must
	// still find it.
	byChild, err := m.store.ListWorkItems(corep.WorkItemFilter{ChildWorkflowID: "mongo-child-1"})
	m.NoErrorf(err, "ListWorkItems (child) failed: %v", err)
	if len(byChild) != 1 || byChild[0].ID != "mongo-wi-1" {
		m.Failf("unexpected child listing", "got %+v", byChild)
	}

	byState, err := m.store.ListWorkItems(corep.WorkItemFilter{WorkflowID: "mongo-wf-1", State: api.WorkItemInitialized})
	m.NoErrorf(err, "ListWorkItems (state) failed: %v", err)
	if len(byState) != 0 {
		m.Failf("unexpected listing", "expected no INITIALIZED items, got %+v", byState)
	}

	_, err = m.store.GetWorkItem("missing")
	m.ErrorIsf(err, corep.ErrWorkItemNotFound, "expected ErrWorkItemNotFound, got %v", err)
}

func (m *MongoStoreTestSuite) TestMongoEventStore_AppendAndList() {
	ctx := context.Background()
	events := []api.Event{
		{InstanceID: "mongo-ev-1", Type: api.EventWorkflowInitialized, Actor: "intake-desk", WorkflowName: "claim-intake", To: string(api.WorkflowInitialized)},
		{InstanceID: "mongo-ev-1", Type: api.EventWorkflowStarted, From: string(api.WorkflowInitialized), To: string(api.WorkflowStarted)},
		{InstanceID: "mongo-ev-2", Type: api.EventWorkflowInitialized},
	}

	for _, ev := range events {
		err := m.events.AppendEvent(ctx, ev)
		m.NoErrorf(err, "AppendEvent failed: %v", err)
	}

	got, err := m.events.ListEvents(ctx, "mongo-ev-1")
	m.NoErrorf(err, "ListEvents failed: %v", err)

	if len(got) != 2 {
		m.Failf("unexpected event count", "expected 2 events for mongo-ev-1, got %d", len(got))
	}
	if got[0].Type != api.EventWorkflowInitialized || got[0].Actor != "intake-desk" {
		m.Failf("unexpected first event", "event: %+v", got[0])
	}
	if got[1].From != string(api.WorkflowInitialized) || got[1].To != string(api.WorkflowStarted) {
		m.Failf("transition states lost", "event: %+v", got[1])
	}
	if got[0].At.IsZero() {
		m.Failf("missing timestamp", "expected AppendEvent to default the timestamp")
	}
}

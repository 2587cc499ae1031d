package persistence

import (
	"context"
	"time"

	corep "github.com/petrijr/weft/internal/persistence"
	"github.com/petrijr/weft/pkg/api"
)

func (r *RedisStoreTestSuite) TestRedisStore_InstanceSaveGetUpdate() {
	inst := &api.WorkflowInstance{
		ID:      "redis-test-1",
		Name:    "order-fulfillment",
		Version: "v1",
		State:   api.WorkflowStarted,
		Input: api.Payload{
			"sku": "A-17",
			"att": redisSampleAttachment{Msg: "hello", N: 42},
		},
		Vars:      api.Payload{"sku": "A-17", "picked": false},
		Marking:   map[string]int{"ordered": 1},
		CreatedAt: time.Now(),
	}

	// Save
	err := r.store.SaveInstance(inst)
	r.NoErrorf(err, "SaveInstance failed: %v", err)

	// Get
	got, err := r.store.GetInstance("redis-test-1")
	r.NoErrorf(err, "GetInstance failed: %v", err)

	if got.Name != inst.Name || got.Version != inst.Version || got.State != inst.State {
		r.Failf("unexpected instance", "instance after Get: %+v", got)
	}
	if got.Input["sku"] != "A-17" || got.Vars["picked"] != false {
		r.Failf("payloads lost", "input %+v vars %+v", got.Input, got.Vars)
	}
	att, ok := got.Input["att"].(redisSampleAttachment)
	if !ok {
		r.Failf("expected att of type redisSampleAttachment", "got %T", got.Input["att"])
	}
	if att.Msg != "hello" || att.N != 42 {
		r.Failf("unexpected att", "payload: %+v", att)
	}
	if got.Marking["ordered"] != 1 {
		r.Failf("marking lost", "marking after Get: %+v", got.Marking)
	}

	// Update: mark completed with output and a cleared marking.
	got.State = api.WorkflowCompleted
	got.Output = api.Payload{"shipped": true}
	got.Marking = map[string]int{}
	got.FinishedAt = time.Now()

	err = r.store.UpdateInstance(got)
	r.NoErrorf(err, "UpdateInstance failed: %v", err)

	got2, err := r.store.GetInstance(got.ID)
	r.NoErrorf(err, "GetInstance after update failed: %v", err)

	if got2.State != api.WorkflowCompleted || got2.Output["shipped"] != true {
		r.Failf("update not persisted", "instance after update: %+v", got2)
	}
	if len(got2.Marking) != 0 {
		r.Failf("marking not cleared", "marking after update: %+v", got2.Marking)
	}
	if got2.FinishedAt.IsZero() {
		r.Failf("FinishedAt lost", "expected non-zero FinishedAt")
	}
}

func (r *RedisStoreTestSuite) TestRedisStore_InstanceNotFound() {
	_, err := r.store.GetInstance("missing")
	r.ErrorIsf(err, corep.ErrInstanceNotFound, "expected ErrInstanceNotFound, got %v", err)

	err = r.store.UpdateInstance(&api.WorkflowInstance{ID: "missing", Marking: map[string]int{}})
	r.ErrorIsf(err, corep.ErrInstanceNotFound, "expected ErrInstanceNotFound on update, got %v", err)
}

func (r *RedisStoreTestSuite) TestRedisStore_ListInstancesFilters() {
	now := time.Now()
	instances := []*api.WorkflowInstance{
		{ID: "redis-list-1", Name: "order-fulfillment", State: api.WorkflowStarted, CreatedAt: now},
		{ID: "redis-list-2", Name: "order-fulfillment", State: api.WorkflowCompleted, CreatedAt: now.Add(time.Millisecond)},
		{ID: "redis-list-3", Name: "returns", State: api.WorkflowStarted, ParentTaskInstance: "ti-4", CreatedAt: now.Add(2 * time.Millisecond)},
	}

	for _, inst := range instances {
		err := r.store.SaveInstance(inst)
		r.NoErrorf(err, "SaveInstance(%s) failed: %v", inst.ID, err)
	}

	// Unfiltered, ordered by creation time.
	all, err := r.store.ListInstances(corep.InstanceFilter{})
	r.NoErrorf(err, "ListInstances (no filter) failed: %v", err)
	if len(all) != len(instances) || all[0].ID != "redis-list-1" || all[2].ID != "redis-list-3" {
		r.Failf("unexpected listing", "expected %d ordered instances, got %+v", len(instances), all)
	}

	// Filter by workflow name and state.
	completed, err := r.store.ListInstances(corep.InstanceFilter{WorkflowName: "order-fulfillment", State: api.WorkflowCompleted})
	r.NoErrorf(err, "ListInstances (order-fulfillment + COMPLETED) failed: %v", err)
	if len(completed) != 1 || completed[0].ID != "redis-list-2" {
		r.Failf("unexpected filtered listing", "got %+v", completed)
	}

	// Filter by parent task instance.
	children, err := r.store.ListInstances(corep.InstanceFilter{ParentTaskInstance: "ti-4"})
	r.NoErrorf(err, "ListInstances (parent) failed: %v", err)
	if len(children) != 1 || children[0].ID != "redis-list-3" {
		r.Failf("unexpected parent listing", "got %+v", children)
	}
}

func (r *RedisStoreTestSuite) TestRedisStore_ListFiltersOutStaleIndexEntries() {
	inst := &api.WorkflowInstance{ID: "redis-stale-1", Name: "order-fulfillment", State: api.WorkflowStarted, CreatedAt: time.Now()}
	err := r.store.SaveInstance(inst)
	r.NoErrorf(err, "SaveInstance failed: %v", err)

	inst.State = api.WorkflowCanceled
	err = r.store.UpdateInstance(inst)
	r.NoErrorf(err, "UpdateInstance failed: %v", err)

	// The STARTED index set still holds the ID; the record re-check must
	// keep the instance out of the result.
	started, err := r.store.ListInstances(corep.InstanceFilter{State: api.WorkflowStarted})
	r.NoErrorf(err, "ListInstances (STARTED) failed: %v", err)
	if len(started) != 0 {
		r.Failf("stale index entry surfaced", "got %+v", started)
	}

	canceled, err := r.store.ListInstances(corep.InstanceFilter{State: api.WorkflowCanceled})
	r.NoErrorf(err, "ListInstances (CANCELED) failed: %v", err)
	if len(canceled) != 1 || canceled[0].ID != "redis-stale-1" {
		r.Failf("unexpected listing", "got %+v", canceled)
	}
}

func (r *RedisStoreTestSuite) TestRedisStore_TaskSaveGetUpdateList() {
	now := time.Now()
	task := &api.TaskInstance{
		ID:         "redis-ti-1",
		WorkflowID: "redis-wf-1",
		TaskName:   "pick",
		State:      api.TaskDisabled,
		CreatedAt:  now,
	}

	err := r.store.SaveTask(task)
	r.NoErrorf(err, "SaveTask failed: %v", err)

	task.State = api.TaskEnabled
	task.Cardinality = 2
	err = r.store.UpdateTask(task)
	r.NoErrorf(err, "UpdateTask failed: %v", err)

	got, err := r.store.GetTask("redis-ti-1")
	r.NoErrorf(err, "GetTask failed: %v", err)
	if got.State != api.TaskEnabled || got.Cardinality != 2 || got.TaskName != "pick" {
		r.Failf("unexpected task", "task after update: %+v", got)
	}

	err = r.store.SaveTask(&api.TaskInstance{ID: "redis-ti-2", WorkflowID: "redis-wf-1", TaskName: "ship", State: api.TaskDisabled, CreatedAt: now.Add(time.Millisecond)})
	r.NoErrorf(err, "SaveTask failed: %v", err)

	enabled, err := r.store.ListTasks(corep.TaskFilter{WorkflowID: "redis-wf-1", State: api.TaskEnabled})
	r.NoErrorf(err, "ListTasks failed: %v", err)
	if len(enabled) != 1 || enabled[0].ID != "redis-ti-1" {
		r.Failf("unexpected task listing", "got %+v", enabled)
	}

	_, err = r.store.GetTask("missing")
	r.ErrorIsf(err, corep.ErrTaskNotFound, "expected ErrTaskNotFound, got %v", err)
}

func (r *RedisStoreTestSuite) TestRedisStore_WorkItemRoundTrip() {
	item := &api.WorkItem{
		ID:             "redis-wi-1",
		WorkflowID:     "redis-wf-1",
		TaskInstanceID: "redis-ti-1",
		TaskName:       "pick",
		State:          api.WorkItemInitialized,
		Input:          api.Payload{"sku": "A-17"},
		CreatedAt:      time.Now(),
	}

	err := r.store.SaveWorkItem(item)
	r.NoErrorf(err, "SaveWorkItem failed: %v", err)

	item.State = api.WorkItemCompleted
	item.Output = api.Payload{"picked": true}
	item.ChildWorkflowID = "redis-child-1"
	item.FinishedAt = time.Now()
	err = r.store.UpdateWorkItem(item)
	r.NoErrorf(err, "UpdateWorkItem failed: %v", err)

	got, err := r.store.GetWorkItem("redis-wi-1")
	r.NoErrorf(err, "GetWorkItem failed: %v", err)
	if got.State != api.WorkItemCompleted || got.Output["picked"] != true || got.Input["sku"] != "A-17" {
		r.Failf("unexpected work item", "work item after update: %+v", got)
	}

	// The child index is maintained on update.
	byChild, err := r.store.ListWorkItems(corep.WorkItemFilter{ChildWorkflowID: "redis-child-1"})
	r.NoErrorf(err, "ListWorkItems (child) failed: %v", err)
	if len(byChild) != 1 || byChild[0].ID != "redis-wi-1" {
		r.Failf("unexpected child listing", "got %+v", byChild)
	}

	byState, err := r.store.ListWorkItems(corep.WorkItemFilter{WorkflowID: "redis-wf-1", State: api.WorkItemInitialized})
	r.NoErrorf(err, "ListWorkItems (state) failed: %v", err)
	if len(byState) != 0 {
		r.Failf("unexpected listing", "expected no INITIALIZED items, got %+v", byState)
	}

	_, err = r.store.GetWorkItem("missing")
	r.ErrorIsf(err, corep.ErrWorkItemNotFound, "expected ErrWorkItemNotFound, got %v", err)
}

func (r *RedisStoreTestSuite) TestRedisEventStore_AppendAndList() {
	ctx := context.Background()
	events := []api.Event{
		{InstanceID: "redis-ev-1", Type: api.EventWorkflowInitialized, Actor: "ops", WorkflowName: "order-fulfillment", To: string(api.WorkflowInitialized)},
		{InstanceID: "redis-ev-1", Type: api.EventWorkflowStarted, From: string(api.WorkflowInitialized), To: string(api.WorkflowStarted)},
		{InstanceID: "redis-ev-2", Type: api.EventWorkflowInitialized},
	}

	for _, ev := range events {
		err := r.events.AppendEvent(ctx, ev)
		r.NoErrorf(err, "AppendEvent failed: %v", err)
	}

	got, err := r.events.ListEvents(ctx, "redis-ev-1")
	r.NoErrorf(err, "ListEvents failed: %v", err)

	if len(got) != 2 {
		r.Failf("unexpected event count", "expected 2 events for redis-ev-1, got %d", len(got))
	}
	if got[0].Type != api.EventWorkflowInitialized || got[0].Actor != "ops" {
		r.Failf("unexpected first event", "event: %+v", got[0])
	}
	if got[1].From != string(api.WorkflowInitialized) || got[1].To != string(api.WorkflowStarted) {
		r.Failf("transition states lost", "event: %+v", got[1])
	}
	if got[0].At.IsZero() {
		r.Failf("missing timestamp", "expected AppendEvent to default the timestamp")
	}
}

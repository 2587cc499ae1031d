package weft

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

// reviewDef is a single-task workflow used by the facade tests.
func reviewDef(name string) *Builder {
	return New(name).
		Initial("pending").
		Task("review", WithAutoInitialize()).
		Flow("pending", "review").
		Flow("review", "closed").
		Terminal("closed")
}

func TestWeft_TopLevelWrappers(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	wf := reviewDef("access-request")
	wf.MustRegister(eng)

	// Start the workflow via the top-level Initialize wrapper.
	id, err := Initialize(ctx, eng, wf.Name(), Payload{"requester": "dev-7"})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// GetWorkflow wrapper should see the started instance.
	inst, err := GetWorkflow(ctx, eng, id)
	if err != nil || inst.ID != id {
		t.Fatalf("GetWorkflow mismatch: %v", err)
	}
	if inst.State != WorkflowStarted {
		t.Fatalf("expected STARTED, got %s", inst.State)
	}

	// Propagate: review becomes enabled and its work item appears.
	if err := Drain(ctx, eng); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	items, err := eng.GetWorkItemsByState(ctx, id, WorkItemInitialized)
	if err != nil || len(items) != 1 {
		t.Fatalf("expected one initialized work item, got %d (%v)", len(items), err)
	}

	// ListWorkflows wrapper with filters.
	lst, err := ListWorkflows(ctx, eng, WorkflowListOptions{Name: wf.Name(), State: WorkflowStarted})
	if err != nil || len(lst) != 1 {
		t.Fatalf("expected to list the started instance: %v len=%d", err, len(lst))
	}

	// Complete the work item through the wrapper and drain to the end.
	if err := eng.StartWorkItem(ctx, items[0].ID, "sec-team"); err != nil {
		t.Fatalf("StartWorkItem failed: %v", err)
	}
	if err := Complete(ctx, eng, items[0].ID, Payload{"granted": true}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if err := Drain(ctx, eng); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	inst, err = GetWorkflow(ctx, eng, id)
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	if inst.State != WorkflowCompleted {
		t.Fatalf("expected COMPLETED, got %s", inst.State)
	}
	if inst.Output["granted"] != true {
		t.Fatalf("expected output to carry the review result, got %v", inst.Output)
	}
}

func TestWeft_CancelWrapper(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	wf := reviewDef("cancelable-request")
	wf.MustRegister(eng)

	id, err := Initialize(ctx, eng, wf.Name(), nil)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := Cancel(ctx, eng, id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	inst, err := GetWorkflow(ctx, eng, id)
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	if inst.State != WorkflowCanceled {
		t.Fatalf("expected CANCELED, got %s", inst.State)
	}

	// Canceling a completed or failed instance is a caller error; canceling
	// an already canceled one is not.
	if err := Cancel(ctx, eng, id); err != nil {
		t.Fatalf("second Cancel should be a no-op, got %v", err)
	}
}

func TestWeft_SQLiteConstructors(t *testing.T) {
	ctx := context.Background()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	defer db.Close()

	metrics := &BasicMetrics{}
	eng, err := NewSQLiteEngineWithObserver(db, metrics)
	if err != nil {
		t.Fatalf("NewSQLiteEngineWithObserver failed: %v", err)
	}

	wf := reviewDef("sqlite-request")
	wf.MustRegister(eng)

	id, err := Initialize(ctx, eng, wf.Name(), nil)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := Drain(ctx, eng); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	items, err := eng.GetWorkItemsByState(ctx, id, WorkItemInitialized)
	if err != nil || len(items) != 1 {
		t.Fatalf("expected one initialized work item, got %d (%v)", len(items), err)
	}
	if err := eng.StartWorkItem(ctx, items[0].ID, "auditor"); err != nil {
		t.Fatalf("StartWorkItem failed: %v", err)
	}
	if err := Complete(ctx, eng, items[0].ID, nil); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if err := Drain(ctx, eng); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	snap := metrics.Snapshot()
	if snap.WorkflowsStarted != 1 || snap.WorkflowsCompleted != 1 {
		t.Fatalf("unexpected metrics: %+v", snap)
	}
	if snap.WorkItemsCompleted != 1 {
		t.Fatalf("expected one completed work item in metrics: %+v", snap)
	}
}

func TestWeft_ActorTravelsInContext(t *testing.T) {
	eng := NewInMemoryEngineWithAuthorizer(NewStaticAuthorizer(map[string][]Scope{
		"clerk":      {ScopeWorkflowInitialize},
		"supervisor": {ScopeWorkflowInitialize, ScopeWorkflowCancel},
	}))

	wf := reviewDef("guarded-request")
	wf.MustRegister(eng)

	// The clerk may initialize workflows but not cancel them.
	ctx := WithActor(context.Background(), "clerk")
	id, err := Initialize(ctx, eng, wf.Name(), nil)
	if err != nil {
		t.Fatalf("Initialize as clerk failed: %v", err)
	}

	err = Cancel(ctx, eng, id)
	if !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized cancel, got %v", err)
	}

	if err := Cancel(WithActor(context.Background(), "supervisor"), eng, id); err != nil {
		t.Fatalf("Cancel as supervisor failed: %v", err)
	}
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/petrijr/weft/internal/persistence"
	"github.com/petrijr/weft/pkg/api"
)

func (e *engineImpl) InitializeWorkItem(ctx context.Context, target api.WorkItemTarget, input api.Payload) (string, error) {
	if err := e.authorize(ctx, api.ScopeWorkItemInitialize); err != nil {
		return "", err
	}

	workflowID := target.WorkflowID
	if target.TaskInstanceID != "" {
		ti, err := e.stores.Tasks.GetTask(target.TaskInstanceID)
		if err != nil {
			return "", mapTaskErr(err, target.TaskInstanceID)
		}
		workflowID = ti.WorkflowID
	}
	if workflowID == "" {
		return "", errors.New("work item target needs a task instance ID, or a workflow ID and task name")
	}

	unlock := e.locks.lock(workflowID)
	defer unlock()

	inst, err := e.stores.Instances.GetInstance(workflowID)
	if err != nil {
		return "", mapInstanceErr(err, workflowID)
	}
	if inst.State != api.WorkflowStarted {
		return "", &api.TransitionError{Entity: "workflow", ID: inst.ID, State: string(inst.State), Op: "add work items to"}
	}
	g, err := e.graphFor(inst)
	if err != nil {
		return "", err
	}

	ti, err := e.resolveTaskTarget(target, workflowID)
	if err != nil {
		return "", err
	}
	if !ti.State.Live() {
		return "", &api.TransitionError{Entity: "task", ID: ti.ID, State: string(ti.State), Op: "initialize a work item under"}
	}
	td := g.tasks[ti.TaskName]
	if td.EffectiveKind() != api.KindAtomic {
		return "", fmt.Errorf("task %q is %s: its work items are engine-managed", ti.TaskName, td.EffectiveKind())
	}

	items, err := e.stores.WorkItems.ListWorkItems(persistence.WorkItemFilter{TaskInstanceID: ti.ID})
	if err != nil {
		return "", err
	}
	used := 0
	for _, existing := range items {
		// Live and completed items hold a slot; failed and canceled ones
		// freed theirs.
		if existing.State.Live() || existing.State == api.WorkItemCompleted {
			used++
		}
	}
	if used >= ti.Cardinality {
		return "", fmt.Errorf("task %q: all %d cardinality slots are taken", ti.TaskName, ti.Cardinality)
	}

	if input == nil {
		input = inst.Vars
	}
	wi, err := e.createWorkItem(ctx, inst, ti, input)
	if err != nil {
		return "", err
	}
	return wi.ID, nil
}

func (e *engineImpl) resolveTaskTarget(target api.WorkItemTarget, workflowID string) (*api.TaskInstance, error) {
	if target.TaskInstanceID != "" {
		ti, err := e.stores.Tasks.GetTask(target.TaskInstanceID)
		if err != nil {
			return nil, mapTaskErr(err, target.TaskInstanceID)
		}
		return ti, nil
	}
	tis, err := e.stores.Tasks.ListTasks(persistence.TaskFilter{WorkflowID: workflowID, TaskName: target.TaskName})
	if err != nil {
		return nil, err
	}
	for _, ti := range tis {
		if ti.State.Live() {
			return ti, nil
		}
	}
	return nil, fmt.Errorf("%w: no live activation of task %q in workflow %s", api.ErrTaskNotFound, target.TaskName, workflowID)
}

func (e *engineImpl) StartWorkItem(ctx context.Context, id, claimant string) error {
	if err := e.authorize(ctx, api.ScopeWorkItemStart); err != nil {
		return err
	}

	probe, err := e.stores.WorkItems.GetWorkItem(id)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkItemNotFound) {
			return &api.ClaimError{WorkItemID: id, Reason: "work item not found"}
		}
		return err
	}

	unlock := e.locks.lock(probe.WorkflowID)
	defer unlock()

	wi, err := e.stores.WorkItems.GetWorkItem(id)
	if err != nil {
		return mapWorkItemErr(err, id)
	}
	if wi.State != api.WorkItemInitialized {
		return &api.ClaimError{WorkItemID: id, Reason: fmt.Sprintf("work item is %s", wi.State)}
	}
	ti, err := e.stores.Tasks.GetTask(wi.TaskInstanceID)
	if err != nil {
		return mapTaskErr(err, wi.TaskInstanceID)
	}
	if !ti.State.Live() {
		return &api.ClaimError{WorkItemID: id, Reason: fmt.Sprintf("task is %s", ti.State)}
	}
	inst, err := e.stores.Instances.GetInstance(wi.WorkflowID)
	if err != nil {
		return mapInstanceErr(err, wi.WorkflowID)
	}

	// The store-level compare-and-set is what makes the claim exclusive
	// across processes sharing a durable backend.
	if err := e.stores.WorkItems.ClaimWorkItem(ctx, id, claimant); err != nil {
		if errors.Is(err, persistence.ErrClaimConflict) {
			return &api.ClaimError{WorkItemID: id, Reason: "claimed by another actor"}
		}
		return err
	}
	wi.State = api.WorkItemStarted
	wi.Claimant = claimant
	e.auditWorkItem(ctx, inst, wi, api.WorkItemInitialized, "")

	// The first started work item moves the task from enabled to started.
	if ti.State == api.TaskEnabled {
		from := ti.State
		ti.State = api.TaskStarted
		if err := e.stores.Tasks.UpdateTask(ti); err != nil {
			return err
		}
		e.auditTask(ctx, inst, ti, from, "")
	}
	return nil
}

func (e *engineImpl) CompleteWorkItem(ctx context.Context, id string, output api.Payload) error {
	if err := e.authorize(ctx, api.ScopeWorkItemComplete); err != nil {
		return err
	}

	wi, unlock, err := e.lockedWorkItem(id)
	if err != nil {
		return err
	}
	defer unlock()

	if wi.ChildWorkflowID != "" {
		return fmt.Errorf("work item %s tracks child workflow %s and is engine-managed", wi.ID, wi.ChildWorkflowID)
	}
	if wi.State != api.WorkItemStarted {
		return &api.TransitionError{Entity: "work item", ID: id, State: string(wi.State), Op: "complete"}
	}

	inst, g, ti, err := e.workItemContext(wi)
	if err != nil {
		return err
	}

	wi.Output = output.Clone()
	if err := e.transitionWorkItem(ctx, inst, wi, api.WorkItemCompleted, ""); err != nil {
		return err
	}
	return e.resolveProgress(ctx, g, inst, ti)
}

func (e *engineImpl) FailWorkItem(ctx context.Context, id, reason string) error {
	if err := e.authorize(ctx, api.ScopeWorkItemFail); err != nil {
		return err
	}

	wi, unlock, err := e.lockedWorkItem(id)
	if err != nil {
		return err
	}
	defer unlock()

	if wi.ChildWorkflowID != "" {
		return fmt.Errorf("work item %s tracks child workflow %s and is engine-managed", wi.ID, wi.ChildWorkflowID)
	}
	if wi.State != api.WorkItemStarted {
		return &api.TransitionError{Entity: "work item", ID: id, State: string(wi.State), Op: "fail"}
	}

	inst, g, ti, err := e.workItemContext(wi)
	if err != nil {
		return err
	}

	wi.Failure = reason
	if err := e.transitionWorkItem(ctx, inst, wi, api.WorkItemFailed, reason); err != nil {
		return err
	}
	return e.resolveProgress(ctx, g, inst, ti)
}

func (e *engineImpl) CancelWorkItem(ctx context.Context, id string) error {
	if err := e.authorize(ctx, api.ScopeWorkItemCancel); err != nil {
		return err
	}

	wi, unlock, err := e.lockedWorkItem(id)
	if err != nil {
		return err
	}
	defer unlock()

	if wi.State == api.WorkItemCanceled {
		return nil
	}
	if wi.Terminal() {
		return &api.TransitionError{Entity: "work item", ID: id, State: string(wi.State), Op: "cancel"}
	}

	inst, g, ti, err := e.workItemContext(wi)
	if err != nil {
		return err
	}

	if err := e.cancelWorkItemCascade(ctx, inst, wi, "canceled by actor"); err != nil {
		return err
	}
	return e.resolveProgress(ctx, g, inst, ti)
}

// lockedWorkItem resolves a work item's instance lock and reloads the item
// under it.
func (e *engineImpl) lockedWorkItem(id string) (*api.WorkItem, func(), error) {
	probe, err := e.stores.WorkItems.GetWorkItem(id)
	if err != nil {
		return nil, nil, mapWorkItemErr(err, id)
	}

	unlock := e.locks.lock(probe.WorkflowID)
	wi, err := e.stores.WorkItems.GetWorkItem(id)
	if err != nil {
		unlock()
		return nil, nil, mapWorkItemErr(err, id)
	}
	return wi, unlock, nil
}

func (e *engineImpl) workItemContext(wi *api.WorkItem) (*api.WorkflowInstance, *compiledGraph, *api.TaskInstance, error) {
	inst, err := e.stores.Instances.GetInstance(wi.WorkflowID)
	if err != nil {
		return nil, nil, nil, mapInstanceErr(err, wi.WorkflowID)
	}
	g, err := e.graphFor(inst)
	if err != nil {
		return nil, nil, nil, err
	}
	ti, err := e.stores.Tasks.GetTask(wi.TaskInstanceID)
	if err != nil {
		return nil, nil, nil, mapTaskErr(err, wi.TaskInstanceID)
	}
	return inst, g, ti, nil
}

// resolveProgress runs evaluateTaskProgress and converts a routing dead end
// into instance failure. The RouteError itself is returned so callers see
// why the instance failed.
func (e *engineImpl) resolveProgress(ctx context.Context, g *compiledGraph, inst *api.WorkflowInstance, ti *api.TaskInstance) error {
	err := e.evaluateTaskProgress(ctx, g, inst, ti)
	if err != nil && api.IsNoMatchingRoute(err) {
		if ferr := e.failInstanceLocked(ctx, inst, err.Error()); ferr != nil {
			return ferr
		}
	}
	return err
}

// createWorkItem persists a new initialized work item under a task instance.
func (e *engineImpl) createWorkItem(ctx context.Context, inst *api.WorkflowInstance, ti *api.TaskInstance, input api.Payload) (*api.WorkItem, error) {
	wi := &api.WorkItem{
		ID:             newID("wi"),
		WorkflowID:     inst.ID,
		TaskInstanceID: ti.ID,
		TaskName:       ti.TaskName,
		State:          api.WorkItemInitialized,
		Input:          input.Clone(),
		CreatedAt:      time.Now(),
	}
	if err := e.stores.WorkItems.SaveWorkItem(wi); err != nil {
		return nil, err
	}
	e.auditWorkItem(ctx, inst, wi, "", "")
	return wi, nil
}

// transitionWorkItem persists a work item state change and audits it. The
// caller sets Output or Failure beforehand when relevant.
func (e *engineImpl) transitionWorkItem(ctx context.Context, inst *api.WorkflowInstance, wi *api.WorkItem, to api.WorkItemState, detail string) error {
	from := wi.State
	wi.State = to
	if to.Terminal() {
		wi.FinishedAt = time.Now()
	}
	if err := e.stores.WorkItems.UpdateWorkItem(wi); err != nil {
		return err
	}
	e.auditWorkItem(ctx, inst, wi, from, detail)
	return nil
}

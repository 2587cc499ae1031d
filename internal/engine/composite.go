package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/weft/internal/persistence"
	"github.com/petrijr/weft/internal/taskqueue"
	"github.com/petrijr/weft/pkg/api"
)

// handleSpawnChild creates one composite child: the tracking work item, the
// engine's claim on it, and the nested workflow instance, all in a single
// step so a retried step never ends up with a half-spawned child. The slot
// index makes retries idempotent: a slot that already has its work item is
// resumed, not duplicated.
func (e *engineImpl) handleSpawnChild(ctx context.Context, step *taskqueue.Step) error {
	unlock := e.locks.lock(step.WorkflowID)
	defer unlock()

	ti, err := e.stores.Tasks.GetTask(step.TaskInstanceID)
	if err != nil {
		if errors.Is(err, persistence.ErrTaskNotFound) {
			return nil
		}
		return err
	}
	if !ti.State.Live() {
		return nil // withdrawn before the spawn landed
	}

	inst, err := e.stores.Instances.GetInstance(step.WorkflowID)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil
		}
		return err
	}
	if inst.Terminal() {
		return nil
	}
	g, err := e.graphFor(inst)
	if err != nil {
		return err
	}
	td := g.tasks[ti.TaskName]

	items, err := e.stores.WorkItems.ListWorkItems(persistence.WorkItemFilter{TaskInstanceID: ti.ID})
	if err != nil {
		return err
	}

	var wi *api.WorkItem
	if step.Slot < len(items) {
		wi = items[step.Slot]
		if wi.ChildWorkflowID != "" || wi.Terminal() {
			return nil // already spawned, or withdrawn
		}
	} else {
		wi, err = e.createWorkItem(ctx, inst, ti, inst.Vars)
		if err != nil {
			return err
		}
	}

	if wi.State == api.WorkItemInitialized {
		if err := e.stores.WorkItems.ClaimWorkItem(ctx, wi.ID, engineClaimant); err != nil {
			return err
		}
		wi.State = api.WorkItemStarted
		wi.Claimant = engineClaimant
		e.auditWorkItem(ctx, inst, wi, api.WorkItemInitialized, "")
	}

	subName, subVersion := splitWorkflowRef(td.SubWorkflow)
	childID, err := e.initializeWorkflow(ctx, subName, subVersion, wi.Input, ti.ID)
	if err != nil {
		return err
	}
	wi.ChildWorkflowID = childID
	if err := e.stores.WorkItems.UpdateWorkItem(wi); err != nil {
		return err
	}

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

// handleChildTerminal mirrors a finished composite child onto its tracking
// work item in the parent: completed children complete the item with the
// child's output, failed children fail it (or free the slot under
// allow_partial), canceled children cancel it.
func (e *engineImpl) handleChildTerminal(ctx context.Context, step *taskqueue.Step) error {
	unlock := e.locks.lock(step.WorkflowID) // parent instance
	defer unlock()

	child, err := e.stores.Instances.GetInstance(step.ChildWorkflowID)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil
		}
		return err
	}
	if !child.Terminal() {
		return nil
	}

	items, err := e.stores.WorkItems.ListWorkItems(persistence.WorkItemFilter{ChildWorkflowID: child.ID})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	wi := items[0]
	if wi.Terminal() {
		return nil // the parent already resolved this slot
	}

	inst, err := e.stores.Instances.GetInstance(step.WorkflowID)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil
		}
		return err
	}
	if inst.Terminal() {
		return nil
	}
	g, err := e.graphFor(inst)
	if err != nil {
		return err
	}
	ti, err := e.stores.Tasks.GetTask(wi.TaskInstanceID)
	if err != nil {
		return mapTaskErr(err, wi.TaskInstanceID)
	}
	td := g.tasks[wi.TaskName]

	switch child.State {
	case api.WorkflowCompleted:
		wi.Output = child.Output.Clone()
		if err := e.transitionWorkItem(ctx, inst, wi, api.WorkItemCompleted, ""); err != nil {
			return err
		}
	case api.WorkflowFailed:
		if td.AllowPartial {
			detail := fmt.Sprintf("child workflow %s failed; slot released", child.ID)
			if err := e.transitionWorkItem(ctx, inst, wi, api.WorkItemCanceled, detail); err != nil {
				return err
			}
		} else {
			wi.Failure = fmt.Sprintf("child workflow %s failed: %s", child.ID, child.Failure)
			if err := e.transitionWorkItem(ctx, inst, wi, api.WorkItemFailed, wi.Failure); err != nil {
				return err
			}
		}
	case api.WorkflowCanceled:
		detail := fmt.Sprintf("child workflow %s canceled", child.ID)
		if err := e.transitionWorkItem(ctx, inst, wi, api.WorkItemCanceled, detail); err != nil {
			return err
		}
	}

	if err := e.resolveProgress(ctx, g, inst, ti); err != nil {
		// A routing dead end already failed the parent; the step itself
		// is done.
		if api.IsNoMatchingRoute(err) {
			return nil
		}
		return err
	}
	return nil
}

// handleCancelInstance cancels a composite child on behalf of its parent.
func (e *engineImpl) handleCancelInstance(ctx context.Context, step *taskqueue.Step) error {
	unlock := e.locks.lock(step.WorkflowID) // the child instance
	defer unlock()

	err := e.cancelWorkflowLocked(ctx, step.WorkflowID, "canceled by parent workflow")
	if err != nil && api.IsInvalidTransition(err) {
		return nil // the child finished first
	}
	return err
}

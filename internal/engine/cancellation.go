package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/petrijr/weft/internal/persistence"
	"github.com/petrijr/weft/internal/taskqueue"
	"github.com/petrijr/weft/pkg/api"
)

// cancelWorkItemCascade cancels one work item and, when it tracks a
// composite child, queues the child instance's cancellation.
func (e *engineImpl) cancelWorkItemCascade(ctx context.Context, inst *api.WorkflowInstance, wi *api.WorkItem, detail string) error {
	if err := e.transitionWorkItem(ctx, inst, wi, api.WorkItemCanceled, detail); err != nil {
		return err
	}
	if wi.ChildWorkflowID == "" {
		return nil
	}
	return e.queue.Enqueue(ctx, taskqueue.Step{
		ID:         newID("step"),
		Type:       taskqueue.StepCancelInstance,
		WorkflowID: wi.ChildWorkflowID,
	})
}

// cancelTaskRemainder withdraws the still-live work items of a task
// instance without touching the task instance itself.
func (e *engineImpl) cancelTaskRemainder(ctx context.Context, inst *api.WorkflowInstance, ti *api.TaskInstance, detail string) error {
	items, err := e.stores.WorkItems.ListWorkItems(persistence.WorkItemFilter{TaskInstanceID: ti.ID})
	if err != nil {
		return err
	}
	for _, wi := range items {
		if wi.Terminal() {
			continue
		}
		if err := e.cancelWorkItemCascade(ctx, inst, wi, detail); err != nil {
			return err
		}
	}
	return nil
}

// cancelTaskInstance cancels a live task instance together with its live
// work items.
func (e *engineImpl) cancelTaskInstance(ctx context.Context, inst *api.WorkflowInstance, ti *api.TaskInstance, detail string) error {
	if err := e.cancelTaskRemainder(ctx, inst, ti, detail); err != nil {
		return err
	}

	from := ti.State
	ti.State = api.TaskCanceled
	ti.FinishedAt = time.Now()
	if err := e.stores.Tasks.UpdateTask(ti); err != nil {
		return err
	}
	e.auditTask(ctx, inst, ti, from, detail)
	return nil
}

// cancelLiveWork cancels every live task instance of a workflow instance.
// It runs when the instance itself completes, fails or is canceled.
func (e *engineImpl) cancelLiveWork(ctx context.Context, inst *api.WorkflowInstance, detail string) error {
	for _, state := range []api.TaskState{api.TaskEnabled, api.TaskStarted} {
		tis, err := e.stores.Tasks.ListTasks(persistence.TaskFilter{WorkflowID: inst.ID, State: state})
		if err != nil {
			return err
		}
		for _, ti := range tis {
			if err := e.cancelTaskInstance(ctx, inst, ti, detail); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyCancellationRegion fires when the region's owner task completes:
// every non-terminal activation of a member task is forced to canceled
// (composite children included, through the queue) and member conditions
// lose their tokens. Disabled members go straight to canceled, the one
// transition allowed to skip enablement; a loop that later routes a token
// back re-instantiates the task fresh.
func (e *engineImpl) applyCancellationRegion(ctx context.Context, inst *api.WorkflowInstance, region api.CancellationRegionDefinition) error {
	detail := fmt.Sprintf("cancellation region of %q", region.Owner)

	for _, taskName := range region.Tasks {
		tis, err := e.stores.Tasks.ListTasks(persistence.TaskFilter{WorkflowID: inst.ID, TaskName: taskName})
		if err != nil {
			return err
		}
		for _, ti := range tis {
			if ti.Terminal() {
				continue
			}
			if err := e.cancelTaskInstance(ctx, inst, ti, detail); err != nil {
				return err
			}
		}
	}

	cleared := false
	for _, c := range region.Conditions {
		if inst.Marking[c] > 0 {
			delete(inst.Marking, c)
			cleared = true
		}
	}
	if cleared {
		if err := e.stores.Instances.UpdateInstance(inst); err != nil {
			return err
		}
	}
	return nil
}

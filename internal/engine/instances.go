package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/petrijr/weft/internal/persistence"
	"github.com/petrijr/weft/internal/taskqueue"
	"github.com/petrijr/weft/pkg/api"
)

func (e *engineImpl) InitializeWorkflow(ctx context.Context, name string, input api.Payload) (string, error) {
	if err := e.authorize(ctx, api.ScopeWorkflowInitialize); err != nil {
		return "", err
	}
	return e.initializeWorkflow(ctx, name, "", input, "")
}

func (e *engineImpl) InitializeWorkflowVersion(ctx context.Context, name, version string, input api.Payload) (string, error) {
	if err := e.authorize(ctx, api.ScopeWorkflowInitialize); err != nil {
		return "", err
	}
	return e.initializeWorkflow(ctx, name, version, input, "")
}

// initializeWorkflow creates and starts an instance: the workflow record,
// one disabled task instance per task, and a token on the initial
// condition. The instance is brand-new and unknown to any other caller, so
// no lock is needed.
func (e *engineImpl) initializeWorkflow(ctx context.Context, name, version string, input api.Payload, parentTaskInstance string) (string, error) {
	g, err := e.registry.Resolve(name, version)
	if err != nil {
		return "", err
	}

	now := time.Now()
	inst := &api.WorkflowInstance{
		ID:                 newID("wf"),
		Name:               g.def.Name,
		Version:            g.version,
		State:              api.WorkflowInitialized,
		Input:              input.Clone(),
		Vars:               input.Clone(),
		Marking:            make(map[string]int),
		ParentTaskInstance: parentTaskInstance,
		CreatedAt:          now,
	}
	if err := e.stores.Instances.SaveInstance(inst); err != nil {
		return "", err
	}
	e.auditWorkflow(ctx, inst, "", "")

	// The full task roster is queryable from the moment the instance
	// exists; enablement later flips individual instances.
	for _, td := range g.def.Tasks {
		ti := &api.TaskInstance{
			ID:         newID("ti"),
			WorkflowID: inst.ID,
			TaskName:   td.Name,
			State:      api.TaskDisabled,
			CreatedAt:  now,
		}
		if err := e.stores.Tasks.SaveTask(ti); err != nil {
			return "", err
		}
	}

	from := inst.State
	inst.State = api.WorkflowStarted
	inst.Marking[g.initial] = 1
	if err := e.stores.Instances.UpdateInstance(inst); err != nil {
		return "", err
	}
	e.auditWorkflow(ctx, inst, from, "")

	err = e.queue.Enqueue(ctx, taskqueue.Step{
		ID:         newID("step"),
		Type:       taskqueue.StepConditionChanged,
		WorkflowID: inst.ID,
		Condition:  g.initial,
	})
	if err != nil {
		return "", err
	}
	return inst.ID, nil
}

func (e *engineImpl) CancelWorkflow(ctx context.Context, id string) error {
	if err := e.authorize(ctx, api.ScopeWorkflowCancel); err != nil {
		return err
	}

	unlock := e.locks.lock(id)
	defer unlock()

	return e.cancelWorkflowLocked(ctx, id, "canceled by actor")
}

// cancelWorkflowLocked cancels an instance under its lock: live work is
// withdrawn, composite children are canceled through the queue, tokens are
// cleared. Canceling an already canceled instance is a no-op.
func (e *engineImpl) cancelWorkflowLocked(ctx context.Context, id, detail string) error {
	inst, err := e.stores.Instances.GetInstance(id)
	if err != nil {
		return mapInstanceErr(err, id)
	}
	if inst.State == api.WorkflowCanceled {
		return nil
	}
	if inst.Terminal() {
		return &api.TransitionError{Entity: "workflow", ID: id, State: string(inst.State), Op: "cancel"}
	}

	if err := e.cancelLiveWork(ctx, inst, detail); err != nil {
		return err
	}

	from := inst.State
	inst.State = api.WorkflowCanceled
	inst.Marking = make(map[string]int)
	inst.FinishedAt = time.Now()
	if err := e.stores.Instances.UpdateInstance(inst); err != nil {
		return err
	}
	e.auditWorkflow(ctx, inst, from, detail)

	return e.notifyParent(ctx, inst)
}

// completeInstanceLocked finishes an instance whose terminal condition got
// marked. Live work left on other branches is withdrawn; the case payload
// is frozen into Output.
func (e *engineImpl) completeInstanceLocked(ctx context.Context, inst *api.WorkflowInstance) error {
	if err := e.cancelLiveWork(ctx, inst, "workflow completed"); err != nil {
		return err
	}

	from := inst.State
	inst.State = api.WorkflowCompleted
	inst.Output = inst.Vars.Clone()
	inst.FinishedAt = time.Now()
	if err := e.stores.Instances.UpdateInstance(inst); err != nil {
		return err
	}
	e.auditWorkflow(ctx, inst, from, "")

	return e.notifyParent(ctx, inst)
}

// failInstanceLocked fails a non-terminal instance and withdraws its live
// work. Failing an already terminal instance is a no-op.
func (e *engineImpl) failInstanceLocked(ctx context.Context, inst *api.WorkflowInstance, failure string) error {
	if inst.Terminal() {
		return nil
	}
	if err := e.cancelLiveWork(ctx, inst, "workflow failed"); err != nil {
		return err
	}

	from := inst.State
	inst.State = api.WorkflowFailed
	inst.Failure = failure
	inst.FinishedAt = time.Now()
	if err := e.stores.Instances.UpdateInstance(inst); err != nil {
		return err
	}
	e.auditWorkflow(ctx, inst, from, failure)

	return e.notifyParent(ctx, inst)
}

// notifyParent tells the parent instance, through the queue, that one of
// its composite children reached a terminal state.
func (e *engineImpl) notifyParent(ctx context.Context, inst *api.WorkflowInstance) error {
	if inst.ParentTaskInstance == "" {
		return nil
	}
	parentTask, err := e.stores.Tasks.GetTask(inst.ParentTaskInstance)
	if err != nil {
		if errors.Is(err, persistence.ErrTaskNotFound) {
			return nil
		}
		return err
	}
	return e.queue.Enqueue(ctx, taskqueue.Step{
		ID:              newID("step"),
		Type:            taskqueue.StepChildTerminal,
		WorkflowID:      parentTask.WorkflowID,
		TaskInstanceID:  parentTask.ID,
		ChildWorkflowID: inst.ID,
	})
}

func (e *engineImpl) GetWorkflow(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	inst, err := e.stores.Instances.GetInstance(id)
	if err != nil {
		return nil, mapInstanceErr(err, id)
	}
	return inst, nil
}

func (e *engineImpl) GetWorkflowTasks(ctx context.Context, id string) ([]*api.TaskInstance, error) {
	if _, err := e.stores.Instances.GetInstance(id); err != nil {
		return nil, mapInstanceErr(err, id)
	}
	return e.stores.Tasks.ListTasks(persistence.TaskFilter{WorkflowID: id})
}

func (e *engineImpl) GetWorkflowTasksByState(ctx context.Context, id string, state api.TaskState) ([]*api.TaskInstance, error) {
	if _, err := e.stores.Instances.GetInstance(id); err != nil {
		return nil, mapInstanceErr(err, id)
	}
	return e.stores.Tasks.ListTasks(persistence.TaskFilter{WorkflowID: id, State: state})
}

func (e *engineImpl) GetTaskWorkItems(ctx context.Context, taskInstanceID string) ([]*api.WorkItem, error) {
	if _, err := e.stores.Tasks.GetTask(taskInstanceID); err != nil {
		return nil, mapTaskErr(err, taskInstanceID)
	}
	return e.stores.WorkItems.ListWorkItems(persistence.WorkItemFilter{TaskInstanceID: taskInstanceID})
}

func (e *engineImpl) GetWorkItem(ctx context.Context, id string) (*api.WorkItem, error) {
	wi, err := e.stores.WorkItems.GetWorkItem(id)
	if err != nil {
		return nil, mapWorkItemErr(err, id)
	}
	return wi, nil
}

func (e *engineImpl) GetWorkItemsByState(ctx context.Context, id string, state api.WorkItemState) ([]*api.WorkItem, error) {
	if _, err := e.stores.Instances.GetInstance(id); err != nil {
		return nil, mapInstanceErr(err, id)
	}
	return e.stores.WorkItems.ListWorkItems(persistence.WorkItemFilter{WorkflowID: id, State: state})
}

func (e *engineImpl) GetWorkflowCompositeTaskWorkflows(ctx context.Context, id, taskName string) ([]*api.WorkflowInstance, error) {
	if _, err := e.stores.Instances.GetInstance(id); err != nil {
		return nil, mapInstanceErr(err, id)
	}
	tis, err := e.stores.Tasks.ListTasks(persistence.TaskFilter{WorkflowID: id, TaskName: taskName})
	if err != nil {
		return nil, err
	}

	var out []*api.WorkflowInstance
	for _, ti := range tis {
		children, err := e.stores.Instances.ListInstances(persistence.InstanceFilter{ParentTaskInstance: ti.ID})
		if err != nil {
			return nil, err
		}
		out = append(out, children...)
	}
	return out, nil
}

func (e *engineImpl) ListWorkflows(ctx context.Context, opts api.WorkflowListOptions) ([]*api.WorkflowInstance, error) {
	return e.stores.Instances.ListInstances(persistence.InstanceFilter{
		WorkflowName: opts.Name,
		State:        opts.State,
	})
}

func (e *engineImpl) ListEvents(ctx context.Context, id string) ([]api.Event, error) {
	if _, err := e.stores.Instances.GetInstance(id); err != nil {
		return nil, mapInstanceErr(err, id)
	}
	return e.stores.Events.ListEvents(ctx, id)
}

func mapInstanceErr(err error, id string) error {
	if errors.Is(err, persistence.ErrInstanceNotFound) {
		return fmt.Errorf("%w: %s", api.ErrWorkflowNotFound, id)
	}
	return err
}

func mapTaskErr(err error, id string) error {
	if errors.Is(err, persistence.ErrTaskNotFound) {
		return fmt.Errorf("%w: %s", api.ErrTaskNotFound, id)
	}
	return err
}

func mapWorkItemErr(err error, id string) error {
	if errors.Is(err, persistence.ErrWorkItemNotFound) {
		return fmt.Errorf("%w: %s", api.ErrWorkItemNotFound, id)
	}
	return err
}

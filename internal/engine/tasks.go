package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/petrijr/weft/internal/persistence"
	"github.com/petrijr/weft/internal/taskqueue"
	"github.com/petrijr/weft/pkg/api"
)

// handleConditionChanged re-evaluates the joins downstream of a condition
// whose token count changed, and completes the instance when the terminal
// condition is marked.
func (e *engineImpl) handleConditionChanged(ctx context.Context, step *taskqueue.Step) error {
	unlock := e.locks.lock(step.WorkflowID)
	defer unlock()

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

	if step.Condition == g.terminal {
		if inst.Tokens(g.terminal) > 0 {
			return e.completeInstanceLocked(ctx, inst)
		}
		return nil
	}

	for _, taskName := range g.condSuccessors[step.Condition] {
		if err := e.maybeEnableTask(ctx, g, inst, taskName); err != nil {
			return err
		}
	}
	return nil
}

// maybeEnableTask enables one activation of a task when its join is
// satisfied, consuming the join's tokens. Tasks whose earlier activations
// are all terminal get a fresh task instance, which is how loops rerun a
// task without rewinding history.
func (e *engineImpl) maybeEnableTask(ctx context.Context, g *compiledGraph, inst *api.WorkflowInstance, taskName string) error {
	tis, err := e.stores.Tasks.ListTasks(persistence.TaskFilter{WorkflowID: inst.ID, TaskName: taskName})
	if err != nil {
		return err
	}
	var target *api.TaskInstance
	for _, ti := range tis {
		if ti.State.Live() {
			return nil // an activation is already in flight
		}
		if ti.State == api.TaskDisabled && target == nil {
			target = ti
		}
	}

	td := g.tasks[taskName]
	ok, consume, err := e.joinSatisfied(g, inst, td)
	if err != nil || !ok {
		return err
	}

	if target == nil {
		target = &api.TaskInstance{
			ID:         newID("ti"),
			WorkflowID: inst.ID,
			TaskName:   taskName,
			State:      api.TaskDisabled,
			CreatedAt:  time.Now(),
		}
		if err := e.stores.Tasks.SaveTask(target); err != nil {
			return err
		}
	}

	for _, c := range consume {
		if n := inst.Marking[c] - 1; n > 0 {
			inst.Marking[c] = n
		} else {
			delete(inst.Marking, c)
		}
	}

	from := target.State
	target.State = api.TaskEnabled
	target.Cardinality = td.CardinalityFor(inst.Vars)
	if err := e.stores.Tasks.UpdateTask(target); err != nil {
		return err
	}
	if err := e.stores.Instances.UpdateInstance(inst); err != nil {
		return err
	}
	e.auditTask(ctx, inst, target, from, "")

	return e.queue.Enqueue(ctx, taskqueue.Step{
		ID:             newID("step"),
		Type:           taskqueue.StepTaskEnabled,
		WorkflowID:     inst.ID,
		TaskInstanceID: target.ID,
	})
}

// joinSatisfied decides whether a task's join can fire against the current
// marking and returns the conditions a firing consumes one token from.
func (e *engineImpl) joinSatisfied(g *compiledGraph, inst *api.WorkflowInstance, td api.TaskDefinition) (bool, []string, error) {
	inputs := g.taskInputs[td.Name]

	switch td.EffectiveJoin() {
	case api.JoinXor:
		// First marked input in definition order wins.
		for _, c := range inputs {
			if inst.Marking[c] > 0 {
				return true, []string{c}, nil
			}
		}
		return false, nil, nil

	case api.JoinOr:
		live, err := e.liveTaskNames(inst.ID)
		if err != nil {
			return false, nil, err
		}
		if !g.orJoinReady(inst.Marking, live, td.Name) {
			return false, nil, nil
		}
		var consume []string
		for _, c := range inputs {
			if inst.Marking[c] > 0 {
				consume = append(consume, c)
			}
		}
		return true, consume, nil

	default: // AND, and the single-input NONE case
		if len(inputs) == 0 {
			return false, nil, nil
		}
		consume := make([]string, 0, len(inputs))
		for _, c := range inputs {
			if inst.Marking[c] == 0 {
				return false, nil, nil
			}
			consume = append(consume, c)
		}
		return true, consume, nil
	}
}

func (e *engineImpl) liveTaskNames(workflowID string) (map[string]bool, error) {
	live := make(map[string]bool)
	for _, state := range []api.TaskState{api.TaskEnabled, api.TaskStarted} {
		tis, err := e.stores.Tasks.ListTasks(persistence.TaskFilter{WorkflowID: workflowID, State: state})
		if err != nil {
			return nil, err
		}
		for _, ti := range tis {
			live[ti.TaskName] = true
		}
	}
	return live, nil
}

// handleTaskEnabled performs a task's enablement side effects: work items
// for auto-initializing atomic tasks, spawn steps for composite ones.
func (e *engineImpl) handleTaskEnabled(ctx context.Context, step *taskqueue.Step) error {
	unlock := e.locks.lock(step.WorkflowID)
	defer unlock()

	ti, err := e.stores.Tasks.GetTask(step.TaskInstanceID)
	if err != nil {
		if errors.Is(err, persistence.ErrTaskNotFound) {
			return nil
		}
		return err
	}
	if ti.State != api.TaskEnabled {
		return nil // withdrawn or already started meanwhile
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

	if td.EffectiveKind() != api.KindAtomic {
		// One spawn step per child keeps each creation individually
		// retryable.
		for slot := 0; slot < ti.Cardinality; slot++ {
			err := e.queue.Enqueue(ctx, taskqueue.Step{
				ID:             newID("step"),
				Type:           taskqueue.StepSpawnChild,
				WorkflowID:     inst.ID,
				TaskInstanceID: ti.ID,
				Slot:           slot,
			})
			if err != nil {
				return err
			}
		}
		return nil
	}

	if !td.AutoInitialize {
		return nil
	}
	for i := 0; i < ti.Cardinality; i++ {
		if _, err := e.createWorkItem(ctx, inst, ti, inst.Vars); err != nil {
			return err
		}
	}
	return nil
}

// evaluateTaskProgress re-checks a task instance against its completion and
// failure policies after one of its work items reached a terminal state.
func (e *engineImpl) evaluateTaskProgress(ctx context.Context, g *compiledGraph, inst *api.WorkflowInstance, ti *api.TaskInstance) error {
	if ti.Terminal() || inst.Terminal() {
		return nil
	}
	td := g.tasks[ti.TaskName]

	items, err := e.stores.WorkItems.ListWorkItems(persistence.WorkItemFilter{TaskInstanceID: ti.ID})
	if err != nil {
		return err
	}

	var completed []*api.WorkItem
	live, failed := 0, 0
	firstFailure := ""
	for _, wi := range items {
		switch wi.State {
		case api.WorkItemCompleted:
			completed = append(completed, wi)
		case api.WorkItemFailed:
			failed++
			if firstFailure == "" {
				firstFailure = wi.Failure
				if firstFailure == "" {
					firstFailure = "work item " + wi.ID + " failed"
				}
			}
		case api.WorkItemInitialized, api.WorkItemStarted:
			live++
		}
	}

	if failed > 0 && td.Failure != api.FailTolerant {
		return e.failTask(ctx, inst, ti, firstFailure)
	}

	required := td.RequiredCompletions(ti.Cardinality)
	if required > ti.Cardinality {
		required = ti.Cardinality
	}
	if len(completed) >= required {
		return e.completeTask(ctx, g, inst, ti, completed)
	}

	// Composite children are spawned once and never re-initialized, so a
	// composite task with no live child left either completes partially or
	// fails.
	if td.EffectiveKind() != api.KindAtomic && live == 0 {
		if td.AllowPartial && len(completed) > 0 {
			return e.completeTask(ctx, g, inst, ti, completed)
		}
		return e.failTask(ctx, inst, ti, "no child workflow left to satisfy the completion policy")
	}

	return nil
}

// completeTask finishes a task instance: leftover slots are withdrawn, the
// completed outputs are merged into the case payload in completion order,
// the task's cancellation region (if any) fires, and the split routes.
func (e *engineImpl) completeTask(ctx context.Context, g *compiledGraph, inst *api.WorkflowInstance, ti *api.TaskInstance, completed []*api.WorkItem) error {
	td := g.tasks[ti.TaskName]

	if err := e.cancelTaskRemainder(ctx, inst, ti, "completion policy satisfied"); err != nil {
		return err
	}

	sort.SliceStable(completed, func(i, j int) bool {
		return completed[i].FinishedAt.Before(completed[j].FinishedAt)
	})
	var output api.Payload
	for _, wi := range completed {
		output = output.Merged(wi.Output)
	}

	from := ti.State
	ti.State = api.TaskCompleted
	ti.FinishedAt = time.Now()
	if err := e.stores.Tasks.UpdateTask(ti); err != nil {
		return err
	}
	e.auditTask(ctx, inst, ti, from, "")

	inst.Vars = inst.Vars.Merged(output)
	if err := e.stores.Instances.UpdateInstance(inst); err != nil {
		return err
	}

	if region, ok := g.regions[ti.TaskName]; ok {
		if err := e.applyCancellationRegion(ctx, inst, region); err != nil {
			return err
		}
	}

	return e.routeCompletion(ctx, g, inst, td, output)
}

// failTask fails a task instance and thereby its workflow instance.
func (e *engineImpl) failTask(ctx context.Context, inst *api.WorkflowInstance, ti *api.TaskInstance, reason string) error {
	if err := e.cancelTaskRemainder(ctx, inst, ti, "task failed"); err != nil {
		return err
	}

	from := ti.State
	ti.State = api.TaskFailed
	ti.FinishedAt = time.Now()
	if err := e.stores.Tasks.UpdateTask(ti); err != nil {
		return err
	}
	e.auditTask(ctx, inst, ti, from, reason)

	return e.failInstanceLocked(ctx, inst, fmt.Sprintf("task %q failed: %s", ti.TaskName, reason))
}

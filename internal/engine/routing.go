package engine

import (
	"context"
	"errors"

	"github.com/petrijr/weft/internal/taskqueue"
	"github.com/petrijr/weft/pkg/api"
)

// selectFlows evaluates a completed task's split against its output payload
// and returns the flows to fire, in definition order.
//
//   - NONE and AND fire every outgoing flow.
//   - XOR fires the first flow whose predicate matches, falling back to the
//     default flow when none does.
//   - OR fires every flow whose predicate matches. There is no default: zero
//     matches is a routing dead end.
//
// A RouteError is returned when nothing fires.
func selectFlows(td api.TaskDefinition, flows []compiledFlow, output api.Payload) ([]compiledFlow, error) {
	switch td.EffectiveSplit() {
	case api.SplitNone, api.SplitAnd:
		if len(flows) == 0 {
			return nil, &api.RouteError{Task: td.Name, Split: td.EffectiveSplit()}
		}
		return flows, nil

	case api.SplitXor:
		var fallback *compiledFlow
		for i, f := range flows {
			if f.def.Default {
				fallback = &flows[i]
				continue
			}
			if f.def.Predicate != nil && f.def.Predicate(output) {
				return flows[i : i+1], nil
			}
		}
		if fallback != nil {
			return []compiledFlow{*fallback}, nil
		}
		return nil, &api.RouteError{Task: td.Name, Split: api.SplitXor}

	case api.SplitOr:
		var fired []compiledFlow
		for _, f := range flows {
			if f.def.Predicate != nil && f.def.Predicate(output) {
				fired = append(fired, f)
			}
		}
		if len(fired) == 0 {
			return nil, &api.RouteError{Task: td.Name, Split: api.SplitOr}
		}
		return fired, nil
	}

	return nil, &api.RouteError{Task: td.Name, Split: td.EffectiveSplit()}
}

// routeCompletion fires the completed task's split and delivers one token
// per fired flow. Routing dead ends come back as a RouteError with the
// instance left untouched; the caller decides how the instance fails.
func (e *engineImpl) routeCompletion(ctx context.Context, g *compiledGraph, inst *api.WorkflowInstance, td api.TaskDefinition, output api.Payload) error {
	fired, err := selectFlows(td, g.taskOutflows[td.Name], output)
	if err != nil {
		var re *api.RouteError
		if errors.As(err, &re) {
			re.Workflow = inst.ID
		}
		return err
	}

	for _, f := range fired {
		inst.Marking[f.condition]++
	}
	if err := e.stores.Instances.UpdateInstance(inst); err != nil {
		return err
	}

	for _, f := range fired {
		err := e.queue.Enqueue(ctx, taskqueue.Step{
			ID:         newID("step"),
			Type:       taskqueue.StepConditionChanged,
			WorkflowID: inst.ID,
			Condition:  f.condition,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

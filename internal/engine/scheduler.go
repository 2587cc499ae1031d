package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/petrijr/weft/internal/taskqueue"
	"github.com/petrijr/weft/pkg/api"
)

// Drain processes queued propagation steps until the queue is empty.
// Failed steps are retried up to the policy's attempt budget; a step whose
// budget runs out fails its owning instance and contributes a
// PropagationError to the joined return value. Drain keeps going after
// failures so the rest of the queue still lands.
func (e *engineImpl) Drain(ctx context.Context) error {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	var failures []error
	for {
		step, err := e.queue.TryDequeue(ctx)
		if err != nil {
			failures = append(failures, err)
			return errors.Join(failures...)
		}
		if step == nil {
			if e.queue.Len() == 0 {
				return errors.Join(failures...)
			}
			// Only delayed retries remain; wait for the earliest one to
			// become eligible.
			select {
			case <-ctx.Done():
				failures = append(failures, ctx.Err())
				return errors.Join(failures...)
			case <-time.After(5 * time.Millisecond):
			}
			continue
		}

		if err := e.processStep(ctx, step); err != nil {
			if perr := e.handleStepFailure(ctx, step, err); perr != nil {
				failures = append(failures, perr)
			}
		}
	}
}

func (e *engineImpl) processStep(ctx context.Context, step *taskqueue.Step) error {
	switch step.Type {
	case taskqueue.StepConditionChanged:
		return e.handleConditionChanged(ctx, step)
	case taskqueue.StepTaskEnabled:
		return e.handleTaskEnabled(ctx, step)
	case taskqueue.StepSpawnChild:
		return e.handleSpawnChild(ctx, step)
	case taskqueue.StepChildTerminal:
		return e.handleChildTerminal(ctx, step)
	case taskqueue.StepCancelInstance:
		return e.handleCancelInstance(ctx, step)
	default:
		return fmt.Errorf("unknown step type %q", step.Type)
	}
}

// handleStepFailure re-enqueues a transiently failed step with its attempt
// count bumped, or, once the budget is spent, fails the owning instance and
// returns the PropagationError for Drain to report.
func (e *engineImpl) handleStepFailure(ctx context.Context, step *taskqueue.Step, cause error) error {
	attempts := step.Attempts + 1

	if attempts < e.propagation.MaxAttempts && retryableStepError(cause) {
		retry := *step
		retry.Attempts = attempts
		if e.propagation.RetryDelay > 0 {
			retry.NotBefore = time.Now().Add(e.propagation.RetryDelay)
		}
		e.observer.OnPropagationError(ctx, step.WorkflowID, string(step.Type), attempts, cause, false)
		e.auditPropagation(ctx, step, attempts, cause, false)
		if err := e.queue.Enqueue(ctx, retry); err == nil {
			return nil
		}
		// Could not requeue; fall through to final failure.
	}

	perr := &api.PropagationError{
		WorkflowID: step.WorkflowID,
		Step:       string(step.Type),
		Attempts:   attempts,
		Err:        cause,
	}
	e.observer.OnPropagationError(ctx, step.WorkflowID, string(step.Type), attempts, cause, true)
	e.auditPropagation(ctx, step, attempts, cause, true)
	e.failInstanceByID(ctx, step.WorkflowID, perr.Error())
	return perr
}

// retryableStepError separates transient step failures, which earn a retry,
// from semantic ones that would repeat deterministically.
func retryableStepError(err error) bool {
	switch {
	case api.IsNoMatchingRoute(err),
		api.IsInvalidTransition(err),
		api.IsDefinitionInvalid(err),
		api.IsUnauthorized(err):
		return false
	}
	return true
}

func (e *engineImpl) failInstanceByID(ctx context.Context, id, failure string) {
	unlock := e.locks.lock(id)
	defer unlock()

	inst, err := e.stores.Instances.GetInstance(id)
	if err != nil || inst.Terminal() {
		return
	}
	_ = e.failInstanceLocked(ctx, inst, failure)
}

func (e *engineImpl) auditPropagation(ctx context.Context, step *taskqueue.Step, attempts int, cause error, final bool) {
	typ := api.EventPropagationRetried
	if final {
		typ = api.EventPropagationFailed
	}
	_ = e.stores.Events.AppendEvent(ctx, api.Event{
		InstanceID: step.WorkflowID,
		At:         time.Now(),
		Type:       typ,
		Detail:     fmt.Sprintf("%s step after %d attempts: %v", step.Type, attempts, cause),
	})
}

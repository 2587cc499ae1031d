package api

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthorized is the sentinel wrapped by every authorization failure.
var ErrUnauthorized = errors.New("unauthorized")

// Not-found sentinels for engine lookups; match with errors.Is.
var (
	ErrDefinitionNotFound = errors.New("workflow definition not found")
	ErrWorkflowNotFound   = errors.New("workflow instance not found")
	ErrTaskNotFound       = errors.New("task instance not found")
	ErrWorkItemNotFound   = errors.New("work item not found")
)

// DefinitionError reports why a workflow definition was rejected at
// registration. Violations lists every structural problem found, not just
// the first one.
type DefinitionError struct {
	Workflow   string
	Violations []string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("workflow definition %q invalid: %s", e.Workflow, strings.Join(e.Violations, "; "))
}

// IsDefinitionInvalid reports whether err is a definition validation failure.
func IsDefinitionInvalid(err error) bool {
	var de *DefinitionError
	return errors.As(err, &de)
}

// UnauthorizedError reports a missing scope for the acting principal.
type UnauthorizedError struct {
	Actor string
	Scope string
}

func (e *UnauthorizedError) Error() string {
	actor := e.Actor
	if actor == "" {
		actor = "anonymous"
	}
	return fmt.Sprintf("actor %q lacks scope %q", actor, e.Scope)
}

func (e *UnauthorizedError) Unwrap() error { return ErrUnauthorized }

// IsUnauthorized reports whether err is an authorization failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// TransitionError reports an operation attempted against an entity whose
// current state does not admit it, e.g. completing an unstarted work item
// or canceling a completed workflow.
type TransitionError struct {
	Entity string // "workflow", "task" or "work item"
	ID     string
	State  string // state the entity was in
	Op     string // operation that was attempted
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot %s in state %s", e.Entity, e.ID, e.Op, e.State)
}

// IsInvalidTransition reports whether err is a state transition violation.
func IsInvalidTransition(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}

// ClaimError reports a failed attempt to start (claim) a work item: the item
// is unknown, no longer claimable, or another actor claimed it first.
type ClaimError struct {
	WorkItemID string
	Reason     string
}

func (e *ClaimError) Error() string {
	return fmt.Sprintf("work item %s: claim failed: %s", e.WorkItemID, e.Reason)
}

// IsWorkItemClaimFailed reports whether err is a work item claim failure.
func IsWorkItemClaimFailed(err error) bool {
	var ce *ClaimError
	return errors.As(err, &ce)
}

// RouteError reports that evaluating a completed task's split produced no
// flow to follow. The owning workflow instance fails when this happens.
type RouteError struct {
	Workflow string
	Task     string
	Split    SplitType
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("workflow %s: no matching route out of task %q (%s split)", e.Workflow, e.Task, e.Split)
}

// IsNoMatchingRoute reports whether err is a routing dead end.
func IsNoMatchingRoute(err error) bool {
	var re *RouteError
	return errors.As(err, &re)
}

// PropagationError reports a propagation step that kept failing until its
// retry budget ran out. The owning workflow instance is failed when this
// is raised.
type PropagationError struct {
	WorkflowID string
	Step       string
	Attempts   int
	Err        error
}

func (e *PropagationError) Error() string {
	return fmt.Sprintf("workflow %s: %s propagation failed after %d attempts: %v", e.WorkflowID, e.Step, e.Attempts, e.Err)
}

func (e *PropagationError) Unwrap() error { return e.Err }

// IsPropagationFailed reports whether err is an exhausted propagation step.
func IsPropagationFailed(err error) bool {
	var pe *PropagationError
	return errors.As(err, &pe)
}

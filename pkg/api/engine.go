package api

import "context"

// WorkItemTarget addresses the task instance a work item should be created
// under. Either TaskInstanceID is set, or WorkflowID plus TaskName resolve
// to the task's current live (enabled or started) instance.
type WorkItemTarget struct {
	TaskInstanceID string

	WorkflowID string
	TaskName   string
}

// WorkflowListOptions filter ListWorkflows. Zero-valued fields match
// everything.
type WorkflowListOptions struct {
	Name  string
	State WorkflowState
}

// Engine drives workflow instances through their Petri-net graphs: external
// actors move work items, the engine moves tokens.
//
// Externally invoked operations (Initialize*, Start*, Complete*, Fail*,
// Cancel*) apply their own state change synchronously, then leave token
// propagation to queued steps processed by Drain. After a call returns,
// the entity's new state is durably visible; the downstream effects land
// once the queue drains.
type Engine interface {
	// RegisterWorkflow validates a definition and adds it to the registry.
	// Structural problems are reported all at once via DefinitionError.
	// Registered definitions are immutable; re-registering a name/version
	// pair is an error.
	RegisterWorkflow(def WorkflowDefinition) error

	// InitializeWorkflow creates an instance of the latest version of the
	// named definition, marks the initial condition and returns the new
	// instance ID. The instance is in WorkflowStarted when the call
	// returns; enablement of the first task happens on Drain.
	InitializeWorkflow(ctx context.Context, name string, input Payload) (string, error)

	// InitializeWorkflowVersion is InitializeWorkflow pinned to a version.
	InitializeWorkflowVersion(ctx context.Context, name, version string, input Payload) (string, error)

	// CancelWorkflow cancels a non-terminal instance: live work items and
	// task instances are canceled, tokens are cleared, nested instances
	// spawned by composite tasks are canceled through the queue. Canceling
	// an already canceled instance is a no-op; canceling a completed or
	// failed one returns a TransitionError.
	CancelWorkflow(ctx context.Context, id string) error

	// InitializeWorkItem creates a work item under an enabled or started
	// atomic task instance, consuming one cardinality slot. input nil means
	// the current case payload.
	InitializeWorkItem(ctx context.Context, target WorkItemTarget, input Payload) (string, error)

	// StartWorkItem claims an initialized work item for the given claimant.
	// Exactly one of several concurrent claims succeeds; the rest receive a
	// ClaimError (IsWorkItemClaimFailed).
	StartWorkItem(ctx context.Context, id, claimant string) error

	// CompleteWorkItem finishes a started work item with an output payload,
	// which the completion policy of the owning task aggregates and routing
	// predicates observe. A RouteError is returned (and the instance
	// failed) when the task completes but its split matches no flow.
	CompleteWorkItem(ctx context.Context, id string, output Payload) error

	// FailWorkItem marks a started work item failed. Under FailFast this
	// fails the owning task and instance; under FailTolerant the slot is
	// freed for a replacement.
	FailWorkItem(ctx context.Context, id, reason string) error

	// CancelWorkItem withdraws a live work item without failing anything,
	// freeing its cardinality slot. Canceling an already canceled item is a
	// no-op.
	CancelWorkItem(ctx context.Context, id string) error

	// GetWorkflow looks up a workflow instance by ID.
	GetWorkflow(ctx context.Context, id string) (*WorkflowInstance, error)

	// GetWorkflowTasks returns all task instances of a workflow instance.
	GetWorkflowTasks(ctx context.Context, id string) ([]*TaskInstance, error)

	// GetWorkflowTasksByState returns the instance's task instances in the
	// given state.
	GetWorkflowTasksByState(ctx context.Context, id string, state TaskState) ([]*TaskInstance, error)

	// GetTaskWorkItems returns the work items of one task instance.
	GetTaskWorkItems(ctx context.Context, taskInstanceID string) ([]*WorkItem, error)

	// GetWorkItem looks up a work item by ID.
	GetWorkItem(ctx context.Context, id string) (*WorkItem, error)

	// GetWorkItemsByState returns the instance's work items in the given
	// state.
	GetWorkItemsByState(ctx context.Context, id string, state WorkItemState) ([]*WorkItem, error)

	// GetWorkflowCompositeTaskWorkflows returns the nested instances
	// spawned by the named composite task of the given instance.
	GetWorkflowCompositeTaskWorkflows(ctx context.Context, id, taskName string) ([]*WorkflowInstance, error)

	// ListWorkflows returns workflow instances matching the given options.
	ListWorkflows(ctx context.Context, opts WorkflowListOptions) ([]*WorkflowInstance, error)

	// ListEvents returns the audit trail of an instance in append order.
	ListEvents(ctx context.Context, id string) ([]Event, error)

	// Drain processes queued propagation steps until the queue is empty.
	// Steps that exhaust their retry budget fail their owning instance; the
	// collected PropagationErrors are returned joined after the queue is
	// drained. Drain returns nil when every step succeeded.
	Drain(ctx context.Context) error

	// PendingSteps reports how many propagation steps are queued.
	PendingSteps() int
}

package api

import "time"

// WorkflowState is the lifecycle state of a workflow instance. Transitions
// are monotonic: Completed, Failed and Canceled are terminal.
type WorkflowState string

const (
	WorkflowInitialized WorkflowState = "INITIALIZED"
	WorkflowStarted     WorkflowState = "STARTED"
	WorkflowCompleted   WorkflowState = "COMPLETED"
	WorkflowFailed      WorkflowState = "FAILED"
	WorkflowCanceled    WorkflowState = "CANCELED"
)

// Terminal reports whether the state admits no further transitions.
func (s WorkflowState) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCanceled
}

// TaskState is the lifecycle state of a task instance.
type TaskState string

const (
	// TaskDisabled is the created-but-not-yet-enabled state. Every task of
	// a definition gets a disabled task instance when the workflow instance
	// initializes.
	TaskDisabled  TaskState = "DISABLED"
	TaskEnabled   TaskState = "ENABLED"
	TaskStarted   TaskState = "STARTED"
	TaskCompleted TaskState = "COMPLETED"
	TaskFailed    TaskState = "FAILED"
	TaskCanceled  TaskState = "CANCELED"
)

// Terminal reports whether the state admits no further transitions.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCanceled
}

// Live reports whether the task instance currently occupies its task slot,
// i.e. is enabled or started.
func (s TaskState) Live() bool {
	return s == TaskEnabled || s == TaskStarted
}

// WorkItemState is the lifecycle state of a work item.
type WorkItemState string

const (
	WorkItemInitialized WorkItemState = "INITIALIZED"
	WorkItemStarted     WorkItemState = "STARTED"
	WorkItemCompleted   WorkItemState = "COMPLETED"
	WorkItemFailed      WorkItemState = "FAILED"
	WorkItemCanceled    WorkItemState = "CANCELED"
)

// Terminal reports whether the state admits no further transitions.
func (s WorkItemState) Terminal() bool {
	return s == WorkItemCompleted || s == WorkItemFailed || s == WorkItemCanceled
}

// Live reports whether the work item occupies a cardinality slot.
func (s WorkItemState) Live() bool {
	return s == WorkItemInitialized || s == WorkItemStarted
}

// WorkflowInstance is one run of a workflow definition.
type WorkflowInstance struct {
	ID      string
	Name    string
	Version string
	State   WorkflowState

	// Input is the creation payload, immutable after initialization.
	Input Payload

	// Vars is the evolving case payload: Input overlaid with the output of
	// every completed task, in completion order.
	Vars Payload

	// Output is the Vars snapshot taken when the instance completed.
	Output Payload

	// Marking maps condition names to token counts. Conditions without an
	// entry hold no tokens.
	Marking map[string]int

	// ParentTaskInstance links a nested instance to the composite task
	// instance that spawned it. Empty for top-level instances.
	ParentTaskInstance string

	// Failure describes why the instance failed, empty otherwise.
	Failure string

	CreatedAt  time.Time
	FinishedAt time.Time
}

// Terminal reports whether the instance reached a terminal state.
func (w *WorkflowInstance) Terminal() bool { return w.State.Terminal() }

// Tokens returns the token count of the named condition.
func (w *WorkflowInstance) Tokens(condition string) int {
	return w.Marking[condition]
}

// TaskInstance is one activation of a task within a workflow instance. Its
// state only moves forward; loops re-instantiate the task with a fresh
// task instance instead of resetting this one.
type TaskInstance struct {
	ID         string
	WorkflowID string
	TaskName   string
	State      TaskState

	// Cardinality is resolved at enable time and bounds the number of live
	// plus completed work items.
	Cardinality int

	CreatedAt  time.Time
	FinishedAt time.Time
}

// Terminal reports whether the task instance reached a terminal state.
func (t *TaskInstance) Terminal() bool { return t.State.Terminal() }

// WorkItem is one concrete unit of work under a task instance, claimed and
// driven by an external actor, or by the engine itself for composite tasks.
type WorkItem struct {
	ID             string
	WorkflowID     string
	TaskInstanceID string
	TaskName       string
	State          WorkItemState

	// Claimant identifies who started the work item.
	Claimant string

	Input  Payload
	Output Payload

	// Failure describes why the work item failed, empty otherwise.
	Failure string

	// ChildWorkflowID links a composite task's work item to the nested
	// workflow instance it tracks. Empty for atomic work items.
	ChildWorkflowID string

	CreatedAt  time.Time
	FinishedAt time.Time
}

// Terminal reports whether the work item reached a terminal state.
func (w *WorkItem) Terminal() bool { return w.State.Terminal() }

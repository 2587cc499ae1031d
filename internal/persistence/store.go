package persistence

import (
	"context"
	"errors"

	"github.com/petrijr/weft/pkg/api"
)

var (
	// ErrInstanceNotFound is returned when a workflow instance is not found.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrTaskNotFound is returned when a task instance is not found.
	ErrTaskNotFound = errors.New("task instance not found")

	// ErrWorkItemNotFound is returned when a work item is not found.
	ErrWorkItemNotFound = errors.New("work item not found")

	// ErrClaimConflict is returned by ClaimWorkItem when the work item is no
	// longer in the initialized state, typically because another claimant
	// won the race.
	ErrClaimConflict = errors.New("work item already claimed")
)

// InstanceFilter is used to select workflow instances from the store.
// Empty fields mean "no filter" for that field.
type InstanceFilter struct {
	WorkflowName string
	State        api.WorkflowState

	// ParentTaskInstance selects the nested instances spawned by one
	// composite task instance.
	ParentTaskInstance string
}

// InstanceStore handles storage of workflow instances.
type InstanceStore interface {
	SaveInstance(inst *api.WorkflowInstance) error
	UpdateInstance(inst *api.WorkflowInstance) error
	GetInstance(id string) (*api.WorkflowInstance, error)
	ListInstances(filter InstanceFilter) ([]*api.WorkflowInstance, error)
}

// TaskFilter is used to select task instances from the store.
// Empty fields mean "no filter" for that field.
type TaskFilter struct {
	WorkflowID string
	TaskName   string
	State      api.TaskState
}

// TaskStore handles storage of task instances.
type TaskStore interface {
	SaveTask(task *api.TaskInstance) error
	UpdateTask(task *api.TaskInstance) error
	GetTask(id string) (*api.TaskInstance, error)
	ListTasks(filter TaskFilter) ([]*api.TaskInstance, error)
}

// WorkItemFilter is used to select work items from the store.
// Empty fields mean "no filter" for that field.
type WorkItemFilter struct {
	WorkflowID      string
	TaskInstanceID  string
	TaskName        string
	State           api.WorkItemState
	ChildWorkflowID string
}

// WorkItemStore handles storage of work items.
type WorkItemStore interface {
	SaveWorkItem(item *api.WorkItem) error
	UpdateWorkItem(item *api.WorkItem) error
	GetWorkItem(id string) (*api.WorkItem, error)
	ListWorkItems(filter WorkItemFilter) ([]*api.WorkItem, error)

	// ClaimWorkItem atomically moves an initialized work item to the
	// started state and records the claimant. Exactly one of several
	// concurrent claims succeeds; the others receive ErrClaimConflict.
	// Implementations must make this a compare-and-set on the state so the
	// guarantee holds across processes sharing the backend.
	ClaimWorkItem(ctx context.Context, id, claimant string) error
}

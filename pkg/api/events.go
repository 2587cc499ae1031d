package api

import "time"

// EventType identifies an audit trail event.
type EventType string

const (
	EventWorkflowInitialized EventType = "workflow.initialized"
	EventWorkflowStarted     EventType = "workflow.started"
	EventWorkflowCompleted   EventType = "workflow.completed"
	EventWorkflowFailed      EventType = "workflow.failed"
	EventWorkflowCanceled    EventType = "workflow.canceled"

	EventTaskEnabled   EventType = "task.enabled"
	EventTaskStarted   EventType = "task.started"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
	EventTaskCanceled  EventType = "task.canceled"

	EventWorkItemInitialized EventType = "workitem.initialized"
	EventWorkItemStarted     EventType = "workitem.started"
	EventWorkItemCompleted   EventType = "workitem.completed"
	EventWorkItemFailed      EventType = "workitem.failed"
	EventWorkItemCanceled    EventType = "workitem.canceled"

	EventPropagationRetried EventType = "propagation.retried"
	EventPropagationFailed  EventType = "propagation.failed"
)

// Event is one append-only audit trail record. Every state transition of a
// workflow instance, task instance or work item produces one, attributed to
// the acting principal.
//
// Events are intentionally small: identifiers, states and a short detail
// string. Payloads never land in the trail.
type Event struct {
	InstanceID string
	At         time.Time
	Type       EventType

	// Actor is the principal attributed with the transition. Empty for
	// transitions the engine performed on its own (propagation, cascades).
	Actor string

	// Optional context.
	WorkflowName string
	TaskName     string
	EntityID     string // task instance or work item ID, when applicable
	From         string
	To           string

	// Small, human-oriented details (e.g. a failure reason). Keep this
	// low-volume: do NOT dump payloads here.
	Detail string
}

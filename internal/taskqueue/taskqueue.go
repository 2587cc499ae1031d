package taskqueue

import (
	"context"
	"time"
)

// StepType identifies what a propagation step should do.
type StepType string

const (
	// StepConditionChanged re-evaluates the joins downstream of a condition
	// whose token count changed, and completes the instance when the
	// terminal condition is marked.
	StepConditionChanged StepType = "condition-changed"

	// StepTaskEnabled performs the enablement side effects of a task:
	// auto-created work items for atomic tasks, spawn scheduling for
	// composite ones.
	StepTaskEnabled StepType = "task-enabled"

	// StepSpawnChild creates one composite child: claims the tracking work
	// item and initializes the nested workflow instance.
	StepSpawnChild StepType = "spawn-child"

	// StepChildTerminal mirrors a finished nested instance onto its
	// tracking work item in the parent.
	StepChildTerminal StepType = "child-terminal"

	// StepCancelInstance cancels a workflow instance, used for cascading
	// cancellation into composite children.
	StepCancelInstance StepType = "cancel-instance"
)

// Step is one queued unit of token propagation. Steps are processed FIFO,
// which preserves causal order for any single instance.
type Step struct {
	ID   string
	Type StepType

	// WorkflowID is the instance whose lock the step runs under. For
	// child-terminal steps this is the parent instance.
	WorkflowID string

	// Condition is set for condition-changed steps.
	Condition string

	// TaskInstanceID is set for task-enabled and spawn-child steps.
	TaskInstanceID string

	// ChildWorkflowID is set for child-terminal steps.
	ChildWorkflowID string

	// Slot is the zero-based child index for spawn-child steps.
	Slot int

	EnqueuedAt time.Time

	// NotBefore is the earliest time this step should be eligible for
	// processing. Zero value means "immediately".
	NotBefore time.Time

	// Attempts counts how often the step has been tried already.
	Attempts int
}

// Queue is the propagation step queue interface.
type Queue interface {
	// Enqueue adds a step to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, s Step) error

	// Dequeue removes and returns the next eligible step, blocking until one
	// is available or the context is cancelled.
	Dequeue(ctx context.Context) (*Step, error)

	// TryDequeue removes and returns the next eligible step, or (nil, nil)
	// when none is currently eligible.
	TryDequeue(ctx context.Context) (*Step, error)

	// Len returns the approximate number of steps queued.
	Len() int
}

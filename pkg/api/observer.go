package api

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Observer receives callbacks from the workflow engine for logging and metrics.
//
// Callbacks fire after the transition has been persisted. Implementations
// should be fast and non-blocking; heavy work should be done asynchronously
// so as not to delay token propagation.
type Observer interface {
	// OnWorkflowTransition is called for every workflow instance state
	// change, including the initial transition into WorkflowInitialized
	// (from is empty then).
	OnWorkflowTransition(ctx context.Context, inst *WorkflowInstance, from, to WorkflowState)

	// OnTaskTransition is called for every task instance state change.
	OnTaskTransition(ctx context.Context, inst *WorkflowInstance, task *TaskInstance, from, to TaskState)

	// OnWorkItemTransition is called for every work item state change,
	// including creation into WorkItemInitialized (from is empty then).
	OnWorkItemTransition(ctx context.Context, inst *WorkflowInstance, item *WorkItem, from, to WorkItemState)

	// OnPropagationError is called when a propagation step fails. final is
	// true once the retry budget is exhausted and the owning instance has
	// been failed.
	OnPropagationError(ctx context.Context, workflowID, step string, attempts int, err error, final bool)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnWorkflowTransition(ctx context.Context, inst *WorkflowInstance, from, to WorkflowState) {
}
func (NoopObserver) OnTaskTransition(ctx context.Context, inst *WorkflowInstance, task *TaskInstance, from, to TaskState) {
}
func (NoopObserver) OnWorkItemTransition(ctx context.Context, inst *WorkflowInstance, item *WorkItem, from, to WorkItemState) {
}
func (NoopObserver) OnPropagationError(ctx context.Context, workflowID, step string, attempts int, err error, final bool) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnWorkflowTransition(ctx context.Context, inst *WorkflowInstance, from, to WorkflowState) {
	for _, o := range c.observers {
		o.OnWorkflowTransition(ctx, inst, from, to)
	}
}

func (c *CompositeObserver) OnTaskTransition(ctx context.Context, inst *WorkflowInstance, task *TaskInstance, from, to TaskState) {
	for _, o := range c.observers {
		o.OnTaskTransition(ctx, inst, task, from, to)
	}
}

func (c *CompositeObserver) OnWorkItemTransition(ctx context.Context, inst *WorkflowInstance, item *WorkItem, from, to WorkItemState) {
	for _, o := range c.observers {
		o.OnWorkItemTransition(ctx, inst, item, from, to)
	}
}

func (c *CompositeObserver) OnPropagationError(ctx context.Context, workflowID, step string, attempts int, err error, final bool) {
	for _, o := range c.observers {
		o.OnPropagationError(ctx, workflowID, step, attempts, err, final)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs workflow, task and work
// item transitions using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnWorkflowTransition(ctx context.Context, inst *WorkflowInstance, from, to WorkflowState) {
	level := slog.LevelInfo
	if to == WorkflowFailed {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "workflow_transition",
		slog.String("workflow", inst.Name),
		slog.String("instance_id", inst.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}

func (o *LoggingObserver) OnTaskTransition(ctx context.Context, inst *WorkflowInstance, task *TaskInstance, from, to TaskState) {
	o.Logger.DebugContext(ctx, "task_transition",
		slog.String("workflow", inst.Name),
		slog.String("instance_id", inst.ID),
		slog.String("task", task.TaskName),
		slog.String("task_instance_id", task.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}

func (o *LoggingObserver) OnWorkItemTransition(ctx context.Context, inst *WorkflowInstance, item *WorkItem, from, to WorkItemState) {
	level := slog.LevelDebug
	if to == WorkItemFailed {
		level = slog.LevelWarn
	}
	o.Logger.Log(ctx, level, "workitem_transition",
		slog.String("workflow", inst.Name),
		slog.String("instance_id", inst.ID),
		slog.String("task", item.TaskName),
		slog.String("work_item_id", item.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}

func (o *LoggingObserver) OnPropagationError(ctx context.Context, workflowID, step string, attempts int, err error, final bool) {
	level := slog.LevelWarn
	if final {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "propagation_error",
		slog.String("instance_id", workflowID),
		slog.String("step", step),
		slog.Int("attempts", attempts),
		slog.Bool("final", final),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters over engine activity.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	workflowsStarted   atomic.Int64
	workflowsCompleted atomic.Int64
	workflowsFailed    atomic.Int64
	workflowsCanceled  atomic.Int64
	tasksEnabled       atomic.Int64
	tasksCompleted     atomic.Int64
	workItemsStarted   atomic.Int64
	workItemsCompleted atomic.Int64
	workItemsFailed    atomic.Int64
	propagationRetries atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	WorkflowsStarted   int64
	WorkflowsCompleted int64
	WorkflowsFailed    int64
	WorkflowsCanceled  int64
	RunningWorkflows   int64

	TasksEnabled   int64
	TasksCompleted int64

	WorkItemsStarted   int64
	WorkItemsCompleted int64
	WorkItemsFailed    int64

	PropagationRetries int64
}

func (m *BasicMetrics) OnWorkflowTransition(ctx context.Context, inst *WorkflowInstance, from, to WorkflowState) {
	switch to {
	case WorkflowStarted:
		m.workflowsStarted.Add(1)
	case WorkflowCompleted:
		m.workflowsCompleted.Add(1)
	case WorkflowFailed:
		m.workflowsFailed.Add(1)
	case WorkflowCanceled:
		m.workflowsCanceled.Add(1)
	}
}

func (m *BasicMetrics) OnTaskTransition(ctx context.Context, inst *WorkflowInstance, task *TaskInstance, from, to TaskState) {
	switch to {
	case TaskEnabled:
		m.tasksEnabled.Add(1)
	case TaskCompleted:
		m.tasksCompleted.Add(1)
	}
}

func (m *BasicMetrics) OnWorkItemTransition(ctx context.Context, inst *WorkflowInstance, item *WorkItem, from, to WorkItemState) {
	switch to {
	case WorkItemStarted:
		m.workItemsStarted.Add(1)
	case WorkItemCompleted:
		m.workItemsCompleted.Add(1)
	case WorkItemFailed:
		m.workItemsFailed.Add(1)
	}
}

func (m *BasicMetrics) OnPropagationError(ctx context.Context, workflowID, step string, attempts int, err error, final bool) {
	if !final {
		m.propagationRetries.Add(1)
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.workflowsStarted.Load()
	completed := m.workflowsCompleted.Load()
	failed := m.workflowsFailed.Load()
	canceled := m.workflowsCanceled.Load()

	return BasicMetricsSnapshot{
		WorkflowsStarted:   started,
		WorkflowsCompleted: completed,
		WorkflowsFailed:    failed,
		WorkflowsCanceled:  canceled,
		RunningWorkflows:   started - completed - failed - canceled,
		TasksEnabled:       m.tasksEnabled.Load(),
		TasksCompleted:     m.tasksCompleted.Load(),
		WorkItemsStarted:   m.workItemsStarted.Load(),
		WorkItemsCompleted: m.workItemsCompleted.Load(),
		WorkItemsFailed:    m.workItemsFailed.Load(),
		PropagationRetries: m.propagationRetries.Load(),
	}
}

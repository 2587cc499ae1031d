// Package engine implements the workflow engine: it compiles definitions
// into Petri-net graphs, applies externally invoked state changes under a
// per-instance lock, and propagates tokens through queued steps.
package engine

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/weft/internal/persistence"
	"github.com/petrijr/weft/internal/taskqueue"
	"github.com/petrijr/weft/pkg/api"
)

// defaultMaxAttempts bounds propagation step retries when the policy does
// not say otherwise.
const defaultMaxAttempts = 5

// engineClaimant marks work items the engine claims for itself, i.e. the
// tracking items of composite children.
const engineClaimant = "engine"

// PropagationPolicy bounds how propagation steps are retried before the
// owning instance is failed.
type PropagationPolicy struct {
	// MaxAttempts per step. Zero means the default of 5.
	MaxAttempts int

	// RetryDelay postpones a retried step's eligibility. The zero value
	// retries immediately, which keeps Drain deterministic in tests.
	RetryDelay time.Duration
}

// Config wires an engine from its collaborating parts. Zero-valued fields
// fall back to in-memory or no-op defaults.
type Config struct {
	Persistence persistence.Persistence
	Queue       taskqueue.Queue
	Observer    api.Observer
	Authorizer  api.Authorizer
	Propagation PropagationPolicy
}

type engineImpl struct {
	registry    *Registry
	stores      persistence.Persistence
	queue       taskqueue.Queue
	observer    api.Observer
	authorizer  api.Authorizer
	propagation PropagationPolicy

	// drainMu serializes Drain, so the steps of any single instance are
	// processed in the order they were enqueued.
	drainMu sync.Mutex

	locks instanceLocks
}

// Ensure engineImpl implements api.Engine.
var _ api.Engine = (*engineImpl)(nil)

// NewInMemoryEngine creates an engine backed entirely by memory, suitable
// for tests and embedded single-process use.
func NewInMemoryEngine() api.Engine {
	return NewEngineWithConfig(Config{})
}

// NewInMemoryEngineWithObserver is NewInMemoryEngine reporting transitions
// to the given observer.
func NewInMemoryEngineWithObserver(obs api.Observer) api.Engine {
	return NewEngineWithConfig(Config{Observer: obs})
}

// NewSQLiteEngine creates an engine whose stores, audit trail and step
// queue all live in the given SQLite database. The schema is created on
// first use.
func NewSQLiteEngine(db *sql.DB) (api.Engine, error) {
	return NewSQLiteEngineWithObserver(db, nil)
}

// NewSQLiteEngineWithObserver is NewSQLiteEngine reporting transitions to
// the given observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	events, err := persistence.NewSQLiteEventStore(db)
	if err != nil {
		return nil, err
	}
	queue, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{
			Instances: store,
			Tasks:     store,
			WorkItems: store,
			Events:    events,
		},
		Queue:    queue,
		Observer: obs,
	}), nil
}

// NewEngineWithConfig creates an engine from an explicit configuration,
// filling unset fields with defaults.
func NewEngineWithConfig(cfg Config) api.Engine {
	p := cfg.Persistence
	if p.Instances == nil || p.Tasks == nil || p.WorkItems == nil {
		mem := persistence.NewInMemoryStore()
		if p.Instances == nil {
			p.Instances = mem
		}
		if p.Tasks == nil {
			p.Tasks = mem
		}
		if p.WorkItems == nil {
			p.WorkItems = mem
		}
	}
	if p.Events == nil {
		p.Events = persistence.NewMemoryEventStore()
	}

	queue := cfg.Queue
	if queue == nil {
		queue = taskqueue.NewInMemoryQueue()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = api.NoopObserver{}
	}
	authorizer := cfg.Authorizer
	if authorizer == nil {
		authorizer = api.AllowAllAuthorizer{}
	}
	prop := cfg.Propagation
	if prop.MaxAttempts <= 0 {
		prop.MaxAttempts = defaultMaxAttempts
	}

	return &engineImpl{
		registry:    NewRegistry(),
		stores:      p,
		queue:       queue,
		observer:    observer,
		authorizer:  authorizer,
		propagation: prop,
		locks:       newInstanceLocks(),
	}
}

func (e *engineImpl) RegisterWorkflow(def api.WorkflowDefinition) error {
	return e.registry.Register(def)
}

func (e *engineImpl) PendingSteps() int {
	return e.queue.Len()
}

func (e *engineImpl) authorize(ctx context.Context, scope api.Scope) error {
	return e.authorizer.AssertHasScope(ctx, api.ActorFromContext(ctx), scope)
}

func (e *engineImpl) graphFor(inst *api.WorkflowInstance) (*compiledGraph, error) {
	return e.registry.Resolve(inst.Name, inst.Version)
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// instanceLocks hands out one mutex per workflow instance ID. External
// operations and propagation steps both lock the instance they touch, so
// every instance sees a serial history.
type instanceLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newInstanceLocks() instanceLocks {
	return instanceLocks{m: make(map[string]*sync.Mutex)}
}

func (l *instanceLocks) lock(id string) func() {
	l.mu.Lock()
	lk := l.m[id]
	if lk == nil {
		lk = &sync.Mutex{}
		l.m[id] = lk
	}
	l.mu.Unlock()

	lk.Lock()
	return lk.Unlock
}

func workflowEventType(s api.WorkflowState) api.EventType {
	switch s {
	case api.WorkflowInitialized:
		return api.EventWorkflowInitialized
	case api.WorkflowStarted:
		return api.EventWorkflowStarted
	case api.WorkflowCompleted:
		return api.EventWorkflowCompleted
	case api.WorkflowFailed:
		return api.EventWorkflowFailed
	case api.WorkflowCanceled:
		return api.EventWorkflowCanceled
	}
	return ""
}

func taskEventType(s api.TaskState) api.EventType {
	switch s {
	case api.TaskEnabled:
		return api.EventTaskEnabled
	case api.TaskStarted:
		return api.EventTaskStarted
	case api.TaskCompleted:
		return api.EventTaskCompleted
	case api.TaskFailed:
		return api.EventTaskFailed
	case api.TaskCanceled:
		return api.EventTaskCanceled
	}
	// TaskDisabled: creation is not a transition.
	return ""
}

func workItemEventType(s api.WorkItemState) api.EventType {
	switch s {
	case api.WorkItemInitialized:
		return api.EventWorkItemInitialized
	case api.WorkItemStarted:
		return api.EventWorkItemStarted
	case api.WorkItemCompleted:
		return api.EventWorkItemCompleted
	case api.WorkItemFailed:
		return api.EventWorkItemFailed
	case api.WorkItemCanceled:
		return api.EventWorkItemCanceled
	}
	return ""
}

// auditWorkflow notifies the observer and appends the audit event for an
// already persisted workflow transition. Audit append failures are not
// allowed to undo a transition that already happened.
func (e *engineImpl) auditWorkflow(ctx context.Context, inst *api.WorkflowInstance, from api.WorkflowState, detail string) {
	e.observer.OnWorkflowTransition(ctx, inst, from, inst.State)
	typ := workflowEventType(inst.State)
	if typ == "" {
		return
	}
	_ = e.stores.Events.AppendEvent(ctx, api.Event{
		InstanceID:   inst.ID,
		At:           time.Now(),
		Type:         typ,
		Actor:        api.ActorFromContext(ctx),
		WorkflowName: inst.Name,
		From:         string(from),
		To:           string(inst.State),
		Detail:       detail,
	})
}

func (e *engineImpl) auditTask(ctx context.Context, inst *api.WorkflowInstance, task *api.TaskInstance, from api.TaskState, detail string) {
	e.observer.OnTaskTransition(ctx, inst, task, from, task.State)
	typ := taskEventType(task.State)
	if typ == "" {
		return
	}
	_ = e.stores.Events.AppendEvent(ctx, api.Event{
		InstanceID:   inst.ID,
		At:           time.Now(),
		Type:         typ,
		Actor:        api.ActorFromContext(ctx),
		WorkflowName: inst.Name,
		TaskName:     task.TaskName,
		EntityID:     task.ID,
		From:         string(from),
		To:           string(task.State),
		Detail:       detail,
	})
}

func (e *engineImpl) auditWorkItem(ctx context.Context, inst *api.WorkflowInstance, item *api.WorkItem, from api.WorkItemState, detail string) {
	e.observer.OnWorkItemTransition(ctx, inst, item, from, item.State)
	typ := workItemEventType(item.State)
	if typ == "" {
		return
	}
	_ = e.stores.Events.AppendEvent(ctx, api.Event{
		InstanceID:   inst.ID,
		At:           time.Now(),
		Type:         typ,
		Actor:        api.ActorFromContext(ctx),
		WorkflowName: inst.Name,
		TaskName:     item.TaskName,
		EntityID:     item.ID,
		From:         string(from),
		To:           string(item.State),
		Detail:       detail,
	})
}

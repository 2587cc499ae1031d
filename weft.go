package weft

import (
	"context"
	"database/sql"

	"github.com/petrijr/weft/internal/engine"
	"github.com/petrijr/weft/internal/taskqueue"
	"github.com/petrijr/weft/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine                       = api.Engine
	WorkflowDefinition           = api.WorkflowDefinition
	TaskDefinition               = api.TaskDefinition
	ConditionDefinition          = api.ConditionDefinition
	FlowDefinition               = api.FlowDefinition
	CancellationRegionDefinition = api.CancellationRegionDefinition
	CompletionPolicy             = api.CompletionPolicy
	WorkflowInstance             = api.WorkflowInstance
	TaskInstance                 = api.TaskInstance
	WorkItem                     = api.WorkItem
	WorkItemTarget               = api.WorkItemTarget
	WorkflowListOptions          = api.WorkflowListOptions
	Payload                      = api.Payload
	PredicateFunc                = api.PredicateFunc
	CardinalityFunc              = api.CardinalityFunc
	TaskKind                     = api.TaskKind
	SplitType                    = api.SplitType
	JoinType                     = api.JoinType
	CompletionMode               = api.CompletionMode
	FailurePolicy                = api.FailurePolicy
	WorkflowState                = api.WorkflowState
	TaskState                    = api.TaskState
	WorkItemState                = api.WorkItemState
	Event                        = api.Event
	EventType                    = api.EventType
	Scope                        = api.Scope
	Authorizer                   = api.Authorizer
	AllowAllAuthorizer           = api.AllowAllAuthorizer
	StaticAuthorizer             = api.StaticAuthorizer
	Observer                     = api.Observer
	LoggingObserver              = api.LoggingObserver
	BasicMetrics                 = api.BasicMetrics
	BasicMetricsSnapshot         = api.BasicMetricsSnapshot
	CompositeObserver            = api.CompositeObserver
	NoopObserver                 = api.NoopObserver
)

// Queue is the propagation step queue consumed by Drain. Backend
// submodules provide durable implementations of it.
type Queue = taskqueue.Queue

// Re-export common observer, authorizer and error helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	NewStaticAuthorizer  = api.NewStaticAuthorizer

	WithActor        = api.WithActor
	ActorFromContext = api.ActorFromContext

	IsDefinitionInvalid   = api.IsDefinitionInvalid
	IsUnauthorized        = api.IsUnauthorized
	IsInvalidTransition   = api.IsInvalidTransition
	IsWorkItemClaimFailed = api.IsWorkItemClaimFailed
	IsNoMatchingRoute     = api.IsNoMatchingRoute
	IsPropagationFailed   = api.IsPropagationFailed
)

// Re-export state, kind and policy values for convenience.

const (
	WorkflowInitialized = api.WorkflowInitialized
	WorkflowStarted     = api.WorkflowStarted
	WorkflowCompleted   = api.WorkflowCompleted
	WorkflowFailed      = api.WorkflowFailed
	WorkflowCanceled    = api.WorkflowCanceled

	TaskDisabled  = api.TaskDisabled
	TaskEnabled   = api.TaskEnabled
	TaskStarted   = api.TaskStarted
	TaskCompleted = api.TaskCompleted
	TaskFailed    = api.TaskFailed
	TaskCanceled  = api.TaskCanceled

	WorkItemInitialized = api.WorkItemInitialized
	WorkItemStarted     = api.WorkItemStarted
	WorkItemCompleted   = api.WorkItemCompleted
	WorkItemFailed      = api.WorkItemFailed
	WorkItemCanceled    = api.WorkItemCanceled

	KindAtomic           = api.KindAtomic
	KindComposite        = api.KindComposite
	KindDynamicComposite = api.KindDynamicComposite

	SplitNone = api.SplitNone
	SplitAnd  = api.SplitAnd
	SplitOr   = api.SplitOr
	SplitXor  = api.SplitXor

	JoinNone = api.JoinNone
	JoinAnd  = api.JoinAnd
	JoinOr   = api.JoinOr
	JoinXor  = api.JoinXor

	CompleteAll    = api.CompleteAll
	CompleteAny    = api.CompleteAny
	CompleteQuorum = api.CompleteQuorum

	FailFast     = api.FailFast
	FailTolerant = api.FailTolerant

	ScopeWorkflowInitialize = api.ScopeWorkflowInitialize
	ScopeWorkflowCancel     = api.ScopeWorkflowCancel
	ScopeWorkItemInitialize = api.ScopeWorkItemInitialize
	ScopeWorkItemStart      = api.ScopeWorkItemStart
	ScopeWorkItemComplete   = api.ScopeWorkItemComplete
	ScopeWorkItemFail       = api.ScopeWorkItemFail
	ScopeWorkItemCancel     = api.ScopeWorkItemCancel
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(obs Observer) Engine {
	return engine.NewInMemoryEngineWithObserver(obs)
}

// NewInMemoryEngineWithAuthorizer returns an in-memory Engine whose external
// operations are gated by the given Authorizer.
func NewInMemoryEngineWithAuthorizer(a Authorizer) Engine {
	return engine.NewEngineWithConfig(engine.Config{Authorizer: a})
}

// NewSQLiteEngine returns an Engine that persists instances, tasks, work
// items, the audit trail and the propagation queue in a SQLite database.
// Workflow definitions are kept in-memory.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	return engine.NewSQLiteEngineWithObserver(db, obs)
}

// Convenience helpers that just forward to the underlying Engine.

// Initialize creates an instance of a registered workflow and returns its ID.
// Token propagation happens on the next Drain.
func Initialize(ctx context.Context, eng Engine, name string, input Payload) (string, error) {
	return eng.InitializeWorkflow(ctx, name, input)
}

// Cancel cancels a workflow instance.
func Cancel(ctx context.Context, eng Engine, id string) error {
	return eng.CancelWorkflow(ctx, id)
}

// GetWorkflow fetches a workflow instance by ID.
func GetWorkflow(ctx context.Context, eng Engine, id string) (*WorkflowInstance, error) {
	return eng.GetWorkflow(ctx, id)
}

// ListWorkflows lists workflow instances according to the given options.
func ListWorkflows(ctx context.Context, eng Engine, opts WorkflowListOptions) ([]*WorkflowInstance, error) {
	return eng.ListWorkflows(ctx, opts)
}

// Complete finishes a started work item with the given output.
func Complete(ctx context.Context, eng Engine, workItemID string, output Payload) error {
	return eng.CompleteWorkItem(ctx, workItemID, output)
}

// Drain processes queued propagation steps until the queue is empty.
//
// It is typically called after a batch of work item operations, or
// continuously from a background dispatcher:
//
//	if err := weft.Drain(ctx, engine); err != nil { ... }
func Drain(ctx context.Context, eng Engine) error {
	return eng.Drain(ctx)
}

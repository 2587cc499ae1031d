package api

import (
	"encoding/gob"
	"time"
)

func init() {
	// Registrations for payload values crossing gob-encoded store
	// boundaries. Application-defined struct values need their own
	// gob.Register call.
	gob.Register(Payload{})
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register([]string{})
	gob.Register(time.Time{})
}

// Payload carries business data through a workflow: the creation payload of
// an instance, the input/output of work items, and the value routing
// predicates are evaluated against.
//
// Values must be gob-encodable when a durable backend is used. Custom struct
// values should be registered with gob.Register by the application.
type Payload map[string]any

// Clone returns a shallow copy of the payload. A nil payload clones to nil.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merged returns a new payload with the fields of other laid over p.
// Neither receiver nor argument is modified.
func (p Payload) Merged(other Payload) Payload {
	if p == nil && other == nil {
		return nil
	}
	out := make(Payload, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// PredicateFunc is a boolean routing predicate over a task's output payload.
// Predicates are supplied by the workflow author and bound into flow
// definitions at registration time; the engine treats them as opaque.
type PredicateFunc func(payload Payload) bool

// CardinalityFunc computes a runtime-determined multi-instance cardinality
// (or a DynamicComposite child count) from the payload visible at enable
// time. Results below 1 are treated as 1.
type CardinalityFunc func(payload Payload) int

// TaskKind discriminates how a task executes.
type TaskKind string

const (
	// KindAtomic tasks execute directly through work items.
	KindAtomic TaskKind = "ATOMIC"
	// KindComposite tasks spawn exactly one nested workflow instance.
	KindComposite TaskKind = "COMPOSITE"
	// KindDynamicComposite tasks spawn a runtime-determined number of
	// nested workflow instances.
	KindDynamicComposite TaskKind = "DYNAMIC_COMPOSITE"
)

// SplitType is the fan-out behavior applied to a task's outgoing flows when
// the task completes.
type SplitType string

const (
	SplitNone SplitType = "NONE"
	SplitAnd  SplitType = "AND"
	SplitOr   SplitType = "OR"
	SplitXor  SplitType = "XOR"
)

// JoinType is the fan-in behavior over a task's incoming flows that decides
// when the task becomes enabled.
type JoinType string

const (
	JoinNone JoinType = "NONE"
	JoinAnd  JoinType = "AND"
	JoinOr   JoinType = "OR"
	JoinXor  JoinType = "XOR"
)

// CompletionMode selects the multi-instance join policy of a task.
type CompletionMode string

const (
	// CompleteAll completes the task once every spawned work item completed.
	CompleteAll CompletionMode = "ALL"
	// CompleteAny completes the task on the first completed work item and
	// cancels the remaining live ones.
	CompleteAny CompletionMode = "ANY"
	// CompleteQuorum completes the task once Quorum work items completed.
	CompleteQuorum CompletionMode = "QUORUM"
)

// CompletionPolicy describes when a multi-instance task counts as completed.
// The zero value means CompleteAll.
type CompletionPolicy struct {
	Mode   CompletionMode `json:"mode,omitempty"`
	Quorum int            `json:"quorum,omitempty" validate:"gte=0"`
}

// FailurePolicy describes how work item failures affect the owning task.
type FailurePolicy string

const (
	// FailFast fails the task (and thereby its workflow instance) on the
	// first failed work item. This is the default.
	FailFast FailurePolicy = "FAIL_FAST"
	// FailTolerant lets a failed work item free its cardinality slot; an
	// external actor may initialize a replacement. The task never fails on
	// its own under this policy.
	FailTolerant FailurePolicy = "TOLERANT"
)

// TaskDefinition describes one task in a workflow graph.
type TaskDefinition struct {
	// Name is unique within the definition, across tasks and conditions.
	Name string `json:"name" validate:"required"`

	// Kind defaults to KindAtomic when empty.
	Kind TaskKind `json:"kind,omitempty"`

	// Split/Join default to SplitNone/JoinNone when empty.
	Split SplitType `json:"split,omitempty"`
	Join  JoinType  `json:"join,omitempty"`

	// Cardinality is the fixed multi-instance cardinality. Zero or one means
	// a single work item. CardinalityFn, when set, takes precedence and is
	// evaluated against the case payload at enable time.
	Cardinality   int             `json:"cardinality,omitempty" validate:"gte=0"`
	CardinalityFn CardinalityFunc `json:"-"`

	Completion CompletionPolicy `json:"completion,omitempty"`
	Failure    FailurePolicy    `json:"failure,omitempty"`

	// AutoInitialize creates the task's work items (one per cardinality
	// slot) as soon as the task becomes enabled. Without it, work items are
	// created by explicit InitializeWorkItem calls.
	AutoInitialize bool `json:"auto_initialize,omitempty"`

	// SubWorkflow names the nested workflow definition spawned by
	// Composite/DynamicComposite tasks. It must be registered before (or be)
	// the definition that references it.
	SubWorkflow string `json:"sub_workflow,omitempty"`

	// AllowPartial lets a composite task complete once all children are
	// terminal with at least one completed, instead of requiring every
	// child to complete.
	AllowPartial bool `json:"allow_partial,omitempty"`
}

// EffectiveKind returns the task kind, defaulting empty to KindAtomic.
func (t TaskDefinition) EffectiveKind() TaskKind {
	if t.Kind == "" {
		return KindAtomic
	}
	return t.Kind
}

// EffectiveSplit returns the split type, defaulting empty to SplitNone.
func (t TaskDefinition) EffectiveSplit() SplitType {
	if t.Split == "" {
		return SplitNone
	}
	return t.Split
}

// EffectiveJoin returns the join type, defaulting empty to JoinNone.
func (t TaskDefinition) EffectiveJoin() JoinType {
	if t.Join == "" {
		return JoinNone
	}
	return t.Join
}

// CardinalityFor resolves the task's cardinality against the given payload.
// Composite tasks always resolve to 1.
func (t TaskDefinition) CardinalityFor(payload Payload) int {
	if t.EffectiveKind() == KindComposite {
		return 1
	}
	if t.CardinalityFn != nil {
		if n := t.CardinalityFn(payload); n > 0 {
			return n
		}
		return 1
	}
	if t.Cardinality > 0 {
		return t.Cardinality
	}
	return 1
}

// RequiredCompletions returns how many completed work items the completion
// policy demands for the given resolved cardinality.
func (t TaskDefinition) RequiredCompletions(cardinality int) int {
	switch t.Completion.Mode {
	case CompleteAny:
		return 1
	case CompleteQuorum:
		if t.Completion.Quorum > 0 {
			return t.Completion.Quorum
		}
		return cardinality
	default: // CompleteAll and zero value
		return cardinality
	}
}

// ConditionDefinition describes a Petri-net place holding the tokens that
// gate task enablement.
type ConditionDefinition struct {
	Name string `json:"name" validate:"required"`

	// Initial marks the condition that receives the first token when an
	// instance starts. Exactly one condition per definition carries it.
	Initial bool `json:"initial,omitempty"`

	// Terminal marks the condition whose token completes the instance.
	// Exactly one condition per definition carries it.
	Terminal bool `json:"terminal,omitempty"`
}

// FlowDefinition is a directed edge between a task and a condition (or two
// tasks, in which case an implicit condition is inserted at registration).
type FlowDefinition struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`

	// Predicate gates the flow on OR/XOR splits. Evaluated against the
	// completing task's output payload, in definition order for XOR.
	Predicate PredicateFunc `json:"-"`

	// Default marks the XOR-split flow taken when no predicate matches.
	// Exactly one outgoing flow per XOR split must carry it.
	Default bool `json:"default,omitempty"`
}

// CancellationRegionDefinition declares the tasks and conditions forcibly
// reset when the owner task completes: live task instances and work items
// in the region are canceled and member conditions lose their tokens.
type CancellationRegionDefinition struct {
	Owner      string   `json:"owner" validate:"required"`
	Tasks      []string `json:"tasks,omitempty"`
	Conditions []string `json:"conditions,omitempty"`
}

// WorkflowDefinition is the immutable, versioned graph a workflow instance
// executes: tasks and conditions connected by flows, plus cancellation
// regions. Definitions are validated structurally on registration and never
// change afterwards.
type WorkflowDefinition struct {
	Name    string `json:"name" validate:"required"`
	Version string `json:"version,omitempty"`

	Tasks      []TaskDefinition               `json:"tasks" validate:"min=1,dive"`
	Conditions []ConditionDefinition          `json:"conditions" validate:"min=1,dive"`
	Flows      []FlowDefinition               `json:"flows,omitempty" validate:"dive"`
	Regions    []CancellationRegionDefinition `json:"regions,omitempty" validate:"dive"`
}

// Task returns the task definition with the given name, if present.
func (d WorkflowDefinition) Task(name string) (TaskDefinition, bool) {
	for _, t := range d.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskDefinition{}, false
}

// Condition returns the condition definition with the given name, if present.
func (d WorkflowDefinition) Condition(name string) (ConditionDefinition, bool) {
	for _, c := range d.Conditions {
		if c.Name == name {
			return c, true
		}
	}
	return ConditionDefinition{}, false
}

package weft

import (
	"fmt"

	"github.com/petrijr/weft/pkg/api"
)

// Builder provides a fluent API for defining workflow graphs:
//
//	wf := weft.New("order-fulfillment").
//	    Initial("received").
//	    Task("reserve-stock").
//	    Task("pack", weft.WithCardinality(3)).
//	    Flow("received", "reserve-stock").
//	    Flow("reserve-stock", "pack").
//	    Flow("pack", "shipped").
//	    Terminal("shipped")
//
//	if err := wf.Register(engine); err != nil {
//	    log.Fatal(err)
//	}
//
//	id, err := weft.Initialize(ctx, engine, wf.Name(), input)
//
// The builder panics on obvious programming errors (empty names, nil
// functions). Structural validity of the assembled graph is checked by
// the engine on Register, which reports every violation at once.
type Builder struct {
	def api.WorkflowDefinition
}

// TaskOption customizes a task added through the builder.
type TaskOption func(*api.TaskDefinition)

// WithSplit sets the task's outgoing split type.
func WithSplit(s SplitType) TaskOption {
	return func(t *api.TaskDefinition) { t.Split = s }
}

// WithJoin sets the task's incoming join type.
func WithJoin(j JoinType) TaskOption {
	return func(t *api.TaskDefinition) { t.Join = j }
}

// WithCardinality sets a fixed multi-instance cardinality.
func WithCardinality(n int) TaskOption {
	return func(t *api.TaskDefinition) { t.Cardinality = n }
}

// WithCardinalityFunc derives the cardinality from the case payload at
// enable time. It takes precedence over WithCardinality.
func WithCardinalityFunc(fn CardinalityFunc) TaskOption {
	return func(t *api.TaskDefinition) { t.CardinalityFn = fn }
}

// WithCompletion sets the multi-instance completion policy.
func WithCompletion(p CompletionPolicy) TaskOption {
	return func(t *api.TaskDefinition) { t.Completion = p }
}

// WithQuorum completes the task once n work items completed.
func WithQuorum(n int) TaskOption {
	return func(t *api.TaskDefinition) {
		t.Completion = CompletionPolicy{Mode: CompleteQuorum, Quorum: n}
	}
}

// WithCompleteAny completes the task on the first completed work item.
func WithCompleteAny() TaskOption {
	return func(t *api.TaskDefinition) {
		t.Completion = CompletionPolicy{Mode: CompleteAny}
	}
}

// WithFailurePolicy sets how work item failures affect the task.
func WithFailurePolicy(p FailurePolicy) TaskOption {
	return func(t *api.TaskDefinition) { t.Failure = p }
}

// WithAutoInitialize creates the task's work items as soon as the task
// becomes enabled.
func WithAutoInitialize() TaskOption {
	return func(t *api.TaskDefinition) { t.AutoInitialize = true }
}

// WithAllowPartial lets a composite task complete once all children are
// terminal with at least one completed.
func WithAllowPartial() TaskOption {
	return func(t *api.TaskDefinition) { t.AllowPartial = true }
}

// New creates a new workflow builder with the given name.
func New(name string) *Builder {
	return &Builder{
		def: api.WorkflowDefinition{
			Name:  name,
			Tasks: make([]api.TaskDefinition, 0),
		},
	}
}

// Name returns the workflow name.
func (b *Builder) Name() string {
	return b.def.Name
}

// Version sets the definition version. Registering the same name with a
// new version leaves earlier versions callable.
func (b *Builder) Version(v string) *Builder {
	b.def.Version = v
	return b
}

// Definition returns the underlying WorkflowDefinition.
// Typically used when interacting with lower-level APIs.
func (b *Builder) Definition() WorkflowDefinition {
	return b.def
}

// Task appends an atomic task to the workflow.
func (b *Builder) Task(name string, opts ...TaskOption) *Builder {
	if name == "" {
		panic("weft: task name must not be empty")
	}

	t := api.TaskDefinition{Name: name}
	for _, opt := range opts {
		opt(&t)
	}
	b.def.Tasks = append(b.def.Tasks, t)
	return b
}

// CompositeTask appends a task that spawns one nested instance of the
// named sub-workflow.
func (b *Builder) CompositeTask(name, subWorkflow string, opts ...TaskOption) *Builder {
	if name == "" {
		panic("weft: task name must not be empty")
	}
	if subWorkflow == "" {
		panic(fmt.Sprintf("weft: composite task %q has empty sub-workflow", name))
	}

	t := api.TaskDefinition{
		Name:        name,
		Kind:        KindComposite,
		SubWorkflow: subWorkflow,
	}
	for _, opt := range opts {
		opt(&t)
	}
	b.def.Tasks = append(b.def.Tasks, t)
	return b
}

// DynamicCompositeTask appends a task that spawns fn(payload) nested
// instances of the named sub-workflow.
func (b *Builder) DynamicCompositeTask(name, subWorkflow string, fn CardinalityFunc, opts ...TaskOption) *Builder {
	if name == "" {
		panic("weft: task name must not be empty")
	}
	if subWorkflow == "" {
		panic(fmt.Sprintf("weft: composite task %q has empty sub-workflow", name))
	}
	if fn == nil {
		panic(fmt.Sprintf("weft: dynamic composite task %q has nil cardinality function", name))
	}

	t := api.TaskDefinition{
		Name:          name,
		Kind:          KindDynamicComposite,
		SubWorkflow:   subWorkflow,
		CardinalityFn: fn,
	}
	for _, opt := range opts {
		opt(&t)
	}
	b.def.Tasks = append(b.def.Tasks, t)
	return b
}

// Condition appends a plain condition.
func (b *Builder) Condition(name string) *Builder {
	if name == "" {
		panic("weft: condition name must not be empty")
	}
	b.def.Conditions = append(b.def.Conditions, api.ConditionDefinition{Name: name})
	return b
}

// Initial appends the condition that receives the first token when an
// instance starts. A definition has exactly one.
func (b *Builder) Initial(name string) *Builder {
	if name == "" {
		panic("weft: condition name must not be empty")
	}
	b.def.Conditions = append(b.def.Conditions, api.ConditionDefinition{Name: name, Initial: true})
	return b
}

// Terminal appends the condition whose token completes the instance.
// A definition has exactly one.
func (b *Builder) Terminal(name string) *Builder {
	if name == "" {
		panic("weft: condition name must not be empty")
	}
	b.def.Conditions = append(b.def.Conditions, api.ConditionDefinition{Name: name, Terminal: true})
	return b
}

// Flow appends an unconditional flow between two nodes. Task-to-task
// flows get an implicit intermediate condition at registration.
func (b *Builder) Flow(source, target string) *Builder {
	if source == "" || target == "" {
		panic("weft: flow endpoints must not be empty")
	}
	b.def.Flows = append(b.def.Flows, api.FlowDefinition{Source: source, Target: target})
	return b
}

// FlowIf appends a predicated flow, for OR and XOR splits.
func (b *Builder) FlowIf(source, target string, pred PredicateFunc) *Builder {
	if source == "" || target == "" {
		panic("weft: flow endpoints must not be empty")
	}
	if pred == nil {
		panic(fmt.Sprintf("weft: flow %s->%s has nil predicate", source, target))
	}
	b.def.Flows = append(b.def.Flows, api.FlowDefinition{Source: source, Target: target, Predicate: pred})
	return b
}

// DefaultFlow appends the flow an XOR split takes when no predicate
// matches. Exactly one outgoing flow per XOR split carries it.
func (b *Builder) DefaultFlow(source, target string) *Builder {
	if source == "" || target == "" {
		panic("weft: flow endpoints must not be empty")
	}
	b.def.Flows = append(b.def.Flows, api.FlowDefinition{Source: source, Target: target, Default: true})
	return b
}

// Region appends a cancellation region: when owner completes, the listed
// tasks are canceled and the listed conditions lose their tokens.
func (b *Builder) Region(owner string, tasks, conditions []string) *Builder {
	if owner == "" {
		panic("weft: region owner must not be empty")
	}
	b.def.Regions = append(b.def.Regions, api.CancellationRegionDefinition{
		Owner:      owner,
		Tasks:      tasks,
		Conditions: conditions,
	})
	return b
}

// Register registers the built workflow with the given engine.
func (b *Builder) Register(eng Engine) error {
	return eng.RegisterWorkflow(b.def)
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *Builder) MustRegister(eng Engine) {
	if err := b.Register(eng); err != nil {
		panic(err)
	}
}

package engine

import (
	"fmt"

	"github.com/petrijr/weft/pkg/api"
)

// implicitConditionName names the condition inserted between two directly
// connected tasks. The braces keep generated names out of the space of
// sensible user-chosen condition names.
func implicitConditionName(source, target string) string {
	return "c{" + source + "->" + target + "}"
}

// compiledFlow is a task outflow whose target has been normalized to a
// condition name.
type compiledFlow struct {
	def       api.FlowDefinition
	condition string
}

// compiledGraph is a registered workflow definition in routable form: every
// task-to-task flow has its implicit condition materialized and the net is
// indexed in both directions. Compiled graphs are immutable.
type compiledGraph struct {
	def     api.WorkflowDefinition
	version string

	tasks      map[string]api.TaskDefinition
	conditions map[string]api.ConditionDefinition

	initial  string
	terminal string

	// taskOutflows preserves definition order; XOR routing depends on it.
	taskOutflows map[string][]compiledFlow

	// taskInputs preserves definition order; XOR joins consume the first
	// marked input.
	taskInputs map[string][]string

	condSuccessors map[string][]string

	regions map[string]api.CancellationRegionDefinition
}

func (g *compiledGraph) task(name string) (api.TaskDefinition, bool) {
	td, ok := g.tasks[name]
	return td, ok
}

// compile indexes and validates a definition. It returns every structural
// violation found, so authors can fix a definition in one round trip.
// subWorkflowKnown answers whether a referenced sub-workflow (optionally
// pinned to a version) is resolvable.
func compile(def api.WorkflowDefinition, version string, subWorkflowKnown func(name, version string) bool) (*compiledGraph, []string) {
	var violations []string
	fail := func(format string, args ...any) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	g := &compiledGraph{
		def:            def,
		version:        version,
		tasks:          make(map[string]api.TaskDefinition, len(def.Tasks)),
		conditions:     make(map[string]api.ConditionDefinition, len(def.Conditions)),
		taskOutflows:   make(map[string][]compiledFlow),
		taskInputs:     make(map[string][]string),
		condSuccessors: make(map[string][]string),
		regions:        make(map[string]api.CancellationRegionDefinition, len(def.Regions)),
	}

	for _, t := range def.Tasks {
		if t.Name == "" {
			continue // reported by field validation
		}
		if _, dup := g.tasks[t.Name]; dup {
			fail("duplicate task %q", t.Name)
			continue
		}
		g.tasks[t.Name] = t
	}

	for _, c := range def.Conditions {
		if c.Name == "" {
			continue
		}
		if _, dup := g.conditions[c.Name]; dup {
			fail("duplicate condition %q", c.Name)
			continue
		}
		if _, clash := g.tasks[c.Name]; clash {
			fail("name %q used for both a task and a condition", c.Name)
			continue
		}
		g.conditions[c.Name] = c
		if c.Initial {
			if g.initial != "" {
				fail("multiple initial conditions (%q and %q)", g.initial, c.Name)
			} else {
				g.initial = c.Name
			}
		}
		if c.Terminal {
			if g.terminal != "" {
				fail("multiple terminal conditions (%q and %q)", g.terminal, c.Name)
			} else {
				g.terminal = c.Name
			}
		}
	}
	if g.initial == "" {
		fail("no initial condition")
	}
	if g.terminal == "" {
		fail("no terminal condition")
	}

	seenFlows := make(map[string]bool, len(def.Flows))
	for _, f := range def.Flows {
		if f.Source == "" || f.Target == "" {
			continue
		}
		key := f.Source + " -> " + f.Target
		if seenFlows[key] {
			fail("duplicate flow %s", key)
			continue
		}
		seenFlows[key] = true

		_, srcTask := g.tasks[f.Source]
		_, srcCond := g.conditions[f.Source]
		_, tgtTask := g.tasks[f.Target]
		_, tgtCond := g.conditions[f.Target]

		switch {
		case !srcTask && !srcCond:
			fail("flow %s: unknown source", key)
		case !tgtTask && !tgtCond:
			fail("flow %s: unknown target", key)
		case srcCond && tgtCond:
			fail("flow %s: conditions cannot connect directly", key)
		case srcTask && tgtTask:
			name := implicitConditionName(f.Source, f.Target)
			if _, exists := g.conditions[name]; !exists {
				g.conditions[name] = api.ConditionDefinition{Name: name}
			}
			g.taskOutflows[f.Source] = append(g.taskOutflows[f.Source], compiledFlow{def: f, condition: name})
			g.taskInputs[f.Target] = append(g.taskInputs[f.Target], name)
			g.condSuccessors[name] = append(g.condSuccessors[name], f.Target)
		case srcTask: // task -> condition
			g.taskOutflows[f.Source] = append(g.taskOutflows[f.Source], compiledFlow{def: f, condition: f.Target})
		default: // condition -> task
			if f.Predicate != nil || f.Default {
				fail("flow %s: predicates and defaults belong on task outflows", key)
			}
			g.taskInputs[f.Target] = append(g.taskInputs[f.Target], f.Source)
			g.condSuccessors[f.Source] = append(g.condSuccessors[f.Source], f.Target)
		}
	}

	validated := make(map[string]bool, len(g.tasks))
	for _, td := range def.Tasks {
		if td.Name == "" || validated[td.Name] {
			continue
		}
		validated[td.Name] = true
		violations = append(violations, validateTask(g, td, subWorkflowKnown)...)
	}

	for _, c := range def.Conditions {
		if c.Name == "" || c.Terminal {
			continue
		}
		if len(g.condSuccessors[c.Name]) == 0 {
			fail("condition %q has no outgoing flow", c.Name)
		}
	}
	if g.terminal != "" && len(g.condSuccessors[g.terminal]) > 0 {
		fail("terminal condition %q cannot have outgoing flows", g.terminal)
	}

	for _, r := range def.Regions {
		if r.Owner == "" {
			continue
		}
		if _, ok := g.tasks[r.Owner]; !ok {
			fail("region owner %q is not a task", r.Owner)
			continue
		}
		if _, dup := g.regions[r.Owner]; dup {
			fail("task %q owns more than one cancellation region", r.Owner)
			continue
		}
		for _, name := range r.Tasks {
			if name == r.Owner {
				fail("region owner %q cannot be a member of its own region", r.Owner)
				continue
			}
			if _, ok := g.tasks[name]; !ok {
				fail("region of %q: member task %q is not a task", r.Owner, name)
			}
		}
		for _, name := range r.Conditions {
			if _, ok := g.conditions[name]; !ok {
				fail("region of %q: member condition %q is not a condition", r.Owner, name)
			}
		}
		g.regions[r.Owner] = r
	}

	// Reachability is only meaningful on an otherwise well-formed net.
	if len(violations) == 0 {
		for _, name := range g.unreachable() {
			fail("%s is unreachable from the initial condition", name)
		}
	}

	return g, violations
}

func validateTask(g *compiledGraph, td api.TaskDefinition, subWorkflowKnown func(name, version string) bool) []string {
	var violations []string
	fail := func(format string, args ...any) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	outs := g.taskOutflows[td.Name]
	ins := g.taskInputs[td.Name]

	if len(ins) == 0 {
		fail("task %q has no incoming flow", td.Name)
	}
	if len(outs) == 0 {
		fail("task %q has no outgoing flow", td.Name)
	}
	if len(ins) > 1 && td.EffectiveJoin() == api.JoinNone {
		fail("task %q has %d incoming flows but no join type", td.Name, len(ins))
	}

	switch td.EffectiveSplit() {
	case api.SplitNone:
		if len(outs) > 1 {
			fail("task %q has %d outgoing flows but no split type", td.Name, len(outs))
		}
		for _, f := range outs {
			if f.def.Predicate != nil || f.def.Default {
				fail("task %q: flow to %q: predicates and defaults require an OR or XOR split", td.Name, f.def.Target)
			}
		}
	case api.SplitAnd:
		for _, f := range outs {
			if f.def.Predicate != nil || f.def.Default {
				fail("task %q: flow to %q: AND splits fire every flow unconditionally", td.Name, f.def.Target)
			}
		}
	case api.SplitOr:
		for _, f := range outs {
			if f.def.Default {
				fail("task %q: flow to %q: OR splits have no default flow, every flow needs a predicate", td.Name, f.def.Target)
				continue
			}
			if f.def.Predicate == nil {
				fail("task %q: flow to %q needs a predicate", td.Name, f.def.Target)
			}
		}
	case api.SplitXor:
		defaults := 0
		for _, f := range outs {
			if f.def.Default {
				defaults++
				continue
			}
			if f.def.Predicate == nil {
				fail("task %q: flow to %q needs a predicate or the default mark", td.Name, f.def.Target)
			}
		}
		if defaults > 1 {
			fail("task %q: %d default flows, at most one allowed", td.Name, defaults)
		}
	default:
		fail("task %q: unknown split type %q", td.Name, td.Split)
	}

	switch td.EffectiveJoin() {
	case api.JoinNone, api.JoinAnd, api.JoinOr, api.JoinXor:
	default:
		fail("task %q: unknown join type %q", td.Name, td.Join)
	}

	switch td.EffectiveKind() {
	case api.KindAtomic:
		if td.SubWorkflow != "" {
			fail("task %q: sub_workflow set on an atomic task", td.Name)
		}
		if td.AllowPartial {
			fail("task %q: allow_partial applies to composite tasks only", td.Name)
		}
	case api.KindComposite, api.KindDynamicComposite:
		if td.EffectiveKind() == api.KindComposite && (td.Cardinality > 1 || td.CardinalityFn != nil) {
			fail("task %q: composite tasks spawn exactly one child; use DYNAMIC_COMPOSITE for fan-out", td.Name)
		}
		if td.EffectiveKind() == api.KindDynamicComposite && td.CardinalityFn == nil {
			fail("task %q: dynamic composite tasks compute their child count from the payload; set a cardinality function", td.Name)
		}
		if td.SubWorkflow == "" {
			fail("task %q: %s task needs a sub_workflow", td.Name, td.EffectiveKind())
		} else if name, ver := splitWorkflowRef(td.SubWorkflow); !subWorkflowKnown(name, ver) {
			fail("task %q: sub_workflow %q is not registered", td.Name, td.SubWorkflow)
		}
		if td.Failure == api.FailTolerant {
			fail("task %q: composite tasks use allow_partial instead of a tolerant failure policy", td.Name)
		}
	default:
		fail("task %q: unknown kind %q", td.Name, td.Kind)
	}

	switch td.Failure {
	case "", api.FailFast, api.FailTolerant:
	default:
		fail("task %q: unknown failure policy %q", td.Name, td.Failure)
	}

	switch td.Completion.Mode {
	case "", api.CompleteAll, api.CompleteAny:
	case api.CompleteQuorum:
		if td.Completion.Quorum < 1 {
			fail("task %q: quorum completion needs a positive quorum", td.Name)
		} else if td.CardinalityFn == nil && td.Completion.Quorum > td.CardinalityFor(nil) {
			fail("task %q: quorum %d exceeds cardinality %d", td.Name, td.Completion.Quorum, td.CardinalityFor(nil))
		}
	default:
		fail("task %q: unknown completion mode %q", td.Name, td.Completion.Mode)
	}

	return violations
}

// unreachable returns the tasks and conditions no token can ever visit,
// formatted for violation messages, in definition order.
func (g *compiledGraph) unreachable() []string {
	seenCond := map[string]bool{g.initial: true}
	seenTask := make(map[string]bool)
	frontier := []string{g.initial}
	for len(frontier) > 0 {
		c := frontier[0]
		frontier = frontier[1:]
		for _, t := range g.condSuccessors[c] {
			if seenTask[t] {
				continue
			}
			seenTask[t] = true
			for _, f := range g.taskOutflows[t] {
				if !seenCond[f.condition] {
					seenCond[f.condition] = true
					frontier = append(frontier, f.condition)
				}
			}
		}
	}

	var out []string
	for _, t := range g.def.Tasks {
		if t.Name != "" && !seenTask[t.Name] {
			out = append(out, fmt.Sprintf("task %q", t.Name))
		}
	}
	for _, c := range g.def.Conditions {
		if c.Name != "" && !seenCond[c.Name] {
			out = append(out, fmt.Sprintf("condition %q", c.Name))
		}
	}
	return out
}

// orJoinReady decides whether an OR-join task may fire: at least one input
// condition is marked and no token could still arrive at an unmarked input
// without the joining task firing first. The analysis walks the net forward
// from every marked condition and every live task, excluding the joining
// task itself.
func (g *compiledGraph) orJoinReady(marking map[string]int, liveTasks map[string]bool, task string) bool {
	marked := false
	for _, c := range g.taskInputs[task] {
		if marking[c] > 0 {
			marked = true
			break
		}
	}
	if !marked {
		return false
	}
	for _, c := range g.taskInputs[task] {
		if marking[c] > 0 {
			continue
		}
		if g.tokenCouldReach(marking, liveTasks, task, c) {
			return false
		}
	}
	return true
}

// tokenCouldReach reports whether a token could still arrive at target
// without the excluded task firing. It over-approximates: predicates are
// ignored, so any structurally possible path counts.
func (g *compiledGraph) tokenCouldReach(marking map[string]int, liveTasks map[string]bool, excluded, target string) bool {
	seenCond := make(map[string]bool)
	seenTask := make(map[string]bool)
	var frontier []string

	addCond := func(c string) bool {
		if seenCond[c] {
			return false
		}
		seenCond[c] = true
		frontier = append(frontier, c)
		return c == target
	}

	for c, n := range marking {
		if n > 0 && addCond(c) {
			return true
		}
	}
	for t := range liveTasks {
		if t == excluded {
			continue
		}
		seenTask[t] = true
		for _, f := range g.taskOutflows[t] {
			if addCond(f.condition) {
				return true
			}
		}
	}

	for len(frontier) > 0 {
		c := frontier[0]
		frontier = frontier[1:]
		for _, t := range g.condSuccessors[c] {
			if t == excluded || seenTask[t] {
				continue
			}
			seenTask[t] = true
			for _, f := range g.taskOutflows[t] {
				if addCond(f.condition) {
					return true
				}
			}
		}
	}
	return false
}

package engine

import (
	"context"
	"testing"

	"github.com/petrijr/weft/pkg/api"
)

func TestSelfLoopRerunsTask(t *testing.T) {
	for name, factory := range bothBackends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			eng := factory(t)

			pass := func(p api.Payload) bool { v, _ := p["pass"].(bool); return v }
			def := api.WorkflowDefinition{
				Name: "build-until-green",
				Tasks: []api.TaskDefinition{
					{Name: "build", Join: api.JoinXor, Split: api.SplitXor, AutoInitialize: true},
				},
				Conditions: []api.ConditionDefinition{
					{Name: "start", Initial: true},
					{Name: "end", Terminal: true},
				},
				Flows: []api.FlowDefinition{
					{Source: "start", Target: "build"},
					{Source: "build", Target: "end", Predicate: pass},
					{Source: "build", Target: "build", Default: true},
				},
			}
			mustRegister(t, eng, def)

			id, err := eng.InitializeWorkflow(ctx, "build-until-green", nil)
			if err != nil {
				t.Fatalf("InitializeWorkflow failed: %v", err)
			}
			drainOK(t, eng)

			for attempt, pass := range []bool{false, false, true} {
				startAndComplete(t, eng, id, "build", "ci", api.Payload{"pass": pass, "attempt": attempt})
				drainOK(t, eng)
			}

			inst := getWorkflow(t, eng, id)
			if inst.State != api.WorkflowCompleted {
				t.Fatalf("expected COMPLETED, got %s", inst.State)
			}
			if inst.Output["attempt"] != 2 {
				t.Fatalf("last iteration's output should win, got %v", inst.Output)
			}

			// Each iteration ran on a fresh task instance; completed
			// history is never rewound.
			builds := tasksByName(t, eng, id, "build")
			if len(builds) != 3 {
				t.Fatalf("expected 3 build activations, got %d", len(builds))
			}
			seen := make(map[string]bool)
			for _, ti := range builds {
				if ti.State != api.TaskCompleted {
					t.Fatalf("activation %s = %s, want COMPLETED", ti.ID, ti.State)
				}
				if seen[ti.ID] {
					t.Fatalf("task instance %s reused", ti.ID)
				}
				seen[ti.ID] = true
			}
		})
	}
}

func TestReviewLoopAcrossTwoTasks(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	approved := func(p api.Payload) bool { v, _ := p["approved"].(bool); return v }
	def := api.WorkflowDefinition{
		Name: "draft-review",
		Tasks: []api.TaskDefinition{
			{Name: "draft", Join: api.JoinXor, AutoInitialize: true},
			{Name: "review", Split: api.SplitXor, AutoInitialize: true},
		},
		Conditions: []api.ConditionDefinition{
			{Name: "start", Initial: true},
			{Name: "end", Terminal: true},
		},
		Flows: []api.FlowDefinition{
			{Source: "start", Target: "draft"},
			{Source: "draft", Target: "review"},
			{Source: "review", Target: "end", Predicate: approved},
			{Source: "review", Target: "draft", Default: true},
		},
	}
	mustRegister(t, eng, def)

	id, err := eng.InitializeWorkflow(ctx, "draft-review", api.Payload{"doc": "d-7"})
	if err != nil {
		t.Fatalf("InitializeWorkflow failed: %v", err)
	}
	drainOK(t, eng)

	rounds := []bool{false, true}
	for i, ok := range rounds {
		startAndComplete(t, eng, id, "draft", "author", api.Payload{"revision": i + 1})
		drainOK(t, eng)
		startAndComplete(t, eng, id, "review", "editor", api.Payload{"approved": ok})
		drainOK(t, eng)
	}

	inst := getWorkflow(t, eng, id)
	if inst.State != api.WorkflowCompleted {
		t.Fatalf("expected COMPLETED, got %s", inst.State)
	}
	if inst.Output["revision"] != 2 || inst.Output["doc"] != "d-7" {
		t.Fatalf("unexpected output: %v", inst.Output)
	}

	if n := len(tasksByName(t, eng, id, "draft")); n != 2 {
		t.Fatalf("expected 2 draft activations, got %d", n)
	}
	if n := len(tasksByName(t, eng, id, "review")); n != 2 {
		t.Fatalf("expected 2 review activations, got %d", n)
	}

	// Two full rounds left four completed work items behind.
	done := itemsInState(t, eng, id, api.WorkItemCompleted)
	if len(done) != 4 {
		t.Fatalf("expected 4 completed work items, got %d", len(done))
	}
}

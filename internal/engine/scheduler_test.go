package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/petrijr/weft/internal/persistence"
	"github.com/petrijr/weft/pkg/api"
)

// flakyTaskStore fails the first n UpdateTask calls and then behaves.
type flakyTaskStore struct {
	persistence.TaskStore
	remaining int
	calls     int
}

func (s *flakyTaskStore) UpdateTask(ti *api.TaskInstance) error {
	s.calls++
	if s.remaining > 0 {
		s.remaining--
		return errors.New("simulated store outage")
	}
	return s.TaskStore.UpdateTask(ti)
}

func flakyEngine(outages int, policy PropagationPolicy) (api.Engine, *fakeObserver, *flakyTaskStore) {
	mem := persistence.NewInMemoryStore()
	flaky := &flakyTaskStore{TaskStore: mem, remaining: outages}
	obs := &fakeObserver{}
	eng := NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{
			Instances: mem,
			Tasks:     flaky,
			WorkItems: mem,
			Events:    persistence.NewMemoryEventStore(),
		},
		Observer:    obs,
		Propagation: policy,
	})
	return eng, obs, flaky
}

func TestTransientStepFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	eng, obs, _ := flakyEngine(2, PropagationPolicy{})
	mustRegister(t, eng, fulfillmentDef())

	id, err := eng.InitializeWorkflow(ctx, "order-fulfillment", nil)
	if err != nil {
		t.Fatalf("InitializeWorkflow failed: %v", err)
	}
	// Two outages fit inside the default budget of five attempts.
	drainOK(t, eng)

	props := obs.propagations()
	if len(props) != 2 {
		t.Fatalf("expected 2 retry notifications, got %d", len(props))
	}
	for i, p := range props {
		if p.final {
			t.Fatalf("retry %d reported as final", i)
		}
		if p.workflowID != id || p.attempts != i+1 {
			t.Fatalf("unexpected retry record: %+v", p)
		}
	}

	// The instance is unharmed and the run finishes normally.
	if tis := tasksByName(t, eng, id, "reserve"); tis[0].State != api.TaskEnabled {
		t.Fatalf("expected reserve enabled after retries, got %s", tis[0].State)
	}
	for _, task := range []string{"reserve", "pack", "ship"} {
		startAndComplete(t, eng, id, task, "w", nil)
		drainOK(t, eng)
	}
	if st := getWorkflow(t, eng, id).State; st != api.WorkflowCompleted {
		t.Fatalf("expected COMPLETED, got %s", st)
	}

	// The retries are on the audit trail.
	events, err := eng.ListEvents(ctx, id)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	retried := 0
	for _, ev := range events {
		if ev.Type == api.EventPropagationRetried {
			retried++
		}
	}
	if retried != 2 {
		t.Fatalf("expected 2 retry events, got %d", retried)
	}
}

func TestExhaustedRetryBudgetFailsInstance(t *testing.T) {
	ctx := context.Background()
	eng, obs, _ := flakyEngine(100, PropagationPolicy{MaxAttempts: 3})
	mustRegister(t, eng, fulfillmentDef())

	id, err := eng.InitializeWorkflow(ctx, "order-fulfillment", nil)
	if err != nil {
		t.Fatalf("InitializeWorkflow failed: %v", err)
	}

	err = eng.Drain(ctx)
	if !api.IsPropagationFailed(err) {
		t.Fatalf("expected PropagationError from Drain, got %v", err)
	}
	var perr *api.PropagationError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *PropagationError, got %T", err)
	}
	if perr.WorkflowID != id || perr.Attempts != 3 {
		t.Fatalf("unexpected propagation error: %+v", perr)
	}

	// The queue is drained even though the step failed for good.
	if n := eng.PendingSteps(); n != 0 {
		t.Fatalf("expected empty queue, got %d steps", n)
	}

	inst := getWorkflow(t, eng, id)
	if inst.State != api.WorkflowFailed {
		t.Fatalf("expected FAILED, got %s", inst.State)
	}
	if !strings.Contains(inst.Failure, "condition-changed") {
		t.Fatalf("failure should name the step, got %q", inst.Failure)
	}

	props := obs.propagations()
	if len(props) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(props))
	}
	if props[0].final || props[1].final || !props[2].final {
		t.Fatalf("only the last notification should be final: %+v", props)
	}

	events, err := eng.ListEvents(ctx, id)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	var failedEvents, retriedEvents int
	for _, ev := range events {
		switch ev.Type {
		case api.EventPropagationFailed:
			failedEvents++
		case api.EventPropagationRetried:
			retriedEvents++
		}
	}
	if retriedEvents != 2 || failedEvents != 1 {
		t.Fatalf("expected 2 retried + 1 failed events, got %d + %d", retriedEvents, failedEvents)
	}
}

func TestRetryDelayIsHonored(t *testing.T) {
	ctx := context.Background()
	eng, obs, _ := flakyEngine(1, PropagationPolicy{RetryDelay: 20 * time.Millisecond})
	mustRegister(t, eng, fulfillmentDef())

	id, err := eng.InitializeWorkflow(ctx, "order-fulfillment", nil)
	if err != nil {
		t.Fatalf("InitializeWorkflow failed: %v", err)
	}

	start := time.Now()
	drainOK(t, eng)
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("drain returned before the retry delay: %v", elapsed)
	}

	if len(obs.propagations()) != 1 {
		t.Fatalf("expected exactly one retry, got %d", len(obs.propagations()))
	}
	if tis := tasksByName(t, eng, id, "reserve"); tis[0].State != api.TaskEnabled {
		t.Fatalf("expected reserve enabled after delayed retry, got %s", tis[0].State)
	}
}

func TestDrainStopsOnContextCancel(t *testing.T) {
	eng, _, _ := flakyEngine(1, PropagationPolicy{RetryDelay: time.Minute})
	mustRegister(t, eng, fulfillmentDef())

	if _, err := eng.InitializeWorkflow(context.Background(), "order-fulfillment", nil); err != nil {
		t.Fatalf("InitializeWorkflow failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	// The only step left is a retry an hour away; the context bails out
	// of the wait.
	err := eng.Drain(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if n := eng.PendingSteps(); n != 1 {
		t.Fatalf("the delayed step should survive the aborted drain, got %d", n)
	}
}

package worker

import (
	"context"
	"errors"
	"time"

	"github.com/petrijr/weft/pkg/api"
)

// defaultInterval is how long an idle worker sleeps between drain polls.
const defaultInterval = 50 * time.Millisecond

// Config controls worker behavior.
type Config struct {
	// Interval between drain polls while the propagation queue is empty.
	// Zero means the default of 50ms.
	Interval time.Duration

	// OnError is called with every non-cancellation error Drain returns.
	// Nil means errors are dropped; Drain has already failed the owning
	// instances and audited the failures by the time it returns.
	OnError func(error)
}

// Worker drives an engine's propagation queue: it drains whenever steps
// are pending and sleeps in between. Multiple workers may share one
// engine; the engine serializes the drains.
type Worker struct {
	engine api.Engine
	cfg    Config
}

// New creates a Worker with default config.
func New(engine api.Engine) *Worker {
	return NewWithConfig(engine, Config{})
}

// NewWithConfig creates a Worker with the given config, filling unset
// fields with defaults.
func NewWithConfig(engine api.Engine, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return &Worker{engine: engine, cfg: cfg}
}

// DrainOnce processes the currently queued propagation steps, if any.
// Returns (processed, error):
//   - processed == false: the queue was empty, nothing was done
//   - processed == true: a drain ran; err carries any joined propagation
//     failures it surfaced
func (w *Worker) DrainOnce(ctx context.Context) (bool, error) {
	if w.engine.PendingSteps() == 0 {
		return false, nil
	}
	return true, w.engine.Drain(ctx)
}

// Run drains the propagation queue until ctx is canceled, sleeping
// Interval between polls while the queue is empty. Propagation errors go
// to OnError; Run itself only returns the context's error.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.DrainOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if w.cfg.OnError != nil {
				w.cfg.OnError(err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// AwaitTerminal polls the engine until the workflow instance reaches a
// terminal state, the poll errors, or ctx is done. Useful in tests and
// development setups where dispatchers run in the background.
func (w *Worker) AwaitTerminal(ctx context.Context, workflowID string) (*api.WorkflowInstance, error) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		inst, err := w.engine.GetWorkflow(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		if inst.Terminal() {
			return inst, nil
		}

		select {
		case <-ctx.Done():
			return inst, ctx.Err()
		case <-ticker.C:
		}
	}
}

package weft

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/petrijr/weft/pkg/worker"
)

// LocalRunner bundles an in-memory Engine and a Worker to provide a simple
// "local runner" for development and debugging.
//
// Typical usage:
//
//	runner := weft.NewLocalRunner()
//	wf := weft.New("my-flow").Initial("start")...
//	wf.MustRegister(runner.Engine)
//
//	_ = runner.StartDispatchers(ctx, 2)
//	id, _ := weft.Initialize(ctx, runner.Engine, wf.Name(), input)
//	// complete work items as they appear; dispatchers propagate tokens
//	inst, _ := runner.AwaitTerminal(ctx, id)
//	runner.Stop()
type LocalRunner struct {
	// Engine is the in-memory workflow engine used by this runner.
	Engine Engine

	// Worker drains Engine's propagation queue.
	Worker *worker.Worker

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner constructs a LocalRunner backed by an in-memory engine
// and a Worker with default config. Propagation failures have already
// failed and audited the owning instances when they surface, so the
// runner just logs them.
//
// This is intended for local development, tests, and simple single-process
// deployments.
func NewLocalRunner() *LocalRunner {
	eng := NewInMemoryEngine()
	w := worker.NewWithConfig(eng, worker.Config{
		OnError: func(err error) {
			log.Printf("weft: local runner dispatcher error: %v", err)
		},
	})

	return &LocalRunner{
		Engine: eng,
		Worker: w,
	}
}

// StartDispatchers starts 'concurrency' dispatcher goroutines that
// continuously drain the propagation queue until the context is cancelled
// via Stop. Drains are serialized by the engine; extra dispatchers reduce
// pickup latency.
//
// If StartDispatchers is called more than once without Stop, it returns an
// error.
func (r *LocalRunner) StartDispatchers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("weft: LocalRunner already started")
	}

	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer r.wg.Done()
			_ = r.Worker.Run(ctx)
		}()
	}

	return nil
}

// Stop cancels all dispatcher goroutines started by StartDispatchers and
// waits for them to exit.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// AwaitTerminal polls the engine until the workflow instance reaches a
// terminal state or ctx is done.
func (r *LocalRunner) AwaitTerminal(ctx context.Context, workflowID string) (*WorkflowInstance, error) {
	return r.Worker.AwaitTerminal(ctx, workflowID)
}

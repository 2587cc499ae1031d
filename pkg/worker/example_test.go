package worker_test

import (
	"context"
	"log"
	"time"

	"github.com/petrijr/weft"
	"github.com/petrijr/weft/pkg/worker"
)

// ExampleWorker demonstrates constructing a Worker explicitly and using it
// to drain an engine's propagation queue.
func ExampleWorker() {
	ctx := context.Background()

	eng := weft.NewInMemoryEngine()

	// Define and register a simple workflow.
	wf := weft.New("background-job").
		Initial("queued").
		Task("process", weft.WithAutoInitialize()).
		Flow("queued", "process").
		Flow("process", "done").
		Terminal("done")

	if err := wf.Register(eng); err != nil {
		log.Fatal(err)
	}

	// Configure the worker.
	w := worker.NewWithConfig(eng, worker.Config{
		Interval: 10 * time.Millisecond,
		OnError:  func(err error) { log.Printf("propagation: %v", err) },
	})

	// Create an instance; its first token is propagated by the worker.
	id, err := weft.Initialize(ctx, eng, wf.Name(), weft.Payload{"job": "re-index"})
	if err != nil {
		log.Fatal(err)
	}

	// Drain once. In a real application you would run w.Run(ctx) in a
	// goroutine, or use weft.LocalRunner / weft.NewSQLiteBundle.
	if _, err := w.DrainOnce(ctx); err != nil {
		log.Fatal(err)
	}

	inst, err := eng.GetWorkflow(ctx, id)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("instance %s is %s", inst.ID, inst.State)
}

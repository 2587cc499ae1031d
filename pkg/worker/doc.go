// Package worker provides the background dispatcher used to drive weft
// workflows forward.
//
// Externally invoked engine operations (initializing a workflow, completing
// a work item) apply their own state change synchronously and leave token
// propagation to queued steps. A Worker is the component that processes
// those steps continuously: it polls the engine's propagation queue and
// drains it whenever steps are pending.
//
// # Worker Responsibilities
//
// A worker is responsible for:
//
//   - Polling the engine for pending propagation steps
//   - Draining the queue to quiescence when steps are pending
//   - Reporting propagation failures through the error callback
//
// Workers are long-lived components that typically run in dedicated
// goroutines or processes. Multiple workers can safely share one engine;
// drains are serialized by the engine, so adding workers reduces pickup
// latency rather than adding parallelism.
//
// # Configuration
//
// Workers are configured through Config:
//
//   - Interval controls the idle polling cadence
//   - OnError receives the joined propagation errors a drain surfaced
//
// By the time OnError fires, the engine has already failed and audited the
// owning instances; the callback is for logging and alerting, not recovery.
//
// # Usage
//
// Most users run workers via weft.LocalRunner or weft.NewSQLiteBundle,
// which wire engines and workers together. The worker package is useful
// when embedding the pump into an existing service lifecycle:
//
//	w := worker.NewWithConfig(engine, worker.Config{
//	    Interval: 100 * time.Millisecond,
//	    OnError:  func(err error) { slog.Error("propagation", "error", err) },
//	})
//	go w.Run(ctx)
//
// See the weft package documentation for the full picture.
package worker

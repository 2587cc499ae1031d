// Package weft provides a lightweight, embeddable workflow orchestration
// engine for Go.
//
// Weft models processes as Petri nets: tasks connected through conditions
// that hold tokens. The engine decides when tasks become enabled, external
// actors perform the actual work through work items, and completed work
// routes tokens onward. This makes weft a fit for backend services that
// coordinate human approvals, long-lived business processes, or fan-out
// batch work, without introducing heavy infrastructure. It runs fully in
// Go, supports multiple persistence backends, and integrates cleanly into
// existing codebases.
//
// # Core Concepts
//
// The weft programming model is intentionally small:
//
//  1. WorkflowDefinition
//  2. Engine
//  3. WorkItem
//  4. Worker
//  5. Builder
//  6. LocalRunner
//
// These components form a complete orchestration system with deterministic
// token propagation, durable state (when using persistent backends), and a
// clear mental model.
//
// # Workflow Definitions
//
// A WorkflowDefinition is an immutable, versioned graph of tasks and
// conditions connected by flows:
//
//   - Conditions are places that hold tokens; exactly one is the initial
//     condition (seeded when an instance starts) and exactly one is the
//     terminal condition (its token completes the instance).
//   - Tasks consume tokens from their input conditions when their join is
//     satisfied (AND waits for all inputs, XOR fires on any single input,
//     OR waits until no further input can possibly arrive), and produce
//     tokens on their outgoing flows per their split (AND takes all flows,
//     XOR the first matching predicate or the default, OR every matching
//     predicate).
//   - Flows may connect tasks directly; the engine inserts the implicit
//     intermediate condition for you.
//   - Cancellation regions reset parts of the net when their owner task
//     completes.
//
// Definitions are validated structurally on registration, and every
// violation is reported at once.
//
// # Engine
//
// The Engine stores workflow definitions, persists instance state, and
// provides APIs to:
//
//   - initialize and cancel workflow instances
//   - initialize, claim, complete, fail and cancel work items
//   - read instance, task, work item and audit trail state
//   - drain the propagation queue
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//   - MongoDB
//
// State-changing calls apply their own transition synchronously and
// enqueue the downstream token propagation; Drain processes the queue to
// quiescence. Engines are safe for concurrent use.
//
// # Work Items
//
// Work items are the unit of external work. When a task becomes enabled,
// its work items are created (automatically, or by an explicit
// InitializeWorkItem call), one per cardinality slot for multi-instance
// tasks. An actor claims a work item with StartWorkItem; exactly one of
// several concurrent claimants wins. Completing the last required work
// item completes the task and routes its output payload through the
// task's split. Composite tasks have no external work items to claim: the
// engine spawns nested workflow instances and mirrors their outcome.
//
// # Worker
//
// A Worker is the background dispatcher that drains the propagation queue
// continuously, so tokens move without anyone calling Drain by hand.
// Workers run asynchronously; multiple workers can share one engine.
//
// # Builder
//
// Builder provides the ergonomic, declarative API used to define
// workflows:
//
//	wf := weft.New("order-fulfillment").
//	    Initial("received").
//	    Task("reserve-stock").
//	    Task("pack", weft.WithCardinality(3)).
//	    Task("notify", weft.WithSplit(weft.SplitXor)).
//	    Flow("received", "reserve-stock").
//	    Flow("reserve-stock", "pack").
//	    Flow("pack", "notify").
//	    FlowIf("notify", "express-lane", weft.FieldTrue("express")).
//	    DefaultFlow("notify", "standard-lane")...
//
// Definitions created with Builder are registered into an Engine before
// use.
//
// # LocalRunner
//
// LocalRunner bundles an in-memory engine and background dispatchers into
// a single, process-local helper useful for development and unit testing.
// It is intentionally not crash-durable; NewSQLiteBundle provides the
// durable equivalent on a single database file.
//
// # Summary
//
// Weft's goal is to give Go developers process orchestration that feels
// like Go: easy to embed, easy to test, deterministic, and without
// operational overhead. Engines manage tokens and state, work items carry
// the external work, Workers keep tokens moving, Builder defines the
// graphs, and LocalRunner provides a fast, developer-friendly runtime.
//
// For examples, see the package examples and the project README.
package weft

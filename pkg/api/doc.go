// Package api contains the core building blocks used by the weft workflow
// engine. It provides the low-level primitives for defining workflow graphs,
// inspecting running instances, and observing engine behavior.
//
// Most users interact with the higher-level weft package, which re-exports
// selected types and helpers from this package. The api package is intended
// for advanced use cases, custom integrations, or contributors extending the
// engine itself.
//
// # Concepts
//
// The api package centers around a small set of concepts:
//
//   - Workflow definitions: tasks and conditions connected by flows
//   - Workflow instances and their token markings
//   - Task instances and work items
//   - Authorization and audit
//   - Observability
//
// These primitives are assembled by the higher-level FlowBuilder API in the
// weft package, but can also be used directly where fine-grained control is
// needed.
//
// # Workflow Definitions
//
// A workflow definition is a Petri-net-shaped graph: tasks (the active
// nodes where work happens) alternate with conditions (the places holding
// tokens), connected by directed flows. Each task declares a split type
// controlling fan-out on completion and a join type controlling when
// incoming tokens enable it. Cancellation regions let a task withdraw other
// parts of the graph when it completes.
//
// Definitions are immutable once registered and are validated structurally
// up front; every violation is reported at registration, not at runtime.
// Tasks never connect directly in the executed graph: a flow declared
// between two tasks gets an implicit condition inserted between them.
//
// # Instances, Tasks and Work Items
//
// A workflow instance is one run of a definition. Its Marking carries the
// current token placement; tasks become enabled when their join is
// satisfied by the marking. Each activation of a task is a task instance,
// and each concrete unit of work under a task instance is a work item that
// an external actor claims, completes, fails or cancels. Multi-instance
// tasks spawn several work items per activation and aggregate them through
// a completion policy.
//
// Composite tasks run a nested workflow instance instead of work items
// handled by actors; the engine itself claims their work items and mirrors
// the child instance's outcome onto them.
//
// All three state machines are monotonic: an entity never returns to an
// earlier state. Loops in the graph re-instantiate tasks with fresh task
// instances rather than resetting old ones.
//
// # Authorization and Audit
//
// Externally invoked operations carry an acting principal, attached to the
// context via WithActor and checked against the configured Authorizer
// before any state changes. Every state transition lands in an append-only
// audit trail attributed to that actor.
//
// # Observability
//
// The api package defines the Observer interface, which the engine calls
// after each persisted transition.
//
// Observers can be used to:
//
//   - Log workflow, task and work item transitions
//   - Collect metrics (e.g. counts, error rates)
//   - Integrate with external monitoring systems
//
// The weft package exposes ready-made implementations such as logging and
// basic in-memory metrics, along with helpers to combine multiple observers.
//
// # Usage
//
// Most applications should start from the weft package, using the
// FlowBuilder and Engine constructors provided there. The api package is
// useful when you need lower-level access, custom composition, or when
// contributing changes to the core engine.
//
// See the weft package documentation and the examples for end-to-end usage.
package api

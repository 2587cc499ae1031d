package persistence

// Persistence bundles the record stores so the engine can depend on a
// single abstraction. One backing object may implement several of the
// interfaces; the in-memory and SQLite stores do.
type Persistence struct {
	Instances InstanceStore
	Tasks     TaskStore
	WorkItems WorkItemStore
	Events    EventStore
}

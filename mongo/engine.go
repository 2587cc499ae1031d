package mongo

import (
	"github.com/petrijr/weft/internal/engine"
	"github.com/petrijr/weft/internal/persistence"
	"github.com/petrijr/weft/pkg/api"
	"go.mongodb.org/mongo-driver/mongo"

	mstore "github.com/petrijr/weft/mongo/internal/persistence"
	mqueue "github.com/petrijr/weft/mongo/internal/taskqueue"
)

// NewMongoEngine returns an Engine that keeps instances, tasks, work
// items, the audit trail and the propagation step queue in the "weft"
// MongoDB database. Several processes may share the database: work item
// claims and step dequeues are both safe across them.
func NewMongoEngine(client *mongo.Client) api.Engine {
	return NewMongoEngineWithObserver(client, nil)
}

// NewMongoEngineWithObserver is NewMongoEngine reporting transitions to
// the given Observer.
func NewMongoEngineWithObserver(client *mongo.Client, obs api.Observer) api.Engine {
	store := mstore.NewMongoStore(client, "weft")
	events := mstore.NewMongoEventStore(client, "weft")
	queue := mqueue.NewMongoQueue(client, "weft")

	return engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.Persistence{
			Instances: store,
			Tasks:     store,
			WorkItems: store,
			Events:    events,
		},
		Queue:    queue,
		Observer: obs,
	})
}

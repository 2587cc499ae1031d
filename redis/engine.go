package redis

import (
	"github.com/petrijr/weft/internal/engine"
	"github.com/petrijr/weft/internal/persistence"
	"github.com/petrijr/weft/pkg/api"
	"github.com/redis/go-redis/v9"

	rstore "github.com/petrijr/weft/redis/internal/persistence"
	rqueue "github.com/petrijr/weft/redis/internal/taskqueue"
)

// NewRedisEngine returns an Engine that keeps instances, tasks, work
// items, the audit trail and the propagation step queue in Redis under
// the "weft:" key prefix. Several processes may share the same Redis:
// work item claims and step dequeues are both safe across them.
func NewRedisEngine(client *redis.Client) api.Engine {
	return NewRedisEngineWithObserver(client, nil)
}

// NewRedisEngineWithObserver is NewRedisEngine reporting transitions to
// the given Observer.
func NewRedisEngineWithObserver(client *redis.Client, obs api.Observer) api.Engine {
	store := rstore.NewRedisStore(client, "weft:")
	events := rstore.NewRedisEventStore(client, "weft:")
	queue := rqueue.NewRedisQueue(client, "weft:")

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

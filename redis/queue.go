package redis

import (
	"github.com/petrijr/weft"
	"github.com/redis/go-redis/v9"

	rqueue "github.com/petrijr/weft/redis/internal/taskqueue"
)

// NewRedisQueue returns a standalone Redis-backed propagation step queue,
// for wiring an engine whose stores live elsewhere.
func NewRedisQueue(client *redis.Client, prefix string) weft.Queue {
	return rqueue.NewRedisQueue(client, prefix)
}

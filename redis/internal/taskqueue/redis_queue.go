package taskqueue

import (
	"context"
	"errors"
	"log"
	"time"

	coreq "github.com/petrijr/weft/internal/taskqueue"
	"github.com/redis/go-redis/v9"
)

// RedisQueue implements the propagation step queue using Redis.
//
// It uses a Redis list plus a sorted set:
//
//	<prefix>steps           => LIST of gob-encoded steps, LPUSH in, BRPOP out
//	<prefix>steps:deferred  => ZSET of deferred steps scored by eligibility time
//
// Steps whose NotBefore lies in the future wait in the sorted set and are
// promoted onto the list once due, so consumers never see them early.
// Scores are Unix milliseconds; Redis scores are doubles and nanoseconds
// would not survive them exactly.
type RedisQueue struct {
	client       *redis.Client
	key          string
	deferredKey  string
	pollInterval time.Duration
}

// NewRedisQueue constructs a Redis-backed Queue.
// prefix is optional but recommended (e.g. "weft:").
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "weft:"
	}
	return &RedisQueue{
		client:       client,
		key:          prefix + "steps",
		deferredKey:  prefix + "steps:deferred",
		pollInterval: 250 * time.Millisecond,
	}
}

// Ensure RedisQueue implements Queue.
var _ coreq.Queue = (*RedisQueue)(nil)

// Lua script for promoting due deferred steps onto the list. Returns the
// number of promoted steps.
var redisPromoteLua = `
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for i = 1, #due do
	redis.call('LPUSH', KEYS[2], due[i])
	redis.call('ZREM', KEYS[1], due[i])
end
return #due
`

// Enqueue pushes a step onto the Redis list (LPUSH), or parks it in the
// deferred set when its NotBefore lies in the future.
func (q *RedisQueue) Enqueue(ctx context.Context, s coreq.Step) error {
	if s.EnqueuedAt.IsZero() {
		s.EnqueuedAt = time.Now()
	}

	data, err := coreq.EncodeStep(s)
	if err != nil {
		return err
	}

	if s.NotBefore.After(time.Now()) {
		return q.client.ZAdd(ctx, q.deferredKey, redis.Z{
			Score:  float64(s.NotBefore.UnixMilli()),
			Member: data,
		}).Err()
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

func (q *RedisQueue) promoteDue(ctx context.Context) error {
	return q.client.Eval(ctx, redisPromoteLua, []string{q.deferredKey, q.key}, time.Now().UnixMilli()).Err()
}

// TryDequeue pops the oldest eligible step (RPOP), returning (nil, nil)
// when nothing is eligible.
func (q *RedisQueue) TryDequeue(ctx context.Context) (*coreq.Step, error) {
	if err := q.promoteDue(ctx); err != nil {
		return nil, err
	}

	data, err := q.client.RPop(ctx, q.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return coreq.DecodeStep(data)
}

// Dequeue blocks on BRPOP until a step is available or ctx is cancelled.
// The block is bounded by the poll interval so deferred steps keep getting
// promoted while the caller waits.
func (q *RedisQueue) Dequeue(ctx context.Context) (*coreq.Step, error) {
	for {
		if err := q.promoteDue(ctx); err != nil {
			return nil, err
		}

		// BRPop returns [key, value].
		res, err := q.client.BRPop(ctx, q.pollInterval, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Timed out waiting; promote and wait again.
				continue
			}
			return nil, err
		}
		if len(res) != 2 {
			// Unexpected shape; log and try again.
			log.Printf("RedisQueue: BRPop returned unexpected result: %#v", res)
			continue
		}
		return coreq.DecodeStep([]byte(res[1]))
	}
}

// Len returns the approximate number of steps queued, deferred ones
// included.
func (q *RedisQueue) Len() int {
	ctx := context.Background()

	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		log.Printf("RedisQueue: Len failed: %v", err)
		return 0
	}
	deferred, err := q.client.ZCard(ctx, q.deferredKey).Result()
	if err != nil {
		log.Printf("RedisQueue: Len failed: %v", err)
		return int(n)
	}
	return int(n + deferred)
}

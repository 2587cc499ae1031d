package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	corep "github.com/petrijr/weft/internal/persistence"
	"github.com/petrijr/weft/pkg/api"
)

// RedisEventStore appends the audit trail of each instance to a Redis
// list:
//
//	<prefix>events:<instance-id> => LIST of gob-encoded events
//
// RPUSH preserves append order, so ListEvents returns the trail in the
// order it was written.
type RedisEventStore struct {
	client *redis.Client
	prefix string
}

var _ corep.EventStore = (*RedisEventStore)(nil)

// NewRedisEventStore creates a RedisEventStore.
// prefix is optional but recommended (e.g. "weft:").
func NewRedisEventStore(client *redis.Client, prefix string) *RedisEventStore {
	if prefix == "" {
		prefix = "weft:"
	}
	return &RedisEventStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisEventStore) keyEvents(instanceID string) string {
	return r.prefix + "events:" + instanceID
}

func (r *RedisEventStore) AppendEvent(ctx context.Context, ev api.Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	data, err := corep.EncodeValue(ev)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, r.keyEvents(ev.InstanceID), data).Err()
}

func (r *RedisEventStore) ListEvents(ctx context.Context, instanceID string) ([]api.Event, error) {
	raw, err := r.client.LRange(ctx, r.keyEvents(instanceID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []api.Event{}, nil
		}
		return nil, err
	}

	events := make([]api.Event, 0, len(raw))
	for _, item := range raw {
		ev, err := corep.DecodeValue[api.Event]([]byte(item))
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

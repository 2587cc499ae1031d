package persistence

import (
	"context"
	"sync"

	"github.com/petrijr/weft/pkg/api"
)

// EventStore is the append-only audit trail store.
type EventStore interface {
	AppendEvent(ctx context.Context, ev api.Event) error
	ListEvents(ctx context.Context, instanceID string) ([]api.Event, error)
}

// NoopEventStore discards all events.
type NoopEventStore struct{}

func (NoopEventStore) AppendEvent(ctx context.Context, ev api.Event) error { return nil }
func (NoopEventStore) ListEvents(ctx context.Context, instanceID string) ([]api.Event, error) {
	return nil, nil
}

// MemoryEventStore keeps the audit trail in memory, in append order.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[string][]api.Event
}

// NewMemoryEventStore creates a new MemoryEventStore.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[string][]api.Event)}
}

var _ EventStore = (*MemoryEventStore)(nil)

func (s *MemoryEventStore) AppendEvent(ctx context.Context, ev api.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.InstanceID] = append(s.events[ev.InstanceID], ev)
	return nil
}

func (s *MemoryEventStore) ListEvents(ctx context.Context, instanceID string) ([]api.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := s.events[instanceID]
	out := make([]api.Event, len(evs))
	copy(out, evs)
	return out, nil
}

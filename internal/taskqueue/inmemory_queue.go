package taskqueue

import (
	"context"
	"sync"
	"time"
)

// InMemoryQueue is a Queue implementation backed by a mutex-guarded slice.
// It is safe for concurrent use. Enqueue never blocks, which matters
// because draining a step can enqueue follow-up steps from the same
// goroutine.
type InMemoryQueue struct {
	mu           sync.Mutex
	steps        []Step
	pollInterval time.Duration
}

// NewInMemoryQueue creates a new empty queue.
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		pollInterval: 5 * time.Millisecond,
	}
}

// Ensure InMemoryQueue implements Queue.
var _ Queue = (*InMemoryQueue)(nil)

func (q *InMemoryQueue) Enqueue(ctx context.Context, s Step) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.EnqueuedAt.IsZero() {
		s.EnqueuedAt = time.Now()
	}
	q.mu.Lock()
	q.steps = append(q.steps, s)
	q.mu.Unlock()
	return nil
}

func (q *InMemoryQueue) TryDequeue(ctx context.Context) (*Step, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for i, s := range q.steps {
		if !s.NotBefore.IsZero() && s.NotBefore.After(now) {
			continue
		}
		step := s
		q.steps = append(q.steps[:i], q.steps[i+1:]...)
		return &step, nil
	}
	return nil, nil
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Step, error) {
	for {
		step, err := q.TryDequeue(ctx)
		if err != nil {
			return nil, err
		}
		if step != nil {
			return step, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.steps)
}

package memory

import (
	"context"
	"sync"

	"officemesh/internal/core/domain"
	"officemesh/internal/core/ports"
)

// MemoryActionQueue holds one FIFO per user. Drain hands back everything in
// enqueue order; the caller owns delivery, and because clients apply actions
// idempotently per producer id, handing the same batch to a reconnecting
// client twice is harmless.
type MemoryActionQueue struct {
	mu     sync.Mutex
	queues map[domain.UserID][]domain.Action
}

func NewMemoryActionQueue() ports.ActionQueue {
	return &MemoryActionQueue{
		queues: make(map[domain.UserID][]domain.Action),
	}
}

func (q *MemoryActionQueue) Enqueue(ctx context.Context, user domain.UserID, actions ...domain.Action) error {
	if len(actions) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[user] = append(q.queues[user], actions...)
	return nil
}

func (q *MemoryActionQueue) Drain(ctx context.Context, user domain.UserID) ([]domain.Action, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.queues[user]
	if len(pending) == 0 {
		return nil, nil
	}
	delete(q.queues, user)
	return pending, nil
}

func (q *MemoryActionQueue) Requeue(ctx context.Context, user domain.UserID, actions ...domain.Action) error {
	if len(actions) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[user] = append(append([]domain.Action(nil), actions...), q.queues[user]...)
	return nil
}

func (q *MemoryActionQueue) Len(ctx context.Context, user domain.UserID) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[user]), nil
}

func (q *MemoryActionQueue) Clear(ctx context.Context, user domain.UserID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, user)
	return nil
}

func (q *MemoryActionQueue) Total(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, pending := range q.queues {
		total += len(pending)
	}
	return total, nil
}

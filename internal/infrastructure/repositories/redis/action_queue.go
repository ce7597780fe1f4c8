package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"officemesh/internal/core/domain"
	"officemesh/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	queueKeyPrefix = "officemesh:queue:"
	queueTTL       = 24 * time.Hour
)

// ActionQueue is a Redis-backed per-user FIFO of pending actions. Lists keep
// enqueue order; drain reads and deletes atomically so two pollers never see
// the same batch.
type ActionQueue struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

func NewActionQueue(client *redis.Client, logger *zap.SugaredLogger) ports.ActionQueue {
	return &ActionQueue{client: client, logger: logger}
}

func queueKey(user domain.UserID) string {
	return queueKeyPrefix + string(user)
}

func (q *ActionQueue) Enqueue(ctx context.Context, user domain.UserID, actions ...domain.Action) error {
	if len(actions) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(actions))
	for _, a := range actions {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal action: %w", err)
		}
		values = append(values, data)
	}

	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, queueKey(user), values...)
	pipe.Expire(ctx, queueKey(user), queueTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue actions: %w", err)
	}
	return nil
}

func (q *ActionQueue) Drain(ctx context.Context, user domain.UserID) ([]domain.Action, error) {
	key := queueKey(user)

	pipe := q.client.TxPipeline()
	lrange := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to drain queue: %w", err)
	}
	raw := lrange.Val()

	actions := make([]domain.Action, 0, len(raw))
	for _, item := range raw {
		var a domain.Action
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			q.logger.Warnw("dropping malformed queued action", "user_id", user, "error", err)
			continue
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// Requeue restores a drained batch at the head of the list. LPUSH prepends,
// so the batch is pushed in reverse to land in its original order.
func (q *ActionQueue) Requeue(ctx context.Context, user domain.UserID, actions ...domain.Action) error {
	if len(actions) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(actions))
	for i := len(actions) - 1; i >= 0; i-- {
		data, err := json.Marshal(actions[i])
		if err != nil {
			return fmt.Errorf("failed to marshal action: %w", err)
		}
		values = append(values, data)
	}

	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, queueKey(user), values...)
	pipe.Expire(ctx, queueKey(user), queueTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to requeue actions: %w", err)
	}
	return nil
}

func (q *ActionQueue) Len(ctx context.Context, user domain.UserID) (int, error) {
	n, err := q.client.LLen(ctx, queueKey(user)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return int(n), nil
}

func (q *ActionQueue) Clear(ctx context.Context, user domain.UserID) error {
	if err := q.client.Del(ctx, queueKey(user)).Err(); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

func (q *ActionQueue) Total(ctx context.Context) (int, error) {
	var total int64
	iter := q.client.Scan(ctx, 0, queueKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := q.client.LLen(ctx, iter.Val()).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to read queue length: %w", err)
		}
		total += n
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan queues: %w", err)
	}
	return int(total), nil
}

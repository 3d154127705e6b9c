package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultQueueKey = "content-pipeline:tasks"
	blockTimeout    = 5 * time.Second
)

// RedisQueue backs Queue with a Redis list, using RPUSH/BLPOP so dequeue
// order matches enqueue order. Grounded on the pack's raw *redis.Client
// BLPOP pattern (coordinator.go), retargeted from a completion-signal
// channel to a work queue.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue wraps an existing client. An empty key uses the package
// default.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = defaultQueueKey
	}
	return &RedisQueue{client: client, key: key}
}

// Enqueue implements Queue.
func (q *RedisQueue) Enqueue(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, q.key, body).Err()
}

// Dequeue implements Queue, blocking up to 5s for an item.
func (q *RedisQueue) Dequeue(ctx context.Context) (Envelope, bool, error) {
	result, err := q.client.BLPop(ctx, blockTimeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return Envelope{}, false, nil
	}
	if err != nil {
		return Envelope{}, false, err
	}
	// BLPop returns [key, value]; index 1 is the popped element.
	if len(result) < 2 {
		return Envelope{}, false, nil
	}
	var env Envelope
	if err := json.Unmarshal([]byte(result[1]), &env); err != nil {
		return Envelope{}, false, err
	}
	return env, true, nil
}

// GetStats implements Queue.
func (q *RedisQueue) GetStats(ctx context.Context) (Stats, error) {
	depth, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Depth: int(depth)}, nil
}

// Close implements Queue.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

var _ Queue = (*RedisQueue)(nil)

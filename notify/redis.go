package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// DefaultQueue is the list consumers pop intents from.
	DefaultQueue = "incidents:queue"
	// DefaultChannel carries the same intents as pub/sub for live listeners.
	DefaultChannel = "incidents:events"
)

// RedisEmitter pushes intents onto a Redis list for worker consumption and
// publishes the same payload for realtime subscribers. Publish is fire and
// forget; only the list write is load-bearing.
type RedisEmitter struct {
	RDB     *redis.Client
	Queue   string
	Channel string
}

func NewRedisEmitter(rdb *redis.Client) *RedisEmitter {
	return &RedisEmitter{RDB: rdb, Queue: DefaultQueue, Channel: DefaultChannel}
}

func (r *RedisEmitter) Emit(ctx context.Context, intent Intent) error {
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("failed to marshal notification intent: %w", err)
	}
	if err := r.RDB.RPush(ctx, r.Queue, payload).Err(); err != nil {
		return fmt.Errorf("failed to push intent to %s: %w", r.Queue, err)
	}
	r.RDB.Publish(ctx, r.Channel, payload)
	return nil
}

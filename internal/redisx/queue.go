package redisx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// QueuePublisher appends JSON-encoded payloads to a Redis list. The
// analytics pipeline consumes the list from the other end.
type QueuePublisher struct {
	client *redis.Client
	key    string
}

// NewQueuePublisher creates a publisher for the given queue key.
func NewQueuePublisher(client *redis.Client, key string) *QueuePublisher {
	return &QueuePublisher{client: client, key: key}
}

// Push serializes the payload and appends it to the queue.
func (p *QueuePublisher) Push(ctx context.Context, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal queue payload: %w", err)
	}
	if err := p.client.RPush(ctx, p.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push to queue %s: %w", p.key, err)
	}
	return nil
}

// Len returns the current queue depth.
func (p *QueuePublisher) Len(ctx context.Context) (int64, error) {
	n, err := p.client.LLen(ctx, p.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}

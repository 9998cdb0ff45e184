package redisx

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/config"
)

// NewClient creates a Redis client from the given config.
func NewClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	return client.Close()
}

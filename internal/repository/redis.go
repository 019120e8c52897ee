// Package repository holds external store clients shared by the other
// components.
package repository

import (
	"context"
	"fmt"

	"studiosync/internal/config"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient builds a client from configuration. The queue manager uses
// it for dead-letter mirroring and drain notifications; the application runs
// fine without it.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}

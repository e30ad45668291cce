package cmd

import (
	"context"
	"fmt"

	"github.com/dukex/sagaflow/pkg/lock"
	"github.com/dukex/sagaflow/pkg/timer"
	redis "github.com/redis/go-redis/v9"
)

// NewRedisClient connects to redisURL. An empty URL returns nil, nil and the
// in-process lock and timer store are used instead.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}

	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// NewLocker returns a redis backed locker, or an in-process one without client.
func NewLocker(client *redis.Client, opts lock.Options) lock.Locker {
	if client == nil {
		return lock.NewMemoryLocker(opts)
	}

	return lock.NewRedisLocker(client, opts)
}

// NewTimerStore returns a redis backed timer store, or an in-process one without client.
func NewTimerStore(client *redis.Client) timer.Store {
	if client == nil {
		return timer.NewMemoryStore()
	}

	return timer.NewRedisStore(client)
}

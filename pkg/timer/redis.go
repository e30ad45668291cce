package timer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/sagaflow/pkg/models"
	redis "github.com/redis/go-redis/v9"
)

const (
	dueKey     = "sagaflow:timers:due"
	payloadKey = "sagaflow:timers:payload"
)

// claimScript pops at most ARGV[2] timers due at ARGV[1] and returns their payloads.
var claimScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
local payloads = {}
for _, id in ipairs(ids) do
	redis.call("ZREM", KEYS[1], id)
	local payload = redis.call("HGET", KEYS[2], id)
	if payload then
		redis.call("HDEL", KEYS[2], id)
		table.insert(payloads, payload)
	end
end
return payloads
`)

// RedisStore keeps timers in a sorted set scored by due time, with the
// payloads in a hash.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Schedule(ctx context.Context, timer models.Timer) error {
	payload, err := json.Marshal(timer)
	if err != nil {
		return fmt.Errorf("failed to marshal timer: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, payloadKey, timer.ID, payload)
		pipe.ZAdd(ctx, dueKey, redis.Z{Score: float64(timer.DueAt.UnixMilli()), Member: timer.ID})

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule timer %s: %w", timer.ID, err)
	}

	return nil
}

// ClaimDue removes due timers and their payloads in one script, so a timer is
// either still scheduled or handed to exactly one caller. Payloads that fail
// to decode are dropped and reported together with the decoded timers.
func (s *RedisStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.Timer, error) {
	payloads, err := claimScript.Run(ctx, s.client, []string{dueKey, payloadKey},
		now.UnixMilli(), limit).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to claim due timers: %w", err)
	}

	timers := make([]models.Timer, 0, len(payloads))

	var errs []error

	for _, payload := range payloads {
		var timer models.Timer
		if err := json.Unmarshal([]byte(payload), &timer); err != nil {
			errs = append(errs, fmt.Errorf("failed to decode timer: %w", err))

			continue
		}

		timers = append(timers, timer)
	}

	return timers, errors.Join(errs...)
}

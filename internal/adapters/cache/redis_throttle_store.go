package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/silkworks/keygate/internal/ports"
)

const throttlePrefix = "keygate:throttle:"

// RedisThrottleStore keeps failed-login counters in Redis hashes, keyed by
// (application, username). Counters expire on their own so a stale entry can
// never block a user indefinitely.
type RedisThrottleStore struct {
	client *redis.Client
}

func NewRedisThrottleStore(client *redis.Client) *RedisThrottleStore {
	return &RedisThrottleStore{client: client}
}

func (s *RedisThrottleStore) Get(ctx context.Context, key string) (ports.ThrottleState, error) {
	data, err := s.client.HGetAll(ctx, throttlePrefix+key).Result()
	if err != nil {
		return ports.ThrottleState{}, err
	}
	if len(data) == 0 {
		return ports.ThrottleState{}, nil
	}

	state := ports.ThrottleState{}
	if raw, ok := data["failed_count"]; ok {
		if n, convErr := strconv.Atoi(raw); convErr == nil {
			state.FailedCount = n
		}
	}
	if raw, ok := data["blocked_until"]; ok && raw != "" {
		if unix, convErr := strconv.ParseInt(raw, 10, 64); convErr == nil && unix > 0 {
			t := time.Unix(unix, 0).UTC()
			state.BlockedUntil = &t
		}
	}
	return state, nil
}

func (s *RedisThrottleStore) RecordFailure(ctx context.Context, key string, now time.Time, threshold int, blockWindow time.Duration) (ports.ThrottleState, error) {
	redisKey := throttlePrefix + key

	count, err := s.client.HIncrBy(ctx, redisKey, "failed_count", 1).Result()
	if err != nil {
		return ports.ThrottleState{}, err
	}

	state := ports.ThrottleState{FailedCount: int(count)}
	if int(count) >= threshold {
		blockedUntil := now.Add(blockWindow).UTC()
		_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, redisKey, "blocked_until", blockedUntil.Unix())
			p.Expire(ctx, redisKey, blockWindow+30*time.Minute)
			return nil
		})
		if err != nil {
			return ports.ThrottleState{}, err
		}
		state.BlockedUntil = &blockedUntil
		return state, nil
	}

	_ = s.client.Expire(ctx, redisKey, 24*time.Hour).Err()
	return state, nil
}

func (s *RedisThrottleStore) Clear(ctx context.Context, key string) error {
	return s.client.Del(ctx, throttlePrefix+key).Err()
}

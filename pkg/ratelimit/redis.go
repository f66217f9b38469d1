package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

const redisKeyPrefix = "foreman:rl:"

// RedisStore shares one budget across processes. Window counters are
// bucketed keys with an expiry; increments ride a single pipeline so a
// check is one round-trip.
type RedisStore struct {
	rdb     *redis.Client
	breaker *gobreaker.CircuitBreaker

	now func() time.Time
}

// NewRedisStore builds a store over an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "ratelimit-redis",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		now: time.Now,
	}
}

func (s *RedisStore) Increment(ctx context.Context, key string, cost float64) (Counts, error) {
	now := s.now()
	minuteKey := fmt.Sprintf("%s%s:m:%d", redisKeyPrefix, key, now.Unix()/60)
	hourKey := fmt.Sprintf("%s%s:h:%d", redisKeyPrefix, key, now.Unix()/3600)
	costKey := fmt.Sprintf("%s%s:c:%d", redisKeyPrefix, key, now.Unix()/3600)

	res, err := s.breaker.Execute(func() (any, error) {
		pipe := s.rdb.TxPipeline()
		minuteCmd := pipe.Incr(ctx, minuteKey)
		pipe.Expire(ctx, minuteKey, 2*time.Minute)
		hourCmd := pipe.Incr(ctx, hourKey)
		pipe.Expire(ctx, hourKey, 2*time.Hour)
		costCmd := pipe.IncrByFloat(ctx, costKey, cost)
		pipe.Expire(ctx, costKey, 2*time.Hour)
		if _, err := pipe.Exec(ctx); err != nil {
			return Counts{}, err
		}
		return Counts{
			Minute:      minuteCmd.Val(),
			Hour:        hourCmd.Val(),
			HourCostUSD: costCmd.Val(),
		}, nil
	})
	if err != nil {
		return Counts{}, err
	}
	return res.(Counts), nil
}

func (s *RedisStore) RecordUsage(ctx context.Context, key string, cost float64, tokens int) error {
	costKey := redisKeyPrefix + "usage:" + key + ":cost"
	tokenKey := redisKeyPrefix + "usage:" + key + ":tokens"

	_, err := s.breaker.Execute(func() (any, error) {
		pipe := s.rdb.TxPipeline()
		pipe.IncrByFloat(ctx, costKey, cost)
		pipe.IncrBy(ctx, tokenKey, int64(tokens))
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	return err
}

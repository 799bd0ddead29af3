package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/faithtrack-bot-go/internal/models"
	"github.com/go-redis/redis/v8"
)

var _ Store = (*RedisStore)(nil)

const (
	redisKeyPrefix = "ratelimit:"
	keyDNE         = -2
	keyNoExpire    = -1
)

// incrementScript compares and increments in one round trip so two
// instances cannot both pass the ceiling.
var incrementScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local ceiling = tonumber(ARGV[2])
if ceiling > 0 and current >= ceiling then
  return {current, redis.call('PTTL', KEYS[1]), 0}
end
current = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl, 1}
`)

// RedisStore keeps counters as Redis integers expiring at the window end
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Name() string { return "redis" }

func (r *RedisStore) Get(ctx context.Context, key string, now time.Time) (*models.RateLimitEntry, error) {
	pipe := r.client.Pipeline()
	getCmd := pipe.Get(ctx, redisKeyPrefix+key)
	ttlCmd := pipe.PTTL(ctx, redisKeyPrefix+key)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("error executing Redis pipeline for key %v: %w", key, err)
	}

	count, err := getCmd.Int()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading count for key %v: %w", key, err)
	}

	ttl, err := ttlCmd.Result()
	if err != nil || ttl == keyDNE || ttl == keyNoExpire || ttl <= 0 {
		return nil, nil
	}

	return &models.RateLimitEntry{Key: key, Count: count, ResetTime: now.Add(ttl)}, nil
}

func (r *RedisStore) Increment(ctx context.Context, key string, window time.Duration, ceiling int, now time.Time) (*models.RateLimitEntry, bool, error) {
	res, err := incrementScript.Run(ctx, r.client, []string{redisKeyPrefix + key}, window.Milliseconds(), ceiling).Slice()
	if err != nil {
		return nil, false, fmt.Errorf("error incrementing key %v: %w", key, err)
	}
	if len(res) != 3 {
		return nil, false, fmt.Errorf("unexpected script reply for key %v: %v", key, res)
	}

	count, _ := res[0].(int64)
	ttl, _ := res[1].(int64)
	incremented, _ := res[2].(int64)
	if ttl < 0 {
		ttl = window.Milliseconds()
	}

	return &models.RateLimitEntry{
		Key:       key,
		Count:     int(count),
		ResetTime: now.Add(time.Duration(ttl) * time.Millisecond),
	}, incremented == 1, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("error deleting key %v: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Stats(ctx context.Context, limits map[models.ActionType]models.RateLimitConfig, now time.Time) (*models.RateLimitStats, error) {
	stats := &models.RateLimitStats{KeysPerAction: make(map[string]int)}

	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		redisKey := iter.Val()
		raw, err := r.client.Get(ctx, redisKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("error reading %v: %w", redisKey, err)
		}
		count, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}

		key := strings.TrimPrefix(redisKey, redisKeyPrefix)
		action := ActionOf(key)
		stats.ActiveKeys++
		stats.KeysPerAction[string(action)]++
		if limit, ok := limits[action]; ok && count >= limit.MaxRequests {
			stats.LimitedKeys++
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("error scanning rate limit keys: %w", err)
	}

	return stats, nil
}

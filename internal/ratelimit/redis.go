package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims the window, admits the hit if there is room and
// reports {allowed, count, oldest score}. Scores are Unix milliseconds.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, member)
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, window)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local first = now
if oldest[2] then
  first = tonumber(oldest[2])
end
return {allowed, count, first}
`)

// Redis shares counts across replicas through one sorted set per key.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "keyregistry:ratelimit"
	}
	return &Redis{client: client, prefix: prefix}
}

func (s *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	raw, err := slidingWindowScript.Run(ctx, s.client,
		[]string{s.prefix + ":" + key},
		now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString(),
	).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(raw) != 3 {
		return Result{}, fmt.Errorf("rate limit %s: unexpected reply %v", key, raw)
	}
	allowed, _ := raw[0].(int64)
	count, _ := raw[1].(int64)
	first, _ := raw[2].(int64)
	return Result{
		Allowed:   allowed == 1,
		Limit:     limit,
		Remaining: max(limit-int(count), 0),
		ResetAt:   time.UnixMilli(first).Add(window),
	}, nil
}

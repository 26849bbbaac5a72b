package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and returns a Store implementation. Every
// operation issued through the client is bounded by opTimeout so callers are
// never blocked indefinitely by a degraded backend.
func NewRedisStore(addr string, opTimeout time.Duration) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  opTimeout,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisStore{client: client}, nil
}

// tokenBucketScript refills and spends one token in a single server-side step
// so concurrent checkers never observe partial state. Time unit is fractional
// seconds; the refill amount is floored so fractional tokens are never granted.
// elapsed is clamped at zero to tolerate clock skew between gateway instances.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(bucket[1])
local last_refill = tonumber(bucket[2])

if not tokens then
  tokens = limit
  last_refill = now
end

local elapsed = math.max(0, now - last_refill)
local refill = math.floor(elapsed * (limit / window))
tokens = math.min(limit, tokens + refill)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_refill', now)
redis.call('PEXPIRE', key, math.ceil(window * 2 * 1000))

return {allowed, tokens}
`)

// slidingWindowScript prunes, counts and records in one server-side step.
// Each admitted entry is stored under a caller-supplied unique member so two
// admissions at numerically identical timestamps remain distinct entries.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)

local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, math.ceil(window * 1000))
  allowed = 1
  count = count + 1
end

-- a policy update can shrink limit below the live count
return {allowed, math.max(0, limit - count)}
`)

func (r *redisStore) TokenBucket(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (bool, int64, error) {
	res, err := tokenBucketScript.Run(ctx, r.client, []string{key},
		limit, window.Seconds(), epochSeconds(now)).Result()
	if err != nil {
		return false, 0, err
	}
	return decodeDecision(res)
}

func (r *redisStore) SlidingWindow(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (bool, int64, error) {
	res, err := slidingWindowScript.Run(ctx, r.client, []string{key},
		limit, window.Seconds(), epochSeconds(now), uuid.New().String()).Result()
	if err != nil {
		return false, 0, err
	}
	return decodeDecision(res)
}

func (r *redisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisStore) Close() error {
	return r.client.Close()
}

// epochSeconds renders t as fractional unix seconds, the clock and score unit
// the scripts operate in.
func epochSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// decodeDecision unpacks the {allowed, remaining} array both scripts reply with.
func decodeDecision(res interface{}) (bool, int64, error) {
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("unexpected redis response: %v", res)
	}
	allowed, err := toInt64(arr[0])
	if err != nil {
		return false, 0, err
	}
	remaining, err := toInt64(arr[1])
	if err != nil {
		return false, 0, err
	}
	return allowed == 1, remaining, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		// redis may return numbers as strings
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected redis reply element: %T", v)
	}
}

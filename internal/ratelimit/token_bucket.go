package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBucket is a token bucket kept in Redis so every worker process draws
// from the same provider budget.
type TokenBucket struct {
	client   redis.Scripter
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
	now      func() time.Time
}

func NewTokenBucket(client redis.Scripter, capacity int, refillPerSecond float64, ttl time.Duration) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if refillPerSecond <= 0 {
		refillPerSecond = 1
	}
	return &TokenBucket{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Allow consumes a single token for key if one is available and returns the
// tokens left after the call.
func (b *TokenBucket) Allow(ctx context.Context, key string) (bool, float64, error) {
	nowMillis := b.now().UnixMilli()
	res, err := bucketScript.Run(ctx, b.client, []string{key}, b.capacity, b.refill, nowMillis, b.ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, fmt.Errorf("token bucket %s: %w", key, err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("token bucket %s: unexpected reply %v", key, res)
	}
	allowedFlag, _ := arr[0].(int64)
	var tokens float64
	switch v := arr[1].(type) {
	case int64:
		tokens = float64(v)
	case float64:
		tokens = v
	}
	return allowedFlag == 1, tokens, nil
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
local add = delta / 1000 * refill
tokens = math.min(capacity, tokens + add)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tokens}
`)

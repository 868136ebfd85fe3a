// Package limiter implements token-bucket rate limiting, shared across
// instances through Redis or kept in-process when Redis is not configured.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// bucketScript implements the token bucket algorithm atomically
// KEYS[1] = rate limit key
// ARGV[1] = capacity (burst size)
// ARGV[2] = refill rate (tokens per second)
// ARGV[3] = current timestamp (unix seconds, fractional)
// ARGV[4] = requested tokens
// ARGV[5] = key ttl in seconds
// Returns: [allowed (1/0), remaining_tokens as a string]
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local info = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(info[1])
local last_refill = tonumber(info[2])

if not tokens then
	tokens = capacity
	last_refill = now
end

local delta = math.max(0, now - last_refill)
local filled = math.min(capacity, tokens + (delta * rate))

local allowed = 0
if filled >= requested then
	allowed = 1
	filled = filled - requested
end

redis.call("HSET", key, "tokens", tostring(filled), "last_refill", tostring(now))
redis.call("EXPIRE", key, ttl)

-- Lua numbers are truncated to integers on the way out, so send a string.
return {allowed, tostring(filled)}
`)

type TokenBucketLimiter struct {
	client *redis.Client
	now    func() time.Time
}

func NewTokenBucketLimiter(client *redis.Client) *TokenBucketLimiter {
	return &TokenBucketLimiter{client: client, now: time.Now}
}

// Allow checks if the request is allowed.
// rate: tokens per second
// burst: maximum capacity
// A denied request returns ErrRateLimitExceeded alongside allowed=false.
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string, rate float64, burst int) (bool, float64, error) {
	if rate <= 0 || burst < 1 {
		return false, 0, fmt.Errorf("invalid bucket rate=%v burst=%d", rate, burst)
	}
	now := float64(l.now().UnixMilli()) / 1000

	result, err := bucketScript.Run(ctx, l.client, []string{key}, burst, rate, now, 1, bucketTTL(rate, burst)).Slice()
	if err != nil {
		return false, 0, err
	}
	if len(result) != 2 {
		return false, 0, fmt.Errorf("unexpected limiter reply %v", result)
	}

	allowed, _ := result[0].(int64)
	raw, _ := result[1].(string)
	remaining, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false, 0, fmt.Errorf("parse remaining tokens %q: %w", raw, err)
	}

	if allowed != 1 {
		return false, remaining, ErrRateLimitExceeded
	}
	return true, remaining, nil
}

// bucketTTL is how long an idle bucket takes to refill, plus a second.
func bucketTTL(rate float64, burst int) int64 {
	return int64(math.Ceil(float64(burst)/rate)) + 1
}

package ratelimit

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// refillScript keeps {tokens, ts} in a hash per key. Redis TIME is the only
// clock so API replicas with skewed clocks share one bucket consistently.
const refillScript = `
local per_sec = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])

local t = redis.call("TIME")
local now = (t[1] * 1000) + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
if now > last then
  tokens = math.min(burst, tokens + ((now - last) / 1000) * per_sec)
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return {allowed, math.floor(tokens * 1000)}
`

var ErrInvalidLimit = errors.New("invalid_rate_limit")

// Limit is a refill rate in tokens per second with a bucket capacity.
type Limit struct {
	PerSecond float64
	Burst     int
}

func (l Limit) valid() bool {
	return l.PerSecond > 0 && l.Burst > 0
}

// ttl keeps an idle bucket around for twice its full refill time.
func (l Limit) ttl() time.Duration {
	seconds := math.Ceil(float64(l.Burst) / l.PerSecond * 2)
	return time.Duration(math.Max(seconds, 1)) * time.Second
}

// retryAfter is the time until one token has refilled.
func (l Limit) retryAfter(remaining float64) time.Duration {
	needed := 1 - remaining
	if needed <= 0 {
		return 0
	}
	return time.Duration(needed / l.PerSecond * float64(time.Second))
}

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Key builds a bucket key such as "leaguetracker:ratelimit:submissions:42".
func Key(scope, id string) string {
	return "leaguetracker:ratelimit:" + scope + ":" + strings.TrimSpace(id)
}

// TokenBucket is a Redis-backed bucket shared by every API replica.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client, script: redis.NewScript(refillScript)}
}

// Take removes one token from key if one is available.
func (t *TokenBucket) Take(ctx context.Context, key string, limit Limit) (*RateLimitResult, error) {
	if !limit.valid() || key == "" {
		return nil, ErrInvalidLimit
	}
	reply, err := t.script.Run(ctx, t.client, []string{key},
		limit.PerSecond, limit.Burst, limit.ttl().Milliseconds()).Int64Slice()
	if err != nil {
		return nil, err
	}
	if len(reply) != 2 {
		return nil, errors.New("unexpected rate limit script reply")
	}

	remaining := float64(reply[1]) / 1000
	allowed := reply[0] == 1
	result := &RateLimitResult{Allowed: allowed, Limit: limit.Burst, Remaining: int(remaining)}
	if !allowed {
		result.RetryAfter = limit.retryAfter(remaining)
	}
	return result, nil
}

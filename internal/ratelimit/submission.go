package ratelimit

import (
	"context"
	"strings"
	"sync"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/leaguetracker/internal/config"
	"golang.org/x/time/rate"
)

const scopeSubmissions = "submissions"

// SubmissionLimiter throttles registration submissions per user. It uses
// the shared Redis bucket when available and process-local buckets otherwise.
type SubmissionLimiter struct {
	bucket *TokenBucket
	limit  Limit

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

func NewSubmissionLimiter(cfg config.Config, client *redis.Client) *SubmissionLimiter {
	limit := Limit{
		PerSecond: cfg.RateLimit.SubmissionsPerMinute / 60,
		Burst:     cfg.RateLimit.SubmissionBurst,
	}
	if !limit.valid() {
		return nil
	}
	return &SubmissionLimiter{
		bucket: NewTokenBucket(client),
		limit:  limit,
		local:  map[string]*rate.Limiter{},
	}
}

// Allow reports whether userID may submit now. A nil limiter allows everything.
func (l *SubmissionLimiter) Allow(ctx context.Context, userID string) (*RateLimitResult, error) {
	if l == nil {
		return &RateLimitResult{Allowed: true}, nil
	}
	userID = strings.TrimSpace(userID)
	if l.bucket != nil {
		return l.bucket.Take(ctx, Key(scopeSubmissions, userID), l.limit)
	}

	limiter := l.localLimiter(userID)
	if limiter.Allow() {
		return &RateLimitResult{Allowed: true, Limit: l.limit.Burst, Remaining: int(limiter.Tokens())}, nil
	}
	return &RateLimitResult{
		Allowed:    false,
		Limit:      l.limit.Burst,
		RetryAfter: l.limit.retryAfter(limiter.Tokens()),
	}, nil
}

func (l *SubmissionLimiter) localLimiter(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.local[userID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.limit.PerSecond), l.limit.Burst)
		l.local[userID] = limiter
	}
	return limiter
}

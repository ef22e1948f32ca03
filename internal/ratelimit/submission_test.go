package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/leaguetracker/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionLimiterLocalFallback(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{SubmissionsPerMinute: 1, SubmissionBurst: 2}}
	limiter := NewSubmissionLimiter(cfg, nil)
	require.NotNil(t, limiter)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, 30*time.Second)

	// Buckets are per user.
	res, err = limiter.Allow(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestSubmissionLimiterDisabled(t *testing.T) {
	limiter := NewSubmissionLimiter(config.Config{}, nil)
	assert.Nil(t, limiter)

	res, err := limiter.Allow(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLockerWithoutRedis(t *testing.T) {
	locker := NewLocker(nil)
	assert.False(t, locker.Enabled())

	_, err := locker.WithLock(context.Background(), "k", time.Second, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLockNotConfigured)
	assert.NoError(t, locker.Release(context.Background(), "k", "t"))
}

func TestLimitMath(t *testing.T) {
	limit := Limit{PerSecond: 0.5, Burst: 2}
	assert.Equal(t, 2*time.Second, limit.retryAfter(0))
	assert.Equal(t, time.Duration(0), limit.retryAfter(1.5))
	assert.Equal(t, 8*time.Second, limit.ttl())
	assert.False(t, Limit{PerSecond: 1}.valid())
	assert.Equal(t, "leaguetracker:ratelimit:submissions:42", Key(scopeSubmissions, " 42 "))
}

func TestTokenBucketRejectsInvalidLimit(t *testing.T) {
	bucket := &TokenBucket{}
	_, err := bucket.Take(context.Background(), "k", Limit{})
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

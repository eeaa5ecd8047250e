package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SensibleWeather/artifact.ci/common/logger"
)

func newLimiter(t *testing.T) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRateLimiter(rdb, logger.Discard()), mr
}

func TestCheckIPLimit(t *testing.T) {
	limiter, mr := newLimiter(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		res, err := limiter.CheckIPLimit(ctx, "10.0.0.1", 3, 60)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, i, res.CurrentCount)
		assert.Equal(t, int64(0), res.RetryAfterSeconds)
	}

	res, err := limiter.CheckIPLimit(ctx, "10.0.0.1", 3, 60)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(4), res.CurrentCount)
	assert.Equal(t, int64(3), res.Limit)
	assert.Equal(t, int64(60), res.RetryAfterSeconds)

	other, err := limiter.CheckIPLimit(ctx, "10.0.0.2", 3, 60)
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	mr.FastForward(61 * time.Second)
	res, err = limiter.CheckIPLimit(ctx, "10.0.0.1", 3, 60)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.CurrentCount)
}

func TestResetLimit(t *testing.T) {
	limiter, _ := newLimiter(t)
	ctx := context.Background()

	_, err := limiter.CheckIPLimit(ctx, "10.0.0.1", 1, 60)
	require.NoError(t, err)
	res, err := limiter.CheckIPLimit(ctx, "10.0.0.1", 1, 60)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	require.NoError(t, limiter.ResetLimit(ctx, "10.0.0.1"))
	res, err = limiter.CheckIPLimit(ctx, "10.0.0.1", 1, 60)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCheckIPLimit_RedisDown(t *testing.T) {
	limiter, mr := newLimiter(t)
	mr.Close()

	_, err := limiter.CheckIPLimit(context.Background(), "10.0.0.1", 1, 60)
	assert.ErrorContains(t, err, "rate limit check failed")
}

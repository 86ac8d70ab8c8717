package admission

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// redisClient connects to REDIS_ADDR (default localhost:6379) or skips.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}
	return client
}

func TestRedisSlidingWindow_AdmitsUpToLimit(t *testing.T) {
	req := require.New(t)
	client := redisClient(t)
	ctx := context.Background()
	prefix := "test:admission:" + uuid.NewString() + ":"
	t.Cleanup(func() { client.Del(ctx, prefix+"k", prefix+"k:counter") })

	limiter := NewRedisSlidingWindow(client, Config{Limit: 3, Window: time.Minute}, prefix)

	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(ctx, "k")
		req.NoError(err)
		req.True(res.Allowed, "request %d", i+1)
		req.Equal(3-i-1, res.Remaining)
	}

	res, err := limiter.Allow(ctx, "k")
	req.NoError(err)
	req.False(res.Allowed)
	req.Zero(res.Remaining)
	req.Positive(res.RetryAfter)
	req.LessOrEqual(res.RetryAfter, time.Minute)
}

func TestRedisSlidingWindow_WindowSlides(t *testing.T) {
	req := require.New(t)
	client := redisClient(t)
	ctx := context.Background()
	prefix := "test:admission:" + uuid.NewString() + ":"
	t.Cleanup(func() { client.Del(ctx, prefix+"k", prefix+"k:counter") })

	limiter := NewRedisSlidingWindow(client, Config{Limit: 1, Window: time.Minute}, prefix)
	start := time.Now()
	limiter.now = func() time.Time { return start }

	res, err := limiter.Allow(ctx, "k")
	req.NoError(err)
	req.True(res.Allowed)

	res, err = limiter.Allow(ctx, "k")
	req.NoError(err)
	req.False(res.Allowed)

	limiter.now = func() time.Time { return start.Add(time.Minute) }
	res, err = limiter.Allow(ctx, "k")
	req.NoError(err)
	req.True(res.Allowed)
}

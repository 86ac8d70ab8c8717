package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces the sorted sets kept in Redis.
const DefaultKeyPrefix = "chatrelay:admission:"

// slidingWindowScript trims the sorted set to the window, then admits the
// request if there is room. It returns {allowed, remaining, oldest_ms}.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local counter_key = KEYS[2]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
	local count = redis.call('ZCARD', key)

	local allowed = 0
	if count < limit then
		local counter = redis.call('INCR', counter_key)
		redis.call('ZADD', key, now, now .. ':' .. counter)
		redis.call('PEXPIRE', key, window_ms)
		redis.call('PEXPIRE', counter_key, window_ms)
		count = count + 1
		allowed = 1
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local oldest_ms = now
	if #oldest >= 2 then
		oldest_ms = tonumber(oldest[2])
	end
	return {allowed, limit - count, oldest_ms}
`)

// RedisSlidingWindow is the SlidingWindow algorithm over a Redis sorted set per
// key, so several relay processes can share one admission budget.
type RedisSlidingWindow struct {
	client redis.Scripter
	cfg    Config
	prefix string
	now    func() time.Time
}

// NewRedisSlidingWindow returns a limiter storing its windows under prefix.
// An empty prefix uses DefaultKeyPrefix.
func NewRedisSlidingWindow(client redis.Scripter, cfg Config, prefix string) *RedisSlidingWindow {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisSlidingWindow{
		client: client,
		cfg:    cfg.withDefaults(),
		prefix: prefix,
		now:    time.Now,
	}
}

// Allow runs the window script atomically for key.
func (l *RedisSlidingWindow) Allow(ctx context.Context, key string) (Result, error) {
	now := l.now()
	redisKey := l.prefix + key
	// The window is half-open: a request exactly one window old has expired.
	windowStart := now.Add(-l.cfg.Window).UnixMilli()

	values, err := slidingWindowScript.Run(ctx, l.client,
		[]string{redisKey, redisKey + ":counter"},
		now.UnixMilli(),
		windowStart,
		l.cfg.Limit,
		l.cfg.Window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("run admission script: %w", err)
	}
	if len(values) != 3 {
		return Result{}, fmt.Errorf("unexpected admission script reply length: %d", len(values))
	}

	resetAt := time.UnixMilli(values[2]).Add(l.cfg.Window)
	res := Result{
		Allowed:   values[0] == 1,
		Remaining: max(int(values[1]), 0),
		Limit:     l.cfg.Limit,
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		res.RetryAfter = max(resetAt.Sub(now), 0)
	}
	return res, nil
}

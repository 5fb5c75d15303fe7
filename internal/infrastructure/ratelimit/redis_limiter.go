package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/sharedauth/internal/config"
	"github.com/turtacn/sharedauth/pkg/logger"
)

// KeyPrefix namespaces the bucket hashes in Redis.
const KeyPrefix = "rate-limit:"

// tokenBucketScript refills and takes one token atomically. Time is passed in by the caller in
// unix milliseconds so every instance agrees on the clock the bucket was last touched with.
//
// Returns {allowed, remaining, retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now

local elapsed = math.max(0, now - ts)
tokens = math.min(capacity, tokens + elapsed * rate / 1000)

local allowed = 0
local retry_ms = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  retry_ms = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('PEXPIRE', key, math.ceil(capacity * 1000 / rate) + 1000)

return {allowed, math.floor(tokens), retry_ms}
`)

var _ Limiter = (*RedisLimiter)(nil)

// RedisLimiter keeps one bucket per key in Redis, so the budget is shared by every instance.
// When Redis cannot be reached the decision falls back to a LocalLimiter with the same settings.
type RedisLimiter struct {
	client   redis.UniversalClient
	capacity int64
	rate     float64
	now      func() time.Time
	fallback *LocalLimiter
	logger   logger.Logger
}

// NewRedisLimiter creates a Redis-backed limiter.
//
// Parameters:
//   - client: Redis client shared with the key cache
//   - cfg: bucket rate and capacity
//   - log: Logger instance
//   - opts: WithClock
//
// Returns:
//   - *RedisLimiter: limiter with a local fallback
func NewRedisLimiter(client redis.UniversalClient, cfg config.RateLimitConfig, log logger.Logger, opts ...Option) *RedisLimiter {
	o := newOptions(opts)
	return &RedisLimiter{
		client:   client,
		capacity: int64(cfg.Burst),
		rate:     cfg.RequestsPerSecond,
		now:      o.now,
		fallback: NewLocalLimiter(cfg, opts...),
		logger:   log.WithComponent("rate_limiter"),
	}
}

// Allow consumes one token from key's shared bucket.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	values, err := tokenBucketScript.Run(ctx, l.client,
		[]string{KeyPrefix + key},
		l.capacity, l.rate, l.now().UnixMilli(),
	).Int64Slice()
	if err != nil || len(values) != 3 {
		l.logger.Warn(ctx, "Shared rate limit unavailable, using local bucket",
			logger.String("key", key),
			logger.Error(err),
		)
		return l.fallback.Allow(ctx, key)
	}

	return Result{
		Allowed:    values[0] == 1,
		Limit:      l.capacity,
		Remaining:  values[1],
		RetryAfter: time.Duration(values[2]) * time.Millisecond,
		Backend:    backendRedis,
	}, nil
}

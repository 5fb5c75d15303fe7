package ratelimit

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/turtacn/sharedauth/internal/config"
)

// idleBucketTTL is how long an untouched per-key bucket is kept before it is dropped. A dropped
// bucket comes back full, which is what a bucket idle that long would be anyway.
const idleBucketTTL = 10 * time.Minute

var _ Limiter = (*LocalLimiter)(nil)

// LocalLimiter keeps one x/time/rate bucket per key in process memory. It serves single-instance
// deployments and is the fallback of RedisLimiter.
type LocalLimiter struct {
	limit   rate.Limit
	burst   int
	now     func() time.Time
	mu      sync.Mutex
	buckets *gocache.Cache
}

// NewLocalLimiter creates a limiter with cfg's rate and burst.
func NewLocalLimiter(cfg config.RateLimitConfig, opts ...Option) *LocalLimiter {
	o := newOptions(opts)
	return &LocalLimiter{
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.Burst,
		now:     o.now,
		buckets: gocache.New(idleBucketTTL, idleBucketTTL),
	}
}

// Allow consumes one token from key's bucket.
func (l *LocalLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.now()
	bucket := l.bucket(key)

	res := Result{Limit: int64(l.burst), Backend: backendLocal}
	res.Allowed = bucket.AllowN(now, 1)

	tokens := bucket.TokensAt(now)
	if res.Allowed {
		res.Remaining = int64(tokens)
	} else {
		res.RetryAfter = time.Duration((1 - tokens) / float64(l.limit) * float64(time.Second))
	}
	return res, nil
}

func (l *LocalLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.buckets.Get(key); ok {
		// refresh the idle deadline
		l.buckets.SetDefault(key, v)
		return v.(*rate.Limiter)
	}
	bucket := rate.NewLimiter(l.limit, l.burst)
	l.buckets.SetDefault(key, bucket)
	return bucket
}

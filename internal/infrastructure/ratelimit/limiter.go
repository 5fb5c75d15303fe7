// Package ratelimit provides token bucket rate limiting, shared through Redis or local to the process.
package ratelimit

import (
	"context"
	"time"
)

const (
	backendRedis = "redis"
	backendLocal = "local"
)

// Result is the outcome of one Allow call.
type Result struct {
	// Allowed indicates if the request may proceed
	Allowed bool
	// Limit is the bucket capacity
	Limit int64
	// Remaining is the number of whole tokens left after this call
	Remaining int64
	// RetryAfter is how long until one token is available again; zero when allowed
	RetryAfter time.Duration
	// Backend names the bucket that decided, "redis" or "local"
	Backend string
}

// Limiter decides whether the caller identified by key may make one more request.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Option configures a limiter.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func newOptions(opts []Option) *options {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

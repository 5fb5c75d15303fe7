package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/sharedauth/internal/application/dto"
	"github.com/turtacn/sharedauth/internal/infrastructure/monitoring"
	"github.com/turtacn/sharedauth/internal/infrastructure/ratelimit"
	"github.com/turtacn/sharedauth/pkg/errors"
	"github.com/turtacn/sharedauth/pkg/logger"
)

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRetryAfter         = "Retry-After"
)

// RateLimit takes one token from the bucket of the client IP within scope and rejects the
// request with 429 once the bucket is empty. A limiter error lets the request through.
//
// Parameters:
//   - limiter: shared or local token bucket limiter
//   - scope: bucket namespace, e.g. "refresh" or "admin"
//   - metrics: decision counters, may be nil
//   - log: Logger instance
func RateLimit(limiter ratelimit.Limiter, scope string, metrics *monitoring.Metrics, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		res, err := limiter.Allow(ctx, scope+":"+c.ClientIP())
		if err != nil {
			log.Error(ctx, "Rate limiter failed, allowing request", err, logger.String("scope", scope))
			c.Next()
			return
		}
		metrics.RecordRateLimit(scope, res.Backend, res.Allowed)

		c.Header(HeaderRateLimitLimit, strconv.FormatInt(res.Limit, 10))
		c.Header(HeaderRateLimitRemaining, strconv.FormatInt(res.Remaining, 10))
		if !res.Allowed {
			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header(HeaderRetryAfter, strconv.Itoa(retryAfter))
			log.Warn(ctx, "Rate limit exceeded",
				logger.String("scope", scope),
				logger.String("client_ip", c.ClientIP()),
				logger.String("backend", res.Backend),
			)
			dto.SendError(c, errors.ErrRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}

// ================================================================================
// ETag
// ================================================================================

// bufferedWriter holds the body back until the ETag is known.
type bufferedWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	return w.body.Write(b)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	return w.body.WriteString(s)
}

// ETag tags successful GET responses with a hash of their body and answers 304 Not Modified
// when If-None-Match already names it. Cache-Control stays the handler's decision.
func ETag() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		original := c.Writer
		buffered := &bufferedWriter{ResponseWriter: original}
		c.Writer = buffered
		c.Next()
		c.Writer = original

		body := buffered.body.Bytes()
		if original.Status() == http.StatusOK && len(body) > 0 {
			sum := sha256.Sum256(body)
			etag := `"` + hex.EncodeToString(sum[:16]) + `"`
			c.Header("ETag", etag)
			if etagMatches(c.GetHeader("If-None-Match"), etag) {
				original.WriteHeader(http.StatusNotModified)
				original.WriteHeaderNow()
				return
			}
		}
		_, _ = original.Write(body)
	}
}

// etagMatches implements the weak comparison of If-None-Match.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

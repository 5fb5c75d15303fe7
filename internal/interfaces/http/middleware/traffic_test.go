package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/sharedauth/internal/config"
	"github.com/turtacn/sharedauth/internal/infrastructure/monitoring"
	"github.com/turtacn/sharedauth/internal/infrastructure/ratelimit"
	"github.com/turtacn/sharedauth/pkg/errors"
	"github.com/turtacn/sharedauth/pkg/logger"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New(errors.KindCacheUnavailable, "down")
}

func TestRateLimit(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewLocalLimiter(
		config.RateLimitConfig{RequestsPerSecond: 0.5, Burst: 2},
		ratelimit.WithClock(func() time.Time { return now }),
	)
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())

	r := gin.New()
	r.POST("/refresh", RateLimit(limiter, "refresh", metrics, logger.NewNoopLogger()), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
		req.RemoteAddr = ip + ":40000"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := send("10.0.0.1")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "2", w.Header().Get(HeaderRateLimitLimit))
	assert.Equal(t, "1", w.Header().Get(HeaderRateLimitRemaining))

	assert.Equal(t, http.StatusNoContent, send("10.0.0.1").Code)

	w = send("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get(HeaderRetryAfter))
	assert.Contains(t, w.Body.String(), `"code":"rate_limited"`)

	assert.Equal(t, http.StatusNoContent, send("10.0.0.2").Code, "other clients keep their budget")

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.RateLimited.WithLabelValues("refresh", "local", "allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RateLimited.WithLabelValues("refresh", "local", "denied")))
}

func TestRateLimit_FailsOpen(t *testing.T) {
	r := gin.New()
	r.POST("/admin", RateLimit(failingLimiter{}, "admin", nil, logger.NewNoopLogger()), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestETag(t *testing.T) {
	calls := 0
	r := gin.New()
	r.Use(ETag())
	r.GET("/doc", func(c *gin.Context) {
		calls++
		c.Header("Cache-Control", "public, max-age=60")
		c.JSON(http.StatusOK, gin.H{"keys": []string{"a", "b"}})
	})
	r.GET("/missing", func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/doc", nil))
	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.JSONEq(t, `{"keys":["a","b"]}`, w.Body.String())
	assert.Equal(t, "public, max-age=60", w.Header().Get("Cache-Control"))

	t.Run("matching If-None-Match", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/doc", nil)
		req.Header.Set("If-None-Match", `"other", W/`+etag)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotModified, w.Code)
		assert.Empty(t, w.Body.String())
		assert.Equal(t, etag, w.Header().Get("ETag"))
	})

	t.Run("stale If-None-Match", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/doc", nil)
		req.Header.Set("If-None-Match", `"stale"`)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Body.String())
	})

	t.Run("errors are not tagged", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Empty(t, w.Header().Get("ETag"))
		assert.Contains(t, w.Body.String(), "not_found")
	})

	assert.Equal(t, 3, calls)
}

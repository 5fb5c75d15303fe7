package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/sharedauth/internal/application/auth"
	"github.com/turtacn/sharedauth/internal/application/service"
	"github.com/turtacn/sharedauth/internal/config"
	"github.com/turtacn/sharedauth/internal/domain/models"
	"github.com/turtacn/sharedauth/internal/infrastructure/crypto"
	"github.com/turtacn/sharedauth/internal/infrastructure/monitoring"
	"github.com/turtacn/sharedauth/internal/infrastructure/persistence/memory"
	"github.com/turtacn/sharedauth/internal/infrastructure/ratelimit"
	"github.com/turtacn/sharedauth/internal/interfaces/http/handlers"
	"github.com/turtacn/sharedauth/pkg/constants"
	"github.com/turtacn/sharedauth/pkg/logger"
)

// RouterTestSuite drives the auth node end to end over the in-memory key cache.
type RouterTestSuite struct {
	suite.Suite
	store   *crypto.TrustStore
	rotator *crypto.KeyRotator
	issuer  *crypto.TokenIssuer
	router  *Router

	newRouter func(opts ...Option) *Router
}

func (s *RouterTestSuite) SetupTest() {
	log := logger.NewNoopLogger()
	jwtCfg := &config.JWTConfig{
		AccessTokenTTL:   15 * time.Minute,
		RefreshTokenTTL:  time.Hour,
		RotationInterval: time.Hour,
		CacheTimeout:     time.Second,
	}
	registry := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(registry)
	cache := memory.NewKeyCache(time.Minute)

	s.store = crypto.NewTrustStore(cache, jwtCfg.CacheTimeout, log, crypto.WithMetrics(metrics))
	s.rotator = crypto.NewKeyRotator(s.store, cache, jwtCfg, log, crypto.WithMetrics(metrics))
	_, err := s.rotator.Rotate(context.Background())
	s.Require().NoError(err)

	s.issuer = crypto.NewTokenIssuer(s.store, jwtCfg, log, crypto.WithMetrics(metrics))
	verifier := crypto.NewTokenVerifier(s.store, log, crypto.WithMetrics(metrics))
	orch := auth.NewOrchestrator(verifier, metrics, log)
	tokens := service.NewTokenAppService(s.issuer, s.rotator, log)

	health := handlers.NewHealthHandler(map[string]handlers.HealthCheck{
		"signing_key": func(context.Context) error {
			_, err := s.store.ActiveSigningKey()
			return err
		},
	}, time.Second, log)

	s.newRouter = func(opts ...Option) *Router {
		return NewRouter(
			&config.ServerConfig{Host: "127.0.0.1", Port: 0, ReadTimeout: time.Second, WriteTimeout: time.Second},
			log,
			metrics,
			registry,
			orch,
			health,
			handlers.NewAuthHandler(tokens, config.CookieConfig{SameSite: "lax"}, log),
			handlers.NewJWKSHandler(s.store, log),
			opts...,
		)
	}
	s.router = s.newRouter()
}

func (s *RouterTestSuite) issue(tokenType constants.TokenType, role string) string {
	token, err := s.issuer.Issue(context.Background(), tokenType, models.Claims{Username: "alice", Email: "alice@example.com", Role: role})
	s.Require().NoError(err)
	return token.Value
}

func (s *RouterTestSuite) do(method, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.router.Handler().ServeHTTP(w, req)
	return w
}

func (s *RouterTestSuite) TestMeRequiresAccessToken() {
	w := s.do(http.MethodGet, "/api/v1/me")
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Contains(w.Body.String(), "Invalid access token.")

	w = s.do(http.MethodGet, "/api/v1/me", &http.Cookie{Name: "at", Value: s.issue(constants.TokenTypeAccess, "USER")})
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"username":"alice"`)
}

func (s *RouterTestSuite) TestGreetingIsBestEffort() {
	w := s.do(http.MethodGet, "/api/v1/greeting", &http.Cookie{Name: "at", Value: "garbage"})
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "Hello, guest")

	w = s.do(http.MethodGet, "/api/v1/greeting", &http.Cookie{Name: "at", Value: s.issue(constants.TokenTypeAccess, "USER")})
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "Hello, alice")
}

func (s *RouterTestSuite) TestRefreshReissuesCookies() {
	w := s.do(http.MethodPost, "/api/v1/tokens/refresh", &http.Cookie{Name: "rt", Value: s.issue(constants.TokenTypeRefresh, "USER")})
	s.Require().Equal(http.StatusOK, w.Code)

	names := map[string]bool{}
	for _, c := range w.Result().Cookies() {
		names[c.Name] = true
		s.True(c.HttpOnly)
		s.Equal(http.SameSiteLaxMode, c.SameSite)
	}
	s.Equal(map[string]bool{"at": true, "rt": true}, names)

	// an access token is not a refresh credential
	w = s.do(http.MethodPost, "/api/v1/tokens/refresh", &http.Cookie{Name: "at", Value: s.issue(constants.TokenTypeAccess, "USER")})
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Contains(w.Body.String(), "Invalid refresh token.")
}

func (s *RouterTestSuite) TestAdminRoutesRequireAdminRole() {
	user := &http.Cookie{Name: "at", Value: s.issue(constants.TokenTypeAccess, "USER")}
	s.Equal(http.StatusForbidden, s.do(http.MethodPost, "/api/v1/admin/keys/rotate", user).Code)

	before, err := s.store.ActiveSigningKey()
	s.Require().NoError(err)

	admin := &http.Cookie{Name: "at", Value: s.issue(constants.TokenTypeAccess, constants.RoleAdmin)}
	w := s.do(http.MethodPost, "/api/v1/admin/keys/rotate", admin)
	s.Require().Equal(http.StatusOK, w.Code)

	after, err := s.store.ActiveSigningKey()
	s.Require().NoError(err)
	s.NotEqual(before.KeyID, after.KeyID)
	s.Contains(w.Body.String(), after.KeyID)

	// tokens signed before the rotation keep working
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/api/v1/me", user).Code)
}

func (s *RouterTestSuite) TestJWKSListsRotatedKeys() {
	_, err := s.rotator.Rotate(context.Background())
	s.Require().NoError(err)

	w := s.do(http.MethodGet, "/.well-known/jwks.json")
	s.Require().Equal(http.StatusOK, w.Code)
	var set struct {
		Keys []struct {
			Kid string `json:"kid"`
		} `json:"keys"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &set))
	s.Len(set.Keys, 2)
}

func (s *RouterTestSuite) TestJWKSRevalidation() {
	w := s.do(http.MethodGet, "/.well-known/jwks.json")
	s.Require().Equal(http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	s.Require().NotEmpty(etag)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	s.router.Handler().ServeHTTP(w, req)
	s.Equal(http.StatusNotModified, w.Code)

	// a rotation changes the document and therefore the tag
	_, err := s.rotator.Rotate(context.Background())
	s.Require().NoError(err)
	w = httptest.NewRecorder()
	s.router.Handler().ServeHTTP(w, req)
	s.Equal(http.StatusOK, w.Code)
	s.NotEqual(etag, w.Header().Get("ETag"))
}

func (s *RouterTestSuite) TestAdminRoutesAreRateLimited() {
	s.router = s.newRouter(WithRateLimiter(ratelimit.NewLocalLimiter(config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})))
	admin := &http.Cookie{Name: "at", Value: s.issue(constants.TokenTypeAccess, constants.RoleAdmin)}

	s.Equal(http.StatusOK, s.do(http.MethodPost, "/api/v1/admin/keys/rotate", admin).Code)

	w := s.do(http.MethodPost, "/api/v1/admin/keys/rotate", admin)
	s.Equal(http.StatusTooManyRequests, w.Code)
	s.NotEmpty(w.Header().Get("Retry-After"))

	// other scopes have their own bucket
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/api/v1/me", admin).Code)
}

func (s *RouterTestSuite) TestOperationalEndpoints() {
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/health").Code)
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/live").Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/nope").Code)

	s.do(http.MethodGet, "/api/v1/me")
	w := s.do(http.MethodGet, "/metrics")
	s.Require().Equal(http.StatusOK, w.Code)
	body := w.Body.String()
	s.True(strings.Contains(body, "sharedauth_http_requests_total"))
	s.True(strings.Contains(body, "sharedauth_key_rotations_total"))
}

func TestRouterTestSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}

func TestRouter_StartStop(t *testing.T) {
	r := NewRouter(
		&config.ServerConfig{Host: "127.0.0.1", Port: 0},
		logger.NewNoopLogger(),
		nil,
		prometheus.NewRegistry(),
		auth.NewOrchestrator(nil, nil, logger.NewNoopLogger()),
		handlers.NewHealthHandler(nil, time.Second, logger.NewNoopLogger()),
		handlers.NewAuthHandler(nil, config.CookieConfig{}, logger.NewNoopLogger()),
		handlers.NewJWKSHandler(nil, logger.NewNoopLogger()),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- r.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
	require.NoError(t, <-errCh)
}

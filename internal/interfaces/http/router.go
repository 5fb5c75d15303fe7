// Package http wires the gin engine of the auth node.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/turtacn/sharedauth/internal/application/auth"
	"github.com/turtacn/sharedauth/internal/config"
	"github.com/turtacn/sharedauth/internal/infrastructure/monitoring"
	"github.com/turtacn/sharedauth/internal/infrastructure/ratelimit"
	"github.com/turtacn/sharedauth/internal/interfaces/http/handlers"
	"github.com/turtacn/sharedauth/internal/interfaces/http/middleware"
	"github.com/turtacn/sharedauth/pkg/constants"
	"github.com/turtacn/sharedauth/pkg/logger"
)

// Router HTTP router of the auth node
type Router struct {
	engine        *gin.Engine
	config        *config.ServerConfig
	logger        logger.Logger
	metrics       *monitoring.Metrics
	gatherer      prometheus.Gatherer
	orchestrator  *auth.Orchestrator
	healthHandler *handlers.HealthHandler
	authHandler   *handlers.AuthHandler
	jwksHandler   *handlers.JWKSHandler
	limiter       ratelimit.Limiter
	server        *http.Server
}

// Option customizes the router.
type Option func(*Router)

// WithRateLimiter bounds the refresh and admin routes per client IP. Without it they are unlimited.
func WithRateLimiter(limiter ratelimit.Limiter) Option {
	return func(r *Router) { r.limiter = limiter }
}

// NewRouter creates the router. gatherer backs /metrics and is usually the registry metrics was
// created with.
func NewRouter(
	cfg *config.ServerConfig,
	log logger.Logger,
	metrics *monitoring.Metrics,
	gatherer prometheus.Gatherer,
	orchestrator *auth.Orchestrator,
	healthHandler *handlers.HealthHandler,
	authHandler *handlers.AuthHandler,
	jwksHandler *handlers.JWKSHandler,
	opts ...Option,
) *Router {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine:        gin.New(),
		config:        cfg,
		logger:        log.WithComponent("http_router"),
		metrics:       metrics,
		gatherer:      gatherer,
		orchestrator:  orchestrator,
		healthHandler: healthHandler,
		authHandler:   authHandler,
		jwksHandler:   jwksHandler,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.setupRoutes()
	r.server = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r.engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		MaxHeaderBytes:    1 << 20, // 1MB
	}
	return r
}

// Handler returns the configured engine.
func (r *Router) Handler() http.Handler {
	return r.engine
}

func (r *Router) setupRoutes() {
	// global middleware
	r.engine.Use(middleware.Recovery(r.logger))
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.Observability(r.metrics))
	r.engine.Use(middleware.Logging(r.logger))

	if len(r.config.CORSOrigins) > 0 {
		r.engine.Use(cors.New(cors.Config{
			AllowOrigins:     r.config.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", constants.HeaderAuthorization, constants.HeaderRefreshToken, constants.HeaderRequestID},
			ExposeHeaders:    []string{constants.HeaderRequestID},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.engine.GET("/health", r.healthHandler.HealthCheck)
	r.engine.GET("/ready", r.healthHandler.ReadinessCheck)
	r.engine.GET("/live", r.healthHandler.Liveness)
	r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
	r.engine.GET("/.well-known/jwks.json", middleware.ETag(), r.jwksHandler.GetJWKS)

	if r.config.Debug {
		pprof.Register(r.engine)
	}

	requireAccess := middleware.Authenticate(r.orchestrator, auth.FailFast, constants.TokenTypeAccess, r.logger)
	optionalAccess := middleware.Authenticate(r.orchestrator, auth.BestEffort, constants.TokenTypeAccess, r.logger)
	requireRefresh := middleware.Authenticate(r.orchestrator, auth.FailFast, constants.TokenTypeRefresh, r.logger)

	v1 := r.engine.Group("/api/v1")
	{
		v1.GET("/me", requireAccess, r.authHandler.Me)
		v1.GET("/greeting", optionalAccess, r.authHandler.Greeting)

		tokens := v1.Group("/tokens")
		{
			tokens.POST("/refresh", r.rateLimit("refresh"), requireRefresh, r.authHandler.Refresh)
			tokens.POST("/logout", r.authHandler.Logout)
		}

		admin := v1.Group("/admin")
		admin.Use(r.rateLimit("admin"), requireAccess, middleware.RequireRole(constants.RoleAdmin))
		{
			admin.POST("/keys/rotate", r.authHandler.RotateKeys)
			admin.POST("/tokens", r.authHandler.IssueTokens)
		}
	}

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "not_found",
			"error_description": "The requested resource was not found",
		})
	})
}

// rateLimit returns the limiter middleware for scope, or a pass-through when limiting is off.
func (r *Router) rateLimit(scope string) gin.HandlerFunc {
	if r.limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return middleware.RateLimit(r.limiter, scope, r.metrics, r.logger)
}

// Start serves HTTP until Stop is called. It returns nil after a graceful stop.
func (r *Router) Start() error {
	r.logger.Info(context.Background(), "Starting HTTP server", logger.String("address", r.server.Addr))
	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the HTTP server down, waiting for in-flight requests until ctx expires.
func (r *Router) Stop(ctx context.Context) error {
	r.logger.Info(ctx, "Stopping HTTP server...")
	return r.server.Shutdown(ctx)
}

//Personal.AI order the ending

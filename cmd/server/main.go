package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/sharedauth/internal/application/auth"
	appservice "github.com/turtacn/sharedauth/internal/application/service"
	"github.com/turtacn/sharedauth/internal/config"
	domainservice "github.com/turtacn/sharedauth/internal/domain/service"
	"github.com/turtacn/sharedauth/internal/infrastructure/audit"
	"github.com/turtacn/sharedauth/internal/infrastructure/crypto"
	"github.com/turtacn/sharedauth/internal/infrastructure/monitoring"
	"github.com/turtacn/sharedauth/internal/infrastructure/persistence/memory"
	"github.com/turtacn/sharedauth/internal/infrastructure/persistence/redis"
	"github.com/turtacn/sharedauth/internal/infrastructure/ratelimit"
	grpcserver "github.com/turtacn/sharedauth/internal/interfaces/grpc"
	httpserver "github.com/turtacn/sharedauth/internal/interfaces/http"
	"github.com/turtacn/sharedauth/internal/interfaces/http/handlers"
	"github.com/turtacn/sharedauth/pkg/logger"
)

const (
	shutdownTimeout     = 30 * time.Second
	healthCheckTimeout  = 2 * time.Second
	grpcHealthInterval  = 10 * time.Second
	memoryCacheCleanup  = time.Minute
	configFileEnvVarKey = "SHAREDAUTH_CONFIG_FILE"
)

func main() {
	// Logger for startup
	startupLogger, err := monitoring.NewZapLogger(&config.LogConfig{Level: "info", Format: "json"})
	if err != nil {
		log.Fatalf("Failed to create startup logger: %v", err)
	}

	// Load config
	loader := config.NewLoader(os.Getenv(configFileEnvVarKey), startupLogger)
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	loader.WatchLogLevel(appLogger.SetLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appLogger); err != nil {
		appLogger.Fatal(context.Background(), "Auth node stopped with error", err)
	}
	appLogger.Info(context.Background(), "Auth node stopped")
}

func run(ctx context.Context, cfg *config.Config, appLogger logger.Logger) error {
	// Initialize tracing
	tracing, err := monitoring.NewTracingManager(&cfg.Tracing, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() { _ = tracing.Shutdown(context.Background()) }()

	// Initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)

	// Initialize the shared key cache
	cache, redisClient, checks, closeCache, err := newKeyCache(ctx, &cfg.Redis, appLogger)
	if err != nil {
		return err
	}
	defer closeCache()

	// Initialize the rotation audit sink
	auditor, closeAuditor := newAuditor(cfg.Kafka, appLogger)
	defer closeAuditor()

	// Initialize the token components
	store := crypto.NewTrustStore(cache, cfg.JWT.CacheTimeout, appLogger, crypto.WithMetrics(metrics))
	rotator := crypto.NewKeyRotator(store, cache, &cfg.JWT, appLogger,
		crypto.WithMetrics(metrics),
		crypto.WithAuditor(auditor),
	)
	issuer := crypto.NewTokenIssuer(store, &cfg.JWT, appLogger, crypto.WithMetrics(metrics))
	verifier := crypto.NewTokenVerifier(store, appLogger, crypto.WithMetrics(metrics))
	orchestrator := auth.NewOrchestrator(verifier, metrics, appLogger)
	tokens := appservice.NewTokenAppService(issuer, rotator, appLogger)

	// The first rotation runs before any listener opens; a failure leaves the node unready
	// until a later tick succeeds.
	if err := rotator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start key rotation: %w", err)
	}
	defer rotator.Stop()

	checks["signing_key"] = func(context.Context) error {
		_, err := store.ActiveSigningKey()
		return err
	}
	ready := func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	// Initialize HTTP handlers and router
	var routerOpts []httpserver.Option
	if limiter := newLimiter(cfg.RateLimit, redisClient, appLogger); limiter != nil {
		routerOpts = append(routerOpts, httpserver.WithRateLimiter(limiter))
	}
	router := httpserver.NewRouter(
		&cfg.Server,
		appLogger,
		metrics,
		registry,
		orchestrator,
		handlers.NewHealthHandler(checks, healthCheckTimeout, appLogger),
		handlers.NewAuthHandler(tokens, cfg.Cookie, appLogger),
		handlers.NewJWKSHandler(store, appLogger),
		routerOpts...,
	)

	// Initialize gRPC server
	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen for gRPC: %w", err)
	}
	grpcServer := grpcserver.NewServer(
		grpcserver.NewInterceptorChain(appLogger, orchestrator),
		ready,
		cfg.Server.Debug,
		appLogger,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(router.Start)
	g.Go(func() error { return grpcServer.Serve(lis) })
	g.Go(func() error {
		grpcServer.Watch(gctx, grpcHealthInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info(context.Background(), "Shutting down auth node...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		grpcServer.Stop(shutdownCtx)
		return router.Stop(shutdownCtx)
	})
	return g.Wait()
}

// newKeyCache builds the configured DistributedKeyCache and the health checks it contributes.
// The Redis client is nil for the memory driver.
func newKeyCache(ctx context.Context, cfg *config.RedisConfig, log logger.Logger) (domainservice.DistributedKeyCache, goredis.UniversalClient, map[string]handlers.HealthCheck, func(), error) {
	checks := map[string]handlers.HealthCheck{}

	if cfg.Driver == "memory" {
		log.Warn(ctx, "Using the in-process key cache; tokens only verify on this instance")
		return memory.NewKeyCache(memoryCacheCleanup), nil, checks, func() {}, nil
	}

	conn := redis.NewRedisConnection(cfg, log)
	if err := conn.Connect(ctx); err != nil {
		_ = conn.Close()
		return nil, nil, nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	checks["redis"] = func(ctx context.Context) error {
		_, err := conn.HealthCheck(ctx)
		return err
	}
	closeFn := func() {
		if err := conn.Close(); err != nil {
			log.Error(context.Background(), "Failed to close Redis connection", err)
		}
	}
	return redis.NewKeyCache(conn.Client(), log), conn.Client(), checks, closeFn, nil
}

// newLimiter shares rate limit buckets through Redis when there is one. It returns nil when
// rate limiting is disabled.
func newLimiter(cfg config.RateLimitConfig, client goredis.UniversalClient, log logger.Logger) ratelimit.Limiter {
	switch {
	case !cfg.Enabled:
		return nil
	case client == nil:
		return ratelimit.NewLocalLimiter(cfg)
	default:
		return ratelimit.NewRedisLimiter(client, cfg, log)
	}
}

// newAuditor returns the Kafka producer when enabled, else a logging auditor.
func newAuditor(cfg config.KafkaConfig, log logger.Logger) (domainservice.RotationAuditor, func()) {
	if !cfg.Enabled {
		return audit.NewLogAuditor(log), func() {}
	}
	producer := audit.NewKafkaProducer(cfg, log)
	return producer, func() {
		if err := producer.Close(); err != nil {
			log.Error(context.Background(), "Failed to close Kafka producer", err)
		}
	}
}

//Personal.AI order the ending

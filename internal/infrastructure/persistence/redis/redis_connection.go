// Package redis provides the Redis connection and the Redis-backed shared public key cache.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/sharedauth/internal/config"
	"github.com/turtacn/sharedauth/pkg/logger"
)

// RedisConnection manages Redis client lifecycle and health monitoring.
type RedisConnection struct {
	config *config.RedisConfig
	client redis.UniversalClient
	logger logger.Logger
}

// NewRedisConnection creates a connection manager. One address yields a single-node client,
// several addresses a cluster client (redis.NewUniversalClient decides).
//
// Parameters:
//   - cfg: Redis configuration
//   - log: Logger instance
//
// Returns:
//   - *RedisConnection: connection manager, not yet verified; call Connect
func NewRedisConnection(cfg *config.RedisConfig, log logger.Logger) *RedisConnection {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addresses,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	return NewRedisConnectionWithClient(cfg, client, log)
}

// NewRedisConnectionWithClient wraps an existing client, e.g. one pointed at miniredis.
func NewRedisConnectionWithClient(cfg *config.RedisConfig, client redis.UniversalClient, log logger.Logger) *RedisConnection {
	return &RedisConnection{
		config: cfg,
		client: client,
		logger: log.WithComponent("redis"),
	}
}

// Connect pings Redis with exponential backoff until it answers or ConnectWait elapses.
//
// Returns:
//   - error: the last ping error once the wait is exhausted
func (rc *RedisConnection) Connect(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = rc.config.ConnectWait

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, rc.config.DialTimeout)
		defer cancel()
		if err := rc.client.Ping(pingCtx).Err(); err != nil {
			rc.logger.Warn(ctx, "Redis not reachable yet",
				logger.Int("attempt", attempt),
				logger.Error(err),
			)
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}

	rc.logger.Info(ctx, "Redis connection established successfully",
		logger.Any("addrs", rc.config.Addresses),
		logger.Int("pool_size", rc.config.PoolSize),
	)
	return nil
}

// Client returns the Redis client instance.
func (rc *RedisConnection) Client() redis.UniversalClient {
	return rc.client
}

// HealthCheck pings Redis and reports latency and pool statistics.
//
// Returns:
//   - map[string]interface{}: Health status details
//   - error: Health check error if any
func (rc *RedisConnection) HealthCheck(ctx context.Context) (map[string]interface{}, error) {
	health := make(map[string]interface{})

	start := time.Now()
	err := rc.client.Ping(ctx).Err()
	health["connected"] = err == nil
	health["latency_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		health["error"] = err.Error()
		return health, err
	}

	stats := rc.client.PoolStats()
	health["total_conns"] = stats.TotalConns
	health["idle_conns"] = stats.IdleConns
	health["pool_timeouts"] = stats.Timeouts
	return health, nil
}

// Close gracefully closes Redis connection and releases resources.
func (rc *RedisConnection) Close() error {
	if err := rc.client.Close(); err != nil {
		rc.logger.Error(context.Background(), "Failed to close Redis connection", err)
		return err
	}
	rc.logger.Info(context.Background(), "Redis connection closed successfully")
	return nil
}

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/turtacn/sharedauth/internal/config"
	"github.com/turtacn/sharedauth/internal/infrastructure/persistence/redis"
	"github.com/turtacn/sharedauth/pkg/logger"
)

// sharedCache is a connection to the shared key cache described by the config file.
type sharedCache struct {
	cfg   *config.Config
	conn  *redis.RedisConnection
	cache *redis.KeyCache
}

func openSharedCache(ctx context.Context, opts *options) (*sharedCache, error) {
	log := logger.NewNoopLogger()
	cfg, err := config.LoadConfig(opts.configFile, log)
	if err != nil {
		return nil, err
	}
	if cfg.Redis.Driver != "redis" {
		return nil, fmt.Errorf("the shared key cache is only reachable with redis.driver=redis, got %q", cfg.Redis.Driver)
	}

	// an operator tool should fail fast rather than wait out the server's start-up budget
	cfg.Redis.ConnectWait = time.Duration(opts.timeoutSec) * time.Second

	conn := redis.NewRedisConnection(&cfg.Redis, log)
	if err := conn.Connect(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &sharedCache{cfg: cfg, conn: conn, cache: redis.NewKeyCache(conn.Client(), log)}, nil
}

func (s *sharedCache) Close() {
	_ = s.conn.Close()
}

package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/turtacn/sharedauth/pkg/constants"
	"github.com/turtacn/sharedauth/pkg/errors"
)

// Config holds the application's configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Cookie    CookieConfig    `mapstructure:"cookie"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	GRPCPort     int           `mapstructure:"grpc_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Debug        bool          `mapstructure:"debug"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

// Addr returns host:port of the HTTP listener.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisConfig selects the shared key cache backend. Driver "memory" keeps the cache in-process,
// which is only correct for a single instance.
type RedisConfig struct {
	Driver       string        `mapstructure:"driver"`
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ConnectWait bounds how long start-up retries reaching Redis
	ConnectWait time.Duration `mapstructure:"connect_wait"`
}

// JWTConfig holds token validity and rotation settings. All durations are time.Duration, so the
// public key TTL arithmetic never mixes units.
type JWTConfig struct {
	AccessTokenTTL   time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL  time.Duration `mapstructure:"refresh_token_ttl"`
	RotationInterval time.Duration `mapstructure:"rotation_interval"`
	CacheTimeout     time.Duration `mapstructure:"cache_timeout"`
}

// Validity returns the configured lifetime of a token type.
func (c *JWTConfig) Validity(tokenType constants.TokenType) (time.Duration, error) {
	switch tokenType {
	case constants.TokenTypeAccess:
		return c.AccessTokenTTL, nil
	case constants.TokenTypeRefresh:
		return c.RefreshTokenTTL, nil
	default:
		return 0, errors.New(errors.KindInvalidArgument, "unknown token type %q", tokenType)
	}
}

// PublicKeyTTL is how long a published public key record stays resolvable:
// max(access validity, refresh validity) + rotation interval. A token signed just before its key
// is replaced therefore stays verifiable until it expires on its own.
func (c *JWTConfig) PublicKeyTTL() time.Duration {
	longest := c.AccessTokenTTL
	if c.RefreshTokenTTL > longest {
		longest = c.RefreshTokenTTL
	}
	return longest + c.RotationInterval
}

type CookieConfig struct {
	Secure   bool   `mapstructure:"secure"`
	Domain   string `mapstructure:"domain"`
	SameSite string `mapstructure:"same_site"`
}

// SameSiteMode converts the configured value to net/http's representation.
func (c *CookieConfig) SameSiteMode() http.SameSite {
	switch strings.ToLower(c.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "lax":
		return http.SameSiteLaxMode
	default:
		return http.SameSiteDefaultMode
	}
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	AuditTopic   string        `mapstructure:"audit_topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`

	// SigningSecret, when set, HMAC-signs every audit message
	SigningSecret string `mapstructure:"signing_secret"`
}

// RateLimitConfig bounds requests per client IP on the refresh and admin routes. The budget is a
// token bucket holding Burst tokens and refilled at RequestsPerSecond; with the redis driver it is
// shared by every instance.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// Default returns a configuration with every default applied, the same values LoadConfig uses.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			GRPCPort:     50051,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Driver:       "redis",
			Addresses:    []string{"localhost:6379"},
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			ConnectWait:  30 * time.Second,
		},
		JWT: JWTConfig{
			AccessTokenTTL:   constants.AccessTokenDefaultTTL,
			RefreshTokenTTL:  constants.RefreshTokenDefaultTTL,
			RotationInterval: constants.RotationDefaultInterval,
			CacheTimeout:     constants.DefaultCacheTimeout,
		},
		Cookie: CookieConfig{
			Secure:   true,
			SameSite: "strict",
		},
		Kafka: KafkaConfig{
			AuditTopic:   "sharedauth.audit",
			WriteTimeout: 5 * time.Second,
			RequiredAcks: 1,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 5,
			Burst:             20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			ServiceName:  "sharedauth",
			SamplingRate: 1.0,
		},
	}
}

// Validate checks for essential configuration values.
func (c *Config) Validate() error {
	if c.JWT.AccessTokenTTL <= 0 || c.JWT.RefreshTokenTTL <= 0 {
		return errors.New(errors.KindInvalidArgument, "jwt token TTLs must be positive")
	}
	if c.JWT.RotationInterval <= 0 {
		return errors.New(errors.KindInvalidArgument, "jwt.rotation_interval must be positive")
	}
	if c.JWT.CacheTimeout <= 0 {
		return errors.New(errors.KindInvalidArgument, "jwt.cache_timeout must be positive")
	}
	switch c.Redis.Driver {
	case "redis":
		if len(c.Redis.Addresses) == 0 {
			return errors.New(errors.KindInvalidArgument, "redis.addresses is required for the redis driver")
		}
	case "memory":
	default:
		return errors.New(errors.KindInvalidArgument, "unsupported redis.driver %q", c.Redis.Driver)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return errors.New(errors.KindInvalidArgument, "rate_limit.requests_per_second and rate_limit.burst must be positive")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.AuditTopic == "") {
		return errors.New(errors.KindInvalidArgument, "kafka.brokers and kafka.audit_topic are required when kafka is enabled")
	}
	return nil
}

//Personal.AI order the ending

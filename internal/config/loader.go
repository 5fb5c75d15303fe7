package config

import (
	"context"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/turtacn/sharedauth/pkg/errors"
	"github.com/turtacn/sharedauth/pkg/logger"
)

// EnvPrefix prefixes every environment override, e.g. SHAREDAUTH_JWT_ROTATION_INTERVAL=30m.
const EnvPrefix = "SHAREDAUTH"

// Loader reads configuration from a yaml file, a .env file and the environment.
type Loader struct {
	v   *viper.Viper
	log logger.Logger
}

// NewLoader creates a loader. configFile may be empty, in which case config.yaml is searched in
// /etc/sharedauth and the working directory.
func NewLoader(configFile string, log logger.Logger) *Loader {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, Default())

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/sharedauth/")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, log: log}
}

// Load reads, unmarshals and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, errors.KindInvalidArgument, "failed to read config")
		}
		l.log.Info(context.Background(), "No config file found, using defaults and environment")
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindInvalidArgument, "failed to unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// redactedKeys are settings never printed in clear.
var redactedKeys = map[string]bool{
	"redis.password":       true,
	"kafka.signing_secret": true,
}

// Settings returns the effective settings as a nested map for display. Durations are rendered
// as strings ("15m0s") and secrets are masked.
func (l *Loader) Settings() map[string]interface{} {
	out := make(map[string]interface{})
	for _, key := range l.v.AllKeys() {
		value := l.v.Get(key)
		if d, ok := value.(time.Duration); ok {
			value = d.String()
		}
		if redactedKeys[key] {
			if s, ok := value.(string); ok && s != "" {
				value = "******"
			}
		}

		node := out
		parts := strings.Split(key, ".")
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]interface{})
			if !ok {
				child = make(map[string]interface{})
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	return out
}

// WatchLogLevel calls onChange with the new log level whenever the config file changes.
// Only the log level is hot-reloaded; key rotation settings require a restart.
func (l *Loader) WatchLogLevel(onChange func(level string)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		level := l.v.GetString("log.level")
		l.log.Info(context.Background(), "Config file changed",
			logger.String("file", e.Name),
			logger.String("log_level", level),
		)
		onChange(level)
	})
	l.v.WatchConfig()
}

// LoadConfig loads the configuration from file and environment variables.
func LoadConfig(configFile string, log logger.Logger) (*Config, error) {
	return NewLoader(configFile, log).Load()
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.grpc_port", d.Server.GRPCPort)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.debug", d.Server.Debug)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)

	v.SetDefault("redis.driver", d.Redis.Driver)
	v.SetDefault("redis.addresses", d.Redis.Addresses)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.pool_size", d.Redis.PoolSize)
	v.SetDefault("redis.min_idle_conns", d.Redis.MinIdleConns)
	v.SetDefault("redis.dial_timeout", d.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", d.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", d.Redis.WriteTimeout)
	v.SetDefault("redis.connect_wait", d.Redis.ConnectWait)

	v.SetDefault("jwt.access_token_ttl", d.JWT.AccessTokenTTL)
	v.SetDefault("jwt.refresh_token_ttl", d.JWT.RefreshTokenTTL)
	v.SetDefault("jwt.rotation_interval", d.JWT.RotationInterval)
	v.SetDefault("jwt.cache_timeout", d.JWT.CacheTimeout)

	v.SetDefault("cookie.secure", d.Cookie.Secure)
	v.SetDefault("cookie.domain", d.Cookie.Domain)
	v.SetDefault("cookie.same_site", d.Cookie.SameSite)

	v.SetDefault("kafka.enabled", d.Kafka.Enabled)
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.signing_secret", d.Kafka.SigningSecret)
	v.SetDefault("kafka.audit_topic", d.Kafka.AuditTopic)
	v.SetDefault("kafka.write_timeout", d.Kafka.WriteTimeout)
	v.SetDefault("kafka.required_acks", d.Kafka.RequiredAcks)

	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.requests_per_second", d.RateLimit.RequestsPerSecond)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sampling_rate", d.Tracing.SamplingRate)
}

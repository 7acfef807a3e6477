package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/redis/go-redis/v9"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Duration parses "10s", "5m" or a bare number of seconds.
type Duration time.Duration

// SetValue implements cleanenv.Setter.
func (d *Duration) SetValue(data string) error {
	s := strings.Trim(strings.TrimSpace(data), `"'`)
	if s == "" {
		return fmt.Errorf("empty duration")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration must be like 10s, 5m or a number of seconds: %w", err)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the application configuration.
type Config struct {
	// Server settings
	ServerPort      string   `env:"SERVER_PORT" env-default:"8080"`
	ShutdownTimeout Duration `env:"SHUTDOWN_TIMEOUT" env-default:"30s"`

	// OpenTelemetry settings
	OTelEnabled  bool   `env:"OTEL_ENABLED" env-default:"true"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:"localhost:4317"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" env-default:"tasksync"`
	Environment  string `env:"ENVIRONMENT" env-default:"development"`

	Store  StoreConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Notify NotifyConfig
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	Backend    string `env:"STORE_BACKEND" env-default:"memory"`
	Collection string `env:"TASKS_COLLECTION" env-default:"tasks"`
	SQLitePath string `env:"SQLITE_PATH" env-default:"tasks.db"`
	Debug      bool   `env:"STORE_DEBUG" env-default:"false"`
}

// RedisConfig holds the Redis connection. URL, when set, overrides the rest.
type RedisConfig struct {
	URL      string `env:"REDIS_URL" env-default:""`
	Addr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" env-default:""`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

// AuthConfig holds sign-in token settings.
type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET" env-default:"dev-secret-change-me"`
	JWTIssuer string `env:"JWT_ISSUER" env-default:"tasksync"`
}

// NotifyConfig holds notification settings.
type NotifyConfig struct {
	History int `env:"NOTIFY_HISTORY" env-default:"50"`
}

// Load returns configuration from environment variables with defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("STORE_BACKEND must be memory, sqlite or redis, got %q", c.Store.Backend)
	}
	if c.Store.Collection == "" {
		return fmt.Errorf("TASKS_COLLECTION must not be empty")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	if c.Redis.URL != "" {
		if _, err := redis.ParseURL(c.Redis.URL); err != nil {
			return fmt.Errorf("REDIS_URL: %w", err)
		}
	}
	return nil
}

// RedisOptions builds client options, preferring REDIS_URL.
func (c *Config) RedisOptions() (*redis.Options, error) {
	if c.Redis.URL != "" {
		opts, err := redis.ParseURL(c.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("REDIS_URL: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}, nil
}

// Package config loads application configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Interface    string        `yaml:"interface" env:"SERVER_INTERFACE"`
	Port         string        `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// PostgresConfig holds PostgreSQL configuration
type PostgresConfig struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST"`
	Port     string `yaml:"port" env:"POSTGRES_PORT"`
	User     string `yaml:"user" env:"POSTGRES_USER"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD"`
	Database string `yaml:"database" env:"POSTGRES_DATABASE"`
	SSLMode  string `yaml:"sslmode" env:"POSTGRES_SSL_MODE"`
}

// DSN returns the connection string for pgx
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST"`
	Port     string `yaml:"port" env:"REDIS_PORT"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// Addr returns the host:port address for the Redis client
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret            string `yaml:"secret" env:"JWT_SECRET"`
	Issuer            string `yaml:"issuer" env:"JWT_ISSUER"`
	ExpirationSeconds int    `yaml:"expiration_seconds" env:"JWT_EXPIRATION_SECONDS"`
}

// RealtimeConfig holds the websocket core configuration. The replay window
// and the idempotency TTL are deliberately independent knobs; merging them
// would let a replayed-but-idempotent message succeed twice.
type RealtimeConfig struct {
	// Message authenticator
	ReplayWindow    time.Duration `yaml:"replay_window" env:"REALTIME_REPLAY_WINDOW"`
	ReplayCacheTTL  time.Duration `yaml:"replay_cache_ttl" env:"REALTIME_REPLAY_CACHE_TTL"`
	CacheSweepEvery time.Duration `yaml:"cache_sweep_every" env:"REALTIME_CACHE_SWEEP_EVERY"`

	// Command dispatch
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl" env:"REALTIME_IDEMPOTENCY_TTL"`
	MaxBatchSize   int           `yaml:"max_batch_size" env:"REALTIME_MAX_BATCH_SIZE"`

	// Rate limiting (token bucket per identity)
	BucketCapacity   float64       `yaml:"bucket_capacity" env:"REALTIME_BUCKET_CAPACITY"`
	BucketRefillRate float64       `yaml:"bucket_refill_rate" env:"REALTIME_BUCKET_REFILL_RATE"`
	BucketIdleTTL    time.Duration `yaml:"bucket_idle_ttl" env:"REALTIME_BUCKET_IDLE_TTL"`

	// Connection registry
	IdleThreshold  time.Duration `yaml:"idle_threshold" env:"REALTIME_IDLE_THRESHOLD"`
	ReapEvery      time.Duration `yaml:"reap_every" env:"REALTIME_REAP_EVERY"`
	MaxMessageSize int64         `yaml:"max_message_size" env:"REALTIME_MAX_MESSAGE_SIZE"`
	SendBufferSize int           `yaml:"send_buffer_size" env:"REALTIME_SEND_BUFFER_SIZE"`

	// Retry/timeout wrapper for business-service calls
	CallMaxAttempts int           `yaml:"call_max_attempts" env:"REALTIME_CALL_MAX_ATTEMPTS"`
	CallBaseBackoff time.Duration `yaml:"call_base_backoff" env:"REALTIME_CALL_BASE_BACKOFF"`
	CallDeadline    time.Duration `yaml:"call_deadline" env:"REALTIME_CALL_DEADLINE"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	IsDev      bool   `yaml:"is_dev" env:"LOG_DEV"`
	LogDir     string `yaml:"log_dir" env:"LOG_DIR"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"LOG_MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"LOG_MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" env:"LOG_MAX_AGE_DAYS"`
	Console    bool   `yaml:"console" env:"LOG_CONSOLE"`
}

// Default returns the baseline configuration before file and environment
// overrides are applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Interface:    "0.0.0.0",
			Port:         "8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     "5432",
				User:     "pulse",
				Password: "",
				Database: "pulse",
				SSLMode:  "disable",
			},
			Redis: RedisConfig{
				Host: "localhost",
				Port: "6379",
				DB:   0,
			},
		},
		Auth: AuthConfig{
			JWT: JWTConfig{
				Issuer:            "pulse",
				ExpirationSeconds: 3600,
			},
		},
		Realtime: RealtimeConfig{
			ReplayWindow:     5 * time.Minute,
			ReplayCacheTTL:   time.Hour,
			CacheSweepEvery:  5 * time.Minute,
			IdempotencyTTL:   5 * time.Minute,
			MaxBatchSize:     25,
			BucketCapacity:   100,
			BucketRefillRate: 100.0 / 60.0,
			BucketIdleTTL:    time.Hour,
			IdleThreshold:    10 * time.Minute,
			ReapEvery:        5 * time.Minute,
			MaxMessageSize:   64 * 1024,
			SendBufferSize:   256,
			CallMaxAttempts:  3,
			CallBaseBackoff:  100 * time.Millisecond,
			CallDeadline:     30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:   "info",
			IsDev:   false,
			Console: true,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variable overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime behavior.
func (c *Config) Validate() error {
	if c.Auth.JWT.Secret == "" {
		return fmt.Errorf("auth.jwt.secret (JWT_SECRET) is required")
	}
	if c.Realtime.BucketCapacity <= 0 {
		return fmt.Errorf("realtime.bucket_capacity must be positive")
	}
	if c.Realtime.BucketRefillRate <= 0 {
		return fmt.Errorf("realtime.bucket_refill_rate must be positive")
	}
	if c.Realtime.MaxBatchSize <= 0 {
		return fmt.Errorf("realtime.max_batch_size must be positive")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Interface, "SERVER_INTERFACE")
	setString(&cfg.Server.Port, "SERVER_PORT")
	setDuration(&cfg.Server.ReadTimeout, "SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "SERVER_WRITE_TIMEOUT")
	setDuration(&cfg.Server.IdleTimeout, "SERVER_IDLE_TIMEOUT")

	setString(&cfg.Database.Postgres.Host, "POSTGRES_HOST")
	setString(&cfg.Database.Postgres.Port, "POSTGRES_PORT")
	setString(&cfg.Database.Postgres.User, "POSTGRES_USER")
	setString(&cfg.Database.Postgres.Password, "POSTGRES_PASSWORD")
	setString(&cfg.Database.Postgres.Database, "POSTGRES_DATABASE")
	setString(&cfg.Database.Postgres.SSLMode, "POSTGRES_SSL_MODE")

	setString(&cfg.Database.Redis.Host, "REDIS_HOST")
	setString(&cfg.Database.Redis.Port, "REDIS_PORT")
	setString(&cfg.Database.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Database.Redis.DB, "REDIS_DB")

	setString(&cfg.Auth.JWT.Secret, "JWT_SECRET")
	setString(&cfg.Auth.JWT.Issuer, "JWT_ISSUER")
	setInt(&cfg.Auth.JWT.ExpirationSeconds, "JWT_EXPIRATION_SECONDS")

	setDuration(&cfg.Realtime.ReplayWindow, "REALTIME_REPLAY_WINDOW")
	setDuration(&cfg.Realtime.ReplayCacheTTL, "REALTIME_REPLAY_CACHE_TTL")
	setDuration(&cfg.Realtime.CacheSweepEvery, "REALTIME_CACHE_SWEEP_EVERY")
	setDuration(&cfg.Realtime.IdempotencyTTL, "REALTIME_IDEMPOTENCY_TTL")
	setInt(&cfg.Realtime.MaxBatchSize, "REALTIME_MAX_BATCH_SIZE")
	setFloat(&cfg.Realtime.BucketCapacity, "REALTIME_BUCKET_CAPACITY")
	setFloat(&cfg.Realtime.BucketRefillRate, "REALTIME_BUCKET_REFILL_RATE")
	setDuration(&cfg.Realtime.BucketIdleTTL, "REALTIME_BUCKET_IDLE_TTL")
	setDuration(&cfg.Realtime.IdleThreshold, "REALTIME_IDLE_THRESHOLD")
	setDuration(&cfg.Realtime.ReapEvery, "REALTIME_REAP_EVERY")
	setInt64(&cfg.Realtime.MaxMessageSize, "REALTIME_MAX_MESSAGE_SIZE")
	setInt(&cfg.Realtime.SendBufferSize, "REALTIME_SEND_BUFFER_SIZE")
	setInt(&cfg.Realtime.CallMaxAttempts, "REALTIME_CALL_MAX_ATTEMPTS")
	setDuration(&cfg.Realtime.CallBaseBackoff, "REALTIME_CALL_BASE_BACKOFF")
	setDuration(&cfg.Realtime.CallDeadline, "REALTIME_CALL_DEADLINE")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setBool(&cfg.Logging.IsDev, "LOG_DEV")
	setString(&cfg.Logging.LogDir, "LOG_DIR")
	setInt(&cfg.Logging.MaxSizeMB, "LOG_MAX_SIZE_MB")
	setInt(&cfg.Logging.MaxBackups, "LOG_MAX_BACKUPS")
	setInt(&cfg.Logging.MaxAgeDays, "LOG_MAX_AGE_DAYS")
	setBool(&cfg.Logging.Console, "LOG_CONSOLE")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

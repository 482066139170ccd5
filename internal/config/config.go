// Package config defines and loads the service configuration.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Store types.
const (
	StoreTypePostgres = "postgres"
	StoreTypeMemory   = "memory"
)

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

// ServerConfig configures the HTTP front-end.
type ServerConfig struct {
	// Address is the listen address, e.g. ":7843".
	Address string `yaml:"address"`

	// ReadTimeout bounds reading the full request.
	ReadTimeout time.Duration `yaml:"readTimeout"`

	// WriteTimeout bounds writing the full response.
	WriteTimeout time.Duration `yaml:"writeTimeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// StoreConfig configures the backing store.
type StoreConfig struct {
	// Type is the store type: postgres or memory.
	Type string `yaml:"type"`

	// Postgres configures the Postgres store.
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig configures the Postgres connection pool.
type PostgresConfig struct {
	DSN            string        `yaml:"dsn"`
	MinConns       int32         `yaml:"minConns"`
	MaxConns       int32         `yaml:"maxConns"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
}

// RedisConfig configures the Redis client used for the nonce store and
// the rate limit counter.
type RedisConfig struct {
	// Enabled switches the nonce store and counter to Redis. When false,
	// in-process stores are used; that is acceptable only for
	// single-instance deployments.
	Enabled bool `yaml:"enabled"`

	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	PoolSize     int           `yaml:"poolSize"`
	MinIdleConns int           `yaml:"minIdleConns"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// AuthConfig configures credential verification.
type AuthConfig struct {
	// HeaderName is the credential header, default Authorization.
	HeaderName string `yaml:"headerName"`

	// QueryParamName is the API key query fallback, default api_key.
	QueryParamName string `yaml:"queryParamName"`

	// TimestampTolerance is the accepted clock skew for signed requests.
	TimestampTolerance time.Duration `yaml:"timestampTolerance"`

	// NonceTTL is the nonce retention period. Must be at least the
	// timestamp tolerance.
	NonceTTL time.Duration `yaml:"nonceTTL"`
}

// RateLimitConfig configures per-client rate limiting.
type RateLimitConfig struct {
	// Enabled turns the rate limit step on.
	Enabled bool `yaml:"enabled"`

	// FailOpen bypasses the limiter when the counter store is
	// unreachable. Default false: fail closed.
	FailOpen bool `yaml:"failOpen"`

	// CacheTTL bounds staleness of cached cap resolutions.
	CacheTTL time.Duration `yaml:"cacheTTL"`

	// KeyPrefix is the counter key prefix.
	KeyPrefix string `yaml:"keyPrefix"`
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":7843",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Store: StoreConfig{
			Type: StoreTypeMemory,
			Postgres: PostgresConfig{
				MinConns:       2,
				MaxConns:       10,
				ConnectTimeout: 5 * time.Second,
			},
		},
		Redis: RedisConfig{
			Address:      "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Auth: AuthConfig{
			HeaderName:         "Authorization",
			QueryParamName:     "api_key",
			TimestampTolerance: 5 * time.Minute,
			NonceTTL:           10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:   true,
			FailOpen:  false,
			CacheTTL:  5 * time.Minute,
			KeyPrefix: "ratelimit:",
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return errors.New("server.address is required")
	}
	switch c.Store.Type {
	case StoreTypePostgres:
		if c.Store.Postgres.DSN == "" {
			return errors.New("store.postgres.dsn is required for the postgres store")
		}
	case StoreTypeMemory:
	default:
		return fmt.Errorf("unknown store type: %q", c.Store.Type)
	}
	if c.Auth.TimestampTolerance <= 0 {
		return errors.New("auth.timestampTolerance must be positive")
	}
	if c.Auth.NonceTTL < c.Auth.TimestampTolerance {
		return errors.New("auth.nonceTTL must be at least auth.timestampTolerance")
	}
	if c.RateLimit.Enabled && c.RateLimit.CacheTTL <= 0 {
		return errors.New("rateLimit.cacheTTL must be positive")
	}
	return nil
}

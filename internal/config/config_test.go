package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatekeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "server:\n  address: \":9000\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	// Unset values keep their defaults.
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, StoreTypeMemory, cfg.Store.Type)
	assert.Equal(t, 5*time.Minute, cfg.Auth.TimestampTolerance)
	assert.Equal(t, 10*time.Minute, cfg.Auth.NonceTTL)
	assert.False(t, cfg.RateLimit.FailOpen)
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":7843"
  readTimeout: 30s
store:
  type: postgres
  postgres:
    dsn: postgres://u:p@localhost:5432/db
    maxConns: 20
redis:
  enabled: true
  address: redis:6379
auth:
  timestampTolerance: 2m
  nonceTTL: 4m
rateLimit:
  enabled: true
  failOpen: true
  cacheTTL: 1m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, StoreTypePostgres, cfg.Store.Type)
	assert.Equal(t, int32(20), cfg.Store.Postgres.MaxConns)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
	assert.Equal(t, 2*time.Minute, cfg.Auth.TimestampTolerance)
	assert.True(t, cfg.RateLimit.FailOpen)
	assert.Equal(t, time.Minute, cfg.RateLimit.CacheTTL)
}

func TestLoad_EnvSubstitution(t *testing.T) {
	t.Setenv("GK_TEST_ADDR", ":8111")
	os.Unsetenv("GK_TEST_UNSET")

	path := writeConfig(t, `
server:
  address: "${GK_TEST_ADDR}"
logging:
  level: "${GK_TEST_UNSET:-debug}"
  format: "${GK_TEST_UNSET:-}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8111", cfg.Server.Address)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "", cfg.Logging.Format)
}

func TestLoad_SetEnvBeatsDefault(t *testing.T) {
	t.Setenv("GK_TEST_LEVEL", "warn")

	path := writeConfig(t, "logging:\n  level: \"${GK_TEST_LEVEL:-info}\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:    "empty address",
			mutate:  func(c *Config) { c.Server.Address = "" },
			wantErr: true,
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Store.Type = StoreTypePostgres },
			wantErr: true,
		},
		{
			name: "postgres with dsn",
			mutate: func(c *Config) {
				c.Store.Type = StoreTypePostgres
				c.Store.Postgres.DSN = "postgres://u:p@localhost/db"
			},
		},
		{
			name:    "unknown store type",
			mutate:  func(c *Config) { c.Store.Type = "etcd" },
			wantErr: true,
		},
		{
			name:    "nonce ttl below tolerance",
			mutate:  func(c *Config) { c.Auth.NonceTTL = time.Minute },
			wantErr: true,
		},
		{
			name:    "non-positive tolerance",
			mutate:  func(c *Config) { c.Auth.TimestampTolerance = 0 },
			wantErr: true,
		},
		{
			name: "zero cache ttl with rate limiting enabled",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = true
				c.RateLimit.CacheTTL = 0
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

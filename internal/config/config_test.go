package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadDefaultsWithEnvSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Realtime.ReplayWindow)
	assert.Equal(t, time.Hour, cfg.Realtime.ReplayCacheTTL)
	assert.Equal(t, 5*time.Minute, cfg.Realtime.IdempotencyTTL)
	assert.Equal(t, 25, cfg.Realtime.MaxBatchSize)
	assert.Equal(t, float64(100), cfg.Realtime.BucketCapacity)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("REALTIME_REPLAY_WINDOW", "90s")
	t.Setenv("REALTIME_MAX_BATCH_SIZE", "10")
	t.Setenv("REALTIME_BUCKET_REFILL_RATE", "2.5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Realtime.ReplayWindow)
	assert.Equal(t, 10, cfg.Realtime.MaxBatchSize)
	assert.Equal(t, 2.5, cfg.Realtime.BucketRefillRate)
}

func TestYAMLFileThenEnvPrecedence(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("SERVER_PORT", "7777")

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "6666"
realtime:
  max_batch_size: 50
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Environment wins over the file; the file wins over defaults
	assert.Equal(t, "7777", cfg.Server.Port)
	assert.Equal(t, 50, cfg.Realtime.MaxBatchSize)
}

func TestValidateRejectsBadLimits(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWT.Secret = "x"
	cfg.Realtime.BucketCapacity = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Auth.JWT.Secret = "x"
	cfg.Realtime.MaxBatchSize = -1
	assert.Error(t, cfg.Validate())
}

func TestDSNAndAddr(t *testing.T) {
	cfg := Default()
	cfg.Database.Postgres.Password = "pw"
	assert.Equal(t, "postgres://pulse:pw@localhost:5432/pulse?sslmode=disable", cfg.Database.Postgres.DSN())
	assert.Equal(t, "localhost:6379", cfg.Database.Redis.Addr())
}

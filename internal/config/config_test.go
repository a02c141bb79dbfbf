package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/pacemail")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.WorkerCount)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, time.Second, cfg.RetryBackoff)
	assert.Equal(t, 2*time.Second, cfg.SendThrottle)
	assert.Equal(t, 100, cfg.HourlyLimit)
	assert.Equal(t, "email-queue", cfg.QueuePrefix)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/pacemail")
	t.Setenv("WORKER_COUNT", "12")
	t.Setenv("SEND_THROTTLE", "250ms")
	t.Setenv("HOURLY_LIMIT", "40")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.WorkerCount)
	assert.Equal(t, 250*time.Millisecond, cfg.SendThrottle)
	assert.Equal(t, 40, cfg.HourlyLimit)
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	require.NoError(t, os.Unsetenv("DATABASE_URL"))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

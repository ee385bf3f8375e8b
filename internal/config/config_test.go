package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "RPC_PORT", "API_KEY", "PUBLIC_URL", "SHARE_DSN", "WS_PING_INTERVAL_MS", "WS_MAX_MESSAGE_SIZE", "RATE_LIMIT_PER_SEC"} {
		t.Setenv(key, "")
	}
	cfg := Load()

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, 0, cfg.RPCPort)
	assert.True(t, cfg.UsesDefaultAPIKey())
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, int64(65536), cfg.MaxMessageSize)
	assert.Equal(t, ":memory:", cfg.ShareDSN)
	assert.Equal(t, "http://localhost:3000", cfg.PublicURL())
	assert.Zero(t, cfg.RateLimit, "inbound limiter is off unless configured")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("API_KEY", "secret")
	t.Setenv("WS_READ_TIMEOUT_MS", "1500")
	t.Setenv("RATE_LIMIT_PER_SEC", "2.5")
	t.Setenv("PUBLIC_URL", "https://watch.example.com")
	t.Setenv("SHARE_TTL_MS", "not-a-number")

	cfg := Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.False(t, cfg.UsesDefaultAPIKey())
	assert.Equal(t, 1500*time.Millisecond, cfg.ReadTimeout)
	assert.Equal(t, 2.5, cfg.RateLimit)
	assert.Equal(t, "https://watch.example.com", cfg.PublicURL())
	assert.Equal(t, 24*time.Hour, cfg.ShareTTL, "invalid values keep the default")
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentwatch.yaml")
	content := `
port: 4000
api_key: from-file
share_ttl: 90m
share_dsn: memory
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("API_KEY", "from-env")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, "from-env", cfg.APIKey)
	assert.Equal(t, 90*time.Minute, cfg.ShareTTL)
	assert.Equal(t, "memory", cfg.ShareDSN)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 60*time.Second, cfg.ReadTimeout)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [1"), 0o644))
	_, err = LoadFile(path)
	assert.Error(t, err)

	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Port)
}

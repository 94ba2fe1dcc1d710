package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "carechat.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConfig_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10*time.Second, cfg.WebSocket.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.HeartbeatTimeout)
	assert.Equal(t, time.Second, cfg.WebSocket.ReconnectBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.ReconnectMaxDelay)
	assert.Equal(t, 5, cfg.WebSocket.MaxReconnectAttempts)
	assert.Equal(t, 10*time.Second, cfg.WebSocket.ConnectTimeout)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing API section", func(c *Config) { c.API = nil }},
		{"API URL wrong scheme", func(c *Config) { c.API.BaseURL = "ws://localhost:8000" }},
		{"API URL empty", func(c *Config) { c.API.BaseURL = "" }},
		{"non-positive API timeout", func(c *Config) { c.API.Timeout = 0 }},
		{"retry wait inverted", func(c *Config) { c.API.RetryWaitMin = time.Minute }},
		{"rate limit without burst", func(c *Config) { c.API.RateLimit = 5; c.API.RateBurst = 0 }},
		{"socket URL wrong scheme", func(c *Config) { c.WebSocket.BaseURL = "http://localhost:8000" }},
		{"zero heartbeat", func(c *Config) { c.WebSocket.HeartbeatInterval = 0 }},
		{"max delay below base", func(c *Config) { c.WebSocket.ReconnectMaxDelay = time.Millisecond }},
		{"negative attempts", func(c *Config) { c.WebSocket.MaxReconnectAttempts = -1 }},
		{"unknown store", func(c *Config) { c.Store.Backend = "etcd" }},
		{"sqlite without path", func(c *Config) { c.Store.Path = "" }},
		{"redis without addr", func(c *Config) { c.Store.Backend = StoreRedis; c.Store.RedisAddr = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("CARECHAT_API_BASE_URL", "https://api.example.com")
	t.Setenv("CARECHAT_API_RETRY_MAX", "0")
	t.Setenv("CARECHAT_WEBSOCKET_BASE_URL", "wss://api.example.com")
	t.Setenv("CARECHAT_WEBSOCKET_HEARTBEAT_TIMEOUT", "45s")
	t.Setenv("CARECHAT_STORE_BACKEND", "memory")
	t.Setenv("CARECHAT_LOG_LEVEL", "debug")
	t.Setenv("CARECHAT_METRICS_ADDR", ":9090")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.API.BaseURL)
	assert.Equal(t, 0, cfg.API.RetryMax)
	assert.Equal(t, "wss://api.example.com", cfg.WebSocket.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.WebSocket.HeartbeatTimeout)
	assert.Equal(t, 10*time.Second, cfg.WebSocket.HeartbeatInterval, "unset fields keep defaults")
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, "./carechat.db", cfg.Store.Path, "store path must not pick up $PATH")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestConfig_LoadFromEnvInvalidValue(t *testing.T) {
	t.Setenv("CARECHAT_WEBSOCKET_HEARTBEAT_INTERVAL", "often")

	_, err := LoadFromEnv()
	assert.Error(t, err)
}

func TestConfig_LoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `{
		"api": {"base_url": "https://chat.example.com", "timeout": "3s", "retry_max": 1},
		"websocket": {"base_url": "wss://chat.example.com", "reconnect_max_delay": "1m", "max_reconnect_attempts": 8},
		"store": {"backend": "redis", "redis_addr": "cache:6379", "redis_db": 2},
		"logging": {"level": "warn", "development": true}
	}`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "https://chat.example.com", cfg.API.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.API.Timeout)
	assert.Equal(t, 1, cfg.API.RetryMax)
	assert.Equal(t, time.Minute, cfg.WebSocket.ReconnectMaxDelay)
	assert.Equal(t, 8, cfg.WebSocket.MaxReconnectAttempts)
	assert.Equal(t, StoreRedis, cfg.Store.Backend)
	assert.Equal(t, 2, cfg.Store.RedisDB)
	assert.True(t, cfg.Logging.Development)
}

func TestConfig_LoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeConfigFile(t, `{not json`))
	assert.Error(t, err)

	_, err = LoadFromFile(writeConfigFile(t, `{"websocket": {"heartbeat_timeout": "soon"}}`))
	assert.Error(t, err)

	_, err = LoadFromFile(writeConfigFile(t, `{"store": {"backend": "floppy"}}`))
	assert.Error(t, err)
}

func TestConfig_LoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("CARECHAT_API_BASE_URL", "https://from-env.example.com")
	t.Setenv("CARECHAT_LOG_LEVEL", "debug")
	path := writeConfigFile(t, `{"api": {"base_url": "https://from-file.example.com"}}`)

	cfg, err := LoadConfigWithPrecedence(path)
	require.NoError(t, err)
	assert.Equal(t, "https://from-file.example.com", cfg.API.BaseURL, "file beats env")
	assert.Equal(t, "debug", cfg.Logging.Level, "env beats defaults")

	cfg, err = LoadConfigWithPrecedence("")
	require.NoError(t, err)
	assert.Equal(t, "https://from-env.example.com", cfg.API.BaseURL)

	_, err = LoadConfigWithPrecedence(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// EnvPrefix prefixes every environment variable, e.g. CARECHAT_API_BASE_URL.
const EnvPrefix = "CARECHAT"

// ARCHITECTURAL DISCOVERY: One section per component keeps each component's
// constructor independent of the others' settings.
type Config struct {
	API       *APIConfig       `json:"api"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Store     *StoreConfig     `json:"store"`
	Logging   *LoggingConfig   `json:"logging"`
	Metrics   *MetricsConfig   `json:"metrics"`
}

// APIConfig covers the REST backend used for credentials and the façade.
type APIConfig struct {
	BaseURL      string        `split_words:"true"`
	Timeout      time.Duration `split_words:"true"`
	RetryMax     int           `split_words:"true"`
	RetryWaitMin time.Duration `split_words:"true"`
	RetryWaitMax time.Duration `split_words:"true"`
	RateLimit    float64       `split_words:"true"` // requests per second, 0 disables
	RateBurst    int           `split_words:"true"`
}

// WebSocketConfig covers the chat socket and its reconnect policy.
// FUNCTIONAL DISCOVERY: Heartbeat defaults mirror the server, which probes
// every 10s; 30s of silence means the connection is dead.
type WebSocketConfig struct {
	BaseURL              string        `split_words:"true"`
	ConnectTimeout       time.Duration `split_words:"true"`
	WriteTimeout         time.Duration `split_words:"true"`
	SendBufferSize       int           `split_words:"true"`
	HeartbeatInterval    time.Duration `split_words:"true"`
	HeartbeatTimeout     time.Duration `split_words:"true"`
	ReconnectBaseDelay   time.Duration `split_words:"true"`
	ReconnectMaxDelay    time.Duration `split_words:"true"`
	MaxReconnectAttempts int           `split_words:"true"`
}

// StoreConfig selects where session credentials persist.
type StoreConfig struct {
	Backend       string `split_words:"true"`
	Path          string `split_words:"true"`
	RedisAddr     string `split_words:"true"`
	RedisPassword string `split_words:"true"`
	RedisDB       int    `split_words:"true"`
	RedisPrefix   string `split_words:"true"`
}

type LoggingConfig struct {
	Level       string `split_words:"true"`
	Development bool   `split_words:"true"`
}

// MetricsConfig enables the /metrics and /health listener when Addr is set.
type MetricsConfig struct {
	Addr string `split_words:"true"`
}

// DefaultConfig targets a backend running locally on port 8000.
func DefaultConfig() *Config {
	return &Config{
		API: &APIConfig{
			BaseURL:      "http://127.0.0.1:8000",
			Timeout:      15 * time.Second,
			RetryMax:     3,
			RetryWaitMin: 500 * time.Millisecond,
			RetryWaitMax: 5 * time.Second,
			RateLimit:    0,
			RateBurst:    1,
		},
		WebSocket: &WebSocketConfig{
			BaseURL:              "ws://127.0.0.1:8000",
			ConnectTimeout:       10 * time.Second,
			WriteTimeout:         5 * time.Second,
			SendBufferSize:       100,
			HeartbeatInterval:    10 * time.Second,
			HeartbeatTimeout:     30 * time.Second,
			ReconnectBaseDelay:   time.Second,
			ReconnectMaxDelay:    30 * time.Second,
			MaxReconnectAttempts: 5,
		},
		Store: &StoreConfig{
			Backend:     StoreSQLite,
			Path:        "./carechat.db",
			RedisAddr:   "127.0.0.1:6379",
			RedisPrefix: "carechat:cred:",
		},
		Logging: &LoggingConfig{
			Level: "info",
		},
		Metrics: &MetricsConfig{},
	}
}

// Validate rejects configurations the client cannot run with.
func (c *Config) Validate() error {
	if c.API == nil {
		return fmt.Errorf("API configuration is required")
	}
	if err := validateURL(c.API.BaseURL, "http", "https"); err != nil {
		return fmt.Errorf("API base URL: %w", err)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("API timeout must be positive")
	}
	if c.API.RetryMax < 0 {
		return fmt.Errorf("API retry max cannot be negative")
	}
	if c.API.RetryWaitMin > c.API.RetryWaitMax {
		return fmt.Errorf("API retry wait min must not exceed retry wait max")
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("API rate limit cannot be negative")
	}
	if c.API.RateLimit > 0 && c.API.RateBurst <= 0 {
		return fmt.Errorf("API rate burst must be positive when rate limiting")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	ws := c.WebSocket
	if err := validateURL(ws.BaseURL, "ws", "wss"); err != nil {
		return fmt.Errorf("WebSocket base URL: %w", err)
	}
	if ws.ConnectTimeout <= 0 || ws.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket timeouts must be positive")
	}
	if ws.SendBufferSize <= 0 {
		return fmt.Errorf("WebSocket send buffer size must be positive")
	}
	if ws.HeartbeatInterval <= 0 || ws.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat interval and timeout must be positive")
	}
	if ws.ReconnectBaseDelay <= 0 || ws.ReconnectMaxDelay < ws.ReconnectBaseDelay {
		return fmt.Errorf("reconnect delays must be positive with max >= base")
	}
	if ws.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts cannot be negative")
	}

	if c.Store == nil {
		return fmt.Errorf("store configuration is required")
	}
	switch c.Store.Backend {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store path cannot be empty for the sqlite backend")
		}
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("redis address cannot be empty for the redis backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Logging == nil {
		return fmt.Errorf("logging configuration is required")
	}
	if c.Metrics == nil {
		return fmt.Errorf("metrics configuration is required")
	}

	return nil
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("missing host in %q", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("scheme of %q must be one of %v", raw, schemes)
}

// LoadFromEnv overlays CARECHAT_<SECTION>_<FIELD> variables on the defaults.
// TECHNICAL DISCOVERY: split_words derives the names (BaseURL -> BASE_URL)
// without an unprefixed alt name, so CARECHAT_STORE_PATH can never fall back
// to $PATH. envconfig leaves fields without a matching variable
// untouched, so pre-populating the struct with defaults gives env > defaults.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()

	sections := []struct {
		prefix string
		spec   interface{}
	}{
		{EnvPrefix + "_API", cfg.API},
		{EnvPrefix + "_WEBSOCKET", cfg.WebSocket},
		{EnvPrefix + "_STORE", cfg.Store},
		{EnvPrefix + "_LOG", cfg.Logging},
		{EnvPrefix + "_METRICS", cfg.Metrics},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.spec); err != nil {
			return nil, fmt.Errorf("failed to load %s environment: %w", s.prefix, err)
		}
	}

	return cfg, nil
}

// ConfigFile is the JSON layout of a configuration file. Durations are
// strings such as "10s".
type ConfigFile struct {
	API       *APIConfigFile       `json:"api"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Store     *StoreConfigFile     `json:"store"`
	Logging   *LoggingConfigFile   `json:"logging"`
	Metrics   *MetricsConfigFile   `json:"metrics"`
}

type APIConfigFile struct {
	BaseURL      string   `json:"base_url"`
	Timeout      string   `json:"timeout"`
	RetryMax     *int     `json:"retry_max"`
	RetryWaitMin string   `json:"retry_wait_min"`
	RetryWaitMax string   `json:"retry_wait_max"`
	RateLimit    *float64 `json:"rate_limit"`
	RateBurst    int      `json:"rate_burst"`
}

type WebSocketConfigFile struct {
	BaseURL              string `json:"base_url"`
	ConnectTimeout       string `json:"connect_timeout"`
	WriteTimeout         string `json:"write_timeout"`
	SendBufferSize       int    `json:"send_buffer_size"`
	HeartbeatInterval    string `json:"heartbeat_interval"`
	HeartbeatTimeout     string `json:"heartbeat_timeout"`
	ReconnectBaseDelay   string `json:"reconnect_base_delay"`
	ReconnectMaxDelay    string `json:"reconnect_max_delay"`
	MaxReconnectAttempts *int   `json:"max_reconnect_attempts"`
}

type StoreConfigFile struct {
	Backend       string `json:"backend"`
	Path          string `json:"path"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       *int   `json:"redis_db"`
	RedisPrefix   string `json:"redis_prefix"`
}

type LoggingConfigFile struct {
	Level       string `json:"level"`
	Development *bool  `json:"development"`
}

type MetricsConfigFile struct {
	Addr string `json:"addr"`
}

// LoadFromFile reads a JSON configuration file over the defaults.
func LoadFromFile(filepath string) (*Config, error) {
	cfg := DefaultConfig()
	if err := applyFile(cfg, filepath); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return cfg, nil
}

// LoadConfigWithPrecedence resolves file > environment > defaults. An empty
// filepath skips the file layer; a missing or invalid file is an error.
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	cfg, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}

	if filepath != "" {
		if err := applyFile(cfg, filepath); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyFile(cfg *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	var p durationParser
	if f := file.API; f != nil {
		setString(&cfg.API.BaseURL, f.BaseURL)
		p.parse("api.timeout", f.Timeout, &cfg.API.Timeout)
		p.parse("api.retry_wait_min", f.RetryWaitMin, &cfg.API.RetryWaitMin)
		p.parse("api.retry_wait_max", f.RetryWaitMax, &cfg.API.RetryWaitMax)
		if f.RetryMax != nil {
			cfg.API.RetryMax = *f.RetryMax
		}
		if f.RateLimit != nil {
			cfg.API.RateLimit = *f.RateLimit
		}
		if f.RateBurst > 0 {
			cfg.API.RateBurst = f.RateBurst
		}
	}

	if f := file.WebSocket; f != nil {
		ws := cfg.WebSocket
		setString(&ws.BaseURL, f.BaseURL)
		p.parse("websocket.connect_timeout", f.ConnectTimeout, &ws.ConnectTimeout)
		p.parse("websocket.write_timeout", f.WriteTimeout, &ws.WriteTimeout)
		p.parse("websocket.heartbeat_interval", f.HeartbeatInterval, &ws.HeartbeatInterval)
		p.parse("websocket.heartbeat_timeout", f.HeartbeatTimeout, &ws.HeartbeatTimeout)
		p.parse("websocket.reconnect_base_delay", f.ReconnectBaseDelay, &ws.ReconnectBaseDelay)
		p.parse("websocket.reconnect_max_delay", f.ReconnectMaxDelay, &ws.ReconnectMaxDelay)
		if f.SendBufferSize > 0 {
			ws.SendBufferSize = f.SendBufferSize
		}
		if f.MaxReconnectAttempts != nil {
			ws.MaxReconnectAttempts = *f.MaxReconnectAttempts
		}
	}

	if f := file.Store; f != nil {
		setString(&cfg.Store.Backend, f.Backend)
		setString(&cfg.Store.Path, f.Path)
		setString(&cfg.Store.RedisAddr, f.RedisAddr)
		setString(&cfg.Store.RedisPassword, f.RedisPassword)
		setString(&cfg.Store.RedisPrefix, f.RedisPrefix)
		if f.RedisDB != nil {
			cfg.Store.RedisDB = *f.RedisDB
		}
	}

	if f := file.Logging; f != nil {
		setString(&cfg.Logging.Level, f.Level)
		if f.Development != nil {
			cfg.Logging.Development = *f.Development
		}
	}

	if f := file.Metrics; f != nil {
		setString(&cfg.Metrics.Addr, f.Addr)
	}

	if p.err != nil {
		return fmt.Errorf("invalid duration in %s: %w", filepath, p.err)
	}
	return nil
}

// durationParser keeps the first parse error so a file can be applied
// field by field without an error check after every line.
type durationParser struct {
	err error
}

func (p *durationParser) parse(field, value string, dst *time.Duration) {
	if p.err != nil || value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", field, err)
		return
	}
	*dst = d
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

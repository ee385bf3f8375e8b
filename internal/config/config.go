// Package config provides configuration for the relay server and its clients.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultAPIKey is used when API_KEY is unset. The server warns about it.
const DefaultAPIKey = "default-insecure-key"

// Config holds the relay configuration.
type Config struct {
	// Server settings
	Port    int    `yaml:"port"`     // public HTTP + WebSocket port
	RPCPort int    `yaml:"rpc_port"` // operator JSON-RPC port, 0 disables
	BaseURL string `yaml:"public_url"`

	// Auth settings
	APIKey string `yaml:"api_key"` // shared secret for every connection

	// WebSocket settings
	PingInterval   time.Duration `yaml:"ping_interval"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	SendBuffer     int           `yaml:"send_buffer"`

	// Inbound rate limit per connection
	RateLimit float64 `yaml:"rate_limit"` // events per second, 0 disables
	RateBurst int     `yaml:"rate_burst"`

	// Share snapshots
	ShareDSN           string        `yaml:"share_dsn"` // sqlite DSN, or "memory"
	ShareTTL           time.Duration `yaml:"share_ttl"`
	ShareSweepSchedule string        `yaml:"share_sweep_schedule"`

	// Kill policy
	KillPolicyFile string `yaml:"kill_policy_file"`

	// Client settings
	DashboardURL string `yaml:"dashboard_url"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Port:               3000,
		APIKey:             DefaultAPIKey,
		PingInterval:       30 * time.Second,
		WriteTimeout:       10 * time.Second,
		ReadTimeout:        60 * time.Second,
		MaxMessageSize:     65536,
		SendBuffer:         256,
		RateLimit:          0,
		RateBurst:          100,
		ShareDSN:           ":memory:",
		ShareTTL:           24 * time.Hour,
		ShareSweepSchedule: "@every 10m",
		DashboardURL:       "ws://localhost:3000/ws",
		LogLevel:           "info",
	}
}

// Load loads configuration from environment variables on top of the defaults.
func Load() *Config {
	cfg := Default()
	applyEnv(cfg)
	return cfg
}

// LoadFile reads a YAML file, then applies environment overrides. An empty
// path behaves like Load.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

// PublicURL is the externally visible base URL used in share links.
func (c *Config) PublicURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return fmt.Sprintf("http://localhost:%d", c.Port)
}

// UsesDefaultAPIKey reports whether the insecure fallback key is active.
func (c *Config) UsesDefaultAPIKey() bool {
	return c.APIKey == DefaultAPIKey
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.RPCPort = getEnvInt("RPC_PORT", cfg.RPCPort)
	cfg.BaseURL = getEnv("PUBLIC_URL", cfg.BaseURL)
	cfg.APIKey = getEnv("API_KEY", cfg.APIKey)
	cfg.PingInterval = getEnvMillis("WS_PING_INTERVAL_MS", cfg.PingInterval)
	cfg.WriteTimeout = getEnvMillis("WS_WRITE_TIMEOUT_MS", cfg.WriteTimeout)
	cfg.ReadTimeout = getEnvMillis("WS_READ_TIMEOUT_MS", cfg.ReadTimeout)
	cfg.MaxMessageSize = int64(getEnvInt("WS_MAX_MESSAGE_SIZE", int(cfg.MaxMessageSize)))
	cfg.SendBuffer = getEnvInt("WS_SEND_BUFFER", cfg.SendBuffer)
	cfg.RateLimit = getEnvFloat("RATE_LIMIT_PER_SEC", cfg.RateLimit)
	cfg.RateBurst = getEnvInt("RATE_LIMIT_BURST", cfg.RateBurst)
	cfg.ShareDSN = getEnv("SHARE_DSN", cfg.ShareDSN)
	cfg.ShareTTL = getEnvMillis("SHARE_TTL_MS", cfg.ShareTTL)
	cfg.ShareSweepSchedule = getEnv("SHARE_SWEEP_SCHEDULE", cfg.ShareSweepSchedule)
	cfg.KillPolicyFile = getEnv("KILL_POLICY_FILE", cfg.KillPolicyFile)
	cfg.DashboardURL = getEnv("DASHBOARD_URL", cfg.DashboardURL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvMillis(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}

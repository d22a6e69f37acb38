package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"xrlink/pkg/types"
)

// Config holds all settings for the relay process.
type Config struct {
	Env       string           `yaml:"env"`
	HTTP      *HTTPConfig      `yaml:"http"`
	WebSocket *WebSocketConfig `yaml:"websocket"`
	History   *HistoryConfig   `yaml:"history"`
	Roles     *RolesConfig     `yaml:"roles"`
}

// HTTPConfig holds the listener settings.
type HTTPConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// WebSocketConfig holds transport and heartbeat settings.
type WebSocketConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	WriteBuffer  int           `yaml:"write_buffer"`
}

// HistoryConfig holds the replay buffer settings.
type HistoryConfig struct {
	Capacity    int `yaml:"capacity"`
	ReplayCount int `yaml:"replay_count"`
}

// RolesConfig maps declared identities (device names or logical ids) to
// roles. Identified connections matching neither list become viewers.
type RolesConfig struct {
	Control []string `yaml:"control"`
	Display []string `yaml:"display"`
}

// RoleMap converts the configured lists into the resolver used at
// identification time.
func (r *RolesConfig) RoleMap() types.RoleMap {
	return types.RoleMap{
		Control: r.Control,
		Display: r.Display,
	}
}

// DefaultConfig returns the production defaults: a 30s ping interval with
// a 60s read deadline (two-cycle eviction), 100-message history replaying
// the newest 10, and the role names the shipped clients declare.
func DefaultConfig() *Config {
	defaults := types.DefaultRoleMap()
	return &Config{
		Env: "development",
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 5 * time.Second,
			WriteBuffer:  100,
		},
		History: &HistoryConfig{
			Capacity:    100,
			ReplayCount: 10,
		},
		Roles: &RolesConfig{
			Control: defaults.Control,
			Display: defaults.Display,
		},
	}
}

// Validate checks the configuration for values that would fail at
// runtime.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("http configuration is required")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("http host cannot be empty")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("http read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("http write timeout must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("websocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket write timeout must be positive")
	}
	if c.WebSocket.WriteBuffer <= 0 {
		return fmt.Errorf("websocket write buffer must be positive")
	}

	if c.History == nil {
		return fmt.Errorf("history configuration is required")
	}
	if c.History.Capacity <= 0 {
		return fmt.Errorf("history capacity must be positive")
	}
	if c.History.ReplayCount <= 0 || c.History.ReplayCount > c.History.Capacity {
		return fmt.Errorf("history replay count must be between 1 and the capacity")
	}

	if c.Roles == nil {
		return fmt.Errorf("roles configuration is required")
	}

	return nil
}

// IsDevelopment reports whether the process runs in development mode,
// which switches logging to the console writer.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// LoadFromEnv returns the defaults overridden by environment variables.
// A .env file in the working directory is folded in first when present.
func LoadFromEnv() *Config {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if env := os.Getenv("XRLINK_ENV"); env != "" {
		cfg.Env = env
	}
	if host := os.Getenv("XRLINK_HTTP_HOST"); host != "" {
		cfg.HTTP.Host = host
	}
	if port := os.Getenv("XRLINK_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.HTTP.Port = p
		}
	}
	if v := os.Getenv("XRLINK_HTTP_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.ReadTimeout = d
		}
	}
	if v := os.Getenv("XRLINK_HTTP_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.WriteTimeout = d
		}
	}
	if v := os.Getenv("XRLINK_WS_PING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WebSocket.PingInterval = d
		}
	}
	if v := os.Getenv("XRLINK_WS_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WebSocket.ReadTimeout = d
		}
	}
	if v := os.Getenv("XRLINK_WS_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WebSocket.WriteTimeout = d
		}
	}
	if v := os.Getenv("XRLINK_WS_WRITE_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WebSocket.WriteBuffer = n
		}
	}
	if v := os.Getenv("XRLINK_HISTORY_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.History.Capacity = n
		}
	}
	if v := os.Getenv("XRLINK_HISTORY_REPLAY_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.History.ReplayCount = n
		}
	}

	return cfg
}

// fileConfig mirrors Config for YAML parsing; durations are strings
// ("30s") converted with time.ParseDuration.
type fileConfig struct {
	Env       string           `yaml:"env"`
	HTTP      *httpFileConfig  `yaml:"http"`
	WebSocket *wsFileConfig    `yaml:"websocket"`
	History   *HistoryConfig   `yaml:"history"`
	Roles     *RolesConfig     `yaml:"roles"`
}

type httpFileConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

type wsFileConfig struct {
	PingInterval string `yaml:"ping_interval"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
	WriteBuffer  int    `yaml:"write_buffer"`
}

// LoadFromFile parses a YAML configuration file over the defaults.
// Environment variables referenced as ${VAR} are expanded first.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var fc fileConfig
	if err := yaml.Unmarshal([]byte(expanded), &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if fc.Env != "" {
		cfg.Env = fc.Env
	}
	if fc.HTTP != nil {
		if fc.HTTP.Host != "" {
			cfg.HTTP.Host = fc.HTTP.Host
		}
		if fc.HTTP.Port > 0 {
			cfg.HTTP.Port = fc.HTTP.Port
		}
		setDuration(&cfg.HTTP.ReadTimeout, fc.HTTP.ReadTimeout)
		setDuration(&cfg.HTTP.WriteTimeout, fc.HTTP.WriteTimeout)
	}
	if fc.WebSocket != nil {
		setDuration(&cfg.WebSocket.PingInterval, fc.WebSocket.PingInterval)
		setDuration(&cfg.WebSocket.ReadTimeout, fc.WebSocket.ReadTimeout)
		setDuration(&cfg.WebSocket.WriteTimeout, fc.WebSocket.WriteTimeout)
		if fc.WebSocket.WriteBuffer > 0 {
			cfg.WebSocket.WriteBuffer = fc.WebSocket.WriteBuffer
		}
	}
	if fc.History != nil {
		if fc.History.Capacity > 0 {
			cfg.History.Capacity = fc.History.Capacity
		}
		if fc.History.ReplayCount > 0 {
			cfg.History.ReplayCount = fc.History.ReplayCount
		}
	}
	if fc.Roles != nil {
		cfg.Roles = fc.Roles
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	return cfg, nil
}

func setDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}

// Load resolves configuration with file > environment > defaults
// precedence. File errors are ignored so environment and defaults still
// apply when no file is deployed.
func Load(path string) *Config {
	cfg := LoadFromEnv()

	if path != "" {
		if fileCfg, err := LoadFromFile(path); err == nil {
			cfg = fileCfg
		}
	}

	return cfg
}

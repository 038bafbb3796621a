// Package config loads client settings from YAML or TOML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/luciancaetano/s2snet"
)

// Environment overrides applied after the file is decoded.
const (
	EnvAppID        = "S2S_APP_ID"
	EnvServerName   = "S2S_SERVER_NAME"
	EnvServerSecret = "S2S_SERVER_SECRET"
	EnvURL          = "S2S_URL"
	EnvAutoAuth     = "S2S_AUTO_AUTHENTICATE"
)

// Config holds everything needed to build a client.
type Config struct {
	AppID             string          `yaml:"app_id" toml:"app_id"`
	ServerName        string          `yaml:"server_name" toml:"server_name"`
	ServerSecret      string          `yaml:"server_secret" toml:"server_secret"`
	URL               string          `yaml:"url" toml:"url"`
	AutoAuthenticate  bool            `yaml:"auto_authenticate" toml:"auto_authenticate"`
	LogEnabled        bool            `yaml:"log_enabled" toml:"log_enabled"`
	LogLevel          string          `yaml:"log_level" toml:"log_level"`
	HeartbeatInterval time.Duration   `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	RequestTimeout    time.Duration   `yaml:"request_timeout" toml:"request_timeout"`
	RateLimit         RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	RTT               RTTConfig       `yaml:"rtt" toml:"rtt"`
}

// RateLimitConfig throttles outgoing dispatcher requests.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" toml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// RTTConfig tunes the push connection.
type RTTConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" toml:"handshake_timeout"`
}

// Default returns a config with every optional field set.
func Default() Config {
	return Config{
		URL:               s2snet.DefaultEndpointURL,
		LogLevel:          "info",
		HeartbeatInterval: s2snet.DefaultHeartbeatInterval,
		RequestTimeout:    s2snet.DefaultRequestTimeout,
		RTT: RTTConfig{
			HandshakeTimeout: s2snet.DefaultRTTHandshakeTimeout,
		},
	}
}

// Load reads path, choosing the decoder by extension (.yaml, .yml or .toml),
// then applies defaults and env overrides and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		return Config{}, fmt.Errorf("config load failed (%s): unsupported extension", path)
	}
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}

	cfg.ApplyDefaults()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero optional fields from Default.
func (c *Config) ApplyDefaults() {
	def := Default()
	if c.URL == "" {
		c.URL = def.URL
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.RTT.HandshakeTimeout <= 0 {
		c.RTT.HandshakeTimeout = def.RTT.HandshakeTimeout
	}
	if c.RateLimit.Enabled && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 1
	}
}

// ApplyEnv overrides credentials and endpoint from the environment.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvAppID)); v != "" {
		c.AppID = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvServerName)); v != "" {
		c.ServerName = v
	}
	if v := os.Getenv(EnvServerSecret); v != "" {
		c.ServerSecret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvURL)); v != "" {
		c.URL = v
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvAutoAuth))); err == nil {
		c.AutoAuthenticate = v
	}
}

// Validate reports missing credentials and inconsistent throttling settings.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AppID) == "" {
		errs = append(errs, errors.New("app_id is required"))
	}
	if strings.TrimSpace(c.ServerName) == "" {
		errs = append(errs, errors.New("server_name is required"))
	}
	if c.ServerSecret == "" {
		errs = append(errs, errors.New("server_secret is required"))
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("rate_limit.requests_per_second must be positive when enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

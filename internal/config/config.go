// ABOUTME: Configuration loading and parsing for tutor-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/2389/tutor-gateway/internal/domain"
)

// MinJWTSecretLength is the shortest accepted HMAC signing secret.
const MinJWTSecretLength = 32

// Defaults applied when a value is omitted.
const (
	DefaultHTTPAddr          = "127.0.0.1:8080"
	DefaultTokenTTL          = 24 * time.Hour
	DefaultIdleTimeout       = 30 * time.Minute
	DefaultSweepInterval     = time.Minute
	DefaultAgentTimeout      = 10 * time.Second
	DefaultMaxRetries        = 1
	DefaultDedupeTTL         = 10 * time.Minute
	DefaultDedupeSize        = 10000
	DefaultRequestsPerMinute = 120
)

// Config represents the complete tutor-gateway configuration
type Config struct {
	Server      ServerConfig           `yaml:"server" toml:"server"`
	Database    DatabaseConfig         `yaml:"database" toml:"database"`
	Auth        AuthConfig             `yaml:"auth" toml:"auth"`
	Sessions    SessionsConfig         `yaml:"sessions" toml:"sessions"`
	Coordinator CoordinatorConfig      `yaml:"coordinator" toml:"coordinator"`
	Agents      map[string]AgentConfig `yaml:"agents" toml:"agents"`
	RateLimit   RateLimitConfig        `yaml:"rate_limit" toml:"rate_limit"`
	Logging     LoggingConfig          `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds token verification settings
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"-" toml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl" toml:"token_ttl"`
}

// SessionsConfig holds session lifecycle timing
type SessionsConfig struct {
	IdleTimeout   time.Duration `yaml:"-" toml:"-"`
	SweepInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	IdleTimeoutRaw   string `yaml:"idle_timeout" toml:"idle_timeout"`
	SweepIntervalRaw string `yaml:"sweep_interval" toml:"sweep_interval"`
}

// CoordinatorConfig holds dispatch and replay protection settings
type CoordinatorConfig struct {
	DefaultTimeout time.Duration `yaml:"-" toml:"-"`
	DedupeTTL      time.Duration `yaml:"-" toml:"-"`
	MaxRetries     *int          `yaml:"max_retries" toml:"max_retries"`
	DedupeSize     int           `yaml:"dedupe_size" toml:"dedupe_size"`

	DefaultTimeoutRaw string `yaml:"default_timeout" toml:"default_timeout"`
	DedupeTTLRaw      string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// Retries returns the configured retry bound.
func (c CoordinatorConfig) Retries() int {
	if c.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *c.MaxRetries
}

// AgentConfig describes how to reach one agent capability
type AgentConfig struct {
	Address   string   `yaml:"address" toml:"address"`
	Addresses []string `yaml:"addresses" toml:"addresses"`
	// RateLimit is calls per second; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" toml:"rate_limit"`
	Burst     int     `yaml:"burst" toml:"burst"`
	// Fallback is served when the agent cannot be reached.
	Fallback string `yaml:"fallback" toml:"fallback"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// Endpoints returns every configured address, Address first.
func (a AgentConfig) Endpoints() []string {
	var out []string
	if a.Address != "" {
		out = append(out, a.Address)
	}
	for _, addr := range a.Addresses {
		if addr != "" && !slices.Contains(out, addr) {
			out = append(out, addr)
		}
	}
	return out
}

// RateLimitConfig holds the per-client HTTP request limit
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int `yaml:"burst" toml:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
}

// Parse decodes raw configuration content.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// LoadEnvFile loads KEY=value pairs from path into the process environment.
// A missing file is not an error. Variables already set are left alone.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Auth.TokenTTLRaw == "" {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Sessions.IdleTimeoutRaw == "" {
		c.Sessions.IdleTimeout = DefaultIdleTimeout
	}
	if c.Sessions.SweepIntervalRaw == "" {
		c.Sessions.SweepInterval = DefaultSweepInterval
	}
	if c.Coordinator.DefaultTimeoutRaw == "" {
		c.Coordinator.DefaultTimeout = DefaultAgentTimeout
	}
	if c.Coordinator.DedupeTTLRaw == "" {
		c.Coordinator.DedupeTTL = DefaultDedupeTTL
	}
	if c.Coordinator.DedupeSize == 0 {
		c.Coordinator.DedupeSize = DefaultDedupeSize
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	for name, a := range c.Agents {
		if a.TimeoutRaw == "" {
			a.Timeout = c.Coordinator.DefaultTimeout
			c.Agents[name] = a
		}
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.Sessions.IdleTimeout < 0 || c.Sessions.SweepInterval < 0 {
		return fmt.Errorf("sessions durations must not be negative")
	}
	if c.Coordinator.DefaultTimeout <= 0 {
		return fmt.Errorf("coordinator.default_timeout must be positive")
	}
	if c.Coordinator.Retries() < 0 {
		return fmt.Errorf("coordinator.max_retries must not be negative")
	}
	if c.Coordinator.DedupeSize < 0 {
		return fmt.Errorf("coordinator.dedupe_size must not be negative")
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must not be negative")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent must be configured")
	}
	_, err := c.AgentSettings()
	return err
}

// AgentSettings returns the agent table keyed by capability.
func (c *Config) AgentSettings() (map[domain.Capability]AgentConfig, error) {
	out := make(map[domain.Capability]AgentConfig, len(c.Agents))
	for name, a := range c.Agents {
		capability, err := domain.ParseCapability(name)
		if err != nil || !capability.Dispatchable() {
			return nil, fmt.Errorf("agents.%s: %w", name, domain.ErrUnknownCapability)
		}
		if _, dup := out[capability]; dup {
			return nil, fmt.Errorf("agents.%s: configured twice", name)
		}
		if len(a.Endpoints()) == 0 {
			return nil, fmt.Errorf("agents.%s: address is required", name)
		}
		if a.Timeout <= 0 {
			return nil, fmt.Errorf("agents.%s: timeout must be positive", name)
		}
		if a.RateLimit < 0 || a.Burst < 0 {
			return nil, fmt.Errorf("agents.%s: rate limit must not be negative", name)
		}
		out[capability] = a
	}
	return out, nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"sessions.idle_timeout", cfg.Sessions.IdleTimeoutRaw, &cfg.Sessions.IdleTimeout},
		{"sessions.sweep_interval", cfg.Sessions.SweepIntervalRaw, &cfg.Sessions.SweepInterval},
		{"coordinator.default_timeout", cfg.Coordinator.DefaultTimeoutRaw, &cfg.Coordinator.DefaultTimeout},
		{"coordinator.dedupe_ttl", cfg.Coordinator.DedupeTTLRaw, &cfg.Coordinator.DedupeTTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	for name, a := range cfg.Agents {
		if a.TimeoutRaw == "" {
			continue
		}
		d, err := time.ParseDuration(a.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing agents.%s.timeout %q: %w", name, a.TimeoutRaw, err)
		}
		a.Timeout = d
		cfg.Agents[name] = a
	}
	return nil
}

// DefaultYAML is the starter configuration written by `tutor-gateway init`.
const DefaultYAML = `server:
  http_addr: "127.0.0.1:8080"

database:
  path: "./tutor-gateway.db"

auth:
  jwt_secret: "${TUTOR_JWT_SECRET}"
  token_ttl: "24h"

sessions:
  idle_timeout: "30m"
  sweep_interval: "1m"

coordinator:
  default_timeout: "10s"
  max_retries: 1
  dedupe_ttl: "10m"
  dedupe_size: 10000

agents:
  content:
    address: "127.0.0.1:50061"
    fallback: "I'm having trouble right now. Let's try again in a moment!"
  assessment:
    address: "127.0.0.1:50062"
  analytics:
    address: "127.0.0.1:50063"
  adaptive:
    address: "127.0.0.1:50064"
    timeout: "5s"
  voice:
    address: "127.0.0.1:50065"
    rate_limit: 5
    burst: 2
  engagement:
    address: "127.0.0.1:50066"
    timeout: "2s"
    fallback: "Keep going, you're doing great!"

rate_limit:
  requests_per_minute: 120

logging:
  level: "info"
  format: "text"
`

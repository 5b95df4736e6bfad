// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/tutor-gateway/internal/domain"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv("TEST_TUTOR_SECRET", testSecret)
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:9090"
database:
  path: "./test.db"
auth:
  jwt_secret: "${TEST_TUTOR_SECRET}"
  token_ttl: "1h"
sessions:
  idle_timeout: "15m"
  sweep_interval: "30s"
coordinator:
  default_timeout: "3s"
  max_retries: 0
  dedupe_ttl: "2m"
  dedupe_size: 50
agents:
  assessment:
    address: "localhost:50062"
  engagement:
    addresses: ["localhost:50066", "localhost:50067"]
    timeout: "500ms"
    rate_limit: 2.5
    burst: 3
    fallback: "Keep going!"
rate_limit:
  requests_per_minute: 60
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, testSecret, cfg.Auth.JWTSecret)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 15*time.Minute, cfg.Sessions.IdleTimeout)
	assert.Equal(t, 30*time.Second, cfg.Sessions.SweepInterval)
	assert.Equal(t, 3*time.Second, cfg.Coordinator.DefaultTimeout)
	assert.Equal(t, 0, cfg.Coordinator.Retries(), "explicit zero disables retries")
	assert.Equal(t, 2*time.Minute, cfg.Coordinator.DedupeTTL)
	assert.Equal(t, 50, cfg.Coordinator.DedupeSize)
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, "json", cfg.Logging.Format)

	agents, err := cfg.AgentSettings()
	require.NoError(t, err)
	require.Len(t, agents, 2)

	assessment := agents[domain.CapabilityAssessment]
	assert.Equal(t, []string{"localhost:50062"}, assessment.Endpoints())
	assert.Equal(t, 3*time.Second, assessment.Timeout, "agents inherit the default timeout")

	engagement := agents[domain.CapabilityEngagement]
	assert.Equal(t, []string{"localhost:50066", "localhost:50067"}, engagement.Endpoints())
	assert.Equal(t, 500*time.Millisecond, engagement.Timeout)
	assert.InDelta(t, 2.5, engagement.RateLimit, 0.0001)
	assert.Equal(t, 3, engagement.Burst)
	assert.Equal(t, "Keep going!", engagement.Fallback)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[database]
path = "./test.db"

[auth]
jwt_secret = "`+testSecret+`"

[coordinator]
max_retries = 3

[agents.content]
address = "localhost:50061"
timeout = "4s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.HTTPAddr)
	assert.Equal(t, 3, cfg.Coordinator.Retries())
	agents, err := cfg.AgentSettings()
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, agents[domain.CapabilityContent].Timeout)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
database: {path: "x.db"}
auth: {jwt_secret: "`+testSecret+`"}
agents:
  voice: {address: "localhost:1"}
`), false)
	require.NoError(t, err)

	assert.Equal(t, DefaultTokenTTL, cfg.Auth.TokenTTL)
	assert.Equal(t, DefaultIdleTimeout, cfg.Sessions.IdleTimeout)
	assert.Equal(t, DefaultSweepInterval, cfg.Sessions.SweepInterval)
	assert.Equal(t, DefaultAgentTimeout, cfg.Coordinator.DefaultTimeout)
	assert.Equal(t, DefaultMaxRetries, cfg.Coordinator.Retries())
	assert.Equal(t, DefaultDedupeTTL, cfg.Coordinator.DedupeTTL)
	assert.Equal(t, DefaultDedupeSize, cfg.Coordinator.DedupeSize)
	assert.Equal(t, DefaultRequestsPerMinute, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestParse_ValidationErrors(t *testing.T) {
	base := func(extra string) string {
		return "database: {path: \"x.db\"}\nauth: {jwt_secret: \"" + testSecret + "\"}\n" + extra
	}
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing database", "auth: {jwt_secret: \"" + testSecret + "\"}\nagents: {voice: {address: a}}", "database.path"},
		{"short secret", "database: {path: x}\nauth: {jwt_secret: short}\nagents: {voice: {address: a}}", "jwt_secret"},
		{"no agents", base(""), "at least one agent"},
		{"unknown capability", base("agents: {weather: {address: a}}"), "unknown agent capability"},
		{"coordinator is not an agent", base("agents: {coordinator: {address: a}}"), "unknown agent capability"},
		{"missing address", base("agents: {voice: {timeout: 1s}}"), "address is required"},
		{"bad duration", base("agents: {voice: {address: a, timeout: soon}}"), "agents.voice.timeout"},
		{"negative retries", base("coordinator: {max_retries: -1}\nagents: {voice: {address: a}}"), "max_retries"},
		{"bad log format", base("logging: {format: xml}\nagents: {voice: {address: a}}"), "logging.format"},
		{"bad yaml", "database: [", "parsing config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content), false)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TUTOR_TEST_A", "alpha")
	os.Unsetenv("TUTOR_TEST_MISSING")

	got := expandEnvVars("a=${TUTOR_TEST_A} b=${TUTOR_TEST_MISSING} c=$TUTOR_TEST_A")
	assert.Equal(t, "a=alpha b= c=$TUTOR_TEST_A", got)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TUTOR_DOTENV_TEST=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TUTOR_DOTENV_TEST") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("TUTOR_DOTENV_TEST"))

	assert.NoError(t, LoadEnvFile(filepath.Join(dir, "missing.env")))
}

func TestDefaultYAML_Loads(t *testing.T) {
	t.Setenv("TUTOR_JWT_SECRET", testSecret)
	cfg, err := Parse([]byte(DefaultYAML), false)
	require.NoError(t, err)

	agents, err := cfg.AgentSettings()
	require.NoError(t, err)
	assert.Len(t, agents, 6)
	assert.True(t, strings.HasPrefix(agents[domain.CapabilityEngagement].Fallback, "Keep going"))
}

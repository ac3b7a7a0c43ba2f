package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Backend.Fixtures = "fixtures"
	return cfg
}

func TestDefaultConfigNeedsOnlyFixtures(t *testing.T) {
	assert.Error(t, DefaultConfig().Validate())
	assert.NoError(t, validConfig().Validate())
}

func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sitebridge.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
server:
  transport: sse
  addr: ":9000"
backend:
  kind: playwright
  browser: firefox
  idle_timeout: 1m
storage:
  kind: sqlite
  path: /tmp/sb.db
policy:
  deny: ["*__delete_*"]
`), 0o644))
		cfg, err := Load(path)
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())

		assert.Equal(t, TransportSSE, cfg.Server.Transport)
		assert.Equal(t, ":9000", cfg.Server.Addr)
		assert.Equal(t, "firefox", cfg.Backend.Browser)
		assert.Equal(t, time.Minute, cfg.Backend.IdleTimeout)
		assert.Equal(t, 4, cfg.Backend.MaxContexts, "unset keys keep their defaults")
		assert.Equal(t, []string{"*__delete_*"}, cfg.Policy.Deny)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server: [oops"), 0o644))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "bad transport", mutate: func(c *Config) { c.Server.Transport = "grpc" }, wantErr: "server.transport"},
		{name: "sse without addr", mutate: func(c *Config) { c.Server.Transport = TransportSSE; c.Server.Addr = "" }, wantErr: "server.addr"},
		{name: "bad backend", mutate: func(c *Config) { c.Backend.Kind = "selenium" }, wantErr: "backend.kind"},
		{name: "bad browser", mutate: func(c *Config) { c.Backend.Kind = BackendPlaywright; c.Backend.Browser = "lynx" }, wantErr: "backend.browser"},
		{name: "file storage defaults its path", mutate: func(c *Config) { c.Storage.Kind = "file" }},
		{name: "bad storage", mutate: func(c *Config) { c.Storage.Kind = "redis" }, wantErr: "storage.kind"},
		{name: "bad human mode", mutate: func(c *Config) { c.Human.Mode = "carrier-pigeon" }, wantErr: "human.mode"},
		{name: "no adapter dirs", mutate: func(c *Config) { c.Adapters.Dirs = nil }, wantErr: "adapters.dirs"},
		{name: "negative sandbox", mutate: func(c *Config) { c.Sandbox.StepQuota = -1 }, wantErr: "sandbox"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "logging.level"},
		{name: "rod needs no fixtures", mutate: func(c *Config) { c.Backend.Kind = BackendRod; c.Backend.Fixtures = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Transport = "grpc"
	cfg.Storage.Kind = "redis"
	err := cfg.Validate()
	assert.ErrorContains(t, err, "server.transport")
	assert.ErrorContains(t, err, "storage.kind")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SITEBRIDGE_TRANSPORT":      "sse",
		"SITEBRIDGE_BACKEND":        "rod",
		"SITEBRIDGE_CONTROL_URL":    "ws://127.0.0.1:9222/devtools",
		"SITEBRIDGE_HEADLESS":       "false",
		"SITEBRIDGE_ADAPTERS":       "a" + string(os.PathListSeparator) + "b",
		"SITEBRIDGE_HUMAN_TIMEOUT":  "90s",
		"SITEBRIDGE_STORAGE_QUOTA":  "1024",
		"SITEBRIDGE_LOG_LEVEL":      "debug",
		"SITEBRIDGE_OTLP_ENDPOINT":  "http://collector:4318",
		"SITEBRIDGE_FIXTURES":       "",
		"UNRELATED_SITEBRIDGE_TEST": "x",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := validConfig()
	require.NoError(t, cfg.applyEnv(lookup))
	assert.Equal(t, TransportSSE, cfg.Server.Transport)
	assert.Equal(t, BackendRod, cfg.Backend.Kind)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools", cfg.Backend.ControlURL)
	assert.False(t, cfg.Backend.Headless)
	assert.Equal(t, []string{"a", "b"}, cfg.Adapters.Dirs)
	assert.Equal(t, 90*time.Second, cfg.Human.Timeout)
	assert.Equal(t, 1024, cfg.Storage.QuotaBytes)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "http://collector:4318", cfg.Telemetry.Endpoint)
	assert.Equal(t, "fixtures", cfg.Backend.Fixtures, "empty values do not override")
}

func TestApplyEnvRejectsMalformedValues(t *testing.T) {
	env := map[string]string{
		"SITEBRIDGE_HEADLESS":      "sometimes",
		"SITEBRIDGE_HUMAN_TIMEOUT": "soon",
	}
	cfg := validConfig()
	err := cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.ErrorContains(t, err, "SITEBRIDGE_HEADLESS")
	assert.True(t, cfg.Backend.Headless, "malformed values leave the field alone")
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SITEBRIDGE_TEST_A=base\nSITEBRIDGE_TEST_B=base\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.staging"), []byte("SITEBRIDGE_TEST_B=staging\n"), 0o644))
	t.Setenv("APP_ENV", "staging")
	t.Setenv("SITEBRIDGE_TEST_A", "")
	t.Setenv("SITEBRIDGE_TEST_B", "")
	os.Unsetenv("SITEBRIDGE_TEST_A")
	os.Unsetenv("SITEBRIDGE_TEST_B")

	assert.Equal(t, "staging", LoadEnvFiles(dir))
	assert.Equal(t, "base", os.Getenv("SITEBRIDGE_TEST_A"))
	assert.Equal(t, "staging", os.Getenv("SITEBRIDGE_TEST_B"), ".env.<APP_ENV> overlays .env")
}

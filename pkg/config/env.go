package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SITEBRIDGE_"

// LoadEnvFiles loads .env from dir, then overlays .env.<APP_ENV>. Missing
// files are skipped. It returns the environment name in effect.
func LoadEnvFiles(dir string) string {
	appEnv := os.Getenv("APP_ENV")
	if appEnv == "" {
		appEnv = "dev"
	}
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}
	envFile := filepath.Join(dir, ".env."+appEnv)
	if err := godotenv.Overload(envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: could not load %s: %v\n", envFile, err)
	}
	return appEnv
}

// ApplyEnv overrides cfg from SITEBRIDGE_* variables.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	if v, ok := e.str("TRANSPORT"); ok {
		c.Server.Transport = Transport(v)
	}
	e.setStr("ADDR", &c.Server.Addr)
	e.setStr("BASE_URL", &c.Server.BaseURL)

	e.setStr("BACKEND", &c.Backend.Kind)
	e.setStr("FIXTURES", &c.Backend.Fixtures)
	e.setStr("CONTROL_URL", &c.Backend.ControlURL)
	e.setBool("HEADLESS", &c.Backend.Headless)
	e.setStr("BROWSER", &c.Backend.Browser)
	e.setInt("MAX_CONTEXTS", &c.Backend.MaxContexts)
	e.setDuration("ACTION_TIMEOUT", &c.Backend.ActionTimeout)

	e.setStr("STORAGE", &c.Storage.Kind)
	e.setStr("STORAGE_PATH", &c.Storage.Path)
	e.setInt("STORAGE_QUOTA", &c.Storage.QuotaBytes)

	e.setStr("HUMAN_MODE", &c.Human.Mode)
	e.setDuration("HUMAN_TIMEOUT", &c.Human.Timeout)

	if v, ok := e.str("ADAPTERS"); ok {
		c.Adapters.Dirs = filepath.SplitList(v)
	}
	e.setStr("GRANTS_FILE", &c.Adapters.GrantsFile)

	e.setStr("OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	e.setStr("LOG_LEVEL", &c.Logging.Level)
	e.setStr("LOG_DIR", &c.Logging.Dir)

	return e.err
}

// envReader records the first malformed value.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) str(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(key, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, key, v, err)
	}
}

func (e *envReader) setStr(key string, dst *string) {
	if v, ok := e.str(key); ok {
		*dst = v
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	v, ok := e.str(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}

func (e *envReader) setInt(key string, dst *int) {
	v, ok := e.str(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	v, ok := e.str(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = d
}

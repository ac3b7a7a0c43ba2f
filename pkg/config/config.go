// Package config loads the sitebridge runtime configuration: a YAML file
// layered over DefaultConfig, then .env files and SITEBRIDGE_* variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/sitebridge/pkg/human"
	"github.com/entrhq/sitebridge/pkg/storage"
)

// Config is the full runtime configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Backend   BackendConfig   `yaml:"backend" json:"backend"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Human     HumanConfig     `yaml:"human" json:"human"`
	Adapters  AdaptersConfig  `yaml:"adapters" json:"adapters"`
	Policy    PolicyConfig    `yaml:"policy" json:"policy"`
	Sandbox   SandboxConfig   `yaml:"sandbox" json:"sandbox"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// Transport selects how agents reach the MCP server.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportSSE   Transport = "sse"
)

// ServerConfig configures the MCP and HTTP surfaces.
type ServerConfig struct {
	Transport Transport `yaml:"transport" json:"transport"`
	// Addr is where the HTTP API (and the SSE transport) listens. Empty
	// disables the HTTP API under the stdio transport.
	Addr      string `yaml:"addr" json:"addr"`
	BaseURL   string `yaml:"base_url" json:"base_url"`
	AccessLog bool   `yaml:"access_log" json:"access_log"`
}

// Backend kinds.
const (
	BackendHarness    = "harness"
	BackendRod        = "rod"
	BackendPlaywright = "playwright"
)

// BackendConfig selects and configures the page backend.
type BackendConfig struct {
	Kind string `yaml:"kind" json:"kind"`

	// Fixtures is the harness fixture file or directory.
	Fixtures string `yaml:"fixtures" json:"fixtures"`

	// ControlURL attaches rod to a running browser instead of launching one.
	ControlURL string `yaml:"control_url" json:"control_url"`
	Headless   bool   `yaml:"headless" json:"headless"`
	NoSandbox  bool   `yaml:"no_sandbox" json:"no_sandbox"`

	// Playwright only.
	Browser       string        `yaml:"browser" json:"browser"`
	Install       bool          `yaml:"install" json:"install"`
	MaxContexts   int           `yaml:"max_contexts" json:"max_contexts"`
	IdleTimeout   time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ActionTimeout time.Duration `yaml:"action_timeout" json:"action_timeout"`
}

// StorageConfig configures adapter storage.
type StorageConfig struct {
	Kind string `yaml:"kind" json:"kind"`
	// Path is the directory for file storage and the database for sqlite.
	// Empty uses ~/.sitebridge.
	Path       string `yaml:"path" json:"path"`
	QuotaBytes int    `yaml:"quota_bytes" json:"quota_bytes"`
}

// HumanConfig configures how human steps reach a person.
type HumanConfig struct {
	Mode       string        `yaml:"mode" json:"mode"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	ListenAddr string        `yaml:"listen_addr" json:"listen_addr"`
	CopyURL    bool          `yaml:"copy_url" json:"copy_url"`
}

// AdaptersConfig lists where bundles live and where optional permission
// grants are kept.
type AdaptersConfig struct {
	Dirs       []string `yaml:"dirs" json:"dirs"`
	GrantsFile string   `yaml:"grants_file" json:"grants_file"`
}

// PolicyConfig holds tool-name globs. Deny wins over allow; an empty allow
// list allows everything.
type PolicyConfig struct {
	Allow []string `yaml:"allow" json:"allow"`
	Deny  []string `yaml:"deny" json:"deny"`
}

// SandboxConfig bounds adapter code.
type SandboxConfig struct {
	StepQuota        int           `yaml:"step_quota" json:"step_quota"`
	MemoryQuotaBytes int           `yaml:"memory_quota_bytes" json:"memory_quota_bytes"`
	RecursionLimit   int           `yaml:"recursion_limit" json:"recursion_limit"`
	CallTimeout      time.Duration `yaml:"call_timeout" json:"call_timeout"`
}

// TelemetryConfig configures tracing export. An empty endpoint keeps spans
// in process.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint" json:"endpoint"`
	ServiceName string `yaml:"service_name" json:"service_name"`
}

// LoggingConfig configures the session log.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" json:"level"`
	// Dir overrides ~/.sitebridge/logs.
	Dir string `yaml:"dir" json:"dir"`
}

// DefaultConfig returns a configuration that runs against the harness with
// in-memory storage and stdio transport.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: TransportStdio,
			Addr:      "127.0.0.1:8765",
			AccessLog: true,
		},
		Backend: BackendConfig{
			Kind:          BackendHarness,
			Headless:      true,
			Browser:       "chromium",
			MaxContexts:   4,
			IdleTimeout:   5 * time.Minute,
			ActionTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Kind:       storage.KindMemory,
			QuotaBytes: storage.DefaultQuota,
		},
		Human: HumanConfig{
			Mode:    human.ModeBroker,
			Timeout: 5 * time.Minute,
		},
		Adapters: AdaptersConfig{
			Dirs: []string{"adapters"},
		},
		Sandbox: SandboxConfig{
			StepQuota:        200000,
			MemoryQuotaBytes: 4 << 20,
			RecursionLimit:   64,
			CallTimeout:      30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "sitebridge",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path over DefaultConfig. A missing file is not an error when
// path is empty.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error

	switch c.Server.Transport {
	case TransportStdio:
	case TransportSSE:
		if c.Server.Addr == "" {
			errs = append(errs, errors.New("server.addr is required for the sse transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid server.transport: %s (must be 'stdio' or 'sse')", c.Server.Transport))
	}

	switch c.Backend.Kind {
	case BackendHarness:
		if c.Backend.Fixtures == "" {
			errs = append(errs, errors.New("backend.fixtures is required for the harness backend"))
		}
	case BackendRod:
	case BackendPlaywright:
		switch c.Backend.Browser {
		case "", "chromium", "firefox", "webkit":
		default:
			errs = append(errs, fmt.Errorf("invalid backend.browser: %s", c.Backend.Browser))
		}
		if c.Backend.MaxContexts < 0 {
			errs = append(errs, errors.New("backend.max_contexts cannot be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid backend.kind: %s (must be 'harness', 'rod' or 'playwright')", c.Backend.Kind))
	}
	if c.Backend.IdleTimeout < 0 || c.Backend.ActionTimeout < 0 {
		errs = append(errs, errors.New("backend timeouts cannot be negative"))
	}

	switch c.Storage.Kind {
	case storage.KindMemory, storage.KindFile, storage.KindSQLite:
	default:
		errs = append(errs, fmt.Errorf("invalid storage.kind: %s (must be 'memory', 'file' or 'sqlite')", c.Storage.Kind))
	}
	if c.Storage.QuotaBytes < 0 {
		errs = append(errs, errors.New("storage.quota_bytes cannot be negative"))
	}

	switch c.Human.Mode {
	case human.ModeBroker, human.ModeTerminal, human.ModeListener, human.ModeUnattended:
	default:
		errs = append(errs, fmt.Errorf("invalid human.mode: %s", c.Human.Mode))
	}
	if c.Human.Timeout < 0 {
		errs = append(errs, errors.New("human.timeout cannot be negative"))
	}

	if len(c.Adapters.Dirs) == 0 {
		errs = append(errs, errors.New("at least one adapters.dirs entry is required"))
	}

	if c.Sandbox.StepQuota < 0 || c.Sandbox.MemoryQuotaBytes < 0 || c.Sandbox.RecursionLimit < 0 || c.Sandbox.CallTimeout < 0 {
		errs = append(errs, errors.New("sandbox limits cannot be negative"))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	case "":
		c.Logging.Level = "info"
	default:
		errs = append(errs, fmt.Errorf("invalid logging.level: %s", c.Logging.Level))
	}

	return errors.Join(errs...)
}

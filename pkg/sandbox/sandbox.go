// Package sandbox loads scripted adapters behind an isolation boundary.
//
// Two runtimes are supported. Script adapters run inside a VibeScript VM
// with no filesystem, network or module access and bounded steps, memory
// and recursion. Process adapters run as a separate OS process with an
// empty environment and a private working directory, and reach the host
// only through a line-delimited JSON protocol on stdin and stdout.
//
// Either way the adapter's only handle on the outside world is the
// capability.Context it is given for each call.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/entrhq/sitebridge/pkg/capability"
	"github.com/entrhq/sitebridge/pkg/logging"
	"github.com/entrhq/sitebridge/pkg/manifest"
)

// Adapter is loaded adapter logic.
type Adapter interface {
	// ID is the identifier the adapter reported about itself.
	ID() string
	// Tools lists the tool names the adapter implements.
	Tools() []string
	// Init runs the adapter's optional one-time initialization.
	Init(ctx context.Context, cc *capability.Context) error
	// Execute runs one tool.
	Execute(ctx context.Context, tool string, params map[string]any, cc *capability.Context) (map[string]any, error)
	Close() error
}

// Config bounds sandboxed execution.
type Config struct {
	// StepQuota, MemoryQuotaBytes and RecursionLimit bound script adapters.
	StepQuota        int
	MemoryQuotaBytes int
	RecursionLimit   int
	// CallTimeout bounds one process adapter invocation.
	CallTimeout time.Duration
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		StepQuota:        200000,
		MemoryQuotaBytes: 4 << 20,
		RecursionLimit:   64,
		CallTimeout:      10 * time.Minute,
	}
}

// Load starts the adapter described by m. dir is the adapter bundle
// directory that m.Entrypoint is relative to.
func Load(ctx context.Context, m *manifest.Manifest, dir string, cfg Config, log *logging.Logger) (Adapter, error) {
	if log == nil {
		log = logging.Nop()
	}
	entry, err := resolveEntrypoint(dir, m.Entrypoint)
	if err != nil {
		return nil, fmt.Errorf("adapter %s: %w", m.ID, err)
	}

	var a Adapter
	switch m.Runtime {
	case manifest.RuntimeScript:
		a, err = LoadScript(entry, cfg, log)
	case manifest.RuntimeProcess:
		a, err = LoadProcess(ctx, entry, cfg, log)
	default:
		return nil, fmt.Errorf("adapter %s: runtime %q has no sandbox", m.ID, m.Runtime)
	}
	if err != nil {
		return nil, fmt.Errorf("adapter %s: %w", m.ID, err)
	}
	if err := checkShape(m, a); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// checkShape verifies what the adapter reported about itself: its id must
// match the manifest and it must implement at least one tool.
func checkShape(m *manifest.Manifest, a Adapter) error {
	if a.ID() == "" {
		return fmt.Errorf("adapter %s: loaded adapter has no id", m.ID)
	}
	if a.ID() != m.ID {
		return fmt.Errorf("adapter %s: loaded adapter reports id %q", m.ID, a.ID())
	}
	if len(a.Tools()) == 0 {
		return fmt.Errorf("adapter %s: loaded adapter declares no tools", m.ID)
	}
	seen := make(map[string]bool)
	for _, name := range a.Tools() {
		if err := manifest.ValidateToolName(name); err != nil {
			return fmt.Errorf("adapter %s: %w", m.ID, err)
		}
		if seen[name] {
			return fmt.Errorf("adapter %s: tool %q declared twice", m.ID, name)
		}
		seen[name] = true
	}
	return nil
}

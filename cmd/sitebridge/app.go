package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/entrhq/sitebridge/pkg/capability"
	"github.com/entrhq/sitebridge/pkg/config"
	"github.com/entrhq/sitebridge/pkg/driver/harness"
	"github.com/entrhq/sitebridge/pkg/driver/playwright"
	"github.com/entrhq/sitebridge/pkg/driver/rod"
	"github.com/entrhq/sitebridge/pkg/host"
	"github.com/entrhq/sitebridge/pkg/human"
	"github.com/entrhq/sitebridge/pkg/logging"
	"github.com/entrhq/sitebridge/pkg/registry"
	"github.com/entrhq/sitebridge/pkg/sandbox"
	"github.com/entrhq/sitebridge/pkg/storage"
	"github.com/entrhq/sitebridge/pkg/telemetry"
	"github.com/entrhq/sitebridge/pkg/types"
)

const defaultConfigFile = "sitebridge.yaml"

// loadConfig layers the config file, .env files, SITEBRIDGE_* variables
// and finally command-line flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	config.LoadEnvFiles(".")

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}

	flags := cmd.Flags()
	if flags.Changed("adapters") {
		cfg.Adapters.Dirs, _ = flags.GetStringSlice("adapters")
	}
	if v, _ := flags.GetString("backend"); v != "" {
		cfg.Backend.Kind = v
	}
	if v, _ := flags.GetString("fixtures"); v != "" {
		cfg.Backend.Fixtures = v
	}
	if v, _ := flags.GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nShutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

type appOptions struct {
	// humanMode overrides the configured human mode.
	humanMode string
	in        io.Reader
	out       io.Writer
}

// app is one wired runtime: backend, storage, human coordinator,
// telemetry, registry and host.
type app struct {
	cfg       *config.Config
	log       *logging.Logger
	host      *host.Host
	broker    *human.Broker
	telemetry *telemetry.Provider
	grants    *config.GrantStore

	mu   sync.RWMutex
	sink types.EventSink
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, exitError(exitConfig, "invalid configuration: %v", err)
	}
	logging.Configure(cfg.Logging.Dir, logging.ParseLevel(cfg.Logging.Level))
	log := logging.MustLogger("sitebridge")

	a = &app{cfg: cfg, log: log}
	a.sink = a.logEvent

	var cleanup []func() error
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				_ = cleanup[i]()
			}
		}
	}()

	a.telemetry, err = telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return nil, err
	}
	cleanup = append(cleanup, func() error { return a.telemetry.Shutdown(context.Background()) })

	a.grants, err = config.NewGrantStore(cfg.Adapters.GrantsFile)
	if err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}

	backend, err := openBackend(cfg, log)
	if err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}
	cleanup = append(cleanup, backend.Close)

	sb, err := storage.OpenBackend(cfg.Storage.Kind, cfg.Storage.Path)
	if err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}
	store := storage.NewStore(sb, cfg.Storage.QuotaBytes)
	cleanup = append(cleanup, store.Close)

	mode := cfg.Human.Mode
	if opts.humanMode != "" {
		mode = opts.humanMode
	}
	waiter, broker, err := human.New(human.Config{
		In:         opts.in,
		Out:        opts.out,
		Events:     a.emit,
		Log:        log.With("human"),
		Mode:       mode,
		ListenAddr: cfg.Human.ListenAddr,
		Timeout:    cfg.Human.Timeout,
		CopyURL:    cfg.Human.CopyURL,
	})
	if err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}
	a.broker = broker

	policy, err := registry.NewPolicy(cfg.Policy.Allow, cfg.Policy.Deny)
	if err != nil {
		return nil, exitError(exitConfig, "invalid policy: %v", err)
	}
	observer, err := a.telemetry.Observer()
	if err != nil {
		return nil, err
	}

	a.host, err = host.New(host.Options{
		Backend: backend,
		Store:   store,
		Human:   waiter,
		Events:  a.emit,
		Log:     log,
		Grants:  a.grants.Get,
		Sandbox: sandboxConfig(cfg),
	}, registry.WithPolicy(policy), registry.WithObserver(observer))
	if err != nil {
		return nil, err
	}
	return a, nil
}

func sandboxConfig(cfg *config.Config) sandbox.Config {
	return sandbox.Config{
		StepQuota:        cfg.Sandbox.StepQuota,
		MemoryQuotaBytes: cfg.Sandbox.MemoryQuotaBytes,
		RecursionLimit:   cfg.Sandbox.RecursionLimit,
		CallTimeout:      cfg.Sandbox.CallTimeout,
	}
}

func openBackend(cfg *config.Config, log *logging.Logger) (capability.Backend, error) {
	b := cfg.Backend
	switch b.Kind {
	case config.BackendHarness:
		fixture, err := harness.LoadFixture(b.Fixtures)
		if err != nil {
			return nil, err
		}
		return &harness.Backend{Fixture: fixture}, nil
	case config.BackendRod:
		return rod.New(rod.Config{
			ControlURL: b.ControlURL,
			Headless:   b.Headless,
			NoSandbox:  b.NoSandbox,
		}, log.With("rod")), nil
	case config.BackendPlaywright:
		return playwright.New(playwright.Options{
			Browser:     b.Browser,
			Headless:    b.Headless,
			Install:     b.Install,
			Timeout:     b.ActionTimeout,
			MaxContexts: b.MaxContexts,
			IdleTimeout: b.IdleTimeout,
		}, log.With("playwright")), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", b.Kind)
	}
}

// load loads every configured adapter directory. Broken bundles are
// skipped and reported through events; the error lists them.
func (a *app) load(ctx context.Context) ([]*host.Bundle, error) {
	return a.host.LoadDirs(ctx, a.cfg.Adapters.Dirs...)
}

func (a *app) emit(e *types.Event) {
	a.mu.RLock()
	sink := a.sink
	a.mu.RUnlock()
	sink(e)
}

func (a *app) setSink(sink types.EventSink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = sink
}

// logEvent is the default sink.
func (a *app) logEvent(e *types.Event) {
	switch e.Type {
	case types.EventTypeNotify:
		a.log.Infof("[%s] %s: %s", e.AdapterID, e.Level, e.Message)
	case types.EventTypeAdapterLoadError:
		a.log.Warnf("adapter at %v failed to load: %v", e.Metadata["path"], e.Error)
	case types.EventTypeHumanRequest:
		a.log.Infof("[%s] human request %s: %s", e.AdapterID, e.RequestID, e.Message)
	case types.EventTypeHumanTimeout:
		a.log.Warnf("[%s] human request %s timed out", e.AdapterID, e.RequestID)
	}
}

func (a *app) Close() error {
	return errors.Join(
		a.host.Close(),
		a.telemetry.Shutdown(context.Background()),
		a.log.Close(),
	)
}

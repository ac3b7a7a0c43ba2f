package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/entrhq/sitebridge/pkg/config"
	"github.com/entrhq/sitebridge/pkg/human"
	"github.com/entrhq/sitebridge/pkg/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load adapters and serve their tools over MCP",
		Long: "serve loads every adapter bundle and publishes its tools to agents. " +
			"With the stdio transport MCP runs on stdin/stdout and the HTTP API is " +
			"served alongside on --addr; with sse both share --addr.",
		RunE: runServe,
	}
	cmd.Flags().String("transport", "", "MCP transport: stdio | sse")
	cmd.Flags().String("addr", "", "HTTP listen address (empty disables the HTTP API under stdio)")
	cmd.Flags().String("base-url", "", "Public base URL advertised by the SSE transport")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if v, _ := flags.GetString("transport"); v != "" {
		cfg.Server.Transport = config.Transport(v)
	}
	if flags.Changed("addr") {
		cfg.Server.Addr, _ = flags.GetString("addr")
	}
	if v, _ := flags.GetString("base-url"); v != "" {
		cfg.Server.BaseURL = v
	}
	if cfg.Server.Transport == config.TransportStdio && cfg.Human.Mode == human.ModeTerminal {
		return exitError(exitConfig, "human.mode terminal reads stdin, which the stdio transport owns; use listener or broker, or serve with --transport sse")
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(a.host.Registry(), server.Options{
		Version:   version,
		Log:       a.log.With("server"),
		Broker:    a.broker,
		Telemetry: a.telemetry,
		AccessLog: cfg.Server.AccessLog,
	})
	a.setSink(srv.Events(a.logEvent))

	bundles, err := a.load(ctx)
	if err != nil {
		a.log.Warnf("some adapters were skipped: %v", err)
	}
	srv.Sync()
	a.log.Infof("loaded %d adapters, %d tools", len(bundles), a.host.Registry().Count())

	if cfg.Server.Transport == config.TransportSSE {
		baseURL := cfg.Server.BaseURL
		if baseURL == "" {
			baseURL = "http://" + cfg.Server.Addr
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "sitebridge: serving MCP over SSE at %s%s/sse\n", baseURL, server.SSEBasePath)
		return srv.ListenAndServe(ctx, cfg.Server.Addr, srv.Handler(srv.NewSSE(baseURL)))
	}

	if cfg.Server.Addr != "" {
		go serveAPI(ctx, a, srv, srv.Handler(nil))
	}
	return srv.ServeStdio(ctx)
}

// serveAPI runs the HTTP API beside the stdio transport. Failing to bind
// is logged rather than fatal; agents still reach MCP over stdio.
func serveAPI(ctx context.Context, a *app, srv *server.Server, h http.Handler) {
	if err := srv.ListenAndServe(ctx, a.cfg.Server.Addr, h); err != nil {
		a.log.Errorf("http api stopped: %v", err)
	}
}

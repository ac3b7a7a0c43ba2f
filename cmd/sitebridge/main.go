// Package main provides the sitebridge command: it loads adapter bundles,
// serves their tools to agents over MCP and runs single tool calls from
// the shell.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sitebridge",
		Short: "Expose websites to AI agents as typed tools",
		Long: "sitebridge loads adapter bundles (declarative recipes, VibeScript or " +
			"process adapters) and serves their tools over MCP.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file (default: ./sitebridge.yaml when present)")
	root.PersistentFlags().StringSlice("adapters", nil, "Adapter bundle directories (overrides config)")
	root.PersistentFlags().String("backend", "", "Page backend: harness | rod | playwright")
	root.PersistentFlags().String("fixtures", "", "Harness fixture file or directory")
	root.PersistentFlags().String("log-level", "", "Log level: debug | info | warn | error")

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("sitebridge version %s\n", version))

	root.AddCommand(newServeCmd())
	root.AddCommand(newToolsCmd())
	root.AddCommand(newCallCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newGrantCmd())
	root.AddCommand(newRevokeCmd())
	return root
}

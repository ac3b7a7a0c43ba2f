package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/entrhq/sitebridge/pkg/host"
	"github.com/entrhq/sitebridge/pkg/logging"
	"github.com/entrhq/sitebridge/pkg/sandbox"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [bundle-root...]",
		Short: "Check adapter bundles without opening a browser",
		Long: "validate reads each bundle's manifest and catalog, compiles its adapter " +
			"code and confirms every catalog tool is implemented. With no arguments " +
			"it checks the configured adapter directories.",
		RunE: func(cmd *cobra.Command, roots []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if len(roots) == 0 {
				roots = cfg.Adapters.Dirs
			}
			failed := validateRoots(cmd.Context(), cmd.OutOrStdout(), roots, sandboxConfig(cfg))
			if failed > 0 {
				return exitError(exitLoad, "%d bundle(s) failed validation", failed)
			}
			return nil
		},
	}
}

// validateRoots reports on every bundle under roots and returns how many
// failed.
func validateRoots(ctx context.Context, w io.Writer, roots []string, cfg sandbox.Config) int {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logging.Nop()
	failed := 0
	for _, root := range roots {
		dirs, err := host.FindBundles(root)
		if err != nil {
			fmt.Fprintf(w, "%s %s: %v\n", failStyle.Render("FAIL"), root, err)
			failed++
			continue
		}
		for _, dir := range dirs {
			b, err := host.CheckBundle(ctx, dir, cfg, log)
			if err != nil {
				fmt.Fprintf(w, "%s %s: %v\n", failStyle.Render("FAIL"), dir, err)
				failed++
				continue
			}
			kind := "declarative"
			if b.Scripted() {
				kind = string(b.Manifest.Runtime)
			}
			fmt.Fprintf(w, "%s %s %s (%s, %d tools)\n",
				okStyle.Render("ok  "), b.Manifest.ID, faintStyle.Render(b.Manifest.Version), kind, len(b.Tools))
		}
	}
	return failed
}

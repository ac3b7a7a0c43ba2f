package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/entrhq/sitebridge/pkg/config"
	"github.com/entrhq/sitebridge/pkg/manifest"
)

func newGrantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant [adapter-id] [permission...]",
		Short: "Grant optional permissions to an adapter",
		Long: "grant records optional permissions an adapter declared in its manifest. " +
			"Grants take effect the next time the adapter loads. With --list it prints " +
			"every recorded grant.",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openGrants(cmd)
			if err != nil {
				return err
			}
			if list, _ := cmd.Flags().GetBool("list"); list {
				printGrants(cmd.OutOrStdout(), store)
				return nil
			}
			if len(args) < 2 {
				return exitError(exitConfig, "usage: sitebridge grant <adapter-id> <permission>...")
			}
			if err := store.Grant(args[0], permissions(args[1:])...); err != nil {
				return exitError(exitConfig, "%v", err)
			}
			if err := store.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s now holds: %s\n", args[0], joinPerms(store.Get(args[0])))
			return nil
		},
	}
	cmd.Flags().Bool("list", false, "List recorded grants")
	return cmd
}

func newRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <adapter-id> [permission...]",
		Short: "Revoke optional permissions from an adapter (all when none are named)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openGrants(cmd)
			if err != nil {
				return err
			}
			if len(store.Get(args[0])) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "nothing to revoke for %s\n", args[0])
				return nil
			}
			store.Revoke(args[0], permissions(args[1:])...)
			if err := store.Save(); err != nil {
				return err
			}
			remaining := store.Get(args[0])
			if len(remaining) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s holds no optional permissions\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s now holds: %s\n", args[0], joinPerms(remaining))
			return nil
		},
	}
}

func openGrants(cmd *cobra.Command) (*config.GrantStore, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	store, err := config.NewGrantStore(cfg.Adapters.GrantsFile)
	if err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}
	return store, nil
}

func permissions(args []string) []manifest.Permission {
	out := make([]manifest.Permission, 0, len(args))
	for _, a := range args {
		out = append(out, manifest.Permission(a))
	}
	return out
}

func joinPerms(perms []manifest.Permission) string {
	s := make([]string, len(perms))
	for i, p := range perms {
		s[i] = string(p)
	}
	return strings.Join(s, ", ")
}

func printGrants(w io.Writer, store *config.GrantStore) {
	ids := store.Adapters()
	if len(ids) == 0 {
		fmt.Fprintln(w, faintStyle.Render("no grants recorded in "+store.Path()))
		return
	}
	for _, id := range ids {
		fmt.Fprintf(w, "%s\t%s\n", headingStyle.Render(id), joinPerms(store.Get(id)))
	}
}

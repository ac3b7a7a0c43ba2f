package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/entrhq/sitebridge/pkg/registry"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	faintStyle   = lipgloss.NewStyle().Faint(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
)

type toolEntry struct {
	Name        string          `json:"name"`
	AdapterID   string          `json:"adapter_id"`
	Description string          `json:"description"`
	ReadOnly    bool            `json:"read_only"`
	Declarative bool            `json:"declarative"`
	InputSchema json.RawMessage `json:"input_schema"`
}

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools the loaded adapters expose",
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, _ := cmd.Flags().GetString("format")
			if format != "text" && format != "json" {
				return exitError(exitConfig, "invalid --format %q (must be text or json)", format)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.load(cmd.Context()); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			tools := a.host.Registry().List()
			if format == "json" {
				return writeToolsJSON(cmd.OutOrStdout(), tools)
			}
			return writeToolsText(cmd.OutOrStdout(), tools)
		},
	}
	cmd.Flags().String("format", "text", "Output format: text | json")
	return cmd
}

func writeToolsJSON(w io.Writer, tools []*registry.Tool) error {
	out := make([]toolEntry, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolEntry{
			Name:        t.Name,
			AdapterID:   t.AdapterID,
			Description: t.Definition.Description,
			ReadOnly:    t.ReadOnly(),
			Declarative: t.Definition.IsDeclarative(),
			InputSchema: t.Definition.InputSchema.JSON(),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeToolsText(w io.Writer, tools []*registry.Tool) error {
	if len(tools) == 0 {
		_, err := fmt.Fprintln(w, faintStyle.Render("no tools loaded"))
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, headingStyle.Render("TOOL")+"\t"+headingStyle.Render("KIND")+"\t"+headingStyle.Render("DESCRIPTION"))
	for _, t := range tools {
		kind := "script"
		if t.Definition.IsDeclarative() {
			kind = "declarative"
		}
		if t.ReadOnly() {
			kind += ",ro"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, kind, t.Definition.Description)
	}
	return tw.Flush()
}

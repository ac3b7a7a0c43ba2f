package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/entrhq/sitebridge/pkg/human"
	"github.com/entrhq/sitebridge/pkg/types"
)

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Run one tool and print its result",
		Long: "call loads the adapters, dispatches a single namespaced tool and prints " +
			"the tagged result as JSON. A failed result exits 2; a result that needed " +
			"a person who could not be reached exits 3.",
		Args: cobra.ExactArgs(1),
		RunE: runCall,
	}
	cmd.Flags().String("args", "", "Tool arguments as a JSON object")
	cmd.Flags().String("args-file", "", "Read tool arguments from a JSON file")
	cmd.Flags().String("human", human.ModeUnattended, "Human step mode: unattended | terminal | listener")
	cmd.Flags().Duration("timeout", 0, "Overall deadline for the call (0 means none)")
	return cmd
}

func runCall(cmd *cobra.Command, posArgs []string) error {
	args, err := callArgs(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	mode, _ := cmd.Flags().GetString("human")
	if mode == human.ModeBroker {
		return exitError(exitConfig, "--human broker needs a running server; use serve instead")
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, timeout)
		defer stop()
	}

	a, err := newApp(ctx, cfg, appOptions{humanMode: mode, in: cmd.InOrStdin(), out: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.load(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}

	res := a.host.Dispatch(ctx, posArgs[0], args)
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return resultExit(res)
}

func callArgs(cmd *cobra.Command) (map[string]any, error) {
	raw, _ := cmd.Flags().GetString("args")
	path, _ := cmd.Flags().GetString("args-file")
	if raw != "" && path != "" {
		return nil, exitError(exitConfig, "--args and --args-file are mutually exclusive")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, exitError(exitConfig, "failed to read args file: %v", err)
		}
		raw = string(data)
	}
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, exitError(exitConfig, "tool arguments must be a JSON object: %v", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// resultExit maps a failed result to its exit code. The result itself has
// already been printed.
func resultExit(res *types.Result) error {
	switch {
	case res.Success:
		return nil
	case res.Code == types.CodeHumanRequired:
		return exitError(exitHumanRequired, "%s", res.Error)
	default:
		return exitError(exitToolFailed, "%s: %s", res.Code, res.Error)
	}
}

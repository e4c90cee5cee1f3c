package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "accountguard",
		Short:         "Account recovery and lockout service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to the YAML config file (default: config/config.yaml)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newAuditCommand(opts))
	cmd.AddCommand(newLockoutCommand(opts))
	cmd.AddCommand(newTokensCommand(opts))

	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

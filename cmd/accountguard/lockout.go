package main

import (
	"context"
	"fmt"

	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/MrEthical07/accountguard"
)

func newLockoutCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lockout",
		Short: "Inspect and clear account lockouts",
	}
	cmd.AddCommand(newLockoutStatusCommand(rootOpts))
	cmd.AddCommand(newLockoutUnlockCommand(rootOpts))
	return cmd
}

func newLockoutStatusCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <account-id>",
		Short: "Show the lockout state of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), rootOpts, func(ctx context.Context, engine *accountguard.Engine) error {
				status, err := engine.LockoutStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), status)
			})
		},
	}
}

func newLockoutUnlockCommand(rootOpts *rootOptions) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "unlock <account-id>",
		Short: "Clear the lockout of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), rootOpts, func(ctx context.Context, engine *accountguard.Engine) error {
				if err := engine.Unlock(ctx, args[0], actor); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "account %s unlocked\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "operator identity recorded in the audit log")
	_ = cmd.MarkFlagRequired("actor")

	return cmd
}

// withEngine starts the core graph without the HTTP server, runs fn and stops
// the graph so pending audit events are flushed.
func withEngine(ctx context.Context, rootOpts *rootOptions, fn func(context.Context, *accountguard.Engine) error) (err error) {
	var engine *accountguard.Engine
	app := fx.New(coreOptions(rootOpts), fx.Populate(&engine))
	if err := app.Start(ctx); err != nil {
		return pkgerrors.Wrap(err, "failed to start")
	}
	defer func() {
		if stopErr := app.Stop(context.Background()); stopErr != nil && err == nil {
			err = pkgerrors.Wrap(stopErr, "failed to stop")
		}
	}()

	return fn(ctx, engine)
}

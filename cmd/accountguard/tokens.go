package main

import (
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/accountguard"
	"github.com/MrEthical07/accountguard/config"
	"github.com/MrEthical07/accountguard/internal/infra/postgres"
	"github.com/MrEthical07/accountguard/internal/stores"
)

func newTokensCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Maintain recovery token storage",
	}
	cmd.AddCommand(newTokensPurgeCommand(rootOpts))
	return cmd
}

func newTokensPurgeCommand(rootOpts *rootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired recovery tokens from Postgres",
		Long: `Delete recovery tokens that expired more than --older-than ago.

Only the postgres storage backend needs this; Redis records carry their own TTL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			engineCfg := cfg.EngineConfig()
			if engineCfg.Storage.Backend != accountguard.StoragePostgres {
				return pkgerrors.Errorf("storage backend is %q, nothing to purge", engineCfg.Storage.Backend)
			}
			if olderThan <= 0 {
				olderThan = engineCfg.Token.Retention
			}

			ctx := cmd.Context()
			pool, err := postgres.Open(ctx, postgres.PoolConfig{DSN: cfg.Postgres.DSN})
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := stores.NewPostgresTokenStore(pool).PurgeExpired(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired tokens\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "grace period after expiry (default: recovery.tokenRetention)")

	return cmd
}

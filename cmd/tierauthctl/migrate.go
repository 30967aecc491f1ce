package main

import (
	"fmt"

	"github.com/MrEthical07/tierauth/store/postgres"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newMigrateCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply every pending migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				url := v.GetString("database.url")
				if url == "" {
					return errNoDatabase
				}
				ctx := cmd.Context()
				pool, err := postgres.NewPool(ctx, postgres.PoolConfig{URL: url})
				if err != nil {
					return err
				}
				defer pool.Close()

				logger := newLogger(v, cmd.ErrOrStderr())
				if err := postgres.Migrate(ctx, pool); err != nil {
					logger.Error("migration failed", "error", err)
					return err
				}
				version, err := postgres.SchemaVersion(ctx, pool)
				if err != nil {
					return err
				}
				logger.Info("schema migrated", "version", version)
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
				return err
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				url := v.GetString("database.url")
				if url == "" {
					return errNoDatabase
				}
				pool, err := postgres.NewPool(cmd.Context(), postgres.PoolConfig{URL: url})
				if err != nil {
					return err
				}
				defer pool.Close()

				version, err := postgres.SchemaVersion(cmd.Context(), pool)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
				return err
			},
		},
	)
	return cmd
}

package main

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/tierauth"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newSeedCmd(v *viper.Viper) *cobra.Command {
	var (
		dev          bool
		skipServices bool
		username     string
		email        string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert catalog tiers as services and create or promote the owner",
		Long: "seed writes every non-guest tier of the catalog to the service store and, when --owner-email is set, " +
			"creates a verified OWNER with that email or promotes the existing account. The owner password is read " +
			"from TIERAUTH_OWNER_PASSWORD or the owner.password config key.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if skipServices && email == "" {
				return errors.New("nothing to seed: pass --owner-email or drop --skip-services")
			}

			ctx := cmd.Context()
			logger := newLogger(v, cmd.ErrOrStderr())

			backend, err := openBackend(ctx, v, dev)
			if err != nil {
				return err
			}
			defer backend.close()

			engine, err := buildEngine(v, backend, logger)
			if err != nil {
				return err
			}
			defer engine.Close()

			out := cmd.OutOrStdout()
			if !skipServices {
				services, err := engine.SyncServices(ctx)
				if err != nil {
					return fmt.Errorf("seed services: %w", err)
				}
				for _, svc := range services {
					fmt.Fprintf(out, "service %s %s %s\n", svc.ID, svc.Name, formatCents(svc.PriceCents))
				}
				logger.Info("services seeded", "count", len(services))
			}

			if email != "" {
				password := v.GetString("owner.password")
				if password == "" {
					return errors.New("owner password is required (TIERAUTH_OWNER_PASSWORD)")
				}
				profile, err := engine.SeedOwner(ctx, tierauth.RegisterRequest{
					Username: username,
					Email:    email,
					Password: password,
				})
				if err != nil {
					return fmt.Errorf("seed owner: %w", err)
				}
				fmt.Fprintf(out, "owner %s %s\n", profile.ID, profile.Email)
				logger.Info("owner seeded", "account_id", profile.ID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dev, "dev", false, "use in-memory stores instead of postgres")
	cmd.Flags().BoolVar(&skipServices, "skip-services", false, "do not upsert catalog services")
	cmd.Flags().StringVar(&username, "owner-username", "owner", "username for a newly created owner")
	cmd.Flags().StringVar(&email, "owner-email", "", "email of the owner to create or promote")
	return cmd
}

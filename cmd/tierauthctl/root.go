package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at link time.
var version = "dev"

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "tierauthctl",
		Short:         "Administer a tierauth deployment",
		Long:          "tierauthctl runs database migrations, validates tier catalogs, seeds owners and services, generates secrets and runs the mail worker.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig(v, configFile)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	flags.String("database-url", "", "postgres connection URL")
	flags.String("redis-addr", "", "redis address for device trust, tier budgets and the mail queue")
	flags.String("catalog", "", "tier catalog YAML file; the built-in catalog when empty")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "text", "log format: json or text")

	for key, flag := range map[string]string{
		"database.url": "database-url",
		"redis.addr":   "redis-addr",
		"catalog.path": "catalog",
		"log.level":    "log-level",
		"log.format":   "log-format",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newKeygenCmd(),
		newCatalogCmd(v),
		newMigrateCmd(v),
		newSeedCmd(v),
		newMailWorkerCmd(v),
	)

	return rootCmd
}

// loadConfig layers defaults, an optional file and TIERAUTH_* environment
// variables. Flags bound to keys win over all of them.
func loadConfig(v *viper.Viper, file string) error {
	v.SetEnvPrefix("TIERAUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("redis.prefix", "tierauth")
	v.SetDefault("mail.queue", "default")
	v.SetDefault("mail.concurrency", 5)
	v.SetDefault("mail.product", "tierauth")

	if file == "" {
		return nil
	}
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newCatalogCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the tier catalog",
	}
	cmd.AddCommand(newCatalogValidateCmd(v))
	return cmd
}

func newCatalogValidateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a tier catalog against the built-in algorithms and list its tiers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				v.Set("catalog.path", args[0])
			}
			catalog, err := loadCatalog(v)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tNAME\tPRICE\tBUDGET\tALGORITHMS")
			for _, t := range catalog.Tiers() {
				name := t.Name
				if t.Guest {
					name += " (guest)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%s\t%s\n",
					t.Key, name, formatCents(t.PriceCents), t.RateLimit, t.RatePeriod, strings.Join(t.Algorithms, ","))
			}
			return tw.Flush()
		},
	}
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

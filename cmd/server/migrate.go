package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations",
	Long: "Applies pending SQLite migrations (and the Postgres record cache schema when the postgres " +
		"driver is configured). --reseed replaces the stored indicators with the configured catalog.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		// Opening the stores applies every pending migration.
		a, err := openApp(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "migrate")
		}
		defer a.close()

		if reseed, _ := cmd.Flags().GetBool("reseed"); reseed {
			if err := a.store.ImportIndicators(ctx, a.catalog.Indicators); err != nil {
				return eris.Wrap(err, "reseed indicators")
			}
			zap.L().Info("indicator catalog replaced",
				zap.String("program", a.catalog.Name),
				zap.Int("indicators", len(a.catalog.Indicators)))
		}

		zap.L().Info("all migrations applied successfully")
		return nil
	},
}

func init() {
	migrateCmd.Flags().Bool("reseed", false, "replace stored indicators with the catalog")
	rootCmd.AddCommand(migrateCmd)
}

/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the RBF incentive engine. The same binary serves
  the HTTP API and runs batch operations from the command line.

COMMANDS:
  serve        HTTP API with warm-up scheduler (default)
  calculate    Compute one facility-month without storing it
  recalculate  Replace the stored snapshot of one facility-month
  sweep        Recalculate stored snapshots or a month range
  migrate      Apply schema migrations and seed the indicator catalog

CONFIGURATION:
  config.yaml in the working directory, overridden by INCENTIVE_* env vars.
  See config/config.go for every key and its default.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and close database connections
  4. Exit

EXAMPLES:
  # Serve with demo scenarios enabled
  INCENTIVE_SERVER_ENABLE_DEMO=true ./server

  # Compute March for one facility
  ./server calculate --facility hp-001 --month 2025-03

  # Recalculate the first quarter
  ./server sweep --from 2025-01 --to 2025-03

SEE ALSO:
  - app.go: Dependency wiring
  - api/server.go: Router configuration
  - config/config.go: Configuration loading
*/
package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "incentive-engine",
	Short: "RBF facility incentive engine",
	Long:  "Scores facility performance indicators, allocates remuneration to workers, and serves the results over HTTP.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if _, err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

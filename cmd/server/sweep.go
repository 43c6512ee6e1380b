package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/engine"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Recalculate remuneration snapshots in bulk",
	Long: "Without flags every stored snapshot is recalculated. With --from (and optionally --to) " +
		"every facility is recalculated for each month in the range. Failures are reported per key.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		req, err := sweepRequestFlags(cmd)
		if err != nil {
			return err
		}

		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		report, err := a.records.Sweep(ctx, req)
		if err != nil {
			return eris.Wrap(err, "sweep")
		}

		fmt.Fprintf(os.Stdout, "run %s: %d/%d recalculated in %s\n",
			report.RunID, report.Succeeded, report.Total, report.FinishedAt.Sub(report.StartedAt))
		for _, f := range report.Failures {
			fmt.Fprintf(os.Stdout, "  failed %s: %s\n", f.Key, f.Error)
		}
		if len(report.Failures) > 0 {
			zap.L().Warn("sweep finished with failures", zap.Int("failed", len(report.Failures)))
		}
		return nil
	},
}

func sweepRequestFlags(cmd *cobra.Command) (engine.SweepRequest, error) {
	var req engine.SweepRequest
	for _, name := range []string{"from", "to"} {
		raw, _ := cmd.Flags().GetString(name)
		if raw == "" {
			continue
		}
		m, err := engine.ParseMonth(raw)
		if err != nil {
			return req, eris.Wrapf(err, "--%s", name)
		}
		if name == "from" {
			req.From = &m
		} else {
			req.To = &m
		}
	}
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		return req, eris.New("--to is before --from")
	}
	return req, nil
}

func init() {
	sweepCmd.Flags().String("from", "", "first month of the range (YYYY-MM)")
	sweepCmd.Flags().String("to", "", "last month of the range (YYYY-MM)")
	rootCmd.AddCommand(sweepCmd)
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/warp/incentive-engine/engine"
)

// -- calculate --

var calculateCmd = &cobra.Command{
	Use:   "calculate",
	Short: "Compute one facility-month without storing it",
	Long:  "Evaluates every applicable indicator and allocates worker payouts. The record store is not touched.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runRecordCommand(cmd, func(a *app, key engine.RecordKey) (engine.RemunerationRecord, error) {
			return a.records.Compute(cmd.Context(), key)
		})
	},
}

// -- recalculate --

var recalculateCmd = &cobra.Command{
	Use:   "recalculate",
	Short: "Replace the stored snapshot of one facility-month",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runRecordCommand(cmd, func(a *app, key engine.RecordKey) (engine.RemunerationRecord, error) {
			return a.records.Recalculate(cmd.Context(), key)
		})
	},
}

func runRecordCommand(cmd *cobra.Command, fn func(*app, engine.RecordKey) (engine.RemunerationRecord, error)) error {
	key, err := recordKeyFlags(cmd)
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := openApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.close()

	rec, err := fn(a, key)
	if err != nil {
		return eris.Wrapf(err, "%s %s", cmd.Name(), key)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	formatRecord(os.Stdout, rec)
	return nil
}

func recordKeyFlags(cmd *cobra.Command) (engine.RecordKey, error) {
	facility, _ := cmd.Flags().GetString("facility")
	monthStr, _ := cmd.Flags().GetString("month")
	month, err := engine.ParseMonth(monthStr)
	if err != nil {
		return engine.RecordKey{}, eris.Wrap(err, "--month")
	}
	return engine.RecordKey{FacilityID: engine.FacilityID(facility), Month: month}, nil
}

func formatRecord(w io.Writer, rec engine.RemunerationRecord) {
	fmt.Fprintf(w, "%s (%s) %s  record %s\n\n", rec.FacilityName, rec.FacilityType, rec.Month, rec.ID)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDICATOR\tSTATUS\tACHIEVEMENT\tINCENTIVE\tMAX")
	for _, r := range rec.Indicators {
		fmt.Fprintf(tw, "%s %s\t%s\t%.2f%%\t%s\t%s\n",
			r.Indicator, r.IndicatorName, r.Status, r.Achievement,
			r.Incentive.StringFixed(engine.MoneyPlaces),
			r.MaxRemuneration.StringFixed(engine.MoneyPlaces))
	}
	tw.Flush() //nolint:errcheck

	if len(rec.Workers) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "WORKER\tDESIGNATION\tROLE\tAMOUNT")
		for _, wr := range rec.Workers {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", wr.Name, wr.Designation, wr.Role, wr.Amount.StringFixed(engine.MoneyPlaces))
		}
		tw.Flush() //nolint:errcheck
	}

	s := rec.Summary
	fmt.Fprintf(w, "\nindicators %s / %s  workers %s  total %s  performance %.2f%%\n",
		s.IndicatorTotal.StringFixed(engine.MoneyPlaces),
		s.MaxPossible.StringFixed(engine.MoneyPlaces),
		s.WorkerTotal.StringFixed(engine.MoneyPlaces),
		s.GrandTotal.StringFixed(engine.MoneyPlaces),
		s.PerformancePct)
	for _, code := range s.SkippedIndicators {
		fmt.Fprintf(w, "skipped %s (see warnings)\n", code)
	}
	for _, issue := range s.WorkerIssues {
		fmt.Fprintf(w, "worker configuration: %s\n", issue.Error())
	}
}

func init() {
	for _, c := range []*cobra.Command{calculateCmd, recalculateCmd} {
		c.Flags().String("facility", "", "facility id")
		c.Flags().String("month", "", "reporting month (YYYY-MM)")
		c.Flags().Bool("json", false, "print the record as JSON")
		_ = c.MarkFlagRequired("facility")
		_ = c.MarkFlagRequired("month")
		rootCmd.AddCommand(c)
	}
}

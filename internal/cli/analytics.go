package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/nexus/internal/analytics"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Check failure rates, durations and gate throughput",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		if a.history == nil {
			return errNoHistory
		}

		sinceFlag, _ := cmd.Flags().GetString("since")
		since, err := analytics.ParseSince(sinceFlag, time.Now())
		if err != nil {
			return err
		}
		failures, err := analytics.QueryCheckFailures(a.history, since)
		if err != nil {
			return err
		}
		durations, err := analytics.QueryCheckDurations(a.history, since)
		if err != nil {
			return err
		}
		throughput, err := analytics.QueryGateThroughput(a.history, since)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"check_failures":  failures,
				"check_durations": durations,
				"gate_throughput": throughput,
			})
		}
		return renderAnalytics(cmd.OutOrStdout(), failures, durations, throughput)
	},
}

func renderAnalytics(out io.Writer, failures []analytics.CheckFailure, durations []analytics.CheckDuration, throughput []analytics.GateThroughput) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tRUNS\tFAILED\tFAIL%\tTOP SIGNATURES")
	for _, f := range failures {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.1f\t%s\n", f.Check, f.Total, f.Failed, f.FailRate, f.TopSignatures)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "CHECK\tRUNS\tAVG ms\tP50 ms\tP95 ms")
	for _, d := range durations {
		fmt.Fprintf(w, "%s\t%d\t%.0f\t%.0f\t%.0f\n", d.Check, d.Count, d.Avg, d.P50, d.P95)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "DATE\tRUNS\tPASSED\tPASS%")
	for _, g := range throughput {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.1f\n", g.Date, g.Runs, g.Passed, g.PassRate)
	}
	return w.Flush()
}

func init() {
	analyticsCmd.Flags().String("since", "7d", "Only data newer than this (e.g. 24h, 7d, 2026-01-01)")
	analyticsCmd.Flags().String("format", "text", "Output format: text or json")
}

package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var errNoHistory = errors.New("history ledger is disabled or unavailable (see history.enabled)")

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query the SQLite history ledger",
}

var historyChecksCmd = &cobra.Command{
	Use:   "checks",
	Short: "List recent check runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		if a.history == nil {
			return errNoHistory
		}

		check, _ := cmd.Flags().GetString("check")
		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := a.history.RecentCheckRuns(commandContext(cmd), check, limit)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return printJSON(cmd.OutOrStdout(), runs)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tRUN\tCHECK\tOK\tRC\tMS\tSIGNATURE")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%d\t%s\n", r.Timestamp, r.RunID, r.CheckName, r.Passed, r.ExitCode, r.DurationMs, r.Signature)
		}
		return w.Flush()
	},
}

var historyEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recent pipeline events",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		if a.history == nil {
			return errNoHistory
		}

		kind, _ := cmd.Flags().GetString("event")
		limit, _ := cmd.Flags().GetInt("limit")
		events, err := a.history.RecentEvents(commandContext(cmd), kind, limit)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return printJSON(cmd.OutOrStdout(), events)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tEVENT\tDETAIL")
		for _, e := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Timestamp, e.Event, e.Detail)
		}
		return w.Flush()
	},
}

var historyResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate the ledger tables (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to reset without --yes")
		}
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		if a.history == nil {
			return errNoHistory
		}
		if err := a.history.Reset(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", a.history.Path())
		return nil
	},
}

func init() {
	historyChecksCmd.Flags().String("check", "", "Only runs of this check")
	historyEventsCmd.Flags().String("event", "", "Only events of this kind (e.g. task_closed)")
	for _, c := range []*cobra.Command{historyChecksCmd, historyEventsCmd} {
		c.Flags().Int("limit", 50, "Maximum number of rows")
		c.Flags().String("format", "text", "Output format: text or json")
	}
	historyResetCmd.Flags().Bool("yes", false, "Confirm the reset")

	historyCmd.AddCommand(historyChecksCmd)
	historyCmd.AddCommand(historyEventsCmd)
	historyCmd.AddCommand(historyResetCmd)
}

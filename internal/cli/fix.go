package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/nexus/internal/fixqueue"
)

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Inspect and verify fix tasks",
}

var fixStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count fix tasks by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		stats, err := a.fixes.Stats()
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return printJSON(cmd.OutOrStdout(), stats)
		}
		w := cmd.OutOrStdout()
		for _, s := range []string{"pending", "attempted", "completed", "failed", "total"} {
			fmt.Fprintf(w, "%-10s %d\n", s, stats[s])
		}
		return nil
	},
}

var fixListCmd = &cobra.Command{
	Use:   "list",
	Short: "List fix tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		status, _ := cmd.Flags().GetString("status")
		tasks, err := a.fixes.List(fixqueue.Status(status))
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return printJSON(cmd.OutOrStdout(), tasks)
		}
		if len(tasks) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No fix tasks.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tATT\tCREATED\tSIGNATURE\tVERIFY")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
				t.ID, t.Status, t.Attempts, humanize.Time(t.Timestamp), t.Incident.Signature, strings.Join(t.VerifyCmd, " "))
		}
		return w.Flush()
	},
}

var fixProcessOneCmd = &cobra.Command{
	Use:   "process-one",
	Short: "Verify the oldest pending fix task",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		executor, _ := cmd.Flags().GetString("executor")
		out, err := a.fixes.ProcessOne(commandContext(cmd), executor)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var fixWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Verify pending fix tasks as they are queued",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		executor, _ := cmd.Flags().GetString("executor")
		fmt.Fprintf(cmd.ErrOrStderr(), "watching %s (Ctrl-C to stop)\n", a.fixes.Path())
		return a.fixes.Watch(commandContext(cmd), executor, func(out *fixqueue.Outcome) {
			_ = printJSON(cmd.OutOrStdout(), out)
		})
	},
}

func init() {
	fixStatsCmd.Flags().String("format", "json", "Output format: json or text")
	fixListCmd.Flags().String("status", "", "Only tasks with this status: pending, attempted, completed or failed")
	fixListCmd.Flags().String("format", "text", "Output format: text or json")
	fixProcessOneCmd.Flags().String("executor", "manual", "Executor name recorded in the task history")
	fixWatchCmd.Flags().String("executor", "watch", "Executor name recorded in the task history")

	fixCmd.AddCommand(fixStatsCmd)
	fixCmd.AddCommand(fixListCmd)
	fixCmd.AddCommand(fixProcessOneCmd)
	fixCmd.AddCommand(fixWatchCmd)
}

package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active task, gate metrics and fix queue at a glance",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		st, err := a.tasks.Status()
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return printJSON(cmd.OutOrStdout(), st)
		}

		w := cmd.OutOrStdout()
		if t := st.CurrentTask; t != nil {
			fmt.Fprintf(w, "Task:       %s %q (started %s, %d passes)\n", t.ID, t.Goal, humanize.Time(t.StartedAt), t.ProgressEvents)
		} else {
			fmt.Fprintln(w, "Task:       none")
		}

		m := st.Metrics
		last := "never"
		if !m.LastRun.IsZero() {
			last = humanize.Time(m.LastRun)
		}
		fmt.Fprintf(w, "Gate:       %s runs, %s rollbacks, last run %s\n",
			humanize.Comma(int64(m.Runs)), humanize.Comma(int64(m.RollbackCount)), last)
		if m.LastFailedCheck != "" {
			fmt.Fprintf(w, "            last failed check: %s\n", m.LastFailedCheck)
		}
		fmt.Fprintf(w, "Incidents:  %d total, %d open\n", m.IncidentsTotal, m.IncidentsOpen)

		q := st.FixQueue
		parts := make([]string, 0, 4)
		for _, s := range []string{"pending", "attempted", "completed", "failed"} {
			parts = append(parts, fmt.Sprintf("%d %s", q[s], s))
		}
		fmt.Fprintf(w, "Fix queue:  %s\n", strings.Join(parts, ", "))
		return nil
	},
}

func init() {
	statusCmd.Flags().String("format", "text", "Output format: text or json")
}

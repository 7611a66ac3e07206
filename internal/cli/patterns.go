package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Show the most frequent pattern signatures",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		doc, err := a.patterns.Load(commandContext(cmd))
		if err != nil {
			return err
		}
		typ, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		rows := doc.Top(typ, limit)

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return printJSON(cmd.OutOrStdout(), rows)
		}
		if len(rows) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No patterns recorded.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tSIGNATURE\tCOUNT\tOK\tFAIL\tLAST SEEN")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n", r.Type, r.Signature, r.Count, r.SuccessCount, r.FailureCount, humanize.Time(r.LastSeen))
		}
		return w.Flush()
	},
}

func init() {
	patternsCmd.Flags().String("type", "", "Only this pattern type (e.g. quality_gate_fail)")
	patternsCmd.Flags().Int("limit", 20, "Maximum number of signatures")
	patternsCmd.Flags().String("format", "text", "Output format: text or json")
}

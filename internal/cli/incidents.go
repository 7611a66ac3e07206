package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var incidentsCmd = &cobra.Command{
	Use:   "incidents",
	Short: "Inspect recorded incidents",
}

var incidentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent incidents",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		limit, _ := cmd.Flags().GetInt("limit")
		incs, err := a.incidents.Recent(limit)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return printJSON(cmd.OutOrStdout(), incs)
		}
		if len(incs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No incidents recorded.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tWHEN\tSOURCE\tCLASS\tSIGNATURE")
		for _, inc := range incs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", inc.ID, humanize.Time(inc.Timestamp), inc.Source, inc.Class, inc.Signature)
		}
		return w.Flush()
	},
}

func init() {
	incidentsListCmd.Flags().Int("limit", 20, "Maximum number of incidents to show (0 for all)")
	incidentsListCmd.Flags().String("format", "text", "Output format: text or json")
	incidentsCmd.AddCommand(incidentsListCmd)
}

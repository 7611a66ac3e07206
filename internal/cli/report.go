package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/nexus/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Score pipeline usage and write quality_report.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		now := time.Now()
		r, err := report.Generate(commandContext(cmd), a.reportSources(), version, now)
		if err != nil {
			return err
		}
		path, err := report.Write(a.cfg.StateDir, r)
		if err != nil {
			return err
		}
		a.logger.Debug("quality report written", "path", path, "score", r.QualityScore)

		format, _ := cmd.Flags().GetString("format")
		if format == "text" {
			if err := report.Render(cmd.OutOrStdout(), r, now); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nwritten to %s\n", path)
			return nil
		}
		return printJSON(cmd.OutOrStdout(), r)
	},
}

func init() {
	reportCmd.Flags().String("format", "json", "Output format: json or text")
}

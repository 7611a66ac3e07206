package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/nexus/internal/event"
	"github.com/lucasnoah/nexus/internal/gate"
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Run the quality gate for the change event on stdin",
	Long: `Reads a post-tool change event as JSON from stdin, runs the applicable
quality checks and prints the verdict as JSON. A failing gate rolls the
change back, records an incident and a fix task, and exits with status 2.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// A nested gate must not touch state, logs or the ledger.
		if gate.Guarded() {
			return printJSON(cmd.OutOrStdout(), gate.SkippedResult())
		}
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		ev, err := event.Decode(cmd.InOrStdin(), a.logger)
		if err != nil {
			return err
		}
		res, err := a.gate().Run(commandContext(cmd), ev)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}

		if code := res.ExitCode(); code != 0 {
			w := cmd.ErrOrStderr()
			fmt.Fprintf(w, "quality gate failed: %s (%s)\n", res.FailedCheck, res.FailedSignature)
			fmt.Fprintf(w, "change rolled back via %s; fix task %s queued\n", res.RollbackMethod, res.FixTaskID)
			if res.SuggestedAction != "" {
				fmt.Fprintf(w, "next: %s\n", res.SuggestedAction)
			}
			return &ExitError{Code: code}
		}
		return nil
	},
}

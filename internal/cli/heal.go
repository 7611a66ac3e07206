package cli

import (
	"github.com/spf13/cobra"

	"github.com/lucasnoah/nexus/internal/event"
)

var healCmd = &cobra.Command{
	Use:   "heal",
	Short: "Record an incident and a fix task when the tool event on stdin failed",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		ev, err := event.Decode(cmd.InOrStdin(), a.logger)
		if err != nil {
			return err
		}
		res, err := a.healer().Handle(commandContext(cmd), ev)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Record the outcome of the tool event on stdin as a pattern",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		ev, err := event.Decode(cmd.InOrStdin(), a.logger)
		if err != nil {
			return err
		}
		res, err := a.healer().Learn(commandContext(cmd), ev)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

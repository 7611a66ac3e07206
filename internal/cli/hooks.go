package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/nexus/internal/hooks"
)

var hooksCmd = &cobra.Command{
	Use:   "hooks",
	Short: "Manage host hook settings",
}

var hooksInstallCmd = &cobra.Command{
	Use:   "install [dir]",
	Short: "Route the host's post-tool hooks to nexus gate, heal and learn",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return err
		}
		bin, _ := cmd.Flags().GetString("bin")

		path, err := hooks.Write(abs, hooks.Generate(bin))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote hooks to %s\n", path)
		return nil
	},
}

func init() {
	hooksInstallCmd.Flags().String("bin", "", "nexus binary to invoke (default: this executable)")
	hooksCmd.AddCommand(hooksInstallCmd)
}

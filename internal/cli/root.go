package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configPath string
	logLevel   string
)

// ExitError carries a non-zero process exit code that is not a failure of
// the command itself, such as a failing quality gate.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "nexus: a deterministic self-healing quality pipeline",
	Long: `nexus runs quality checks after every code change, rolls back changes
that fail them, and turns failures into incidents and verifiable fix tasks.

All state is stored in ~/.nexus/state (JSON and JSONL documents, plus a
SQLite history ledger). Hosts call nexus gate, heal and learn from their
post-tool hooks; install them with nexus hooks install.`,
	SilenceUsage: true,
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ./nexus.yaml or ~/.nexus/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(healCmd)
	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(fixCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(incidentsCmd)
	rootCmd.AddCommand(patternsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(hooksCmd)
	rootCmd.AddCommand(configCmd)
}

package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/nexus/internal/task"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Track the active task",
}

var taskStartCmd = &cobra.Command{
	Use:   "start <goal>",
	Short: "Start a task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		t, err := a.tasks.Start(commandContext(cmd), strings.Join(args, " "))
		var active *task.ActiveTaskError
		if errors.As(err, &active) {
			return fmt.Errorf("task %s is still active; close it with `nexus task close` first", active.ID)
		}
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), t)
	},
}

var taskCloseCmd = &cobra.Command{
	Use:   "close",
	Short: "Close the active task",
	RunE: func(cmd *cobra.Command, args []string) error {
		success, _ := cmd.Flags().GetBool("success")
		fail, _ := cmd.Flags().GetBool("fail")
		if success == fail {
			return fmt.Errorf("pass exactly one of --success or --fail")
		}
		note, _ := cmd.Flags().GetString("note")

		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		t, err := a.tasks.Close(commandContext(cmd), success, note)
		if errors.Is(err, task.ErrNoActiveTask) {
			return fmt.Errorf("no active task to close")
		}
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), t)
	},
}

var taskStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active task, metrics and fix queue counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		r, err := a.tasks.Status()
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), r)
	},
}

func init() {
	taskCloseCmd.Flags().Bool("success", false, "Close the task as completed")
	taskCloseCmd.Flags().Bool("fail", false, "Close the task as failed")
	taskCloseCmd.Flags().String("note", "", "Closing note")

	taskCmd.AddCommand(taskStartCmd)
	taskCmd.AddCommand(taskCloseCmd)
	taskCmd.AddCommand(taskStatusCmd)
}

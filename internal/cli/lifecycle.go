package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrel-systems/harness/internal/manager"
)

func newCreateCmd(getApp func() *App) *cobra.Command {
	var agent, task string
	var autonomy int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a harness for a registered agent without starting it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if task == "" {
				return printError(errors.New("--task is required"))
			}
			app := getApp()
			id, err := app.Manager.CreateHarness(agent, task, manager.CreateOptions{AutonomyLevel: autonomy})
			if err != nil {
				return printError(err)
			}
			return printSuccess(map[string]string{"id": id})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "echo", "Registered agent name")
	cmd.Flags().StringVar(&task, "task", "", "Task id / input for the harness's plan")
	cmd.Flags().IntVar(&autonomy, "autonomy", 3, "Autonomy level 1-5 (§4.4 gate rule)")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func newStartCmd(getApp func() *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start a created harness and wait for it to suspend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			res, err := app.Manager.Start(cmd.Context(), args[0])
			if err != nil {
				return printError(err)
			}
			return printSuccess(res)
		},
	}
	return cmd
}

// newRunCmd is create+start in one call, for the common case of running a
// single harness to completion from the command line.
func newRunCmd(getApp func() *App) *cobra.Command {
	var agent, task string
	var autonomy int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create and start a harness in one call",
		RunE: func(cmd *cobra.Command, args []string) error {
			if task == "" {
				return printError(errors.New("--task is required"))
			}
			app := getApp()
			id, err := app.Manager.CreateHarness(agent, task, manager.CreateOptions{AutonomyLevel: autonomy})
			if err != nil {
				return printError(err)
			}
			res, err := app.Manager.Start(cmd.Context(), id)
			if err != nil {
				return printError(fmt.Errorf("harness %s: %w", id, err))
			}
			return printSuccess(map[string]any{"id": id, "result": res})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "echo", "Registered agent name")
	cmd.Flags().StringVar(&task, "task", "", "Task id / input for the harness's plan")
	cmd.Flags().IntVar(&autonomy, "autonomy", 3, "Autonomy level 1-5 (§4.4 gate rule)")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func newPauseCmd(getApp func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <id>",
		Short: "Signal a running harness to suspend at its next safe point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			res, err := app.Manager.Pause(cmd.Context(), args[0])
			if err != nil {
				return printError(err)
			}
			return printSuccess(res)
		},
	}
}

func newResumeCmd(getApp func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Re-launch a paused harness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			res, err := app.Manager.Resume(cmd.Context(), args[0])
			if err != nil {
				return printError(err)
			}
			return printSuccess(res)
		},
	}
}

func newStopCmd(getApp func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Signal a harness to terminate at its next safe point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			res, err := app.Manager.Stop(cmd.Context(), args[0])
			if err != nil {
				return printError(err)
			}
			return printSuccess(res)
		},
	}
}

func newListCmd(getApp func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every harness this manager process tracks",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			return printSuccess(app.Manager.List())
		},
	}
}

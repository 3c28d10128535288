package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

// newGateCmd groups the human-in-loop gate operations (§4.4): inspect the
// currently pending gate for a harness and resolve it approved or
// rejected.
func newGateCmd(getApp func() *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Inspect and resolve a harness's pending human-in-loop gate",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(newGateShowCmd(getApp))
	cmd.AddCommand(newGateApproveCmd(getApp))
	cmd.AddCommand(newGateRejectCmd(getApp))
	return cmd
}

func newGateShowCmd(getApp func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print the step id of the harness's pending gate, if any",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			stepID, ok := app.Manager.PendingGate(args[0])
			if !ok {
				return printError(errors.New("no pending gate"))
			}
			return printSuccess(map[string]string{"stepId": stepID})
		},
	}
}

func newGateApproveCmd(getApp func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve the harness's pending gate, waking its blocked dispatcher",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			wait, err := app.Manager.ApproveGate(args[0])
			if err != nil {
				return printError(err)
			}
			return printSuccess(map[string]any{"waitMs": wait.Milliseconds()})
		},
	}
}

func newGateRejectCmd(getApp func() *App) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject the harness's pending gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			wait, err := app.Manager.RejectGate(args[0], reason)
			if err != nil {
				return printError(err)
			}
			return printSuccess(map[string]any{"waitMs": wait.Milliseconds()})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the rejection")
	return cmd
}

package cli

import (
	"context"

	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"github.com/kestrel-systems/harness/internal/config"
)

// Execute builds the harnessd root command and runs it.
//
// Grounded on dotcommander-vybe's commands.Execute: a cobra root with a
// persistent pre-run that wires the application from flags/config before
// any subcommand runs, SilenceUsage/SilenceErrors so cobra prints no usage
// or error text of its own. Command failures are reported through the JSON
// response envelope; errors from the pre-run (config load, app wiring) are
// returned as they are.
func Execute(version string) error {
	var (
		app     *App
		cfgPath string
		debug   bool
	)

	root := &cobra.Command{
		Use:           "harnessd",
		Short:         "Durable agent harness runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			format := log.FormatJSON
			if log.IsTerminal() {
				format = log.FormatTerminal
			}
			ctx := log.Context(context.Background(), log.WithFormat(format))
			if debug {
				ctx = log.Context(ctx, log.WithDebug())
			}
			cmd.SetContext(ctx)

			cfg := config.Default()
			if cfgPath != "" {
				loaded, err := config.Load(cfgPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			a, err := NewApp(ctx, cfg)
			if err != nil {
				return err
			}
			app = a
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to a harness policy YAML file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	getApp := func() *App { return app }

	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newCreateCmd(getApp))
	root.AddCommand(newStartCmd(getApp))
	root.AddCommand(newRunCmd(getApp))
	root.AddCommand(newPauseCmd(getApp))
	root.AddCommand(newResumeCmd(getApp))
	root.AddCommand(newStopCmd(getApp))
	root.AddCommand(newListCmd(getApp))
	root.AddCommand(newGateCmd(getApp))

	return root.Execute()
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print the harnessd version",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printSuccess(map[string]string{"version": version})
		},
	}
}

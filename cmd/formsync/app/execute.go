package app

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentstation/formsync/internal/output"
	"github.com/agentstation/formsync/pkg/errors"
	"github.com/agentstation/formsync/pkg/logging"
)

// Execute runs the formsync CLI application with the given arguments.
func (a *App) Execute(ctx context.Context, args []string) error {
	rootCmd := a.createRootCommand()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

// createRootCommand creates the root cobra command with all subcommands.
func (a *App) createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "formsync",
		Short:   "Reconcile nested documents into entity graphs",
		Version: a.version,
		Long: `formsync applies nested input documents to entity graphs described
by a schema file.

Forms whitelist the attributes a document may write. Nested documents are
matched to existing children by id; children missing from the input are
removed when the graph is saved.`,
		PersistentPreRunE: a.setupCommand,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
	if a.out != nil {
		rootCmd.SetOut(a.out)
	}

	rootCmd.AddGroup(&cobra.Group{ID: "core", Title: "Core Commands:"})

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default is ./.formsync.yaml or $HOME/.formsync.yaml)")
	flags.BoolP("verbose", "v", a.config.Verbose, "verbose output (shortcut for --log-level=debug)")
	flags.BoolP("quiet", "q", a.config.Quiet, "minimal output (shortcut for --log-level=warn)")
	flags.Bool("no-color", a.config.NoColor, "disable colored output")
	flags.StringP("format", "o", "", "output format: json, yaml, table (default "+a.config.Format+")")
	flags.String("log-level", "", "log level: trace, debug, info, warn, error (overrides -v/-q)")

	rootCmd.SetVersionTemplate("formsync {{.Version}}\n")

	a.registerCommands(rootCmd)

	return rootCmd
}

// setupCommand is called before any command runs.
func (a *App) setupCommand(cmd *cobra.Command, _ []string) error {
	if configFile := mustGetString(cmd, "config"); configFile != "" {
		fileConfig, err := loadConfig(configFile)
		if err != nil {
			return err
		}
		a.config.merge(fileConfig)
	}

	a.config.UpdateFromFlags(
		mustGetBool(cmd, "verbose"),
		mustGetBool(cmd, "quiet"),
		mustGetBool(cmd, "no-color"),
		mustGetString(cmd, "format"),
		mustGetString(cmd, "log-level"),
	)

	if _, err := output.ParseFormat(a.config.Format); err != nil {
		return errors.NewValidationError("format", a.config.Format, err.Error())
	}

	logger := NewLogger(a.config)
	a.logger = &logger
	logging.SetDefault(logger)

	return nil
}

// registerCommands registers all subcommands with the root command.
func (a *App) registerCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(a.NewApplyCommand())
	rootCmd.AddCommand(a.NewShowCommand())
	rootCmd.AddCommand(a.NewSchemaCommand())
	rootCmd.AddCommand(a.NewVersionCommand())
}

// write renders data in the configured output format.
func (a *App) write(cmd *cobra.Command, data any) error {
	format := output.DetectFormat(a.config.Format)
	return output.NewFormatter(format).Format(cmd.OutOrStdout(), data)
}

// ExitOnError prints an error and exits with status 1.
func ExitOnError(err error) {
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

// mustGetBool retrieves a boolean flag value or panics if the flag doesn't exist.
// This should only be used for flags defined in this package.
func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic("programming error: failed to get flag " + name + ": " + err.Error())
	}
	return val
}

// mustGetString retrieves a string flag value or panics if the flag doesn't exist.
// This should only be used for flags defined in this package.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic("programming error: failed to get flag " + name + ": " + err.Error())
	}
	return val
}

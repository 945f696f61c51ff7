package app

import (
	"context"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/agentstation/formsync/pkg/constants"
	"github.com/agentstation/formsync/pkg/logging"
)

// NewShowCommand creates the show command.
func (a *App) NewShowCommand() *cobra.Command {
	var (
		schemaPath   string
		databasePath string
	)

	cmd := &cobra.Command{
		Use:     "show <type> <id>",
		GroupID: "core",
		Short:   "Show a stored entity",
		Long: `Show loads one entity of a schema type from the database and prints
it together with the entities it relates to.`,
		Example: `  formsync show --db company.db employee 1
  formsync show employee 1 -o table`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.config.UpdateSources(schemaPath, databasePath)

			ctx, cancel := context.WithTimeout(cmd.Context(), constants.CommandTimeout)
			defer cancel()
			ctx = logging.WithOperation(logging.WithLogger(ctx, a.logger), "show")

			s, err := a.Schema()
			if err != nil {
				return err
			}
			t, err := s.Type(args[0])
			if err != nil {
				return err
			}
			store, err := a.Store(ctx)
			if err != nil {
				return err
			}

			e, err := store.Find(ctx, t, parseID(args[1]))
			if err != nil {
				return err
			}

			result, err := newEntityResult("", e, true)
			if err != nil {
				return err
			}
			return a.write(cmd, result)
		},
	}

	cmd.Flags().StringVar(&schemaPath, "schema", "", "schema file (overrides FORMSYNC_SCHEMA)")
	cmd.Flags().StringVar(&databasePath, "db", "", "SQLite database file (overrides FORMSYNC_DATABASE)")

	return cmd
}

// parseID reads integer ids as int64 so they match ids assigned by stores.
func parseID(arg string) any {
	if n, err := cast.ToInt64E(arg); err == nil {
		return n
	}
	return arg
}

package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentstation/formsync/internal/output"
	"github.com/agentstation/formsync/internal/schema"
)

// NewSchemaCommand creates the schema command.
func (a *App) NewSchemaCommand() *cobra.Command {
	var schemaPath string

	cmd := &cobra.Command{
		Use:     "schema",
		GroupID: "core",
		Short:   "Validate and print the schema",
		Long: `Schema loads the schema file, checks every form against the types it
writes and prints the declared forms.`,
		Example: `  formsync schema --schema company.yaml
  formsync schema -o table`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.config.UpdateSources(schemaPath, "")

			s, err := a.Schema()
			if err != nil {
				return err
			}
			return a.write(cmd, &schemaView{Source: s.Source(), File: s.File()})
		},
	}

	cmd.Flags().StringVar(&schemaPath, "schema", "", "schema file (overrides FORMSYNC_SCHEMA)")

	return cmd
}

type schemaView struct {
	Source      string `json:"source" yaml:"source"`
	schema.File `yaml:",inline"`
}

// Table implements output.Tabular with one row per form.
func (v *schemaView) Table() output.Data {
	data := output.Data{Headers: []string{"form", "type", "attributes", "associations"}}
	for _, f := range v.Forms {
		assocs := make([]string, 0, len(f.Associations))
		for _, as := range f.Associations {
			target := as.Form
			if as.Inline != nil {
				target = "inline"
			}
			assocs = append(assocs, fmt.Sprintf("%s:%s:%s", as.Name, as.Kind, target))
		}
		data.Rows = append(data.Rows, []string{
			f.Name,
			f.Type,
			strings.Join(f.Attributes, ", "),
			strings.Join(assocs, ", "),
		})
	}
	return data
}

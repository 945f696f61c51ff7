package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/agentstation/formsync/internal/output"
	"github.com/agentstation/formsync/internal/schema"
	"github.com/agentstation/formsync/pkg/constants"
	"github.com/agentstation/formsync/pkg/entity"
	"github.com/agentstation/formsync/pkg/errors"
	"github.com/agentstation/formsync/pkg/form"
	"github.com/agentstation/formsync/pkg/logging"
)

// NewApplyCommand creates the apply command.
func (a *App) NewApplyCommand() *cobra.Command {
	var (
		formName     string
		schemaPath   string
		databasePath string
		dryRun       bool
	)

	cmd := &cobra.Command{
		Use:     "apply <input-file>",
		GroupID: "core",
		Short:   "Apply a document through a form and save the result",
		Long: `Apply reads a JSON or YAML document (use - for stdin), resolves the
target entity through the named form and assigns the document to it.

A document carrying an id updates the stored entity with that id. Nested
children are upserted by id and children missing from the document are
removed on save. With --dry-run nothing is saved.`,
		Example: `  formsync apply --schema company.yaml --form employee employee.json
  cat employee.yaml | formsync apply --form employee --dry-run -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.config.UpdateSources(schemaPath, databasePath)

			ctx, cancel := context.WithTimeout(cmd.Context(), constants.CommandTimeout)
			defer cancel()
			ctx = logging.WithOperation(logging.WithLogger(ctx, a.logger), "apply")

			s, err := a.Schema()
			if err != nil {
				return err
			}
			def, err := pickForm(s, formName)
			if err != nil {
				return err
			}
			doc, err := readDocument(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			store, err := a.Store(ctx)
			if err != nil {
				return err
			}

			ctx = logging.WithForm(ctx, def.Name())
			f, err := def.FromAttributes(ctx, doc, form.WithStore(store))
			if err != nil {
				return err
			}

			if !dryRun {
				if err := f.Save(ctx); err != nil {
					return err
				}
			}

			result, err := newEntityResult(f.Definition().Name(), f.Entity(), !dryRun)
			if err != nil {
				return err
			}
			logging.FromContext(ctx).Info().
				Str("type", result.Type).
				Str("id", entity.FormatID(result.ID)).
				Bool("saved", result.Saved).
				Msg("Applied document")

			return a.write(cmd, result)
		},
	}

	cmd.Flags().StringVarP(&formName, "form", "f", "", "form to apply (default: the only form in the schema)")
	cmd.Flags().StringVar(&schemaPath, "schema", "", "schema file (overrides FORMSYNC_SCHEMA)")
	cmd.Flags().StringVar(&databasePath, "db", "", "SQLite database file (overrides FORMSYNC_DATABASE)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "assign without saving")

	return cmd
}

// pickForm returns the named form, or the only form when name is empty.
func pickForm(s *schema.Schema, name string) (*form.Definition, error) {
	if name != "" {
		return s.Form(name)
	}
	names := s.Registry.Names()
	if len(names) != 1 {
		return nil, errors.NewConfigError("apply",
			fmt.Sprintf("--form is required, schema declares %d forms: %s", len(names), strings.Join(names, ", ")), nil)
	}
	return s.Form(names[0])
}

// readDocument decodes a YAML or JSON mapping from path, or from stdin when
// path is "-".
func readDocument(path string, stdin io.Reader) (form.Document, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, errors.WrapIO("read", path, err)
	}

	var doc form.Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewParseError("yaml", path, yaml.FormatError(err, false, false), err)
	}
	if doc == nil {
		doc = form.Document{}
	}
	return doc, nil
}

// entityResult is the rendered outcome of a command.
type entityResult struct {
	Form   string         `json:"form,omitempty" yaml:"form,omitempty"`
	Type   string         `json:"type" yaml:"type"`
	ID     any            `json:"id" yaml:"id"`
	Saved  bool           `json:"saved" yaml:"saved"`
	Entity map[string]any `json:"entity" yaml:"entity"`
}

func newEntityResult(formName string, e entity.Entity, saved bool) (*entityResult, error) {
	t, err := entity.TypeOf(e)
	if err != nil {
		return nil, err
	}
	values, err := render(t, e)
	if err != nil {
		return nil, err
	}
	return &entityResult{
		Form:   formName,
		Type:   t.Name(),
		ID:     e.EntityID(),
		Saved:  saved,
		Entity: values,
	}, nil
}

// render returns records with everything reachable from them, and other
// entities as their attributes.
func render(t entity.Type, e entity.Entity) (map[string]any, error) {
	if r, ok := e.(*entity.Record); ok {
		return r.ToMap(), nil
	}
	return entity.Snapshot(t, e)
}

// Table implements output.Tabular with one row per top-level attribute.
func (r *entityResult) Table() output.Data {
	data := output.Data{Headers: []string{"attribute", "value"}}

	keys := make([]string, 0, len(r.Entity))
	for k := range r.Entity {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		data.Rows = append(data.Rows, []string{k, cell(r.Entity[k])})
	}
	return data
}

func cell(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case []any:
		return fmt.Sprintf("%d items", len(v))
	case map[string]any:
		return fmt.Sprintf("id %v", v[constants.IDKey])
	default:
		return fmt.Sprint(v)
	}
}

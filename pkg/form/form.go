// Package form maps nested input documents onto entity graphs.
//
// A Definition whitelists the attributes a form may write and declares
// associations that hand nested documents to other definitions. A Form binds
// a definition to one entity and applies documents to it:
//
//	employeeForm := form.Define("employee", entity.TypeFor[Employee](), func(b *form.Builder) {
//		b.Attributes("name", "monthly_pay")
//		b.EmbedsMany("employees", b.Self())
//		b.EmbedsOne("task", taskForm)
//	})
//
//	f, err := employeeForm.FromAttributes(ctx, doc, form.WithStore(store))
//
// Keys are normalized from camelCase to snake_case before lookup. Keys that
// are neither attributes nor associations are dropped. Collection
// associations are upserted by id, and existing children missing from the
// input are marked for removal rather than detached.
package form

import (
	"context"

	"github.com/agentstation/formsync/pkg/entity"
	"github.com/agentstation/formsync/pkg/errors"
	"github.com/agentstation/formsync/pkg/logging"
	"github.com/agentstation/formsync/pkg/naming"
)

// Form binds a Definition to one entity.
type Form struct {
	def    *Definition
	entity entity.Entity
	config Config
	store  entity.Store
	path   string
}

// Option configures a Form.
type Option func(*Form)

// WithConfig sets the option bag shared with nested forms.
func WithConfig(cfg Config) Option {
	return func(f *Form) {
		if cfg != nil {
			f.config = cfg
		}
	}
}

// WithStore sets the store used for id lookups and saving.
func WithStore(s entity.Store) Option {
	return func(f *Form) { f.store = s }
}

// New binds def to e.
func New(def *Definition, e entity.Entity, opts ...Option) *Form {
	f := &Form{def: def, entity: e}
	for _, opt := range opts {
		opt(f)
	}
	if f.config == nil {
		f.config = Config{}
	}
	return f
}

// Definition returns the bound definition.
func (f *Form) Definition() *Definition { return f.def }

// Entity returns the bound entity.
func (f *Form) Entity() entity.Entity { return f.entity }

// Config returns the shared option bag.
func (f *Form) Config() Config { return f.config }

// Store returns the configured store, which may be nil.
func (f *Form) Store() entity.Store { return f.store }

// nested creates the form for a child entity, sharing config and store.
func (f *Form) nested(def *Definition, e entity.Entity, path string) *Form {
	return &Form{def: def, entity: e, config: f.config, store: f.store, path: path}
}

// Assign applies doc to the bound entity. It may be called repeatedly.
func (f *Form) Assign(ctx context.Context, doc Document) error {
	if f.def == nil {
		return errors.NewConfigError("form", "form has no definition", nil)
	}
	t, err := entity.TypeOf(f.entity)
	if err != nil {
		return err
	}

	for _, key := range sortedKeys(doc) {
		value := doc[key]
		name := naming.Underscore(key)

		if a, ok := f.def.Association(name); ok {
			if err := a.reconciler().reconcile(ctx, f, t, value); err != nil {
				return err
			}
			continue
		}

		if f.def.HasAttribute(name) {
			if err := t.SetAttribute(f.entity, name, value); err != nil {
				return prefixPath(err, f.path)
			}
			continue
		}

		logging.FromContext(ctx).Debug().
			Str("form", f.def.name).
			Str("key", key).
			Msg("Dropped unassignable key")
	}

	if f.def.afterAssign != nil {
		return f.def.afterAssign(ctx, f, doc)
	}
	return nil
}

// Save persists the bound entity graph. Store failures are returned as
// *errors.SaveError.
func (f *Form) Save(ctx context.Context) error {
	if f.store == nil {
		return errors.NewConfigError("form", "no store configured for "+f.def.name, nil)
	}
	if err := f.store.Save(ctx, f.entity); err != nil {
		return errors.NewSaveError(f.typeName(), entity.FormatID(f.entity.EntityID()), err)
	}
	return nil
}

// TrySave is Save reporting failure as false instead of an error.
func (f *Form) TrySave(ctx context.Context) bool {
	if err := f.Save(ctx); err != nil {
		logging.FromContext(ctx).Warn().
			Err(err).
			Str("form", f.def.name).
			Msg("Save failed")
		return false
	}
	return true
}

// UpdateAttributes assigns doc and saves.
func (f *Form) UpdateAttributes(ctx context.Context, doc Document) error {
	if err := f.Assign(ctx, doc); err != nil {
		return err
	}
	return f.Save(ctx)
}

// TryUpdateAttributes assigns doc and saves. A failed save yields false with
// a nil error; a failed assignment is still returned as an error.
func (f *Form) TryUpdateAttributes(ctx context.Context, doc Document) (bool, error) {
	if err := f.Assign(ctx, doc); err != nil {
		return false, err
	}
	return f.TrySave(ctx), nil
}

func (f *Form) typeName() string {
	if t, err := entity.TypeOf(f.entity); err == nil {
		return t.Name()
	}
	return f.def.name
}

// findOrNew loads the entity with id from the store, or builds a new one
// carrying that id. A nil id always builds.
func (f *Form) findOrNew(ctx context.Context, t entity.Type, id any) (entity.Entity, error) {
	if entity.IsNilID(id) {
		return t.New(), nil
	}
	if f.store != nil {
		found, err := f.store.Find(ctx, t, id)
		if err == nil {
			return found, nil
		}
		if !errors.IsNotFound(err) {
			return nil, errors.WrapResource("find", t.Name(), entity.FormatID(id), err)
		}
	}
	e := t.New()
	e.SetEntityID(id)
	return e, nil
}

func prefixPath(err error, base string) error {
	var tm *errors.TypeMismatchError
	if base != "" && errors.As(err, &tm) {
		tm.Path = joinPath(base, tm.Path)
	}
	return err
}

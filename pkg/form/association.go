package form

import (
	"context"

	"github.com/agentstation/formsync/pkg/entity"
	"github.com/agentstation/formsync/pkg/errors"
	"github.com/agentstation/formsync/pkg/logging"
)

// reconciler applies one association's input to the owning entity.
type reconciler interface {
	reconcile(ctx context.Context, f *Form, t entity.Type, value any) error
}

func (a *Association) reconciler() reconciler {
	if a.Cardinality == entity.Many {
		return embedsMany{a}
	}
	return embedsOne{a}
}

// target returns the definition used for nested documents.
func (a *Association) target(owner *Definition) (*Definition, error) {
	if a.Definition == nil {
		return nil, errors.NewConfigError(owner.name, "association "+a.Name+" has no form", nil)
	}
	return a.Definition, nil
}

func relationOf[R entity.Relation](f *Form, t entity.Type, a *Association) (R, error) {
	var zero R
	rel, err := t.Relation(f.entity, a.Name)
	if err != nil {
		return zero, err
	}
	r, ok := rel.(R)
	if !ok {
		return zero, errors.NewConfigError(f.def.name,
			"association "+a.Name+" is declared "+a.Cardinality.String()+" but relation is "+rel.Info().Cardinality.String(), nil)
	}
	return r, nil
}

// embedsOne replaces a single relation with the found-or-built target of
// the sub-document, or clears it when the input is nil.
type embedsOne struct {
	a *Association
}

func (r embedsOne) reconcile(ctx context.Context, f *Form, t entity.Type, value any) error {
	path := joinPath(f.path, r.a.Name)
	ctx = logging.WithAssociation(ctx, r.a.Name)

	rel, err := relationOf[entity.SingleRelation](f, t, r.a)
	if err != nil {
		return err
	}
	if value == nil {
		return rel.Set(nil)
	}

	doc, ok := asDocument(value)
	if !ok {
		return errors.NewTypeMismatchError(path, "document", value)
	}
	def, err := r.a.target(f.def)
	if err != nil {
		return err
	}

	child, err := f.findOrNew(ctx, rel.Info().Target, idOf(doc))
	if err != nil {
		return err
	}
	if err := rel.Set(child); err != nil {
		return err
	}
	return f.nested(def, child, path).Assign(withEntity(ctx, rel.Info().Target, child), doc)
}

// embedsMany upserts collection children by id and marks the children
// missing from the input for removal. A nil input leaves the collection
// untouched.
type embedsMany struct {
	a *Association
}

func (r embedsMany) reconcile(ctx context.Context, f *Form, t entity.Type, value any) error {
	path := joinPath(f.path, r.a.Name)
	ctx = logging.WithAssociation(ctx, r.a.Name)

	if value == nil {
		logging.FromContext(ctx).Debug().
			Str("form", f.def.name).
			Msg("Skipped nil collection input")
		return nil
	}

	docs, err := asSequence(value, path)
	if err != nil {
		return err
	}
	rel, err := relationOf[entity.CollectionRelation](f, t, r.a)
	if err != nil {
		return err
	}
	def, err := r.a.target(f.def)
	if err != nil {
		return err
	}

	kept := newKeptSet()
	for i, doc := range docs {
		child, err := r.findOrBuild(rel, idOf(doc))
		if err != nil {
			return err
		}
		if err := f.nested(def, child, indexPath(path, i)).Assign(withEntity(ctx, rel.Info().Target, child), doc); err != nil {
			return err
		}
		kept.add(child)

		if r.a.ChildBuilt != nil {
			if err := r.a.ChildBuilt(ctx, child, doc, i); err != nil {
				return err
			}
		}
	}

	for _, child := range rel.Items() {
		if kept.has(child) {
			continue
		}
		child.MarkForRemoval()
		logging.FromContext(ctx).Debug().
			Str("form", f.def.name).
			Str("id", entity.FormatID(child.EntityID())).
			Msg("Marked child for removal")
	}
	return nil
}

// findOrBuild returns the first child whose id matches, or builds a new
// child seeded only with id. A nil id never matches.
func (r embedsMany) findOrBuild(rel entity.CollectionRelation, id any) (entity.Entity, error) {
	if !entity.IsNilID(id) {
		for _, child := range rel.Items() {
			if entity.SameID(child.EntityID(), id) {
				return child, nil
			}
		}
	}
	return rel.Build(id)
}

// keptSet records resolved children. Children with an id are kept by id;
// children without one are kept by identity, so two unsaved children are
// never confused with each other.
type keptSet struct {
	objects map[entity.Entity]bool
	ids     []any
}

func newKeptSet() *keptSet {
	return &keptSet{objects: make(map[entity.Entity]bool)}
}

func (k *keptSet) add(child entity.Entity) {
	k.objects[child] = true
	if id := child.EntityID(); !entity.IsNilID(id) {
		k.ids = append(k.ids, id)
	}
}

func (k *keptSet) has(child entity.Entity) bool {
	if k.objects[child] {
		return true
	}
	id := child.EntityID()
	for _, kept := range k.ids {
		if entity.SameID(kept, id) {
			return true
		}
	}
	return false
}

// withEntity tags nested log events with the child being assigned. Children
// built in this call have no id yet.
func withEntity(ctx context.Context, t entity.Type, child entity.Entity) context.Context {
	return logging.WithEntity(ctx, t.Name(), entity.FormatID(child.EntityID()))
}

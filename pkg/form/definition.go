package form

import (
	"context"
	"slices"

	"github.com/agentstation/formsync/pkg/entity"
)

// Definition is the static description of a form: the attributes it may
// write and the associations it delegates to nested forms. Definitions are
// built once with Define and shared by every Form bound to them.
type Definition struct {
	name         string
	typ          entity.Type
	attributes   []string
	associations []*Association
	resolver     Resolver
	afterAssign  AfterAssignFunc
}

// AfterAssignFunc runs after a Form has applied a document. It may read the
// shared Config to post-process the entity.
type AfterAssignFunc func(ctx context.Context, f *Form, doc Document) error

// ChildBuiltFunc runs after each element of a collection association has
// been resolved and assigned, with the element's position in the input.
type ChildBuiltFunc func(ctx context.Context, child entity.Entity, doc Document, position int) error

// Association describes how one relation of the entity is reconciled.
type Association struct {
	Name        string
	Cardinality entity.Cardinality
	Definition  *Definition
	// Parent marks a single association pointing back at the owning side.
	// It is reconciled like any other single association.
	Parent     bool
	ChildBuilt ChildBuiltFunc
}

// AssociationOption configures an Association.
type AssociationOption func(*Association)

// AsParent marks the association as pointing at the parent side.
func AsParent() AssociationOption {
	return func(a *Association) { a.Parent = true }
}

// OnChildBuilt installs a hook that fires for every element of a
// collection association.
func OnChildBuilt(fn ChildBuiltFunc) AssociationOption {
	return func(a *Association) { a.ChildBuilt = fn }
}

// Builder declares the contents of a Definition. Repeated calls accumulate.
type Builder struct {
	def *Definition
}

// Define builds a named definition for entities of type typ. typ may be nil
// for definitions that are only used as association targets, where the
// entity type comes from the relation.
func Define(name string, typ entity.Type, build func(b *Builder)) *Definition {
	def := &Definition{name: name, typ: typ}
	return def.Extend(build)
}

// Inline declares an anonymous definition with its own registries, for use
// as the target of a single association. It stays unnamed wherever it is
// embedded.
func Inline(build func(b *Builder)) *Definition {
	return Define("", nil, build)
}

// Extend runs build against an existing definition. Loaders use it to
// declare definitions first and wire their associations afterwards.
func (d *Definition) Extend(build func(b *Builder)) *Definition {
	if build != nil {
		build(&Builder{def: d})
	}
	return d
}

// Self returns the definition under construction, for self-referencing
// associations such as employees of an employee.
func (b *Builder) Self() *Definition {
	return b.def
}

// Attributes appends names to the attribute registry.
func (b *Builder) Attributes(names ...string) *Builder {
	b.def.attributes = append(b.def.attributes, names...)
	return b
}

// EmbedsOne declares a single association reconciled with target.
func (b *Builder) EmbedsOne(name string, target *Definition, opts ...AssociationOption) *Builder {
	return b.embed(name, entity.One, target, opts)
}

// EmbedsMany declares a collection association reconciled with target.
func (b *Builder) EmbedsMany(name string, target *Definition, opts ...AssociationOption) *Builder {
	return b.embed(name, entity.Many, target, opts)
}

// Resolve installs the factory override hook used by FromAttributes.
func (b *Builder) Resolve(fn Resolver) *Builder {
	b.def.resolver = fn
	return b
}

// AfterAssign installs a hook that runs after every assignment.
func (b *Builder) AfterAssign(fn AfterAssignFunc) *Builder {
	b.def.afterAssign = fn
	return b
}

func (b *Builder) embed(name string, card entity.Cardinality, target *Definition, opts []AssociationOption) *Builder {
	a := &Association{Name: name, Cardinality: card, Definition: target}
	for _, opt := range opts {
		opt(a)
	}

	// redeclaring an association replaces it in place
	for i, existing := range b.def.associations {
		if existing.Name == name {
			b.def.associations[i] = a
			return b
		}
	}
	b.def.associations = append(b.def.associations, a)
	return b
}

// Name returns the definition name.
func (d *Definition) Name() string { return d.name }

// Type returns the default entity type, which may be nil.
func (d *Definition) Type() entity.Type { return d.typ }

// Attributes returns the attribute registry in declaration order.
func (d *Definition) Attributes() []string { return slices.Clone(d.attributes) }

// HasAttribute reports whether name is an assignable attribute.
func (d *Definition) HasAttribute(name string) bool {
	return slices.Contains(d.attributes, name)
}

// Associations returns the association registry in declaration order.
func (d *Definition) Associations() []*Association { return slices.Clone(d.associations) }

// Association returns the association declared under name.
func (d *Definition) Association(name string) (*Association, bool) {
	for _, a := range d.associations {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

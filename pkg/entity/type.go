package entity

import (
	"reflect"

	"github.com/agentstation/formsync/pkg/errors"
)

// Type describes the shape of one kind of entity.
type Type interface {
	// Name is the type's canonical snake_case name.
	Name() string
	// New returns a fresh, unsaved entity.
	New() Entity
	// Attributes lists the scalar attribute names, including "id".
	Attributes() []string
	// Relations lists the relation metadata in declaration order.
	Relations() []RelationInfo
	// SetAttribute writes value onto the named attribute of e.
	SetAttribute(e Entity, name string, value any) error
	// Attribute reads the named attribute of e.
	Attribute(e Entity, name string) (any, error)
	// Relation returns an accessor for the named relation of e. The result
	// implements SingleRelation or CollectionRelation per its cardinality.
	Relation(e Entity, name string) (Relation, error)
}

// Typed is implemented by entities that carry their own Type.
type Typed interface {
	EntityType() Type
}

// RelationInfo is the static metadata of one relation.
type RelationInfo struct {
	Name        string
	Cardinality Cardinality
	Target      Type
}

// Relation gives access to one relation of one entity.
type Relation interface {
	Info() RelationInfo
}

// SingleRelation is a nullable reference to another entity.
type SingleRelation interface {
	Relation
	Get() Entity
	// Set replaces the target; nil clears the relation.
	Set(target Entity) error
}

// CollectionRelation is an ordered collection of entities.
type CollectionRelation interface {
	Relation
	Items() []Entity
	// Build constructs a new child seeded with id, attaches it to the
	// collection and returns it.
	Build(id any) (Entity, error)
	// Append attaches an existing entity, for stores rebuilding a graph.
	Append(child Entity) error
	// Remove detaches child from the collection.
	Remove(child Entity) bool
}

// TypeOf returns the Type of e. Entities implementing Typed report their own
// type; anything else must be a pointer to a struct.
func TypeOf(e Entity) (Type, error) {
	if e == nil {
		return nil, errors.NewConfigError("entity", "nil entity has no type", nil)
	}
	if typed, ok := e.(Typed); ok {
		return typed.EntityType(), nil
	}
	rt := reflect.TypeOf(e)
	if rt.Kind() != reflect.Pointer || rt.Elem().Kind() != reflect.Struct {
		return nil, errors.NewConfigError("entity", "unsupported entity type "+rt.String(), nil)
	}
	return structTypeOf(rt.Elem()), nil
}

// LookupRelation returns the metadata of the named relation of t.
func LookupRelation(t Type, name string) (RelationInfo, bool) {
	for _, info := range t.Relations() {
		if info.Name == name {
			return info, true
		}
	}
	return RelationInfo{}, false
}

func unknownAttribute(t Type, name string) error {
	return errors.NewConfigError(t.Name(), "unknown attribute "+name, nil)
}

func unknownRelation(t Type, name string) error {
	return errors.NewConfigError(t.Name(), "unknown relation "+name, nil)
}

// Package entity defines the contracts between forms and the domain objects
// they assign to.
//
// An Entity is any value with an identity key and a removal marker. Its
// shape is described by a Type, which knows how to write attributes, read
// relations and build children. Two Type implementations ship with the
// package: StructType, which reflects over ordinary Go structs embedding
// Model, and RecordType, which describes map-backed records declared at
// runtime. Stores persist entity graphs through the Store interface.
package entity

import (
	"context"
	"reflect"

	"github.com/spf13/cast"
)

// Entity is a domain object that forms can assign to.
type Entity interface {
	// EntityID returns the identity key, or nil while unassigned.
	EntityID() any
	// SetEntityID sets the identity key.
	SetEntityID(id any)
	// MarkForRemoval flags the entity for deletion at the next save.
	MarkForRemoval()
	// MarkedForRemoval reports whether MarkForRemoval was called.
	MarkedForRemoval() bool
	// Persisted reports whether a store has saved the entity.
	Persisted() bool
	// MarkPersisted is called by stores after a successful save.
	MarkPersisted()
}

// Validator is implemented by entities that check themselves before save.
type Validator interface {
	Validate() error
}

// Store is the persistence collaborator used by forms.
type Store interface {
	// Find loads the entity of type t with the given id. It returns an
	// error satisfying errors.IsNotFound when no such entity exists.
	Find(ctx context.Context, t Type, id any) (Entity, error)
	// Save persists e and every entity reachable through its relations,
	// deleting entities marked for removal.
	Save(ctx context.Context, e Entity) error
}

// Model is the embeddable base for struct entities.
//
//	type Employee struct {
//		entity.Model
//		Name      string      `form:"name"`
//		Employees []*Employee `form:"employees"`
//	}
type Model struct {
	ID any `json:"id" form:"id"`

	removal   bool
	persisted bool
}

// EntityID implements Entity.
func (m *Model) EntityID() any { return m.ID }

// SetEntityID implements Entity.
func (m *Model) SetEntityID(id any) { m.ID = id }

// MarkForRemoval implements Entity.
func (m *Model) MarkForRemoval() { m.removal = true }

// MarkedForRemoval implements Entity.
func (m *Model) MarkedForRemoval() bool { return m.removal }

// Persisted implements Entity.
func (m *Model) Persisted() bool { return m.persisted }

// MarkPersisted implements Entity.
func (m *Model) MarkPersisted() { m.persisted = true }

// Cardinality is the number of targets a relation holds.
type Cardinality int

// Cardinalities.
const (
	One Cardinality = iota + 1
	Many
)

// String returns "one" or "many".
func (c Cardinality) String() string {
	switch c {
	case One:
		return "one"
	case Many:
		return "many"
	default:
		return "unknown"
	}
}

// ParseCardinality parses "one" or "many".
func ParseCardinality(s string) (Cardinality, bool) {
	switch s {
	case "one":
		return One, true
	case "many":
		return Many, true
	default:
		return 0, false
	}
}

// SameID reports whether two identity keys refer to the same entity.
// A nil key never matches, not even another nil key. Keys are compared by
// their canonical string form so that a decoded JSON number matches an
// integer key.
func SameID(a, b any) bool {
	if IsNilID(a) || IsNilID(b) {
		return false
	}
	as, errA := cast.ToStringE(a)
	bs, errB := cast.ToStringE(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return as == bs
}

// IsNilID reports whether id is nil or a typed nil pointer.
func IsNilID(id any) bool {
	if id == nil {
		return true
	}
	v := reflect.ValueOf(id)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// FormatID renders an identity key for messages and storage.
func FormatID(id any) string {
	if IsNilID(id) {
		return ""
	}
	return cast.ToString(id)
}

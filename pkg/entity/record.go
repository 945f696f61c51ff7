package entity

import (
	"encoding/json"
	"slices"

	"github.com/agentstation/formsync/pkg/constants"
	"github.com/agentstation/formsync/pkg/errors"
)

// RecordType describes map-backed entities declared at runtime, for example
// from a schema file. Attributes and relations must be declared before
// records are assigned.
type RecordType struct {
	name      string
	attrs     []string
	relations []RelationInfo
}

// NewRecordType returns a record type with the given attributes. The "id"
// attribute is always present.
func NewRecordType(name string, attributes ...string) *RecordType {
	t := &RecordType{name: name, attrs: []string{constants.IDKey}}
	t.AddAttributes(attributes...)
	return t
}

// AddAttributes declares further attributes; duplicates are ignored.
func (t *RecordType) AddAttributes(names ...string) *RecordType {
	for _, name := range names {
		if !slices.Contains(t.attrs, name) {
			t.attrs = append(t.attrs, name)
		}
	}
	return t
}

// HasOne declares a single relation to target.
func (t *RecordType) HasOne(name string, target Type) *RecordType {
	t.relations = append(t.relations, RelationInfo{Name: name, Cardinality: One, Target: target})
	return t
}

// HasMany declares a collection relation to target.
func (t *RecordType) HasMany(name string, target Type) *RecordType {
	t.relations = append(t.relations, RelationInfo{Name: name, Cardinality: Many, Target: target})
	return t
}

// Name implements Type.
func (t *RecordType) Name() string { return t.name }

// New implements Type.
func (t *RecordType) New() Entity { return t.NewRecord() }

// NewRecord returns an empty record of this type.
func (t *RecordType) NewRecord() *Record {
	return &Record{
		typ:   t,
		attrs: make(map[string]any),
		ones:  make(map[string]Entity),
		many:  make(map[string][]Entity),
	}
}

// Attributes implements Type.
func (t *RecordType) Attributes() []string { return slices.Clone(t.attrs) }

// Relations implements Type.
func (t *RecordType) Relations() []RelationInfo { return slices.Clone(t.relations) }

// SetAttribute implements Type.
func (t *RecordType) SetAttribute(e Entity, name string, value any) error {
	r, err := t.record(e)
	if err != nil {
		return err
	}
	if !slices.Contains(t.attrs, name) {
		return unknownAttribute(t, name)
	}
	if isComposite(value) {
		return errors.NewTypeMismatchError(name, "scalar", value)
	}
	if name == constants.IDKey {
		r.SetEntityID(value)
		return nil
	}
	r.attrs[name] = value
	return nil
}

// Attribute implements Type.
func (t *RecordType) Attribute(e Entity, name string) (any, error) {
	r, err := t.record(e)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(t.attrs, name) {
		return nil, unknownAttribute(t, name)
	}
	if name == constants.IDKey {
		return r.EntityID(), nil
	}
	return r.attrs[name], nil
}

// Relation implements Type.
func (t *RecordType) Relation(e Entity, name string) (Relation, error) {
	r, err := t.record(e)
	if err != nil {
		return nil, err
	}
	info, ok := LookupRelation(t, name)
	if !ok {
		return nil, unknownRelation(t, name)
	}
	if info.Cardinality == One {
		return &recordOne{r: r, info: info}, nil
	}
	return &recordMany{r: r, info: info}, nil
}

func (t *RecordType) record(e Entity) (*Record, error) {
	r, ok := e.(*Record)
	if !ok || r.typ != t {
		return nil, errors.NewConfigError(t.name, "entity is not a "+t.name+" record", nil)
	}
	return r, nil
}

// Record is a map-backed entity.
type Record struct {
	Model

	typ   *RecordType
	attrs map[string]any
	ones  map[string]Entity
	many  map[string][]Entity
}

// EntityType implements Typed.
func (r *Record) EntityType() Type { return r.typ }

// Get returns the named attribute value.
func (r *Record) Get(name string) any {
	if name == constants.IDKey {
		return r.EntityID()
	}
	return r.attrs[name]
}

// One returns the target of a single relation.
func (r *Record) One(name string) Entity { return r.ones[name] }

// Many returns the children of a collection relation, including those
// marked for removal.
func (r *Record) Many(name string) []Entity { return slices.Clone(r.many[name]) }

// ToMap renders the record and everything reachable from it as plain data.
// Children marked for removal are omitted.
func (r *Record) ToMap() map[string]any {
	return r.toMap(map[*Record]bool{})
}

func (r *Record) toMap(seen map[*Record]bool) map[string]any {
	out := map[string]any{constants.IDKey: r.EntityID()}
	if seen[r] {
		return out
	}
	seen[r] = true
	defer delete(seen, r)

	for k, v := range r.attrs {
		out[k] = v
	}
	for _, info := range r.typ.relations {
		switch info.Cardinality {
		case One:
			out[info.Name] = renderEntity(r.ones[info.Name], seen)
		case Many:
			items := make([]any, 0, len(r.many[info.Name]))
			for _, child := range r.many[info.Name] {
				if !child.MarkedForRemoval() {
					items = append(items, renderEntity(child, seen))
				}
			}
			out[info.Name] = items
		}
	}
	return out
}

func renderEntity(e Entity, seen map[*Record]bool) any {
	switch v := e.(type) {
	case nil:
		return nil
	case *Record:
		return v.toMap(seen)
	default:
		return v
	}
}

// MarshalJSON renders the record via ToMap.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToMap())
}

type recordOne struct {
	r    *Record
	info RelationInfo
}

func (o *recordOne) Info() RelationInfo { return o.info }

func (o *recordOne) Get() Entity { return o.r.ones[o.info.Name] }

func (o *recordOne) Set(target Entity) error {
	if target == nil {
		delete(o.r.ones, o.info.Name)
		return nil
	}
	o.r.ones[o.info.Name] = target
	return nil
}

type recordMany struct {
	r    *Record
	info RelationInfo
}

func (m *recordMany) Info() RelationInfo { return m.info }

func (m *recordMany) Items() []Entity { return slices.Clone(m.r.many[m.info.Name]) }

func (m *recordMany) Build(id any) (Entity, error) {
	child := m.info.Target.New()
	if !IsNilID(id) {
		child.SetEntityID(id)
	}
	m.r.many[m.info.Name] = append(m.r.many[m.info.Name], child)
	return child, nil
}

func (m *recordMany) Append(child Entity) error {
	if child == nil {
		return errors.NewTypeMismatchError(m.info.Name, "entity", nil)
	}
	m.r.many[m.info.Name] = append(m.r.many[m.info.Name], child)
	return nil
}

func (m *recordMany) Remove(child Entity) bool {
	items := m.r.many[m.info.Name]
	for i, item := range items {
		if item == child {
			m.r.many[m.info.Name] = slices.Delete(items, i, i+1)
			return true
		}
	}
	return false
}

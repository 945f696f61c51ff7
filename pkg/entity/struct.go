package entity

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/agentstation/formsync/pkg/errors"
	"github.com/agentstation/formsync/pkg/naming"
)

var (
	entityInterface = reflect.TypeOf((*Entity)(nil)).Elem()

	structTypesMu sync.Mutex
	structTypes   = map[reflect.Type]*StructType{}
)

// StructType is a Type backed by a Go struct whose pointer implements
// Entity. Exported fields become attributes or relations:
//
//   - *T where *T implements Entity is a single relation
//   - []*T where *T implements Entity is a collection relation
//   - anything else is an attribute
//
// A field's name is its `form` tag, or the snake_case of the Go field name.
// Fields tagged `form:"-"` are skipped.
type StructType struct {
	rt   reflect.Type
	name string

	once      sync.Once
	fields    map[string]structField
	attrs     []string
	relations []RelationInfo
}

type structField struct {
	index []int
	info  RelationInfo // zero Cardinality for attributes
}

// TypeFor returns the StructType of T. T must be a struct type whose pointer
// implements Entity; TypeFor panics otherwise.
func TypeFor[T any]() *StructType {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	if rt.Kind() != reflect.Struct || !reflect.PointerTo(rt).Implements(entityInterface) {
		panic(fmt.Sprintf("entity: *%s does not implement Entity", rt))
	}
	return structTypeOf(rt)
}

// structTypeOf returns the cached StructType for rt. Field analysis is
// deferred so that self-referencing structs resolve to one instance.
func structTypeOf(rt reflect.Type) *StructType {
	structTypesMu.Lock()
	defer structTypesMu.Unlock()

	if st, ok := structTypes[rt]; ok {
		return st
	}
	st := &StructType{rt: rt, name: naming.Underscore(rt.Name())}
	structTypes[rt] = st
	return st
}

func (t *StructType) init() {
	t.once.Do(func() {
		t.fields = make(map[string]structField)
		for _, f := range reflect.VisibleFields(t.rt) {
			if !f.IsExported() || f.Anonymous {
				continue
			}
			name := f.Tag.Get("form")
			if name == "-" {
				continue
			}
			if name == "" {
				name = naming.Underscore(f.Name)
			}
			if _, dup := t.fields[name]; dup {
				continue
			}

			sf := structField{index: f.Index}
			switch ft := f.Type; {
			case isEntityPointer(ft):
				sf.info = RelationInfo{Name: name, Cardinality: One, Target: structTypeOf(ft.Elem())}
			case ft.Kind() == reflect.Slice && isEntityPointer(ft.Elem()):
				sf.info = RelationInfo{Name: name, Cardinality: Many, Target: structTypeOf(ft.Elem().Elem())}
			}

			t.fields[name] = sf
			if sf.info.Cardinality == 0 {
				t.attrs = append(t.attrs, name)
			} else {
				t.relations = append(t.relations, sf.info)
			}
		}
	})
}

func isEntityPointer(rt reflect.Type) bool {
	return rt.Kind() == reflect.Pointer && rt.Elem().Kind() == reflect.Struct && rt.Implements(entityInterface)
}

// Name implements Type.
func (t *StructType) Name() string { return t.name }

// GoType returns the underlying struct type.
func (t *StructType) GoType() reflect.Type { return t.rt }

// New implements Type.
func (t *StructType) New() Entity {
	return reflect.New(t.rt).Interface().(Entity)
}

// Attributes implements Type.
func (t *StructType) Attributes() []string {
	t.init()
	return append([]string(nil), t.attrs...)
}

// Relations implements Type.
func (t *StructType) Relations() []RelationInfo {
	t.init()
	return append([]RelationInfo(nil), t.relations...)
}

// SetAttribute implements Type.
func (t *StructType) SetAttribute(e Entity, name string, value any) error {
	fv, sf, err := t.field(e, name)
	if err != nil {
		return err
	}
	if sf.info.Cardinality != 0 {
		return unknownAttribute(t, name)
	}
	cv, err := coerce(value, fv.Type())
	if err != nil {
		return withPath(err, name)
	}
	fv.Set(cv)
	return nil
}

// Attribute implements Type.
func (t *StructType) Attribute(e Entity, name string) (any, error) {
	fv, sf, err := t.field(e, name)
	if err != nil {
		return nil, err
	}
	if sf.info.Cardinality != 0 {
		return nil, unknownAttribute(t, name)
	}
	return fv.Interface(), nil
}

// Relation implements Type.
func (t *StructType) Relation(e Entity, name string) (Relation, error) {
	fv, sf, err := t.field(e, name)
	if err != nil {
		return nil, err
	}
	switch sf.info.Cardinality {
	case One:
		return &structOne{value: fv, info: sf.info}, nil
	case Many:
		return &structMany{value: fv, info: sf.info}, nil
	default:
		return nil, unknownRelation(t, name)
	}
}

func (t *StructType) field(e Entity, name string) (reflect.Value, structField, error) {
	t.init()
	sf, ok := t.fields[name]
	if !ok {
		return reflect.Value{}, sf, unknownAttribute(t, name)
	}
	v := reflect.ValueOf(e)
	if v.Type() != reflect.PointerTo(t.rt) || v.IsNil() {
		return reflect.Value{}, sf, errors.NewConfigError(t.name, fmt.Sprintf("entity %T is not a *%s", e, t.rt.Name()), nil)
	}
	fv, err := v.Elem().FieldByIndexErr(sf.index)
	if err != nil {
		return reflect.Value{}, sf, errors.NewConfigError(t.name, "unreachable field "+name, err)
	}
	return fv, sf, nil
}

type structOne struct {
	value reflect.Value
	info  RelationInfo
}

func (r *structOne) Info() RelationInfo { return r.info }

func (r *structOne) Get() Entity {
	if r.value.IsNil() {
		return nil
	}
	return r.value.Interface().(Entity)
}

func (r *structOne) Set(target Entity) error {
	if target == nil {
		r.value.Set(reflect.Zero(r.value.Type()))
		return nil
	}
	tv := reflect.ValueOf(target)
	if !tv.Type().AssignableTo(r.value.Type()) {
		return errors.NewTypeMismatchError(r.info.Name, r.value.Type().String(), target)
	}
	r.value.Set(tv)
	return nil
}

type structMany struct {
	value reflect.Value
	info  RelationInfo
}

func (r *structMany) Info() RelationInfo { return r.info }

func (r *structMany) Items() []Entity {
	items := make([]Entity, 0, r.value.Len())
	for i := 0; i < r.value.Len(); i++ {
		if item := r.value.Index(i); !item.IsNil() {
			items = append(items, item.Interface().(Entity))
		}
	}
	return items
}

func (r *structMany) Build(id any) (Entity, error) {
	child := r.info.Target.New()
	if !IsNilID(id) {
		child.SetEntityID(id)
	}
	r.value.Set(reflect.Append(r.value, reflect.ValueOf(child)))
	return child, nil
}

func (r *structMany) Append(child Entity) error {
	cv := reflect.ValueOf(child)
	if child == nil || !cv.Type().AssignableTo(r.value.Type().Elem()) {
		return errors.NewTypeMismatchError(r.info.Name, r.value.Type().Elem().String(), child)
	}
	r.value.Set(reflect.Append(r.value, cv))
	return nil
}

func (r *structMany) Remove(child Entity) bool {
	kept := reflect.MakeSlice(r.value.Type(), 0, r.value.Len())
	removed := false
	for i := 0; i < r.value.Len(); i++ {
		item := r.value.Index(i)
		if !item.IsNil() && item.Interface().(Entity) == child {
			removed = true
			continue
		}
		kept = reflect.Append(kept, item)
	}
	if removed {
		r.value.Set(kept)
	}
	return removed
}

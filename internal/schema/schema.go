// Package schema loads record types and form definitions from YAML.
//
// A schema file declares map-backed entity types and the forms that write
// them, so documents can be reconciled without Go structs:
//
//	types:
//	  - name: employee
//	    attributes: [name, monthly_pay]
//	    relations:
//	      - {name: employees, many: employee}
//	      - {name: task, one: task}
//	  - name: task
//	    attributes: [title]
//	forms:
//	  - name: employee
//	    type: employee
//	    attributes: [name, monthly_pay]
//	    associations:
//	      - {name: employees, kind: many, form: employee}
//	      - name: task
//	        kind: one
//	        inline: {attributes: [title]}
//
// Types and forms may reference each other in any order.
package schema

import (
	"fmt"
	"os"
	"slices"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/formsync/pkg/entity"
	"github.com/agentstation/formsync/pkg/errors"
	"github.com/agentstation/formsync/pkg/form"
)

// File is the YAML document layout.
type File struct {
	Types []TypeSpec `yaml:"types" json:"types"`
	Forms []FormSpec `yaml:"forms" json:"forms"`
}

// TypeSpec declares a record type.
type TypeSpec struct {
	Name       string         `yaml:"name" json:"name"`
	Attributes []string       `yaml:"attributes,omitempty" json:"attributes,omitempty"`
	Relations  []RelationSpec `yaml:"relations,omitempty" json:"relations,omitempty"`
}

// RelationSpec declares a relation. Exactly one of One and Many names the
// target type.
type RelationSpec struct {
	Name string `yaml:"name" json:"name"`
	One  string `yaml:"one,omitempty" json:"one,omitempty"`
	Many string `yaml:"many,omitempty" json:"many,omitempty"`
}

// FormSpec declares a form definition.
type FormSpec struct {
	Name         string            `yaml:"name,omitempty" json:"name,omitempty"`
	Type         string            `yaml:"type,omitempty" json:"type,omitempty"`
	Attributes   []string          `yaml:"attributes,omitempty" json:"attributes,omitempty"`
	Associations []AssociationSpec `yaml:"associations,omitempty" json:"associations,omitempty"`
	// Resolve names a document key that selects another registered form.
	Resolve string `yaml:"resolve,omitempty" json:"resolve,omitempty"`
}

// AssociationSpec declares an association. Exactly one of Form and Inline
// gives the nested definition.
type AssociationSpec struct {
	Name   string    `yaml:"name" json:"name"`
	Kind   string    `yaml:"kind" json:"kind"`
	Form   string    `yaml:"form,omitempty" json:"form,omitempty"`
	Inline *FormSpec `yaml:"inline,omitempty" json:"inline,omitempty"`
	Parent bool      `yaml:"parent,omitempty" json:"parent,omitempty"`
}

// Schema is a loaded schema file.
type Schema struct {
	Types    map[string]*entity.RecordType
	Registry *form.Registry

	file   File
	source string
}

// Load reads and builds the schema file at path.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO("read", path, err)
	}
	return Parse(data, path)
}

// Parse builds a schema from YAML. source names the input in errors.
func Parse(data []byte, source string) (*Schema, error) {
	var file File
	if err := yaml.UnmarshalWithOptions(data, &file, yaml.Strict()); err != nil {
		return nil, errors.NewParseError("yaml", source, yaml.FormatError(err, false, false), err)
	}
	return Build(file, source)
}

// Build creates the record types and forms declared by file and checks
// every form against the types it writes.
func Build(file File, source string) (*Schema, error) {
	s := &Schema{
		Types:    make(map[string]*entity.RecordType, len(file.Types)),
		Registry: form.NewRegistry(),
		file:     file,
		source:   source,
	}
	if err := s.buildTypes(); err != nil {
		return nil, err
	}
	if err := s.buildForms(); err != nil {
		return nil, err
	}
	return s, nil
}

// File returns the parsed file.
func (s *Schema) File() File { return s.file }

// Source returns the file the schema was read from.
func (s *Schema) Source() string { return s.source }

// Type returns the named record type.
func (s *Schema) Type(name string) (*entity.RecordType, error) {
	t, ok := s.Types[name]
	if !ok {
		return nil, s.fail(fmt.Sprintf("unknown type %q", name), errors.NewNotFoundError("type", name))
	}
	return t, nil
}

// Form returns the named form.
func (s *Schema) Form(name string) (*form.Definition, error) {
	return s.Registry.Lookup(name)
}

// TypeNames returns the declared type names in sorted order.
func (s *Schema) TypeNames() []string {
	names := make([]string, 0, len(s.Types))
	for name := range s.Types {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *Schema) buildTypes() error {
	for _, ts := range s.file.Types {
		if ts.Name == "" {
			return s.fail("type without a name", nil)
		}
		if _, dup := s.Types[ts.Name]; dup {
			return s.fail(fmt.Sprintf("type %q declared twice", ts.Name), nil)
		}
		s.Types[ts.Name] = entity.NewRecordType(ts.Name, ts.Attributes...)
	}

	// relations second, so targets may be declared later
	for _, ts := range s.file.Types {
		t := s.Types[ts.Name]
		for _, rs := range ts.Relations {
			if rs.Name == "" {
				return s.fail(fmt.Sprintf("type %q has a relation without a name", ts.Name), nil)
			}
			if (rs.One == "") == (rs.Many == "") {
				return s.fail(fmt.Sprintf("relation %s.%s must set exactly one of one or many", ts.Name, rs.Name), nil)
			}
			target, ok := s.Types[rs.One+rs.Many]
			if !ok {
				return s.fail(fmt.Sprintf("relation %s.%s targets unknown type %q", ts.Name, rs.Name, rs.One+rs.Many), nil)
			}
			if rs.One != "" {
				t.HasOne(rs.Name, target)
			} else {
				t.HasMany(rs.Name, target)
			}
		}
	}
	return nil
}

func (s *Schema) buildForms() error {
	defs := make(map[string]*form.Definition, len(s.file.Forms))
	ordered := make([]*form.Definition, 0, len(s.file.Forms))

	for _, fs := range s.file.Forms {
		if fs.Name == "" {
			return s.fail("form without a name", nil)
		}
		if _, dup := defs[fs.Name]; dup {
			return s.fail(fmt.Sprintf("form %q declared twice", fs.Name), nil)
		}
		var typ entity.Type
		if fs.Type != "" {
			t, ok := s.Types[fs.Type]
			if !ok {
				return s.fail(fmt.Sprintf("form %q uses unknown type %q", fs.Name, fs.Type), nil)
			}
			typ = t
		}
		def := form.Define(fs.Name, typ, nil)
		defs[fs.Name] = def
		ordered = append(ordered, def)
	}

	for i, fs := range s.file.Forms {
		var err error
		ordered[i].Extend(func(b *form.Builder) {
			err = s.fill(b, fs, fs.Name, defs)
		})
		if err != nil {
			return err
		}
	}

	if err := s.Registry.Register(ordered...); err != nil {
		return err
	}

	seen := make(map[checked]bool)
	for _, def := range ordered {
		if def.Type() == nil {
			continue
		}
		if err := s.check(def, def.Type(), seen); err != nil {
			return err
		}
	}
	return nil
}

// fill declares the contents of fs on b.
func (s *Schema) fill(b *form.Builder, fs FormSpec, path string, defs map[string]*form.Definition) error {
	b.Attributes(fs.Attributes...)
	if fs.Resolve != "" {
		b.Resolve(s.Registry.Resolver(fs.Resolve))
	}

	for _, as := range fs.Associations {
		where := path + "." + as.Name
		if as.Name == "" {
			return s.fail("association without a name in form "+path, nil)
		}
		card, ok := entity.ParseCardinality(as.Kind)
		if !ok {
			return s.fail(fmt.Sprintf("association %s has kind %q, want one or many", where, as.Kind), nil)
		}
		if (as.Form == "") == (as.Inline == nil) {
			return s.fail(fmt.Sprintf("association %s must set exactly one of form or inline", where), nil)
		}

		var opts []form.AssociationOption
		if as.Parent {
			opts = append(opts, form.AsParent())
		}

		target := defs[as.Form]
		if as.Form != "" && target == nil {
			return s.fail(fmt.Sprintf("association %s uses unknown form %q", where, as.Form), nil)
		}
		if as.Inline != nil {
			target = form.Define(where, nil, nil)
		}

		if card == entity.Many {
			b.EmbedsMany(as.Name, target, opts...)
		} else {
			b.EmbedsOne(as.Name, target, opts...)
		}

		if as.Inline != nil {
			var err error
			target.Extend(func(ib *form.Builder) {
				err = s.fill(ib, *as.Inline, where, defs)
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

type checked struct {
	def *form.Definition
	typ entity.Type
}

// check verifies that def only names attributes and relations of typ, and
// recurses into association targets with the relation's target type.
func (s *Schema) check(def *form.Definition, typ entity.Type, seen map[checked]bool) error {
	key := checked{def, typ}
	if seen[key] {
		return nil
	}
	seen[key] = true

	if own := def.Type(); own != nil && own != typ {
		return s.fail(fmt.Sprintf("form %s writes %s but is used for %s", def.Name(), own.Name(), typ.Name()), nil)
	}

	attrs := typ.Attributes()
	for _, name := range def.Attributes() {
		if !slices.Contains(attrs, name) {
			return s.fail(fmt.Sprintf("form %s: type %s has no attribute %s", def.Name(), typ.Name(), name), nil)
		}
	}

	for _, a := range def.Associations() {
		info, ok := entity.LookupRelation(typ, a.Name)
		if !ok {
			return s.fail(fmt.Sprintf("form %s: type %s has no relation %s", def.Name(), typ.Name(), a.Name), nil)
		}
		if info.Cardinality != a.Cardinality {
			return s.fail(fmt.Sprintf("form %s: relation %s.%s is %s, association is %s",
				def.Name(), typ.Name(), a.Name, info.Cardinality, a.Cardinality), nil)
		}
		if err := s.check(a.Definition, info.Target, seen); err != nil {
			return err
		}
	}
	return nil
}

func (s *Schema) fail(message string, err error) error {
	component := "schema"
	if s.source != "" {
		component = "schema " + s.source
	}
	return errors.NewConfigError(component, message, err)
}

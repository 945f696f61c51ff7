package entity

import (
	"github.com/agentstation/formsync/pkg/errors"
)

// Node is one entity in a save plan together with its type.
type Node struct {
	Entity Entity
	Type   Type

	owner CollectionRelation
}

// SavePlan lists the entities reachable from a root in save order, and the
// collection children marked for removal.
type SavePlan struct {
	Save   []Node
	Remove []Node
}

// Plan walks the graph reachable from root. Targets of single relations are
// ordered before their owner, so a parent reference is saved before the
// entity pointing at it; collection children follow their owner. Children
// marked for removal are collected into Remove and not descended into.
func Plan(root Entity) (*SavePlan, error) {
	p := &SavePlan{}
	if err := p.visit(root, map[Entity]bool{}); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *SavePlan) visit(e Entity, seen map[Entity]bool) error {
	if e == nil || seen[e] {
		return nil
	}
	seen[e] = true

	t, err := TypeOf(e)
	if err != nil {
		return err
	}

	var collections []CollectionRelation
	for _, info := range t.Relations() {
		rel, err := t.Relation(e, info.Name)
		if err != nil {
			return err
		}
		switch r := rel.(type) {
		case SingleRelation:
			if err := p.visit(r.Get(), seen); err != nil {
				return err
			}
		case CollectionRelation:
			collections = append(collections, r)
		}
	}

	p.Save = append(p.Save, Node{Entity: e, Type: t})

	for _, coll := range collections {
		for _, child := range coll.Items() {
			if child.MarkedForRemoval() {
				if !seen[child] {
					seen[child] = true
					ct, err := TypeOf(child)
					if err != nil {
						return err
					}
					p.Remove = append(p.Remove, Node{Entity: child, Type: ct, owner: coll})
				}
				continue
			}
			if err := p.visit(child, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

// Validate runs Validator on every entity to be saved and returns the first
// failure.
func (p *SavePlan) Validate() error {
	for _, n := range p.Save {
		v, ok := n.Entity.(Validator)
		if !ok {
			continue
		}
		if err := v.Validate(); err != nil {
			if errors.IsValidationError(err) {
				return err
			}
			return errors.NewValidationError("", n.Entity.EntityID(), err.Error())
		}
	}
	return nil
}

// Prune detaches removed children from their collections. Stores call it
// once the removal has been persisted.
func (p *SavePlan) Prune() {
	for _, n := range p.Remove {
		if n.owner != nil {
			n.owner.Remove(n.Entity)
		}
	}
}

// Snapshot returns the attribute values of e keyed by attribute name.
func Snapshot(t Type, e Entity) (map[string]any, error) {
	out := make(map[string]any)
	for _, name := range t.Attributes() {
		v, err := t.Attribute(e, name)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// Restore writes a snapshot onto a fresh entity of type t. Keys that are
// not attributes of t are ignored.
func Restore(t Type, values map[string]any) (Entity, error) {
	e := t.New()
	if err := RestoreInto(t, e, values); err != nil {
		return nil, err
	}
	return e, nil
}

// RestoreInto writes a snapshot onto an entity of type t.
func RestoreInto(t Type, e Entity, values map[string]any) error {
	for _, name := range t.Attributes() {
		v, ok := values[name]
		if !ok {
			continue
		}
		if err := t.SetAttribute(e, name, v); err != nil {
			return err
		}
	}
	return nil
}

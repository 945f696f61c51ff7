package form

import (
	"context"
	"fmt"

	"github.com/agentstation/formsync/pkg/entity"
	"github.com/agentstation/formsync/pkg/errors"
)

// BaseKey is the Config key overriding the entity type built by
// FromAttributes. Its value must be an entity.Type.
const BaseKey = "base"

// Resolver picks the definition FromAttributes should use for doc. It may
// strip its marker key from doc. Returning a nil definition keeps the
// definition FromAttributes was called on.
type Resolver func(doc Document, cfg Config) (*Definition, error)

// FromAttributes resolves the definition and entity for a top-level
// document, binds them into a Form and assigns doc.
//
// When doc carries a non-nil id the entity is loaded from the store, or
// built with that id if the store has none. Otherwise a new entity is built.
func (d *Definition) FromAttributes(ctx context.Context, doc Document, opts ...Option) (*Form, error) {
	if doc == nil {
		doc = Document{}
	}
	f := New(d, nil, opts...)

	if d.resolver != nil {
		resolved, err := d.resolver(doc, f.config)
		if err != nil {
			return nil, err
		}
		if resolved != nil {
			f.def = resolved
		}
	}

	t, err := f.def.entityType(f.config)
	if err != nil {
		return nil, err
	}
	e, err := f.findOrNew(ctx, t, idOf(doc))
	if err != nil {
		return nil, err
	}
	f.entity = e

	if err := f.Assign(ctx, doc); err != nil {
		return nil, err
	}
	return f, nil
}

// entityType returns the Config override or the definition's own type.
func (d *Definition) entityType(cfg Config) (entity.Type, error) {
	if raw, ok := cfg[BaseKey]; ok && raw != nil {
		t, ok := raw.(entity.Type)
		if !ok {
			return nil, errors.NewConfigError(d.name, fmt.Sprintf("%s option must be an entity type, got %T", BaseKey, raw), nil)
		}
		return t, nil
	}
	if d.typ == nil {
		return nil, errors.NewConfigError(d.name, "form has no entity type", nil)
	}
	return d.typ, nil
}

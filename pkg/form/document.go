package form

import (
	"fmt"
	"maps"
	"slices"

	"github.com/agentstation/formsync/pkg/constants"
	"github.com/agentstation/formsync/pkg/errors"
)

// Document is a decoded input payload. Values are scalars, nested
// documents, sequences of documents, or nil.
type Document = map[string]any

// Config is the option bag handed to a Form. The same map is shared, not
// copied, with every nested Form created during one assignment, so a write
// by one nested form is visible to the forms that run after it.
type Config map[string]any

// asDocument accepts the mapping shapes produced by JSON and YAML decoders.
func asDocument(value any) (Document, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case map[any]any:
		doc := make(Document, len(v))
		for k, item := range v {
			doc[fmt.Sprint(k)] = item
		}
		return doc, true
	default:
		return nil, false
	}
}

// asSequence accepts a sequence of documents.
func asSequence(value any, path string) ([]Document, error) {
	switch v := value.(type) {
	case []Document:
		return v, nil
	case []any:
		docs := make([]Document, len(v))
		for i, item := range v {
			doc, ok := asDocument(item)
			if !ok {
				return nil, errors.NewTypeMismatchError(indexPath(path, i), "document", item)
			}
			docs[i] = doc
		}
		return docs, nil
	default:
		return nil, errors.NewTypeMismatchError(path, "sequence", value)
	}
}

// idOf returns the identity key carried by doc, or nil.
func idOf(doc Document) any {
	return doc[constants.IDKey]
}

// sortedKeys gives assignment a deterministic order.
func sortedKeys(doc Document) []string {
	return slices.Sorted(maps.Keys(doc))
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}

func indexPath(base string, i int) string {
	return fmt.Sprintf("%s[%d]", base, i)
}

package records

import (
	"context"
	"fmt"
	"strings"
)

type retrieveFunc func(ctx context.Context, collection string, q Query) ([]Document, error)

// populate replaces relation ids in docs with the selected fields of the related documents.
// Fields without a registered relation are left untouched; dangling ids are dropped.
func populate(ctx context.Context, relations Relations, collection string, docs []Document, selection map[string]string, retrieve retrieveFunc) error {
	if len(docs) == 0 {
		return nil
	}
	for field, fields := range selection {
		target, ok := relations.Target(collection, field)
		if !ok {
			continue
		}
		ids := collectIDs(docs, field)
		if len(ids) == 0 {
			continue
		}
		values := make([]any, 0, len(ids))
		for _, id := range ids {
			values = append(values, id)
		}
		related, err := retrieve(ctx, target, In{Field: IDField, Values: values})
		if err != nil {
			return fmt.Errorf("populate %s: %w", field, err)
		}
		byID := make(map[string]Document, len(related))
		for _, rel := range related {
			byID[rel.ID()] = project(rel, fields)
		}
		for _, doc := range docs {
			doc[field] = resolveRefs(doc[field], byID)
		}
	}
	return nil
}

func collectIDs(docs []Document, field string) []string {
	seen := map[string]struct{}{}
	var ids []string
	add := func(v any) {
		id := refID(v)
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, doc := range docs {
		switch v := doc[field].(type) {
		case []any:
			for _, item := range v {
				add(item)
			}
		default:
			add(v)
		}
	}
	return ids
}

func refID(v any) string {
	switch ref := v.(type) {
	case string:
		return ref
	case map[string]any:
		id, _ := ref[IDField].(string)
		return id
	case Document:
		return ref.ID()
	}
	return ""
}

func resolveRefs(value any, byID map[string]Document) any {
	if items, ok := value.([]any); ok {
		out := make([]any, 0, len(items))
		for _, item := range items {
			if rel, ok := byID[refID(item)]; ok {
				out = append(out, map[string]any(rel))
			}
		}
		return out
	}
	if rel, ok := byID[refID(value)]; ok {
		return map[string]any(rel)
	}
	return nil
}

func project(doc Document, fields string) Document {
	names := strings.Fields(fields)
	if len(names) == 0 {
		out := make(Document, len(doc))
		for k, v := range doc {
			out[k] = v
		}
		return out
	}
	out := make(Document, len(names))
	for _, name := range names {
		if v, ok := doc[name]; ok {
			out[name] = v
		}
	}
	return out
}

package records

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// normalize converts v to its JSON-decoded form so that values written by Go callers
// (ints, structs, typed slices) compare equal to values read back from storage.
func normalize(v any) any {
	switch v.(type) {
	case nil, string, bool, float64:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// normalizeDocument returns a deep, JSON-normalized copy of doc.
func normalizeDocument(doc Document) (Document, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	out := Document{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

func lookup(doc Document, field string) (any, bool) {
	var cur any = map[string]any(doc)
	for _, part := range splitField(field) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Matches reports whether doc satisfies q.
func Matches(doc Document, q Query) (bool, error) {
	switch q := q.(type) {
	case nil, All:
		return true, nil
	case Eq:
		got, ok := lookup(doc, q.Field)
		if !ok {
			return q.Value == nil, nil
		}
		return valueEquals(got, normalize(q.Value)), nil
	case In:
		got, ok := lookup(doc, q.Field)
		if !ok {
			return false, nil
		}
		for _, v := range q.Values {
			if valueEquals(got, normalize(v)) {
				return true, nil
			}
		}
		return false, nil
	case Match:
		got, ok := lookup(doc, q.Field)
		if !ok {
			return false, nil
		}
		return containsFold(got, q.Pattern), nil
	case And:
		for _, clause := range q {
			ok, err := Matches(doc, clause)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case Or:
		for _, clause := range q {
			ok, err := Matches(doc, clause)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("%w: unsupported clause %T", ErrInvalidQuery, q)
	}
}

// valueEquals compares a stored value with a wanted one; arrays match on any element.
func valueEquals(got, want any) bool {
	if reflect.DeepEqual(got, want) {
		return true
	}
	if items, ok := got.([]any); ok {
		if _, wantArray := want.([]any); wantArray {
			return false
		}
		for _, item := range items {
			if reflect.DeepEqual(item, want) {
				return true
			}
		}
	}
	return false
}

func containsFold(got any, pattern string) bool {
	needle := strings.ToLower(pattern)
	switch v := got.(type) {
	case string:
		return strings.Contains(strings.ToLower(v), needle)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.Contains(strings.ToLower(s), needle) {
				return true
			}
		}
	}
	return false
}

func sortDocuments(docs []Document, fields []string) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, field := range fields {
			desc := strings.HasPrefix(field, "-")
			name := strings.TrimPrefix(field, "-")
			a, _ := lookup(docs[i], name)
			b, _ := lookup(docs[j], name)
			c := compareValues(a, b)
			if c == 0 {
				continue
			}
			if desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			}
			return 1
		}
	case nil:
		if b == nil {
			return 0
		}
		return -1
	}
	if b == nil {
		return 1
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func window(docs []Document, skip, limit int) []Document {
	if skip > 0 {
		if skip >= len(docs) {
			return []Document{}
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}

// mergeDelta applies delta onto doc as a shallow field overwrite. The id is never replaced.
func mergeDelta(doc, delta Document) {
	for k, v := range delta {
		if k == IDField {
			continue
		}
		doc[k] = v
	}
}

package records

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps documents in process, in insertion order per collection.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Document
	relations   Relations
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(relations Relations) *MemoryStore {
	return &MemoryStore{
		collections: map[string][]Document{},
		relations:   relations,
	}
}

func (s *MemoryStore) Create(_ context.Context, collection string, doc Document) (Document, error) {
	stored, err := normalizeDocument(doc)
	if err != nil {
		return nil, err
	}
	if stored.ID() == "" {
		stored[IDField] = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.collections[collection] {
		if existing.ID() == stored.ID() {
			return nil, fmt.Errorf("%w: %q in %s", ErrDuplicateID, stored.ID(), collection)
		}
	}
	s.collections[collection] = append(s.collections[collection], stored)
	return copyDocument(stored), nil
}

func (s *MemoryStore) Retrieve(ctx context.Context, collection string, q Query, opts Options) ([]Document, error) {
	docs, err := s.find(collection, q)
	if err != nil {
		return nil, err
	}
	sortDocuments(docs, opts.Sort)
	docs = window(docs, opts.Skip, opts.Limit)
	if err := populate(ctx, s.relations, collection, docs, opts.Populate, s.findContext); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *MemoryStore) Update(_ context.Context, collection string, q Query, delta Document) error {
	normalized, err := normalizeDocument(delta)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range s.collections[collection] {
		ok, err := Matches(doc, q)
		if err != nil {
			return err
		}
		if ok {
			mergeDelta(doc, normalized)
		}
	}
	return nil
}

func (s *MemoryStore) Destroy(_ context.Context, collection string, q Query) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.collections[collection][:0:0]
	for _, doc := range s.collections[collection] {
		ok, err := Matches(doc, q)
		if err != nil {
			return err
		}
		if !ok {
			kept = append(kept, doc)
		}
	}
	s.collections[collection] = kept
	return nil
}

// Len reports the number of documents in a collection.
func (s *MemoryStore) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

func (s *MemoryStore) findContext(_ context.Context, collection string, q Query) ([]Document, error) {
	return s.find(collection, q)
}

func (s *MemoryStore) find(collection string, q Query) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Document{}
	for _, doc := range s.collections[collection] {
		ok, err := Matches(doc, q)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, copyDocument(doc))
		}
	}
	return out, nil
}

func copyDocument(doc Document) Document {
	return Document(copyValue(map[string]any(doc)).(map[string]any))
}

func copyValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

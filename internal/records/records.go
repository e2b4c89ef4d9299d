// Package records is a generic document store keyed by collection name.
//
// Queries are a small AST (Eq, In, Match, And, Or) that every backend evaluates the
// same way: Eq on an array field matches when any element is equal, Eq with a nil value
// also matches a missing field, and Match is a case-insensitive literal substring test
// over a string field or the string elements of an array field.
package records

import (
	"context"
	"errors"
	"maps"
	"strings"
)

// IDField is the document key holding the store-assigned identifier.
const IDField = "_id"

var (
	ErrInvalidQuery = errors.New("invalid query")
	ErrClosed       = errors.New("record store closed")
	ErrDuplicateID  = errors.New("duplicate record id")
)

// Document is a single record. Values are JSON-compatible.
type Document map[string]any

// ID returns the document identifier, or "" if absent.
func (d Document) ID() string {
	if d == nil {
		return ""
	}
	id, _ := d[IDField].(string)
	return id
}

// Store is the generic record store contract.
type Store interface {
	Create(ctx context.Context, collection string, doc Document) (Document, error)
	Retrieve(ctx context.Context, collection string, q Query, opts Options) ([]Document, error)
	Update(ctx context.Context, collection string, q Query, delta Document) error
	Destroy(ctx context.Context, collection string, q Query) error
}

// Databases resolves the store for a tenant, and the fixed master store.
type Databases interface {
	Tenant(ctx context.Context, tenantID string) (Store, error)
	Master(ctx context.Context) (Store, error)
}

// Query is a predicate over documents.
type Query interface {
	isQuery()
}

// All matches every document.
type All struct{}

// Eq matches documents whose Field equals Value.
type Eq struct {
	Field string
	Value any
}

// In matches documents whose Field equals any of Values.
type In struct {
	Field  string
	Values []any
}

// Match matches documents whose Field contains Pattern, ignoring case.
type Match struct {
	Field   string
	Pattern string
}

// And matches when every clause matches. An empty And matches everything.
type And []Query

// Or matches when any clause matches. An empty Or matches nothing.
type Or []Query

func (All) isQuery()   {}
func (Eq) isQuery()    {}
func (In) isQuery()    {}
func (Match) isQuery() {}
func (And) isQuery()   {}
func (Or) isQuery()    {}

// ByID is shorthand for Eq{IDField, id}.
func ByID(id string) Query {
	return Eq{Field: IDField, Value: id}
}

// Options tunes a Retrieve call.
type Options struct {
	// Populate maps a relation field to the space-separated fields to select from the
	// related documents, e.g. {"tags": "_id title"}.
	Populate map[string]string
	// Sort lists field names; a leading "-" sorts descending.
	Sort  []string
	Limit int
	Skip  int
}

// WithPopulate merges defaults into o.Populate. Keys already set on o win.
func (o Options) WithPopulate(defaults map[string]string) Options {
	merged := make(map[string]string, len(defaults)+len(o.Populate))
	maps.Copy(merged, defaults)
	maps.Copy(merged, o.Populate)
	o.Populate = merged
	return o
}

// Relations maps collection -> field -> related collection for populate.
type Relations map[string]map[string]string

// Target returns the related collection for a field of collection.
func (r Relations) Target(collection, field string) (string, bool) {
	fields, ok := r[collection]
	if !ok {
		return "", false
	}
	target, ok := fields[field]
	return target, ok
}

// StaticDatabases serves one store for every tenant and a separate master store.
type StaticDatabases struct {
	tenant Store
	master Store
}

// NewStaticDatabases returns Databases backed by fixed stores. A nil master falls back to tenant.
func NewStaticDatabases(tenant, master Store) *StaticDatabases {
	if master == nil {
		master = tenant
	}
	return &StaticDatabases{tenant: tenant, master: master}
}

func (d *StaticDatabases) Tenant(_ context.Context, _ string) (Store, error) {
	if d == nil || d.tenant == nil {
		return nil, ErrClosed
	}
	return d.tenant, nil
}

func (d *StaticDatabases) Master(_ context.Context) (Store, error) {
	if d == nil || d.master == nil {
		return nil, ErrClosed
	}
	return d.master, nil
}

func splitField(field string) []string {
	return strings.Split(field, ".")
}

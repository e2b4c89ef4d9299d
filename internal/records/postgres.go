package records

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/db"
)

// PostgresStore persists documents in the jsonb "records" table created by the migrations.
type PostgresStore struct {
	pool      *pgxpool.Pool
	relations Relations
}

// NewPostgresStore wraps an open pool.
func NewPostgresStore(pool *pgxpool.Pool, relations Relations) *PostgresStore {
	return &PostgresStore{pool: pool, relations: relations}
}

func (s *PostgresStore) Create(ctx context.Context, collection string, doc Document) (Document, error) {
	stored, err := normalizeDocument(doc)
	if err != nil {
		return nil, err
	}
	if stored.ID() == "" {
		stored[IDField] = uuid.NewString()
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO records (collection, id, data) VALUES ($1, $2, $3::jsonb)`,
		collection, stored.ID(), string(raw),
	); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %q in %s", ErrDuplicateID, stored.ID(), collection)
		}
		return nil, fmt.Errorf("insert %s: %w", collection, err)
	}
	return stored, nil
}

func (s *PostgresStore) Retrieve(ctx context.Context, collection string, q Query, opts Options) ([]Document, error) {
	sql, args, err := compileSelect(collection, q, opts)
	if err != nil {
		return nil, err
	}
	docs, err := s.query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("retrieve %s: %w", collection, err)
	}
	if err := populate(ctx, s.relations, collection, docs, opts.Populate, s.find); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *PostgresStore) Update(ctx context.Context, collection string, q Query, delta Document) error {
	normalized, err := normalizeDocument(delta)
	if err != nil {
		return err
	}
	delete(normalized, IDField)
	raw, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("encode delta: %w", err)
	}
	b := &sqlBuilder{args: []any{collection, string(raw)}}
	where, err := b.compile(q)
	if err != nil {
		return err
	}
	stmt := `UPDATE records SET data = data || $2::jsonb WHERE collection = $1 AND ` + where
	if _, err := s.pool.Exec(ctx, stmt, b.args...); err != nil {
		return fmt.Errorf("update %s: %w", collection, err)
	}
	return nil
}

func (s *PostgresStore) Destroy(ctx context.Context, collection string, q Query) error {
	b := &sqlBuilder{args: []any{collection}}
	where, err := b.compile(q)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM records WHERE collection = $1 AND `+where, b.args...); err != nil {
		return fmt.Errorf("destroy %s: %w", collection, err)
	}
	return nil
}

func (s *PostgresStore) find(ctx context.Context, collection string, q Query) ([]Document, error) {
	sql, args, err := compileSelect(collection, q, Options{})
	if err != nil {
		return nil, err
	}
	return s.query(ctx, sql, args...)
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]Document, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	raws, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, err
	}
	out := make([]Document, 0, len(raws))
	for _, raw := range raws {
		doc := Document{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, doc)
	}
	return out, nil
}

func compileSelect(collection string, q Query, opts Options) (string, []any, error) {
	b := &sqlBuilder{args: []any{collection}}
	where, err := b.compile(q)
	if err != nil {
		return "", nil, err
	}
	var sb strings.Builder
	sb.WriteString(`SELECT data FROM records WHERE collection = $1 AND `)
	sb.WriteString(where)
	sb.WriteString(` ORDER BY `)
	for _, field := range opts.Sort {
		dir := "ASC"
		if strings.HasPrefix(field, "-") {
			dir = "DESC"
		}
		sb.WriteString(`data #>> ` + b.arg(splitField(strings.TrimPrefix(field, "-"))) + ` ` + dir + `, `)
	}
	sb.WriteString(`seq`)
	if opts.Limit > 0 {
		sb.WriteString(` LIMIT ` + b.arg(opts.Limit))
	}
	if opts.Skip > 0 {
		sb.WriteString(` OFFSET ` + b.arg(opts.Skip))
	}
	return sb.String(), b.args, nil
}

// sqlBuilder compiles a Query into a parameterized jsonb predicate.
type sqlBuilder struct {
	args []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *sqlBuilder) compile(q Query) (string, error) {
	switch q := q.(type) {
	case nil, All:
		return "TRUE", nil
	case Eq:
		if q.Field == IDField {
			return "id = " + b.arg(fmt.Sprint(q.Value)), nil
		}
		return b.eq(q.Field, q.Value)
	case In:
		if q.Field == IDField {
			ids := make([]string, 0, len(q.Values))
			for _, v := range q.Values {
				ids = append(ids, fmt.Sprint(v))
			}
			return "id = ANY(" + b.arg(ids) + ")", nil
		}
		if len(q.Values) == 0 {
			return "FALSE", nil
		}
		or := make(Or, 0, len(q.Values))
		for _, v := range q.Values {
			or = append(or, Eq{Field: q.Field, Value: v})
		}
		return b.compile(or)
	case Match:
		return b.match(q.Field, q.Pattern), nil
	case And:
		return b.join(q, " AND ", "TRUE")
	case Or:
		return b.join(q, " OR ", "FALSE")
	default:
		return "", fmt.Errorf("%w: unsupported clause %T", ErrInvalidQuery, q)
	}
}

func (b *sqlBuilder) eq(field string, value any) (string, error) {
	raw, err := json.Marshal(normalize(value))
	if err != nil {
		return "", fmt.Errorf("%w: encode %s: %v", ErrInvalidQuery, field, err)
	}
	path := b.arg(splitField(field))
	val := b.arg(string(raw))
	pred := fmt.Sprintf(
		"(data #> %[1]s = %[2]s::jsonb OR (jsonb_typeof(data #> %[1]s) = 'array' AND data #> %[1]s @> jsonb_build_array(%[2]s::jsonb)))",
		path, val,
	)
	if value == nil {
		// A missing field equals null.
		pred = fmt.Sprintf("(data #> %s IS NULL OR %s)", path, pred)
	}
	return pred, nil
}

// match tests string values, and the string elements of arrays, for the pattern.
func (b *sqlBuilder) match(field, pattern string) string {
	path := b.arg(splitField(field))
	like := b.arg("%" + escapeLike(pattern) + "%")
	return fmt.Sprintf(
		"(CASE jsonb_typeof(data #> %[1]s)"+
			" WHEN 'string' THEN data #>> %[1]s ILIKE %[2]s"+
			" WHEN 'array' THEN EXISTS (SELECT 1 FROM jsonb_array_elements(data #> %[1]s) AS e(v) WHERE jsonb_typeof(e.v) = 'string' AND e.v #>> '{}' ILIKE %[2]s)"+
			" ELSE FALSE END)",
		path, like,
	)
}

func (b *sqlBuilder) join(clauses []Query, sep, empty string) (string, error) {
	if len(clauses) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(clauses))
	for _, clause := range clauses {
		part, err := b.compile(clause)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

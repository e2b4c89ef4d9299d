package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL,
	UNIQUE (collection, id)
);
CREATE INDEX IF NOT EXISTS records_collection_idx ON records (collection, seq);
`

// SQLiteStore persists documents as JSON text in a single SQLite table.
// Queries are evaluated in process with Matches over the collection's rows.
type SQLiteStore struct {
	db        *sql.DB
	relations Relations
}

// OpenSQLite opens (or creates) the database file at path.
func OpenSQLite(ctx context.Context, path string, relations Relations) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection serializes writers and keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, relations: relations}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, collection string, doc Document) (Document, error) {
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
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO records (collection, id, data) VALUES (?, ?, ?) ON CONFLICT (collection, id) DO NOTHING`,
		collection, stored.ID(), string(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", collection, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%w: %q in %s", ErrDuplicateID, stored.ID(), collection)
	}
	return stored, nil
}

func (s *SQLiteStore) Retrieve(ctx context.Context, collection string, q Query, opts Options) ([]Document, error) {
	docs, err := s.find(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	sortDocuments(docs, opts.Sort)
	docs = window(docs, opts.Skip, opts.Limit)
	if err := populate(ctx, s.relations, collection, docs, opts.Populate, s.find); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *SQLiteStore) Update(ctx context.Context, collection string, q Query, delta Document) error {
	normalized, err := normalizeDocument(delta)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	docs, err := scanMatching(ctx, tx, collection, q)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		mergeDelta(doc, normalized)
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode document: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE records SET data = ? WHERE collection = ? AND id = ?`,
			string(raw), collection, doc.ID(),
		); err != nil {
			return fmt.Errorf("update %s: %w", collection, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Destroy(ctx context.Context, collection string, q Query) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin destroy: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	docs, err := scanMatching(ctx, tx, collection, q)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM records WHERE collection = ? AND id = ?`,
			collection, doc.ID(),
		); err != nil {
			return fmt.Errorf("destroy %s: %w", collection, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) find(ctx context.Context, collection string, q Query) ([]Document, error) {
	return scanMatching(ctx, s.db, collection, q)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanMatching(ctx context.Context, db queryer, collection string, q Query) ([]Document, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT data FROM records WHERE collection = ? ORDER BY seq`, collection)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	out := []Document{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		doc := Document{}
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", collection, err)
		}
		ok, err := Matches(doc, q)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}
	return out, rows.Err()
}

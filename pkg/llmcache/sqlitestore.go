package llmcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps entries in a single SQLite table. Upserts replace the
// whole row in one statement, so readers see either the old entry or the
// new one.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		digest TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		request BLOB NOT NULL,
		response BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);`

	_, err := s.db.Exec(schema)
	return err
}

// Get reads the entry for digest, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, digest string) (*Entry, error) {
	queryStr, args, err := sq.Select("model", "request", "response").
		From("entries").
		Where(sq.Eq{"digest": digest}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var e Entry
	err = s.db.QueryRowContext(ctx, queryStr, args...).Scan(&e.Model, &e.Request, &e.Response)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read entry: %w", err)
	}

	return &e, nil
}

// Put writes the entry for digest, replacing any previous row.
func (s *SQLiteStore) Put(ctx context.Context, digest string, e *Entry) error {
	queryStr, args, err := sq.Insert("entries").
		Options("OR REPLACE").
		Columns("digest", "model", "request", "response", "created_at").
		Values(digest, e.Model, []byte(e.Request), []byte(e.Response), time.Now().Unix()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}

	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

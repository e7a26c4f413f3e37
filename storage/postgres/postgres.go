// Package postgres provides a storage backend keeping documents as jsonb rows
// in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maruel/balloonist/balloon"
	"github.com/maruel/balloonist/storage"
)

// DefaultSchema is the schema used when none is configured.
const DefaultSchema = "balloonist"

var schemaRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// DB is the subset of pgxpool.Pool and pgx.Tx used by Store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a storage.Backend backed by a PostgreSQL table.
type Store struct {
	db    DB
	table string
}

// Open connects to url and creates the schema.
func Open(ctx context.Context, url, schema string) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: connect: %w", err)
	}
	s, err := New(ctx, pool, schema)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// New returns a Store using db and creates the schema if needed. Invalid
// schema names fall back to DefaultSchema.
func New(ctx context.Context, db DB, schema string) (*Store, error) {
	if !schemaRe.MatchString(schema) {
		schema = DefaultSchema
	}
	s := &Store{db: db, table: pgx.Identifier{schema, "documents"}.Sanitize()}
	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;
CREATE TABLE IF NOT EXISTS %s (
	partition text NOT NULL,
	name      text NOT NULL,
	body      jsonb NOT NULL,
	PRIMARY KEY (partition, name)
);`, pgx.Identifier{schema}.Sanitize(), s.table)
	if _, err := db.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("postgres: creating schema: %w", err)
	}
	return s, nil
}

// Write implements storage.Backend.
func (s *Store) Write(ctx context.Context, partition, name string, doc balloon.Document) error {
	if err := storage.ValidateKey(partition, name); err != nil {
		return err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", partition, name, err)
	}
	_, err = s.db.Exec(ctx,
		"INSERT INTO "+s.table+" (partition, name, body) VALUES ($1, $2, $3::jsonb) "+
			"ON CONFLICT (partition, name) DO UPDATE SET body = excluded.body",
		partition, name, string(body))
	if err != nil {
		return fmt.Errorf("postgres: write %s/%s: %w", partition, name, err)
	}
	return nil
}

// Read implements storage.Backend.
func (s *Store) Read(ctx context.Context, partition, name string) (balloon.Document, error) {
	var body string
	err := s.db.QueryRow(ctx, "SELECT body::text FROM "+s.table+" WHERE partition = $1 AND name = $2", partition, name).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.NotFound(partition, name)
		}
		return nil, fmt.Errorf("postgres: read %s/%s: %w", partition, name, err)
	}
	doc, err := storage.JSON.Unmarshal([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", partition, name, err)
	}
	return doc, nil
}

// Exists implements storage.Backend.
func (s *Store) Exists(ctx context.Context, partition, name string) (bool, error) {
	var found bool
	err := s.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM "+s.table+" WHERE partition = $1 AND name = $2)", partition, name).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("postgres: exists %s/%s: %w", partition, name, err)
	}
	return found, nil
}

// Delete implements storage.Backend.
func (s *Store) Delete(ctx context.Context, partition, name string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM "+s.table+" WHERE partition = $1 AND name = $2", partition, name)
	if err != nil {
		return fmt.Errorf("postgres: delete %s/%s: %w", partition, name, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.NotFound(partition, name)
	}
	return nil
}

// Names implements storage.Backend.
func (s *Store) Names(ctx context.Context, partition string) ([]string, error) {
	return s.strings(ctx, "SELECT name FROM "+s.table+" WHERE partition = $1 ORDER BY name COLLATE \"C\"", partition)
}

// Partitions implements storage.Backend.
func (s *Store) Partitions(ctx context.Context) ([]string, error) {
	return s.strings(ctx, "SELECT DISTINCT partition COLLATE \"C\" AS p FROM "+s.table+" ORDER BY p")
}

func (s *Store) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

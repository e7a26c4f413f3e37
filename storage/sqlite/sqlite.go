// Package sqlite provides a storage backend keeping documents in a single
// SQLite table.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/maruel/balloonist/balloon"
	"github.com/maruel/balloonist/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	partition TEXT NOT NULL,
	name      TEXT NOT NULL,
	body      BLOB NOT NULL,
	PRIMARY KEY (partition, name)
) WITHOUT ROWID;
`

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the database file. It is created if it does not exist.
	Path string
	// PoolSize is the number of connections. Defaults to max(runtime.NumCPU(), 4).
	PoolSize int
	// Codec encodes document bodies. Defaults to storage.JSON.
	Codec storage.Codec
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Store is a storage.Backend backed by SQLite.
type Store struct {
	pool   *sqlitex.Pool
	codec  storage.Codec
	logger *slog.Logger
	path   string
}

// Open opens the database at cfg.Path and creates the schema.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	codec := cfg.Codec
	if codec == nil {
		codec = storage.JSON
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = max(runtime.NumCPU(), 4)
	}
	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening %s: %w", cfg.Path, err)
	}
	logger.Debug("sqlite: pool opened", "path", cfg.Path, "pool_size", poolSize)
	return &Store{pool: pool, codec: codec, logger: logger, path: cfg.Path}, nil
}

// Close closes all connections. It blocks until borrowed connections are returned.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlite: closing %s: %w", s.path, err)
	}
	return nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlite: creating schema: %w", err)
	}
	return nil
}

// Write implements storage.Backend.
func (s *Store) Write(ctx context.Context, partition, name string, doc balloon.Document) error {
	if err := storage.ValidateKey(partition, name); err != nil {
		return err
	}
	body, err := s.codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", partition, name, err)
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: write: %w", err)
	}
	defer s.pool.Put(conn)
	err = sqlitex.Execute(conn,
		`INSERT INTO documents (partition, name, body) VALUES (?, ?, ?)
		ON CONFLICT (partition, name) DO UPDATE SET body = excluded.body`,
		&sqlitex.ExecOptions{Args: []any{partition, name, body}})
	if err != nil {
		return fmt.Errorf("sqlite: write %s/%s: %w", partition, name, err)
	}
	return nil
}

// Read implements storage.Backend.
func (s *Store) Read(ctx context.Context, partition, name string) (balloon.Document, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: read: %w", err)
	}
	defer s.pool.Put(conn)
	var body []byte
	found := false
	err = sqlitex.Execute(conn, "SELECT body FROM documents WHERE partition = ? AND name = ?", &sqlitex.ExecOptions{
		Args: []any{partition, name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			body = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, body)
			found = true
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: read %s/%s: %w", partition, name, err)
	}
	if !found {
		return nil, storage.NotFound(partition, name)
	}
	doc, err := s.codec.Unmarshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", partition, name, err)
	}
	return doc, nil
}

// Exists implements storage.Backend.
func (s *Store) Exists(ctx context.Context, partition, name string) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("sqlite: exists: %w", err)
	}
	defer s.pool.Put(conn)
	found := false
	err = sqlitex.Execute(conn, "SELECT 1 FROM documents WHERE partition = ? AND name = ?", &sqlitex.ExecOptions{
		Args: []any{partition, name},
		ResultFunc: func(*sqlite.Stmt) error {
			found = true
			return nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("sqlite: exists %s/%s: %w", partition, name, err)
	}
	return found, nil
}

// Delete implements storage.Backend.
func (s *Store) Delete(ctx context.Context, partition, name string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: delete: %w", err)
	}
	defer s.pool.Put(conn)
	err = sqlitex.Execute(conn, "DELETE FROM documents WHERE partition = ? AND name = ?", &sqlitex.ExecOptions{
		Args: []any{partition, name},
	})
	if err != nil {
		return fmt.Errorf("sqlite: delete %s/%s: %w", partition, name, err)
	}
	if conn.Changes() == 0 {
		return storage.NotFound(partition, name)
	}
	return nil
}

// Names implements storage.Backend.
func (s *Store) Names(ctx context.Context, partition string) ([]string, error) {
	return s.strings(ctx, "SELECT name FROM documents WHERE partition = ? ORDER BY name", partition)
}

// Partitions implements storage.Backend.
func (s *Store) Partitions(ctx context.Context) ([]string, error) {
	return s.strings(ctx, "SELECT DISTINCT partition FROM documents ORDER BY partition")
}

func (s *Store) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	defer s.pool.Put(conn)
	out := []string{}
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			out = append(out, stmt.ColumnText(0))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	return out, nil
}

// Package sqlitekv implements kv.Store on a local SQLite file so the
// client's outbox and deletion guard survive a process restart.
package sqlitekv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"transit-sync/internal/general/kv"
	"transit-sync/internal/general/logger"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Store is a kv.Store backed by a pool of SQLite connections.
type Store struct {
	pool   *sqlitex.Pool
	logger *logger.Logger
	path   string
}

var _ kv.Store = (*Store)(nil)

// Open opens (or creates) the database at path and ensures the kv table exists.
func Open(ctx context.Context, path string, log *logger.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlitekv: path is required")
	}
	if log == nil {
		log = logger.Discard()
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    2,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: open %s: %w", path, err)
	}

	s := &Store{pool: pool, logger: log, path: path}

	// fail fast if the schema cannot be applied
	conn, err := s.pool.Take(ctx)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("sqlitekv: take: %w", err)
	}
	s.pool.Put(conn)

	log.Info(ctx, "kv_store_opened", "Durable key-value store opened", map[string]any{"path": path})
	return s, nil
}

// prepareConn runs once per pooled connection.
func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, p, nil); err != nil {
			return fmt.Errorf("sqlitekv: %s: %w", p, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlitekv: schema: %w", err)
	}
	return nil
}

// Get returns the value for key or kv.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: get %q: %w", key, err)
	}
	defer s.pool.Put(conn)

	var (
		value []byte
		found bool
	)
	err = sqlitex.Execute(conn, `SELECT value FROM kv WHERE key = ?`, &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, value)
			found = true
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: get %q: %w", key, err)
	}
	if !found {
		return nil, kv.ErrNotFound
	}
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlitekv: set %q: %w", key, err)
	}
	defer s.pool.Put(conn)

	if value == nil {
		value = []byte{}
	}
	err = sqlitex.Execute(conn, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{Args: []any{key, value, time.Now().UTC().UnixMilli()}},
	)
	if err != nil {
		return fmt.Errorf("sqlitekv: set %q: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlitekv: remove %q: %w", key, err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, `DELETE FROM kv WHERE key = ?`, &sqlitex.ExecOptions{Args: []any{key}}); err != nil {
		return fmt.Errorf("sqlitekv: remove %q: %w", key, err)
	}
	return nil
}

// Close releases every pooled connection.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		s.logger.Error(context.Background(), "kv_store_close_failed", "Failed to close key-value store", err,
			map[string]any{"path": s.path})
		return fmt.Errorf("sqlitekv: close %s: %w", s.path, err)
	}
	return nil
}

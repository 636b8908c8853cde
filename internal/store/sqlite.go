package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ BlobStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS blobs (
	namespace  TEXT    NOT NULL,
	key        TEXT    NOT NULL,
	data       BLOB    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, key)
)`

// SQLiteStore implements BlobStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns
// a ready-to-use SQLiteStore. dbPath may be ":memory:".
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared and serialises
	// writers without busy retries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating blobs table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns the blob stored under (namespace, key).
func (s *SQLiteStore) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM blobs WHERE namespace = ? AND key = ?`, namespace, key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
	return data, true, nil
}

// Put upserts the blob stored under (namespace, key).
func (s *SQLiteStore) Put(ctx context.Context, namespace, key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs (namespace, key, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(namespace, key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		namespace, key, data, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Delete removes (namespace, key).
func (s *SQLiteStore) Delete(ctx context.Context, namespace, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM blobs WHERE namespace = ? AND key = ?`, namespace, key,
	); err != nil {
		return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Keys lists the keys of a namespace in ascending order.
func (s *SQLiteStore) Keys(ctx context.Context, namespace string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM blobs WHERE namespace = ? ORDER BY key`, namespace)
	if err != nil {
		return nil, fmt.Errorf("keys %s: %w", namespace, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const recordsSchema = `
CREATE TABLE IF NOT EXISTS records (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore persists records in a single-table SQLite database. Each
// value is stored as its JSON encoding; SQLite's journaling provides the
// crash-safe replace semantics the Store contract requires.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and ensures
// the records table exists.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("kvstore: sqlite path is empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StorageError{Op: "open", Key: path, Err: err}
	}
	// Serialised access keeps the single-writer discipline at the driver level.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(recordsSchema); err != nil {
		db.Close()
		return nil, &StorageError{Op: "migrate", Key: path, Err: err}
	}

	return &SQLiteStore{db: db}, nil
}

// Exists reports whether the key has a stored value.
func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM records WHERE key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &StorageError{Op: "stat", Key: key, Err: err}
	}
	return true, nil
}

// ReadJSON decodes the stored value for key into out.
func (s *SQLiteStore) ReadJSON(ctx context.Context, key string, out any) error {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM records WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return &StorageError{Op: "read", Key: key, Err: ErrNotExist}
	}
	if err != nil {
		return &StorageError{Op: "read", Key: key, Err: err}
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &StorageError{Op: "decode", Key: key, Err: err}
	}
	return nil
}

// WriteJSON encodes value and upserts the record for key.
func (s *SQLiteStore) WriteJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return &StorageError{Op: "encode", Key: key, Err: err}
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO records (key, value, updated_at)
        VALUES (?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(key) DO UPDATE SET
            value = excluded.value,
            updated_at = CURRENT_TIMESTAMP
    `, key, string(data))
	if err != nil {
		return &StorageError{Op: "write", Key: key, Err: err}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("kvstore: close sqlite: %w", err)
	}
	return nil
}

// Package kvstore provides the durable record store backing the destination
// registry, the administrator credential, and the last-active pointer. Records
// are JSON-serializable values addressed by a short key. Two backends exist:
// one JSON file per key, and a single-table SQLite database.
package kvstore

import (
	"context"
	"errors"
	"fmt"
)

// Well-known record keys.
const (
	KeyDestinations    = "destinations"
	KeyLastActive      = "last_active"
	KeyAdminCredential = "admin_credential"
)

// ErrNotExist reports a read of a key that was never written.
var ErrNotExist = errors.New("kvstore: key does not exist")

// Store persists JSON-serializable records by key. A write either lands
// completely or leaves the previous value intact; readers never observe a
// partially written record.
type Store interface {
	// Exists reports whether the key has a stored value.
	Exists(ctx context.Context, key string) (bool, error)
	// ReadJSON decodes the stored value for key into out.
	// Returns an error wrapping ErrNotExist when the key is absent.
	ReadJSON(ctx context.Context, key string, out any) error
	// WriteJSON encodes value and durably replaces the record for key.
	WriteJSON(ctx context.Context, key string, value any) error
	// Close releases backend resources.
	Close() error
}

// StorageError wraps a backend I/O failure so callers can distinguish
// persistence problems from domain errors.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("kvstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageFailure reports whether err originated from a store backend.
func IsStorageFailure(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

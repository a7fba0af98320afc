// Package registry owns the destination records backing the switch
// coordinator: loading and seeding from durable storage, bulk replacement
// (admin-gated when destructive), per-record password updates, and password
// verification. All mutation is serialised under a single writer lock and
// persisted before the in-memory state is committed.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/teamdock/teamdock/internal/admin"
	"github.com/teamdock/teamdock/internal/credential"
	"github.com/teamdock/teamdock/internal/kvstore"
)

var (
	ErrNotFound                  = errors.New("registry: destination not found")
	ErrAdminRequired             = errors.New("registry: admin password required for destructive edit")
	ErrInvalidPassword           = errors.New("registry: invalid destination password")
	ErrUnexpectedCurrentPassword = errors.New("registry: current password supplied for open destination")
	ErrEmptyPassword             = errors.New("registry: password is empty")
	ErrNoPasswordConfigured      = errors.New("registry: destination has no password configured")
	ErrDuplicateID               = errors.New("registry: duplicate destination id")
	ErrEmptyRegistry             = errors.New("registry: destination list is empty")
)

// Registry is the in-memory destination set backed by a kvstore record.
type Registry struct {
	mu      sync.RWMutex
	store   kvstore.Store
	guard   *admin.Guard
	records []DestinationRecord
}

// New constructs a registry over store, gated by guard for destructive
// edits. Call Load before use.
func New(store kvstore.Store, guard *admin.Guard) *Registry {
	return &Registry{store: store, guard: guard}
}

// Load reads the destination list from storage, seeding the built-in
// defaults on first run. Every record is normalized; the normalized set is
// persisted again only when seeding or normalization changed something.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.store.Exists(ctx, kvstore.KeyDestinations)
	if err != nil {
		return fmt.Errorf("registry: check destinations: %w", err)
	}

	var loaded []DestinationRecord
	dirty := false
	if exists {
		if err := r.store.ReadJSON(ctx, kvstore.KeyDestinations, &loaded); err != nil {
			return fmt.Errorf("registry: load destinations: %w", err)
		}
	} else {
		loaded = DefaultDestinations()
		dirty = true
	}

	normalized := make([]DestinationRecord, 0, len(loaded))
	for _, rec := range loaded {
		norm, changed := Normalize(rec)
		if changed {
			dirty = true
		}
		normalized = append(normalized, norm)
	}

	if dirty {
		if err := r.store.WriteJSON(ctx, kvstore.KeyDestinations, normalized); err != nil {
			return fmt.Errorf("registry: persist destinations: %w", err)
		}
	}

	r.records = normalized
	return nil
}

// Get returns the record for id.
func (r *Registry) Get(id string) (DestinationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return DestinationRecord{}, ErrNotFound
}

// List returns a copy of the ordered destination records.
func (r *Registry) List() []DestinationRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DestinationRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Summaries returns the ordered credential-free destination views.
func (r *Registry) Summaries() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Summarize())
	}
	return out
}

// ReplaceAll replaces the whole destination set with incoming. Credential
// material is never taken from incoming records: ids that survive keep
// their stored salt/hash, and new ids start open. Removing an id, or
// explicitly opening a protected record, is destructive and requires the
// administrator password; the check and the apply share one critical
// section so concurrent edits cannot race past the gate.
func (r *Registry) ReplaceAll(ctx context.Context, incoming []DestinationRecord, adminPassword string) ([]DestinationRecord, error) {
	if len(incoming) == 0 {
		return nil, ErrEmptyRegistry
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := make(map[string]DestinationRecord, len(r.records))
	for _, rec := range r.records {
		current[rec.ID] = rec
	}

	seen := make(map[string]struct{}, len(incoming))
	merged := make([]DestinationRecord, 0, len(incoming))
	destructive := false

	for _, in := range incoming {
		if in.ID == "" {
			return nil, fmt.Errorf("registry: destination with empty id")
		}
		if _, dup := seen[in.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, in.ID)
		}
		seen[in.ID] = struct{}{}

		existing, known := current[in.ID]
		if !known {
			norm, _ := Normalize(DestinationRecord{ID: in.ID, Label: in.Label, AllowNoPassword: true})
			merged = append(merged, norm)
			continue
		}

		next := existing
		next.Label = in.Label
		if in.AllowNoPassword && existing.Protected() {
			// Explicitly opening a protected destination strips its password.
			next.PasswordSalt = ""
			next.PasswordHash = ""
			next.AllowNoPassword = true
			destructive = true
		}
		merged = append(merged, next)
	}

	for id := range current {
		if _, kept := seen[id]; !kept {
			destructive = true
			break
		}
	}

	if destructive {
		if err := r.guard.Verify(adminPassword); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAdminRequired, err)
		}
	}

	if err := r.store.WriteJSON(ctx, kvstore.KeyDestinations, merged); err != nil {
		return nil, fmt.Errorf("registry: persist destinations: %w", err)
	}

	r.records = merged

	out := make([]DestinationRecord, len(merged))
	copy(out, merged)
	return out, nil
}

// UpdatePassword changes the credential state of one destination. A
// protected record requires its current password first; an open record
// rejects a non-empty current password. With allowNoPassword the credential
// is cleared, otherwise a fresh salt and digest are stored for newPassword.
func (r *Registry) UpdatePassword(ctx context.Context, id, currentPassword, newPassword string, allowNoPassword bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, rec := range r.records {
		if rec.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}

	rec := r.records[idx]
	if rec.Protected() {
		if !credential.Verify(currentPassword, rec.PasswordSalt, rec.PasswordHash) {
			return ErrInvalidPassword
		}
	} else if currentPassword != "" {
		return ErrUnexpectedCurrentPassword
	}

	if allowNoPassword {
		rec.PasswordSalt = ""
		rec.PasswordHash = ""
		rec.AllowNoPassword = true
	} else {
		if newPassword == "" {
			return ErrEmptyPassword
		}
		salt, err := credential.NewSalt()
		if err != nil {
			return fmt.Errorf("registry: %w", err)
		}
		rec.PasswordSalt = salt
		rec.PasswordHash = credential.Hash(newPassword, salt)
		rec.AllowNoPassword = false
	}

	next := make([]DestinationRecord, len(r.records))
	copy(next, r.records)
	next[idx] = rec

	if err := r.store.WriteJSON(ctx, kvstore.KeyDestinations, next); err != nil {
		return fmt.Errorf("registry: persist destinations: %w", err)
	}

	r.records = next
	return nil
}

// VerifyPassword checks password against the destination's stored digest.
// Open destinations always verify.
func (r *Registry) VerifyPassword(id, password string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.records {
		if rec.ID != id {
			continue
		}
		if rec.AllowNoPassword {
			return nil
		}
		if !rec.Protected() {
			return ErrNoPasswordConfigured
		}
		if !credential.Verify(password, rec.PasswordSalt, rec.PasswordHash) {
			return ErrInvalidPassword
		}
		return nil
	}
	return ErrNotFound
}

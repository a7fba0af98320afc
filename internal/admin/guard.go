// Package admin holds the single administrator credential gating destructive
// registry edits. The credential is set at most once per installation; there
// is no in-process reset path.
package admin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/teamdock/teamdock/internal/credential"
	"github.com/teamdock/teamdock/internal/kvstore"
)

var (
	ErrAlreadySet      = errors.New("admin: password already set")
	ErrNotConfigured   = errors.New("admin: password not configured")
	ErrEmptyPassword   = errors.New("admin: password is empty")
	ErrInvalidPassword = errors.New("admin: invalid password")
)

// Credential is the persisted administrator record.
type Credential struct {
	PasswordSalt string `json:"passwordSalt"`
	PasswordHash string `json:"passwordHash"`
}

// Guard owns the administrator credential. All mutation goes through
// SetPassword under a single writer lock; reads may run concurrently.
type Guard struct {
	mu    sync.RWMutex
	store kvstore.Store
	cred  *Credential // nil until configured
}

// NewGuard constructs a guard over the given store. Call Load before use.
func NewGuard(store kvstore.Store) *Guard {
	return &Guard{store: store}
}

// Load reads the persisted credential, if any.
func (g *Guard) Load(ctx context.Context) error {
	exists, err := g.store.Exists(ctx, kvstore.KeyAdminCredential)
	if err != nil {
		return fmt.Errorf("admin: check credential: %w", err)
	}
	if !exists {
		return nil
	}

	var cred Credential
	if err := g.store.ReadJSON(ctx, kvstore.KeyAdminCredential, &cred); err != nil {
		return fmt.Errorf("admin: load credential: %w", err)
	}

	g.mu.Lock()
	if cred.PasswordSalt != "" && cred.PasswordHash != "" {
		g.cred = &cred
	}
	g.mu.Unlock()
	return nil
}

// IsConfigured reports whether an administrator credential exists.
func (g *Guard) IsConfigured() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cred != nil
}

// SetPassword performs the one-time credential initialisation. It persists
// the hashed credential before committing it in memory, so a storage failure
// leaves the guard unconfigured.
func (g *Guard) SetPassword(ctx context.Context, password string) error {
	if password == "" {
		return ErrEmptyPassword
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cred != nil {
		return ErrAlreadySet
	}

	salt, err := credential.NewSalt()
	if err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	cred := Credential{
		PasswordSalt: salt,
		PasswordHash: credential.Hash(password, salt),
	}

	if err := g.store.WriteJSON(ctx, kvstore.KeyAdminCredential, cred); err != nil {
		return fmt.Errorf("admin: persist credential: %w", err)
	}

	g.cred = &cred
	return nil
}

// Verify checks password against the stored credential.
func (g *Guard) Verify(password string) error {
	g.mu.RLock()
	cred := g.cred
	g.mu.RUnlock()

	if cred == nil {
		return ErrNotConfigured
	}
	if password == "" {
		return ErrEmptyPassword
	}
	if !credential.Verify(password, cred.PasswordSalt, cred.PasswordHash) {
		return ErrInvalidPassword
	}
	return nil
}

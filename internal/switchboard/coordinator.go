// Package switchboard orchestrates the two-phase switch handshake: an
// observer requests a switch, open destinations apply immediately, protected
// ones park a pending entry until the observer confirms with the
// destination's password. The coordinator owns the active-destination
// pointer, persists it, and broadcasts every state change on the event bus.
package switchboard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/teamdock/teamdock/internal/eventbus"
	"github.com/teamdock/teamdock/internal/kvstore"
	"github.com/teamdock/teamdock/internal/registry"
)

// ErrNoPendingSwitch reports a confirm without a matching prior request.
var ErrNoPendingSwitch = errors.New("switchboard: no pending switch for observer")

// SwitchStatus is the outcome of a switch request.
type SwitchStatus string

const (
	StatusApplied       SwitchStatus = "applied"
	StatusNeedsPassword SwitchStatus = "needs_password"
	StatusAlreadyActive SwitchStatus = "already_active"
)

// lastActiveRecord is the persisted shape of the active-destination pointer.
type lastActiveRecord struct {
	LastActiveID string `json:"lastActiveId"`
}

// Coordinator owns the active-destination pointer and the per-observer
// pending switches. Every mutating path runs under one mutex so a
// check-then-act span (pending lookup, password verification, apply) can
// never interleave with a concurrent registry edit.
type Coordinator struct {
	mu       sync.Mutex
	store    kvstore.Store
	registry *registry.Registry
	bus      *eventbus.Bus

	activeID string
	pending  map[string]string // observer id -> target id
}

// New constructs a coordinator. Call Start after the registry is loaded.
func New(store kvstore.Store, reg *registry.Registry, bus *eventbus.Bus) *Coordinator {
	return &Coordinator{
		store:    store,
		registry: reg,
		pending:  make(map[string]string),
		bus:      bus,
	}
}

// Start restores the last-active destination pointer. A persisted id that no
// longer exists in the registry falls back to the first entry.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var record lastActiveRecord
	exists, err := c.store.Exists(ctx, kvstore.KeyLastActive)
	if err != nil {
		return fmt.Errorf("switchboard: check last active: %w", err)
	}
	if exists {
		if err := c.store.ReadJSON(ctx, kvstore.KeyLastActive, &record); err != nil {
			return fmt.Errorf("switchboard: load last active: %w", err)
		}
	}

	if record.LastActiveID != "" {
		if _, err := c.registry.Get(record.LastActiveID); err == nil {
			c.activeID = record.LastActiveID
			return nil
		}
		log.Printf("[Switchboard] persisted active id %q no longer exists, falling back", record.LastActiveID)
	}

	if first := c.registry.List(); len(first) > 0 {
		c.activeID = first[0].ID
	}
	return nil
}

// ActiveID returns the currently active destination id.
func (c *Coordinator) ActiveID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// RequestSwitch starts a switch to targetID on behalf of observerID. Open
// destinations apply immediately; protected ones leave the handshake pending
// and signal the observer to collect a password. No credential material is
// ever sent at this step.
func (c *Coordinator) RequestSwitch(ctx context.Context, observerID, targetID string) (SwitchStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if targetID == c.activeID {
		delete(c.pending, observerID)
		return StatusAlreadyActive, nil
	}

	rec, err := c.registry.Get(targetID)
	if err != nil {
		return "", err
	}

	if rec.AllowNoPassword {
		delete(c.pending, observerID)
		if err := c.applyLocked(ctx, targetID); err != nil {
			return "", err
		}
		return StatusApplied, nil
	}

	// A new request supersedes any earlier unconfirmed one.
	c.pending[observerID] = targetID
	eventbus.Publish(ctx, c.bus, eventbus.Switch.Pending, eventbus.SourceSwitchboard,
		eventbus.SwitchPendingEvent{ObserverID: observerID, TargetID: targetID})
	return StatusNeedsPassword, nil
}

// ConfirmSwitch completes a pending switch with the destination password.
// A verification or persist failure keeps the pending entry so the observer
// may retry; only a fully applied switch consumes it.
func (c *Coordinator) ConfirmSwitch(ctx context.Context, observerID, targetID, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending[observerID] != targetID {
		return ErrNoPendingSwitch
	}

	if err := c.registry.VerifyPassword(targetID, password); err != nil {
		return err
	}

	if err := c.applyLocked(ctx, targetID); err != nil {
		return err
	}
	delete(c.pending, observerID)
	return nil
}

// CancelSwitch discards the observer's pending switch, if any.
func (c *Coordinator) CancelSwitch(observerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, observerID)
}

// DropObserver clears all handshake state for a disconnected observer.
func (c *Coordinator) DropObserver(observerID string) {
	c.CancelSwitch(observerID)
}

// ReplaceAll routes a bulk registry edit through the coordinator so the
// active pointer can be re-established atomically when the edit removes the
// active destination.
func (c *Coordinator) ReplaceAll(ctx context.Context, incoming []registry.DestinationRecord, adminPassword string) ([]registry.Summary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	applied, err := c.registry.ReplaceAll(ctx, incoming, adminPassword)
	if err != nil {
		return nil, err
	}

	// Drop pending switches whose target disappeared.
	surviving := make(map[string]struct{}, len(applied))
	for _, rec := range applied {
		surviving[rec.ID] = struct{}{}
	}
	for observer, target := range c.pending {
		if _, ok := surviving[target]; !ok {
			delete(c.pending, observer)
		}
	}

	if _, ok := surviving[c.activeID]; !ok {
		fallback := applied[0].ID
		if err := c.persistActive(ctx, fallback); err != nil {
			log.Printf("[Switchboard] failed to persist fallback active id: %v", err)
		}
		c.activeID = fallback
		eventbus.Publish(ctx, c.bus, eventbus.Destinations.Active, eventbus.SourceSwitchboard,
			eventbus.ActiveDestinationEvent{ID: fallback})
	}

	summaries := make([]registry.Summary, 0, len(applied))
	for _, rec := range applied {
		summaries = append(summaries, rec.Summarize())
	}
	c.publishChangedLocked(ctx)
	return summaries, nil
}

// UpdatePassword forwards a per-destination password update and broadcasts
// the refreshed summaries (the protected flag may have flipped).
func (c *Coordinator) UpdatePassword(ctx context.Context, id, currentPassword, newPassword string, allowNoPassword bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.registry.UpdatePassword(ctx, id, currentPassword, newPassword, allowNoPassword); err != nil {
		return err
	}
	c.publishChangedLocked(ctx)
	return nil
}

// applyLocked persists and commits the new active id, then re-broadcasts the
// derived presentation state. The write happens before the in-memory commit
// so a storage failure never leaves the process believing the switch stuck.
func (c *Coordinator) applyLocked(ctx context.Context, targetID string) error {
	if err := c.persistActive(ctx, targetID); err != nil {
		return err
	}

	c.activeID = targetID
	eventbus.Publish(ctx, c.bus, eventbus.Destinations.Active, eventbus.SourceSwitchboard,
		eventbus.ActiveDestinationEvent{ID: targetID})
	c.publishChangedLocked(ctx)
	return nil
}

func (c *Coordinator) persistActive(ctx context.Context, id string) error {
	if err := c.store.WriteJSON(ctx, kvstore.KeyLastActive, lastActiveRecord{LastActiveID: id}); err != nil {
		return fmt.Errorf("switchboard: persist active id: %w", err)
	}
	return nil
}

func (c *Coordinator) publishChangedLocked(ctx context.Context) {
	summaries := c.registry.Summaries()
	out := make([]eventbus.DestinationSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, eventbus.DestinationSummary{ID: s.ID, Label: s.Label, Protected: s.Protected})
	}
	eventbus.Publish(ctx, c.bus, eventbus.Destinations.Changed, eventbus.SourceSwitchboard,
		eventbus.DestinationsChangedEvent{Destinations: out, ActiveID: c.activeID})
}

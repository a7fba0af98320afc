// Package server exposes the registry, administrator guard, and switch
// coordinator to untrusted UI surfaces over a localhost HTTP JSON API plus a
// WebSocket event stream. Credential material never appears in any outbound
// payload; observers see only id/label/protected summaries.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/teamdock/teamdock/internal/admin"
	"github.com/teamdock/teamdock/internal/eventbus"
	"github.com/teamdock/teamdock/internal/registry"
	"github.com/teamdock/teamdock/internal/switchboard"
	"github.com/teamdock/teamdock/internal/version"
)

// ObserverHeader carries the caller's observer handle: either the id issued
// at WebSocket attach or one the client minted itself. Requests without one
// get an ephemeral id so handshake state never leaks between unidentified
// callers.
const ObserverHeader = "X-Teamdock-Observer"

// Options groups the dependencies required to construct an APIServer.
type Options struct {
	Registry     *registry.Registry
	Guard        *admin.Guard
	Coordinator  *switchboard.Coordinator
	Bus          *eventbus.Bus
	StoreBackend string
}

// APIServer serves the control surface and owns the observer hub.
type APIServer struct {
	registry     *registry.Registry
	guard        *admin.Guard
	coordinator  *switchboard.Coordinator
	bus          *eventbus.Bus
	hub          *Hub
	storeBackend string

	httpServer *http.Server
}

// NewAPIServer constructs the server and its observer hub.
func NewAPIServer(opts Options) *APIServer {
	s := &APIServer{
		registry:     opts.Registry,
		guard:        opts.Guard,
		coordinator:  opts.Coordinator,
		bus:          opts.Bus,
		storeBackend: opts.StoreBackend,
	}
	s.hub = NewHub(opts.Bus, opts.Coordinator, s.snapshot)
	return s
}

// Hub returns the observer hub.
func (s *APIServer) Hub() *Hub { return s.hub }

// Handler builds the HTTP routing table.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/destinations", s.handleListDestinations)
	mux.HandleFunc("PUT /api/destinations", s.handleReplaceDestinations)
	mux.HandleFunc("POST /api/destinations/{id}/password", s.handleUpdatePassword)
	mux.HandleFunc("POST /api/switch/request", s.handleSwitchRequest)
	mux.HandleFunc("POST /api/switch/confirm", s.handleSwitchConfirm)
	mux.HandleFunc("POST /api/switch/cancel", s.handleSwitchCancel)
	mux.HandleFunc("POST /api/admin/password", s.handleSetAdminPassword)
	mux.HandleFunc("POST /api/admin/verify", s.handleVerifyAdminPassword)
	mux.HandleFunc("POST /api/notify", s.handleNotify)
	mux.HandleFunc("GET /ws", s.hub.HandleWS)

	return mux
}

// Serve starts the hub and serves HTTP on listener until Shutdown.
func (s *APIServer) Serve(listener net.Listener) error {
	s.hub.Run()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server and detaches every observer.
func (s *APIServer) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.hub.Shutdown()
	return err
}

// snapshot replays the current registry and active pointer to a freshly
// attached observer.
func (s *APIServer) snapshot() []Message {
	now := time.Now().UTC()
	summaries := s.registry.Summaries()
	out := make([]eventbus.DestinationSummary, 0, len(summaries))
	for _, sum := range summaries {
		out = append(out, eventbus.DestinationSummary{ID: sum.ID, Label: sum.Label, Protected: sum.Protected})
	}
	activeID := s.coordinator.ActiveID()

	return []Message{
		{Type: MessageDestinationsChanged, Payload: eventbus.DestinationsChangedEvent{Destinations: out, ActiveID: activeID}, Timestamp: now},
		{Type: MessageDestinationActive, Payload: eventbus.ActiveDestinationEvent{ID: activeID}, Timestamp: now},
	}
}

func observerID(r *http.Request) string {
	if id := r.Header.Get(ObserverHeader); id != "" {
		return id
	}
	return uuid.New().String()
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return false
	}
	return true
}

// StatusResponse describes the running daemon.
type StatusResponse struct {
	Version      string `json:"version"`
	StoreBackend string `json:"storeBackend"`
	Destinations int    `json:"destinations"`
	ActiveID     string `json:"activeId"`
	Observers    int    `json:"observers"`
	AdminSet     bool   `json:"adminConfigured"`
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Version:      version.String(),
		StoreBackend: s.storeBackend,
		Destinations: len(s.registry.Summaries()),
		ActiveID:     s.coordinator.ActiveID(),
		Observers:    s.hub.ObserverCount(),
		AdminSet:     s.guard.IsConfigured(),
	})
}

// ListResponse is the ordered destination overview.
type ListResponse struct {
	Destinations []registry.Summary `json:"destinations"`
	ActiveID     string             `json:"activeId"`
}

func (s *APIServer) handleListDestinations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ListResponse{
		Destinations: s.registry.Summaries(),
		ActiveID:     s.coordinator.ActiveID(),
	})
}

// EditRequest is a bulk registry replacement submission. Incoming records
// carry no credential material; stored salts and hashes survive the edit.
type EditRequest struct {
	Destinations  []registry.DestinationRecord `json:"destinations"`
	AdminPassword string                       `json:"adminPassword"`
}

func (s *APIServer) handleReplaceDestinations(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if !decodeBody(w, r, &req) {
		return
	}

	summaries, err := s.coordinator.ReplaceAll(r.Context(), req.Destinations, req.AdminPassword)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{
		Destinations: summaries,
		ActiveID:     s.coordinator.ActiveID(),
	})
}

// PasswordUpdateRequest changes one destination's credential state.
type PasswordUpdateRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	AllowNoPassword bool   `json:"allowNoPassword"`
}

func (s *APIServer) handleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req PasswordUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.coordinator.UpdatePassword(r.Context(), id, req.CurrentPassword, req.NewPassword, req.AllowNoPassword); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SwitchRequest asks to activate a destination.
type SwitchRequest struct {
	ID string `json:"id"`
}

// SwitchResponse reports the handshake outcome.
type SwitchResponse struct {
	Status   string `json:"status"`
	ActiveID string `json:"activeId"`
}

func (s *APIServer) handleSwitchRequest(w http.ResponseWriter, r *http.Request) {
	var req SwitchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	status, err := s.coordinator.RequestSwitch(r.Context(), observerID(r), req.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SwitchResponse{
		Status:   string(status),
		ActiveID: s.coordinator.ActiveID(),
	})
}

// ConfirmRequest completes a pending switch with a destination password.
type ConfirmRequest struct {
	ID       string `json:"id"`
	Password string `json:"password"`
}

func (s *APIServer) handleSwitchConfirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.coordinator.ConfirmSwitch(r.Context(), observerID(r), req.ID, req.Password); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SwitchResponse{
		Status:   string(switchboard.StatusApplied),
		ActiveID: s.coordinator.ActiveID(),
	})
}

func (s *APIServer) handleSwitchCancel(w http.ResponseWriter, r *http.Request) {
	s.coordinator.CancelSwitch(observerID(r))
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// AdminPasswordRequest carries an administrator password.
type AdminPasswordRequest struct {
	Password string `json:"password"`
}

func (s *APIServer) handleSetAdminPassword(w http.ResponseWriter, r *http.Request) {
	var req AdminPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.guard.SetPassword(r.Context(), req.Password); err != nil {
		writeDomainError(w, err)
		return
	}
	log.Printf("[APIServer] administrator password configured")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *APIServer) handleVerifyAdminPassword(w http.ResponseWriter, r *http.Request) {
	var req AdminPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.guard.Verify(req.Password); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NotifyRequest relays a user-facing notification to all observers.
type NotifyRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (s *APIServer) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title == "" && req.Body == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "notification is empty")
		return
	}

	eventbus.Publish(r.Context(), s.bus, eventbus.Notify.User, eventbus.SourceServer,
		eventbus.UserNoticeEvent{Title: req.Title, Body: req.Body})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

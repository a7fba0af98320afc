package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/teamdock/teamdock/internal/admin"
	"github.com/teamdock/teamdock/internal/client"
	"github.com/teamdock/teamdock/internal/kvstore"
	"github.com/teamdock/teamdock/internal/registry"
	"github.com/teamdock/teamdock/internal/server"
	"github.com/teamdock/teamdock/internal/switchboard"
)

type testEnv struct {
	srv         *httptest.Server
	registry    *registry.Registry
	guard       *admin.Guard
	coordinator *switchboard.Coordinator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := kvstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	guard := admin.NewGuard(store)
	if err := guard.Load(ctx); err != nil {
		t.Fatalf("guard load: %v", err)
	}
	reg := registry.New(store, guard)
	if err := reg.Load(ctx); err != nil {
		t.Fatalf("registry load: %v", err)
	}
	coord := switchboard.New(store, reg, nil)
	if err := coord.Start(ctx); err != nil {
		t.Fatalf("coordinator start: %v", err)
	}

	api := server.NewAPIServer(server.Options{
		Registry:     reg,
		Guard:        guard,
		Coordinator:  coord,
		Bus:          nil,
		StoreBackend: "file",
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, registry: reg, guard: guard, coordinator: coord}
}

func (e *testEnv) do(t *testing.T, method, path, observer string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if observer != "" {
		req.Header.Set(server.ObserverHeader, observer)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, out.Bytes()
}

func decodeAs[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return v
}

func wantErrorCode(t *testing.T, resp *http.Response, body []byte, status int, code string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("expected status %d, got %d (%s)", status, resp.StatusCode, body)
	}
	envelope := decodeAs[server.ErrorResponse](t, body)
	if envelope.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, envelope.Code, body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/api/status", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	status := decodeAs[server.StatusResponse](t, body)
	if status.Destinations != 4 {
		t.Fatalf("expected 4 destinations, got %d", status.Destinations)
	}
	if status.ActiveID != "team-a-default" {
		t.Fatalf("unexpected active id %q", status.ActiveID)
	}
	if status.AdminSet {
		t.Fatal("admin should not be configured yet")
	}
	if status.StoreBackend != "file" {
		t.Fatalf("unexpected backend %q", status.StoreBackend)
	}
}

func TestListDestinationsSeedsDefaults(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/api/destinations", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	list := decodeAs[server.ListResponse](t, body)
	if len(list.Destinations) != 4 {
		t.Fatalf("expected 4 destinations, got %d", len(list.Destinations))
	}
	if list.Destinations[0].ID != "team-a-default" || list.Destinations[0].Protected {
		t.Fatalf("unexpected first destination %+v", list.Destinations[0])
	}
	if list.ActiveID != "team-a-default" {
		t.Fatalf("unexpected active id %q", list.ActiveID)
	}
}

func TestSwitchOpenDestinationApplies(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/switch/request", "obs-1",
		server.SwitchRequest{ID: "team-b-marketing"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	sw := decodeAs[server.SwitchResponse](t, body)
	if sw.Status != string(switchboard.StatusApplied) {
		t.Fatalf("expected applied, got %s", sw.Status)
	}
	if sw.ActiveID != "team-b-marketing" {
		t.Fatalf("unexpected active id %q", sw.ActiveID)
	}
}

func TestSwitchUnknownDestination(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/switch/request", "obs-1",
		server.SwitchRequest{ID: "nope"})
	wantErrorCode(t, resp, body, http.StatusNotFound, server.CodeNotFound)
}

func TestProtectedSwitchHandshake(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/destinations/team-c-dev/password", "",
		server.PasswordUpdateRequest{NewPassword: "dev-secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set password: %d %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPost, "/api/switch/request", "obs-1",
		server.SwitchRequest{ID: "team-c-dev"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("request: %d %s", resp.StatusCode, body)
	}
	sw := decodeAs[server.SwitchResponse](t, body)
	if sw.Status != string(switchboard.StatusNeedsPassword) {
		t.Fatalf("expected needs_password, got %s", sw.Status)
	}
	if sw.ActiveID != "team-a-default" {
		t.Fatalf("active id moved early: %q", sw.ActiveID)
	}

	// Wrong password keeps the handshake pending.
	resp, body = env.do(t, http.MethodPost, "/api/switch/confirm", "obs-1",
		server.ConfirmRequest{ID: "team-c-dev", Password: "wrong"})
	wantErrorCode(t, resp, body, http.StatusForbidden, server.CodeInvalidPassword)

	resp, body = env.do(t, http.MethodPost, "/api/switch/confirm", "obs-1",
		server.ConfirmRequest{ID: "team-c-dev", Password: "dev-secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm: %d %s", resp.StatusCode, body)
	}
	sw = decodeAs[server.SwitchResponse](t, body)
	if sw.ActiveID != "team-c-dev" {
		t.Fatalf("unexpected active id %q", sw.ActiveID)
	}
}

func TestProtectedSwitchThroughClient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp, body := env.do(t, http.MethodPost, "/api/destinations/team-c-dev/password", "",
		server.PasswordUpdateRequest{NewPassword: "dev-secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set password: %d %s", resp.StatusCode, body)
	}

	// One client instance, no explicit observer wiring: the request and the
	// confirm must land on the same pending entry.
	c, err := client.NewWithBaseURL(env.srv.URL)
	if err != nil {
		t.Fatalf("NewWithBaseURL: %v", err)
	}

	result, err := c.RequestSwitch(ctx, "team-c-dev")
	if err != nil {
		t.Fatalf("RequestSwitch: %v", err)
	}
	if result.Status != string(switchboard.StatusNeedsPassword) {
		t.Fatalf("expected needs_password, got %s", result.Status)
	}

	confirmed, err := c.ConfirmSwitch(ctx, "team-c-dev", "dev-secret")
	if err != nil {
		t.Fatalf("ConfirmSwitch: %v", err)
	}
	if confirmed.ActiveID != "team-c-dev" {
		t.Fatalf("unexpected active id %q", confirmed.ActiveID)
	}

	// A second client is a different observer and cannot confirm here.
	other, err := client.NewWithBaseURL(env.srv.URL)
	if err != nil {
		t.Fatalf("NewWithBaseURL: %v", err)
	}
	if _, err := other.ConfirmSwitch(ctx, "team-c-dev", "dev-secret"); err == nil {
		t.Fatal("expected confirm from a different client to fail")
	}
}

func TestConfirmWithoutRequest(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/switch/confirm", "obs-1",
		server.ConfirmRequest{ID: "team-b-marketing", Password: "whatever"})
	wantErrorCode(t, resp, body, http.StatusConflict, server.CodeNoPendingSwitch)
}

func TestConfirmScopedToObserver(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/destinations/team-c-dev/password", "",
		server.PasswordUpdateRequest{NewPassword: "dev-secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set password: %d %s", resp.StatusCode, body)
	}
	resp, body = env.do(t, http.MethodPost, "/api/switch/request", "obs-1",
		server.SwitchRequest{ID: "team-c-dev"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("request: %d %s", resp.StatusCode, body)
	}

	// A different observer cannot ride on obs-1's pending switch.
	resp, body = env.do(t, http.MethodPost, "/api/switch/confirm", "obs-2",
		server.ConfirmRequest{ID: "team-c-dev", Password: "dev-secret"})
	wantErrorCode(t, resp, body, http.StatusConflict, server.CodeNoPendingSwitch)
}

func TestCancelSwitch(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/destinations/team-c-dev/password", "",
		server.PasswordUpdateRequest{NewPassword: "dev-secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set password: %d %s", resp.StatusCode, body)
	}
	resp, body = env.do(t, http.MethodPost, "/api/switch/request", "obs-1",
		server.SwitchRequest{ID: "team-c-dev"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("request: %d %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPost, "/api/switch/cancel", "obs-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: %d %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPost, "/api/switch/confirm", "obs-1",
		server.ConfirmRequest{ID: "team-c-dev", Password: "dev-secret"})
	wantErrorCode(t, resp, body, http.StatusConflict, server.CodeNoPendingSwitch)
}

func TestUpdatePasswordTransitions(t *testing.T) {
	env := newTestEnv(t)

	// Open destination: a current password must not be supplied.
	resp, body := env.do(t, http.MethodPost, "/api/destinations/team-b-marketing/password", "",
		server.PasswordUpdateRequest{CurrentPassword: "stale", NewPassword: "secret"})
	wantErrorCode(t, resp, body, http.StatusBadRequest, server.CodeUnexpectedCurrentPassword)

	resp, body = env.do(t, http.MethodPost, "/api/destinations/team-b-marketing/password", "",
		server.PasswordUpdateRequest{NewPassword: "secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set: %d %s", resp.StatusCode, body)
	}

	// Rotation now requires the current password.
	resp, body = env.do(t, http.MethodPost, "/api/destinations/team-b-marketing/password", "",
		server.PasswordUpdateRequest{CurrentPassword: "wrong", NewPassword: "next"})
	wantErrorCode(t, resp, body, http.StatusForbidden, server.CodeInvalidPassword)

	resp, body = env.do(t, http.MethodPost, "/api/destinations/team-b-marketing/password", "",
		server.PasswordUpdateRequest{CurrentPassword: "secret", NewPassword: "next"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rotate: %d %s", resp.StatusCode, body)
	}

	// Strip back to open.
	resp, body = env.do(t, http.MethodPost, "/api/destinations/team-b-marketing/password", "",
		server.PasswordUpdateRequest{CurrentPassword: "next", AllowNoPassword: true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("strip: %d %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodGet, "/api/destinations", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", resp.StatusCode, body)
	}
	list := decodeAs[server.ListResponse](t, body)
	for _, d := range list.Destinations {
		if d.ID == "team-b-marketing" && d.Protected {
			t.Fatal("destination should be open after strip")
		}
	}
}

func TestAdminPasswordLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/admin/verify", "",
		server.AdminPasswordRequest{Password: "anything"})
	wantErrorCode(t, resp, body, http.StatusConflict, server.CodeNotConfigured)

	resp, body = env.do(t, http.MethodPost, "/api/admin/password", "",
		server.AdminPasswordRequest{Password: ""})
	wantErrorCode(t, resp, body, http.StatusBadRequest, server.CodeEmptyPassword)

	resp, body = env.do(t, http.MethodPost, "/api/admin/password", "",
		server.AdminPasswordRequest{Password: "root-secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set: %d %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPost, "/api/admin/password", "",
		server.AdminPasswordRequest{Password: "other"})
	wantErrorCode(t, resp, body, http.StatusConflict, server.CodeAlreadySet)

	resp, body = env.do(t, http.MethodPost, "/api/admin/verify", "",
		server.AdminPasswordRequest{Password: "wrong"})
	wantErrorCode(t, resp, body, http.StatusForbidden, server.CodeInvalidPassword)

	resp, body = env.do(t, http.MethodPost, "/api/admin/verify", "",
		server.AdminPasswordRequest{Password: "root-secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify: %d %s", resp.StatusCode, body)
	}
}

func TestReplaceDestinations(t *testing.T) {
	env := newTestEnv(t)

	// Label edits and additions need no administrator password.
	edited := []registry.DestinationRecord{
		{ID: "team-a-default", Label: "Team A (renamed)"},
		{ID: "team-b-marketing", Label: "Team B (marketing)"},
		{ID: "team-c-dev", Label: "Team C (development)"},
		{ID: "team-d-sales", Label: "Team D (sales)"},
		{ID: "team-e-support", Label: "Team E (support)"},
	}
	resp, body := env.do(t, http.MethodPut, "/api/destinations", "",
		server.EditRequest{Destinations: edited})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit: %d %s", resp.StatusCode, body)
	}
	list := decodeAs[server.ListResponse](t, body)
	if len(list.Destinations) != 5 {
		t.Fatalf("expected 5 destinations, got %d", len(list.Destinations))
	}
	if list.Destinations[0].Label != "Team A (renamed)" {
		t.Fatalf("unexpected label %q", list.Destinations[0].Label)
	}

	// Removal is destructive and admin-gated.
	trimmed := edited[:4]
	resp, body = env.do(t, http.MethodPut, "/api/destinations", "",
		server.EditRequest{Destinations: trimmed})
	wantErrorCode(t, resp, body, http.StatusForbidden, server.CodeAdminRequired)

	resp, body = env.do(t, http.MethodPost, "/api/admin/password", "",
		server.AdminPasswordRequest{Password: "root-secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin set: %d %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPut, "/api/destinations", "",
		server.EditRequest{Destinations: trimmed, AdminPassword: "root-secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("gated edit: %d %s", resp.StatusCode, body)
	}
	list = decodeAs[server.ListResponse](t, body)
	if len(list.Destinations) != 4 {
		t.Fatalf("expected 4 destinations, got %d", len(list.Destinations))
	}
}

func TestReplaceDestinationsRejectsEmptyList(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPut, "/api/destinations", "",
		server.EditRequest{Destinations: []registry.DestinationRecord{}})
	wantErrorCode(t, resp, body, http.StatusBadRequest, server.CodeEmptyRegistry)
}

func TestReplaceDestinationsRemovingActiveFallsBack(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/admin/password", "",
		server.AdminPasswordRequest{Password: "root-secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin set: %d %s", resp.StatusCode, body)
	}

	kept := []registry.DestinationRecord{
		{ID: "team-b-marketing", Label: "Team B (marketing)"},
		{ID: "team-c-dev", Label: "Team C (development)"},
	}
	resp, body = env.do(t, http.MethodPut, "/api/destinations", "",
		server.EditRequest{Destinations: kept, AdminPassword: "root-secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit: %d %s", resp.StatusCode, body)
	}
	list := decodeAs[server.ListResponse](t, body)
	if list.ActiveID != "team-b-marketing" {
		t.Fatalf("expected fallback active id, got %q", list.ActiveID)
	}
}

func TestMalformedBody(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/api/switch/request",
		bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestNotifyRejectsEmpty(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/notify", "", server.NotifyRequest{})
	wantErrorCode(t, resp, body, http.StatusBadRequest, server.CodeBadRequest)

	resp, body = env.do(t, http.MethodPost, "/api/notify", "",
		server.NotifyRequest{Title: "Heads up", Body: "Switching soon"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("notify: %d %s", resp.StatusCode, body)
	}
}

func TestListResponseNeverLeaksCredentials(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/destinations/team-c-dev/password", "",
		server.PasswordUpdateRequest{NewPassword: "dev-secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set password: %d %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodGet, "/api/destinations", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", resp.StatusCode, body)
	}
	for _, field := range []string{"passwordSalt", "passwordHash"} {
		if bytes.Contains(body, []byte(field)) {
			t.Fatalf("response leaks %s: %s", field, body)
		}
	}
}

func TestStatusObserverCountStartsAtZero(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/api/status", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d %s", resp.StatusCode, body)
	}
	status := decodeAs[server.StatusResponse](t, body)
	if status.Observers != 0 {
		t.Fatalf("expected 0 observers, got %d", status.Observers)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodDelete, "/api/destinations", "", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

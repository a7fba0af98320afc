// Package client talks to a running teamdockd over its HTTP JSON API and
// WebSocket event stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/teamdock/teamdock/internal/config"
)

const (
	defaultHTTPTimeout        = 10 * time.Second
	websocketHandshakeTimeout = 10 * time.Second
	maxErrorBody              = 8 << 10

	observerHeader = "X-Teamdock-Observer"
)

// APIError is a decoded daemon error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("daemon returned status %d", e.Status)
}

// Destination is the credential-free destination view served by the daemon.
type Destination struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Protected bool   `json:"protected"`
}

// DestinationEdit is one entry of a bulk registry replacement.
type DestinationEdit struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// DestinationList pairs the ordered destinations with the active pointer.
type DestinationList struct {
	Destinations []Destination `json:"destinations"`
	ActiveID     string        `json:"activeId"`
}

// Status describes the running daemon.
type Status struct {
	Version      string `json:"version"`
	StoreBackend string `json:"storeBackend"`
	Destinations int    `json:"destinations"`
	ActiveID     string `json:"activeId"`
	Observers    int    `json:"observers"`
	AdminSet     bool   `json:"adminConfigured"`
}

// SwitchResult reports the outcome of a switch request or confirmation.
type SwitchResult struct {
	Status   string `json:"status"`
	ActiveID string `json:"activeId"`
}

// Event is one message from the daemon's observer stream.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client communicates with the daemon. Every client carries an observer id
// from construction so a request/confirm pair lands on the same pending
// entry; Watch replaces it with the hub-issued handle.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer

	mu         sync.Mutex
	observerID string
}

// New initialises a client bound to the local daemon. TEAMDOCK_BASE_URL
// overrides the address derived from the instance settings.
func New() (*Client, error) {
	if base := strings.TrimSpace(os.Getenv("TEAMDOCK_BASE_URL")); base != "" {
		return newWithBase(base)
	}

	settings, err := config.LoadSettings(config.GetInstancePaths())
	if err != nil {
		return nil, err
	}
	return newWithBase("http://" + settings.Listen)
}

// NewWithBaseURL constructs a client from an explicit base URL.
func NewWithBaseURL(baseURL string) (*Client, error) {
	return newWithBase(baseURL)
}

func newWithBase(raw string) (*Client, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if u.Host == "" {
		return nil, errors.New("client: base url missing host")
	}

	return &Client{
		baseURL:    strings.TrimRight(u.String(), "/"),
		observerID: uuid.New().String(),
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: websocketHandshakeTimeout,
		},
	}, nil
}

// BaseURL returns the daemon base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// ObserverID returns the observer handle sent with every request.
func (c *Client) ObserverID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observerID
}

// SetObserverID pins an explicit observer handle on subsequent requests.
func (c *Client) SetObserverID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observerID = id
}

// Ping reports whether the daemon answers on the status endpoint.
func (c *Client) Ping(ctx context.Context) bool {
	_, err := c.Status(ctx)
	return err == nil
}

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

// ListDestinations fetches the ordered destination overview.
func (c *Client) ListDestinations(ctx context.Context) (DestinationList, error) {
	var out DestinationList
	err := c.do(ctx, http.MethodGet, "/api/destinations", nil, &out)
	return out, err
}

// ReplaceDestinations submits a bulk registry edit. adminPassword may be
// empty when the edit removes nothing and strips no credentials.
func (c *Client) ReplaceDestinations(ctx context.Context, edits []DestinationEdit, adminPassword string) (DestinationList, error) {
	payload := struct {
		Destinations  []DestinationEdit `json:"destinations"`
		AdminPassword string            `json:"adminPassword,omitempty"`
	}{Destinations: edits, AdminPassword: adminPassword}

	var out DestinationList
	err := c.do(ctx, http.MethodPut, "/api/destinations", payload, &out)
	return out, err
}

// UpdatePassword changes one destination's credential state.
func (c *Client) UpdatePassword(ctx context.Context, id, currentPassword, newPassword string, allowNoPassword bool) error {
	payload := struct {
		CurrentPassword string `json:"currentPassword,omitempty"`
		NewPassword     string `json:"newPassword,omitempty"`
		AllowNoPassword bool   `json:"allowNoPassword"`
	}{CurrentPassword: currentPassword, NewPassword: newPassword, AllowNoPassword: allowNoPassword}

	return c.do(ctx, http.MethodPost, "/api/destinations/"+url.PathEscape(id)+"/password", payload, nil)
}

// RequestSwitch starts a switch to the given destination.
func (c *Client) RequestSwitch(ctx context.Context, id string) (SwitchResult, error) {
	payload := struct {
		ID string `json:"id"`
	}{ID: id}

	var out SwitchResult
	err := c.do(ctx, http.MethodPost, "/api/switch/request", payload, &out)
	return out, err
}

// ConfirmSwitch completes a pending switch with the destination password.
func (c *Client) ConfirmSwitch(ctx context.Context, id, password string) (SwitchResult, error) {
	payload := struct {
		ID       string `json:"id"`
		Password string `json:"password"`
	}{ID: id, Password: password}

	var out SwitchResult
	err := c.do(ctx, http.MethodPost, "/api/switch/confirm", payload, &out)
	return out, err
}

// CancelSwitch discards this observer's pending switch.
func (c *Client) CancelSwitch(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/switch/cancel", struct{}{}, nil)
}

// SetAdminPassword configures the one-shot administrator password.
func (c *Client) SetAdminPassword(ctx context.Context, password string) error {
	return c.do(ctx, http.MethodPost, "/api/admin/password", passwordPayload{Password: password}, nil)
}

// VerifyAdminPassword checks a password against the administrator credential.
func (c *Client) VerifyAdminPassword(ctx context.Context, password string) error {
	return c.do(ctx, http.MethodPost, "/api/admin/verify", passwordPayload{Password: password}, nil)
}

// Notify relays a user-facing notification to every attached observer.
func (c *Client) Notify(ctx context.Context, title, body string) error {
	payload := struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}{Title: title, Body: body}

	return c.do(ctx, http.MethodPost, "/api/notify", payload, nil)
}

type passwordPayload struct {
	Password string `json:"password"`
}

// Watch attaches to the daemon event stream. The first message carries the
// observer handle, which is pinned on the client so later HTTP calls share
// handshake state with this stream. Events stop when ctx is cancelled.
func (c *Client) Watch(ctx context.Context) (<-chan Event, error) {
	wsURL, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/ws"

	conn, resp, err := c.dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("client: dial event stream: %w", err)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		defer conn.Close()
		for {
			var ev Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			if ev.Type == "observer.attached" {
				var attached struct {
					ObserverID string `json:"observerId"`
				}
				if err := json.Unmarshal(ev.Payload, &attached); err == nil {
					c.SetObserverID(attached.ObserverID)
				}
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return events, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := c.ObserverID(); id != "" {
		req.Header.Set(observerHeader, id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	apiErr := &APIError{Status: resp.StatusCode}
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if err := json.Unmarshal([]byte(trimmed), &payload); err == nil {
			apiErr.Message = strings.TrimSpace(payload.Error)
			apiErr.Code = payload.Code
		}
	}
	if apiErr.Message == "" && trimmed != "" {
		apiErr.Message = trimmed
	}
	return apiErr
}

package server

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/teamdock/teamdock/internal/eventbus"
)

// Message is the envelope for every event sent to an observer connection.
type Message struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Observer message types.
const (
	MessageObserverAttached    = "observer.attached"
	MessageDestinationsChanged = "destinations.changed"
	MessageDestinationActive   = "destination.active"
	MessageSwitchPending       = "switch.pending"
	MessageNotification        = "notification"
)

// AttachedPayload tells a freshly connected observer its handle id. HTTP
// calls carry the id back in the observer header so pending switches stay
// bound to the surface that requested them.
type AttachedPayload struct {
	ObserverID string `json:"observerId"`
}

const clientSendBuffer = 64

// Client is one connected observer surface.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan Message

	closeOnce sync.Once
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// ObserverDropper is notified when an observer connection goes away.
type ObserverDropper interface {
	DropObserver(observerID string)
}

// SnapshotFunc produces the initial events replayed to a new observer.
type SnapshotFunc func() []Message

// Hub fans bus events out to connected observer surfaces. Delivery is
// fire-and-forget: a client whose send buffer is full is skipped, and a
// disconnected client is dropped without failing any mutating operation.
type Hub struct {
	bus      *eventbus.Bus
	dropper  ObserverDropper
	snapshot SnapshotFunc
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client

	done chan struct{}
	wg   sync.WaitGroup
}

// NewHub constructs the observer hub. snapshot may be nil.
func NewHub(bus *eventbus.Bus, dropper ObserverDropper, snapshot SnapshotFunc) *Hub {
	return &Hub{
		bus:      bus,
		dropper:  dropper,
		snapshot: snapshot,
		clients:  make(map[string]*Client),
		done:     make(chan struct{}),
		upgrader: websocket.Upgrader{
			// The daemon binds to loopback; browser-origin requests are
			// not part of the surface, so local non-browser clients
			// (no Origin header) are accepted.
			CheckOrigin: func(r *http.Request) bool {
				return r.Header.Get("Origin") == ""
			},
		},
	}
}

// Run subscribes to the bus topics and forwards events until Shutdown.
func (h *Hub) Run() {
	forward := func(sub *eventbus.Subscription, handle func(eventbus.Envelope)) {
		defer h.wg.Done()
		for {
			select {
			case env, ok := <-sub.C():
				if !ok {
					return
				}
				handle(env)
			case <-h.done:
				return
			}
		}
	}

	changed := h.bus.Subscribe(eventbus.TopicDestinationsChanged, eventbus.WithSubscriptionName("hub.changed"))
	active := h.bus.Subscribe(eventbus.TopicDestinationActive, eventbus.WithSubscriptionName("hub.active"))
	pending := h.bus.Subscribe(eventbus.TopicSwitchPending, eventbus.WithSubscriptionName("hub.pending"))
	notify := h.bus.Subscribe(eventbus.TopicNotifyUser, eventbus.WithSubscriptionName("hub.notify"))

	h.wg.Add(4)
	go forward(changed, func(env eventbus.Envelope) {
		h.broadcast(Message{Type: MessageDestinationsChanged, Payload: env.Payload, Timestamp: env.Timestamp})
	})
	go forward(active, func(env eventbus.Envelope) {
		h.broadcast(Message{Type: MessageDestinationActive, Payload: env.Payload, Timestamp: env.Timestamp})
	})
	go forward(pending, func(env eventbus.Envelope) {
		event, ok := env.Payload.(eventbus.SwitchPendingEvent)
		if !ok {
			return
		}
		// Password prompts go only to the observer that asked to switch.
		h.sendTo(event.ObserverID, Message{Type: MessageSwitchPending, Payload: event, Timestamp: env.Timestamp})
	})
	go forward(notify, func(env eventbus.Envelope) {
		h.broadcast(Message{Type: MessageNotification, Payload: env.Payload, Timestamp: env.Timestamp})
	})
}

// Shutdown stops forwarding and closes every client connection.
func (h *Hub) Shutdown() {
	close(h.done)
	h.wg.Wait()

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
		c.conn.Close()
	}
}

// ObserverCount returns the number of attached observers.
func (h *Hub) ObserverCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and attaches the connection as an observer.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Hub] websocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan Message, clientSendBuffer),
	}

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	// The handle id first, then the current state snapshot.
	client.send <- Message{Type: MessageObserverAttached, Payload: AttachedPayload{ObserverID: client.id}, Timestamp: time.Now().UTC()}
	if h.snapshot != nil {
		for _, msg := range h.snapshot() {
			client.send <- msg
		}
	}

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) writePump(client *Client) {
	for msg := range client.send {
		if err := client.conn.WriteJSON(msg); err != nil {
			log.Printf("[Hub] write to observer %s failed: %v", client.id, err)
			client.conn.Close()
			return
		}
	}
}

// readPump discards inbound frames; the control surface is HTTP. Its job is
// detecting the close so the observer's handshake state can be cleared.
func (h *Hub) readPump(client *Client) {
	defer h.detach(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) detach(client *Client) {
	h.mu.Lock()
	if current, ok := h.clients[client.id]; !ok || current != client {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.id)
	// Close under the lock so broadcast and sendTo, which hold the read lock
	// across their channel send, can never hit a closed channel.
	client.close()
	h.mu.Unlock()

	client.conn.Close()
	if h.dropper != nil {
		h.dropper.DropObserver(client.id)
	}
	log.Printf("[Hub] observer %s detached", client.id)
}

func (h *Hub) broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.send <- msg:
		default:
			// Slow observer; skip rather than block the bus.
		}
	}
}

func (h *Hub) sendTo(observerID string, msg Message) {
	// The lock is held across the send: detach closes the channel only after
	// taking the write lock, so a racing disconnect cannot close it mid-send.
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[observerID]
	if !ok {
		return
	}
	select {
	case client.send <- msg:
	default:
	}
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joao-cbj/silo-watch-backend/internal/auth"
	"github.com/joao-cbj/silo-watch-backend/internal/infrastructure/config"
	"github.com/joao-cbj/silo-watch-backend/internal/infrastructure/logging"
)

// WebSocket frame types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSChannelAll subscribes to every event type.
	WSChannelAll = "*"

	wsSendBufferSize = 64
)

// WSMessage is a frame sent to a dashboard client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsInbound is a frame received from a client. Payload is decoded per type.
type wsInbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload names event types to follow. Identifiers narrows
// reading events to those devices; silo events are never narrowed.
type WSSubscribePayload struct {
	Channels    []string `json:"channels"`
	Identifiers []string `json:"identifiers,omitempty"`
}

func isKnownChannel(ch string) bool {
	switch ch {
	case WSChannelAll, EventReadingRecorded,
		EventSiloProvisioned, EventSiloDesintegrated, EventSiloRenamed:
		return true
	}
	return false
}

// Hub fans dashboard events out to connected clients.
type Hub struct {
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one dashboard connection.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string

	// mu guards everything below. send is closed exactly once, by close.
	mu            sync.Mutex
	send          chan []byte
	closed        bool
	subscriptions map[string]struct{}
	identifiers   map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by the CORS middleware.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "user_id", c.userID, "clients", n)
}

// Unregister removes a client. Calling it twice is harmless.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	h.logger.Debug("websocket client disconnected", "user_id", c.userID, "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast pushes an event to the clients subscribed to channel. A
// non-empty identifier skips clients that follow other devices. Clients
// whose buffer is full miss the event.
func (h *Hub) Broadcast(channel, identifier string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	var dropped int
	for _, c := range clients {
		if c.wants(channel, identifier) && !c.deliver(data) {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("websocket event dropped for slow clients", "channel", channel, "dropped", dropped)
	}
}

// handleWebSocket upgrades to a dashboard connection. Browsers cannot set
// headers on the upgrade request, so the access token comes as ?token=.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeUnauthorized(w, "token query parameter is required")
		return
	}
	claims, err := auth.ParseToken(token, s.secCfg.JWT.Secret)
	if err != nil {
		writeUnauthorized(w, "invalid or expired token")
		return
	}
	if !auth.HasPermission(claims.Role, auth.PermSiloRead) {
		writeForbidden(w, "missing permission "+string(auth.PermSiloRead))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:           s.hub,
		conn:          conn,
		userID:        claims.Subject,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	s.hub.Register(c)

	go c.writeLoop(s.wsCfg)
	go c.readLoop(s.wsCfg)
}

// readLoop handles client frames until the connection fails. Any frame,
// not only a pong, extends the read deadline.
func (c *WSClient) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	idle := config.Seconds(cfg.PingInterval) + config.Seconds(cfg.PongTimeout)
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // Best-effort deadline
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "user_id", c.userID, "error", err)
			}
			return
		}
		extend() //nolint:errcheck // Best-effort deadline
		c.handleMessage(data)
	}
}

// writeLoop drains the send buffer and pings on PingInterval. It exits
// when the buffer is closed or a write fails.
func (c *WSClient) writeLoop(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(config.Seconds(cfg.PingInterval))
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(config.Seconds(cfg.PongTimeout))) //nolint:errcheck // Write error is checked
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // Best-effort close frame
				return
			}
			if write(websocket.TextMessage, data) != nil {
				return
			}
		case <-ticker.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var in wsInbound
	if err := json.Unmarshal(data, &in); err != nil {
		c.reply("", WSTypeError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch in.Type {
	case WSTypePing:
		c.reply(in.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if len(in.Payload) == 0 || json.Unmarshal(in.Payload, &sub) != nil {
			c.reply(in.ID, WSTypeError, map[string]string{"message": "invalid " + in.Type + " payload"})
			return
		}
		if in.Type == WSTypeSubscribe {
			c.subscribe(in.ID, sub)
		} else {
			c.unsubscribe(in.ID, sub)
		}
	default:
		c.reply(in.ID, WSTypeError, map[string]string{"message": "unknown message type: " + in.Type})
	}
}

func (c *WSClient) subscribe(id string, sub WSSubscribePayload) {
	accepted, unknown := []string{}, []string{}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		if !isKnownChannel(ch) {
			unknown = append(unknown, ch)
			continue
		}
		c.subscriptions[ch] = struct{}{}
		accepted = append(accepted, ch)
	}
	if len(sub.Identifiers) > 0 && c.identifiers == nil {
		c.identifiers = make(map[string]struct{}, len(sub.Identifiers))
	}
	for _, ident := range sub.Identifiers {
		c.identifiers[ident] = struct{}{}
	}
	c.mu.Unlock()

	resp := map[string]any{"subscribed": accepted}
	if len(unknown) > 0 {
		resp["unknown"] = unknown
	}
	if len(sub.Identifiers) > 0 {
		resp["identifiers"] = sub.Identifiers
	}
	c.reply(id, WSTypeResponse, resp)
}

func (c *WSClient) unsubscribe(id string, sub WSSubscribePayload) {
	c.mu.Lock()
	for _, ch := range sub.Channels {
		delete(c.subscriptions, ch)
	}
	for _, ident := range sub.Identifiers {
		delete(c.identifiers, ident)
	}
	c.mu.Unlock()

	c.reply(id, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels})
}

// wants reports whether an event on channel for identifier should reach c.
func (c *WSClient) wants(channel, identifier string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, all := c.subscriptions[WSChannelAll]
	_, one := c.subscriptions[channel]
	if !all && !one {
		return false
	}
	if identifier == "" || len(c.identifiers) == 0 {
		return true
	}
	_, ok := c.identifiers[identifier]
	return ok
}

// deliver queues data without blocking. It reports false when the client
// is closed or its buffer is full.
func (c *WSClient) deliver(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.deliver(data)
}

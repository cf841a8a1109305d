package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/seenimoa/coinsentinel/internal/catalog"
	"github.com/seenimoa/coinsentinel/internal/infra"
	"github.com/seenimoa/coinsentinel/internal/search"
	"github.com/seenimoa/coinsentinel/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS origins are enforced on the REST routes only
	},
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024

	// Upper bound on one search issued from a session.
	searchTimeout = 10 * time.Second
)

// WebSocket message types.
const (
	MsgSession = "session" // server -> client on connect
	MsgQuery   = "query"   // client -> server
	MsgResults = "results" // server -> client
	MsgError   = "error"   // server -> client
	MsgCatalog = "catalog" // server -> all clients after a refresh
	MsgPing    = "ping"
	MsgPong    = "pong"
)

// WSMessage is a message sent over WebSocket connections.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// wsInbound is a client message with its payload left undecoded.
type wsInbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// QueryMessage is the payload of a "query" message.
type QueryMessage struct {
	Query string `json:"q"`
	Limit int    `json:"limit,omitempty"`
	Mode  string `json:"mode,omitempty"`
}

// ResultsMessage is the payload of a "results" message.
type ResultsMessage struct {
	Query   string                `json:"q"`
	Results []models.CatalogEntry `json:"results"`
}

// ErrorMessage is the payload of an "error" message.
type ErrorMessage struct {
	Query string `json:"q,omitempty"`
	Error string `json:"error"`
}

// handleWebSocket upgrades the connection and runs one live-search
// session. Queries are debounced per connection, so only the last of a
// burst of keystrokes reaches the Search Index.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade error", "error", err)
		return
	}

	client := &WSClient{
		id:   uuid.NewString(),
		hub:  s.wsHub,
		send: make(chan WSMessage, 256),
	}
	s.wsHub.Register(client)

	// The request context ends when this handler returns; the session
	// lives until the read pump exits.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	sess := &wsSession{
		server: s,
		client: client,
		ctx:    ctx,
		cancel: cancel,
	}
	sess.debounce = infra.NewDebouncer(s.cfg.Search.Debounce, sess.runQuery)

	client.trySend(WSMessage{Type: MsgSession, Data: map[string]string{"id": client.id}})

	go wsWritePump(conn, client)
	go sess.readPump(conn)
}

type wsSession struct {
	server   *Server
	client   *WSClient
	ctx      context.Context
	cancel   context.CancelFunc
	debounce *infra.Debouncer[QueryMessage]

	mu          sync.Mutex
	seq         uint64             // id of the latest query started
	cancelQuery context.CancelFunc // cancels the query identified by seq
}

// readPump pumps messages from the WebSocket connection to the session.
func (ss *wsSession) readPump(conn *websocket.Conn) {
	defer func() {
		ss.debounce.Stop()
		ss.cancel()
		ss.client.hub.Unregister(ss.client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ss.server.logger.Debug("WebSocket read error", "session", ss.client.id, "error", err)
			}
			return
		}

		var msg wsInbound
		if err := json.Unmarshal(message, &msg); err != nil {
			ss.client.trySend(WSMessage{Type: MsgError, Data: ErrorMessage{Error: "invalid message"}})
			continue
		}

		switch msg.Type {
		case MsgQuery:
			var q QueryMessage
			if err := json.Unmarshal(msg.Data, &q); err != nil {
				ss.client.trySend(WSMessage{Type: MsgError, Data: ErrorMessage{Error: "invalid query payload"}})
				continue
			}
			if q.Mode != "" {
				if _, err := search.ParseMode(q.Mode); err != nil {
					ss.client.trySend(WSMessage{Type: MsgError, Data: ErrorMessage{Query: q.Query, Error: err.Error()}})
					continue
				}
			}
			ss.debounce.Trigger(q)
		case MsgPing:
			ss.client.trySend(WSMessage{Type: MsgPong})
		}
	}
}

// runQuery executes the debounced query. Starting a query cancels the one
// before it, and only the latest query may reply, so a slow search can
// never answer after a newer one.
func (ss *wsSession) runQuery(q QueryMessage) {
	mode, err := ss.server.modeParam(q.Mode)
	if err != nil {
		return // validated on receipt
	}
	ctx, cancel := context.WithTimeout(ss.ctx, searchTimeout)
	defer cancel()

	ss.mu.Lock()
	if ss.cancelQuery != nil {
		ss.cancelQuery()
	}
	ss.seq++
	seq := ss.seq
	ss.cancelQuery = cancel
	ss.mu.Unlock()

	results, err := ss.server.svc.Search(ctx, q.Query, mode, q.Limit)

	ss.mu.Lock()
	defer ss.mu.Unlock()
	if seq != ss.seq {
		return // superseded
	}
	if err != nil {
		ss.client.trySend(WSMessage{Type: MsgError, Data: ErrorMessage{Query: q.Query, Error: "search unavailable, please retry"}})
		return
	}
	ss.client.trySend(WSMessage{Type: MsgResults, Data: ResultsMessage{Query: q.Query, Results: results}})
}

// wsWritePump pumps messages from the hub to the WebSocket connection.
func wsWritePump(conn *websocket.Conn, client *WSClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ============================================================
// WebSocket Hub
// ============================================================

// WSHub tracks live-search sessions and broadcasts catalog events.
type WSHub struct {
	mu         sync.RWMutex
	clients    map[*WSClient]bool
	broadcast  chan WSMessage
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{}
	stopOnce   sync.Once
}

// WSClient represents a single WebSocket connection.
type WSClient struct {
	id   string
	hub  *WSHub
	send chan WSMessage

	mu     sync.Mutex
	closed bool
}

// ID returns the session id.
func (c *WSClient) ID() string { return c.id }

// trySend queues msg without blocking. It reports false when the client
// is closed or its buffer is full.
func (c *WSClient) trySend(msg WSMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
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

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WSMessage, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop. It returns when ctx is done, closing
// every remaining client.
func (h *WSHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.stopOnce.Do(func() { close(h.done) })
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.trySend(msg) {
					// Slow client; disconnect
					delete(h.clients, client)
					client.close()
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to all connected WebSocket clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	select {
	case h.broadcast <- msg:
	default:
		// Drop message if broadcast channel is full
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds a client to the hub. A client registered after the hub
// stopped is closed immediately.
func (h *WSHub) Register(client *WSClient) {
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
}

// Unregister removes a client from the hub.
func (h *WSHub) Unregister(client *WSClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// CatalogObserver returns a catalog.Observer that tells every session
// when a new snapshot has been published.
func (h *WSHub) CatalogObserver() catalog.Observer {
	return hubObserver{hub: h}
}

type hubObserver struct{ hub *WSHub }

func (o hubObserver) RefreshSucceeded(entries int, took time.Duration) {
	o.hub.Broadcast(WSMessage{Type: MsgCatalog, Data: map[string]interface{}{
		"entries": entries,
		"took_ms": took.Milliseconds(),
	}})
}

func (hubObserver) RefreshFailed(bool)           {}
func (hubObserver) SnapshotServed(time.Duration) {}

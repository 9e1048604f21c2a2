package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/sectional/internal/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// UpdateMessage is pushed to live-reload clients.
type UpdateMessage struct {
	Type      string    `json:"type"`
	Files     []string  `json:"files,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Message types.
const (
	MessageReload = "reload"
	MessageError  = "error"
)

// Client is one live-reload connection.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub fans reload messages out to every connected browser.
type Hub struct {
	clients    map[*websocket.Conn]*Client
	clientsMu  sync.RWMutex
	broadcast  chan []byte
	register   chan *Client
	unregister chan *websocket.Conn
	logger     logging.Logger
}

// NewHub returns a hub; call Run to start delivering messages.
func NewHub(logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]*Client),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *Client),
		unregister: make(chan *websocket.Conn),
		logger:     logger.WithComponent("live_reload"),
	}
}

// Run delivers messages until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clientsMu.Lock()
			h.clients[client.conn] = client
			count := len(h.clients)
			h.clientsMu.Unlock()
			h.logger.Debug(ctx, "Client connected", "clients", count)

		case conn := <-h.unregister:
			h.clientsMu.Lock()
			if client, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				close(client.send)
			}
			count := len(h.clients)
			h.clientsMu.Unlock()
			h.logger.Debug(ctx, "Client disconnected", "clients", count)

		case message := <-h.broadcast:
			h.clientsMu.Lock()
			for conn, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer; it reconnects on its own.
					delete(h.clients, conn)
					close(client.send)
				}
			}
			h.clientsMu.Unlock()
		}
	}
}

// closeAll ends every writePump, which closes its connection.
func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[*websocket.Conn]*Client)
}

// Broadcast queues msg for every client. It never blocks; when the queue is
// full the message is dropped, since the next change sends another.
func (h *Hub) Broadcast(msg UpdateMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		data = []byte(`{"type":"reload"}`)
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn(context.Background(), nil, "Live reload queue full, message dropped", "type", msg.Type)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (s *PreviewServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(r) {
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: append(s.allowedOrigins(), r.Host),
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "WebSocket upgrade failed")
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 16),
		hub:  s.hub,
	}

	select {
	case s.hub.register <- client:
	case <-time.After(writeWait):
		conn.Close(websocket.StatusTryAgainLater, "live reload unavailable")
		return
	}

	// The request context ends with the handler; the pumps outlive it.
	ctx := context.WithoutCancel(r.Context())
	go client.writePump(ctx)
	go client.readPump(ctx)
}

// allowedOrigins lists the hosts a browser may open the live-reload socket
// from.
func (s *PreviewServer) allowedOrigins() []string {
	port := s.config.Server.Port
	return []string{
		fmt.Sprintf("%s:%d", s.config.Server.Host, port),
		fmt.Sprintf("localhost:%d", port),
		fmt.Sprintf("127.0.0.1:%d", port),
	}
}

// checkOrigin accepts same-origin requests and the configured preview
// hosts. Requests without an Origin header are refused.
func (s *PreviewServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if originURL.Scheme != "http" && originURL.Scheme != "https" {
		return false
	}

	if originURL.Host == r.Host {
		return true
	}
	for _, allowed := range s.allowedOrigins() {
		if originURL.Host == allowed {
			return true
		}
	}
	return false
}

// readPump discards client messages and notices disconnects. Reading also
// processes the pongs that answer writePump's pings.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c.conn:
		case <-time.After(writeWait):
		}
		c.conn.CloseNow()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, _, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				c.hub.logger.Debug(ctx, "WebSocket read ended", "error", err.Error())
			}
			return
		}
	}
}

// writePump delivers queued messages and keeps the connection alive.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.CloseNow()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

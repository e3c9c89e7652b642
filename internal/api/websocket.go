package api

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kaikoh95/klaw-craft/internal/game"
)

const (
	// MaxWSConnectionsTotal is the maximum number of WebSocket connections allowed
	MaxWSConnectionsTotal = 500

	// DefaultWSConnectionsPerIP is the default cap on concurrent sockets per IP
	DefaultWSConnectionsPerIP = 5

	// MaxMessageSize caps one inbound frame
	MaxMessageSize = 4096

	sendQueueSize = 256
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
)

// wsConn adapts one websocket to game.Conn. Frames are queued and written by
// a dedicated goroutine; a client that lets the queue fill up is dropped.
type wsConn struct {
	id      string
	ip      string
	conn    *websocket.Conn
	release func() // frees the admission slot

	send      chan []byte
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{} // writer exited
}

func newWSConn(conn *websocket.Conn, ip string) *wsConn {
	return &wsConn{
		id:      uuid.New().String(),
		ip:      ip,
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send queues a frame without blocking.
func (c *wsConn) Send(frame []byte) bool {
	select {
	case <-c.closing:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		log.Printf("⚠️ Dropping slow client %s (%s)", c.id, c.ip)
		RecordWSMessage("dropped")
		c.Close()
		return false
	}
}

// Close flushes queued frames and closes the socket. Safe to call repeatedly.
func (c *wsConn) Close() {
	c.closeOnce.Do(func() { close(c.closing) })
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.write(frame) {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closing:
			c.drain()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// drain writes whatever is still queued.
func (c *wsConn) drain() {
	for {
		select {
		case frame := <-c.send:
			if !c.write(frame) {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) write(frame []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return false
	}
	RecordWSMessage("out")
	return true
}

// WebSocketHub accepts sockets and feeds them to the relay with DoS protection
type WebSocketHub struct {
	engine   Relay
	upgrader websocket.Upgrader

	clients    map[string]*wsConn
	register   chan *wsConn
	unregister chan *wsConn
	mu         sync.RWMutex

	stopChan chan struct{}
	stopOnce sync.Once

	slots       *SocketSlots
	connLimiter *IPRateLimiter
}

// HubConfig configures websocket admission.
type HubConfig struct {
	Origins     OriginPolicy
	MaxPerIP    int             // concurrent sockets per IP
	ConnectRate RateLimitConfig // upgrade attempts per IP
}

// DefaultConnectRate allows 2 upgrade attempts per second per IP, burst 5
var DefaultConnectRate = RateLimitConfig{
	RequestsPerSecond: 2,
	Burst:             5,
	CleanupInterval:   5 * time.Minute,
}

// NewWebSocketHub creates a new hub with connection limiting
func NewWebSocketHub(engine Relay, cfg HubConfig) *WebSocketHub {
	if cfg.MaxPerIP <= 0 {
		cfg.MaxPerIP = DefaultWSConnectionsPerIP
	}
	if cfg.ConnectRate.RequestsPerSecond <= 0 {
		cfg.ConnectRate = DefaultConnectRate
	}
	origins := cfg.Origins
	h := &WebSocketHub{
		engine:      engine,
		clients:     make(map[string]*wsConn),
		register:    make(chan *wsConn),
		unregister:  make(chan *wsConn),
		stopChan:    make(chan struct{}),
		slots:       NewSocketSlots(MaxWSConnectionsTotal, cfg.MaxPerIP, RecordConnectionRejected),
		connLimiter: NewIPRateLimiter(cfg.ConnectRate, RejectConnectRate, RecordConnectionRejected),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if origins.Allow(r) {
				return true
			}
			// Log rejected origin for security monitoring
			log.Printf("⚠️ WebSocket connection rejected from origin: %s", r.Header.Get("Origin"))
			RecordConnectionRejected(RejectOrigin)
			return false
		},
	}
	return h
}

// Run tracks live sockets until Stop
func (h *WebSocketHub) Run() {
	for {
		select {
		case <-h.stopChan:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			count := len(h.clients)
			h.mu.Unlock()

			log.Printf("📱 Client connected from %s (%d total)", client.ip, count)
			UpdateWSConnections(count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				client.release()
				delete(h.clients, client.id)
			}
			count := len(h.clients)
			h.mu.Unlock()

			log.Printf("📱 Client disconnected (%d remaining)", count)
			UpdateWSConnections(count)
		}
	}
}

// Stop ends Run. Sockets are closed by the relay's shutdown.
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
		h.connLimiter.Stop()
	})
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetStats returns hub statistics
func (h *WebSocketHub) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"clients":     h.ClientCount(),
		"slots":       h.slots.Stats(),
		"connectRate": h.connLimiter.Stats(),
		"maxFrameLen": MaxMessageSize,
	}
}

// HandleWebSocket handles incoming WebSocket connections with DoS protection
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Get client IP for rate limiting
	ip := GetClientIP(r)

	// Throttle connection attempts before any other work
	if !h.connLimiter.Allow(ip) {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "Too many connection attempts", http.StatusTooManyRequests)
		return
	}

	release, reason := h.slots.Acquire(ip)
	switch reason {
	case RejectTotal:
		log.Printf("⚠️ WebSocket connection rejected: total limit reached (%d)", MaxWSConnectionsTotal)
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	case RejectPerIP:
		log.Printf("⚠️ WebSocket connection rejected from %s: per-IP limit reached", ip)
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	// Upgrade to WebSocket
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		release()
		return
	}

	client := newWSConn(conn, ip)
	client.release = release
	go client.writePump()

	if err := h.engine.Connect(r.Context(), client); err != nil {
		// A full relay has already queued the notice and closed the client
		if !errors.Is(err, game.ErrServerFull) {
			log.Printf("⚠️ Relay refused connection: %v", err)
			client.Close()
		}
		<-client.done
		release()
		return
	}

	select {
	case h.register <- client:
	case <-h.stopChan:
		h.engine.Disconnect(client.id)
		release()
		return
	}

	go h.readPump(client)
}

// readPump forwards inbound frames to the relay until the socket fails.
func (h *WebSocketHub) readPump(c *wsConn) {
	defer func() {
		h.engine.Disconnect(c.id)
		c.Close()
		select {
		case h.unregister <- c:
		case <-h.stopChan:
		}
	}()

	c.conn.SetReadLimit(MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("📱 Read error from %s: %v", c.ip, err)
			}
			return
		}
		RecordWSMessage("in")
		if err := h.engine.Receive(c.id, message); err != nil {
			return
		}
	}
}

package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// metricsInterval is how often relay gauges are refreshed from the snapshot.
const metricsInterval = time.Second

// ServerConfig configures the public server.
type ServerConfig struct {
	CORSOrigins    []string
	StaticFilesDir string
	RateLimit      RateLimitConfig // all HTTP requests
	ConnectRate    RateLimitConfig // websocket upgrade attempts
	MaxPerIP       int             // concurrent sockets per IP
}

// DefaultServerConfig returns production defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		CORSOrigins:    DefaultOrigins,
		StaticFilesDir: "./public",
		RateLimit:      DefaultRateLimitConfig,
		ConnectRate:    DefaultConnectRate,
		MaxPerIP:       DefaultWSConnectionsPerIP,
	}
}

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with the WebSocket hub feeding the relay.
type Server struct {
	engine      Relay
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
	httpServer  *http.Server

	workersOnce sync.Once
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// NewServer creates a new API server.
//
// Background workers do NOT start until Start() or StartWorkers() is called,
// so the server can be constructed in tests without goroutines or listeners.
func NewServer(engine Relay, cfg ServerConfig) *Server {
	hub := NewWebSocketHub(engine, HubConfig{
		Origins:     NewOriginPolicy(cfg.CORSOrigins),
		MaxPerIP:    cfg.MaxPerIP,
		ConnectRate: cfg.ConnectRate,
	})
	s := &Server{
		engine:      engine,
		wsHub:       hub,
		rateLimiter: NewIPRateLimiter(cfg.RateLimit, RejectRate, RecordConnectionRejected),
		stopChan:    make(chan struct{}),
	}

	s.router = NewRouter(RouterConfig{
		Engine:         engine,
		RateLimiter:    s.rateLimiter,
		CORSOrigins:    cfg.CORSOrigins,
		StaticFilesDir: cfg.StaticFilesDir,
		ExtraStats:     s.transportStats,
	})

	s.setupWebSocketRoutes()
	return s
}

// setupWebSocketRoutes adds WebSocket-specific routes to the router.
func (s *Server) setupWebSocketRoutes() {
	s.router.Get("/ws", s.handleWS)
	// Socket.IO clients connect to this path
	s.router.Get("/socket.io/", s.handleSocketIO)
}

// StartWorkers starts the hub and the metrics loop. Idempotent.
func (s *Server) StartWorkers() {
	s.workersOnce.Do(func() {
		go s.wsHub.Run()
		go s.metricsLoop()
	})
}

// Start begins the HTTP server AND starts background workers.
// Returns nil after a graceful Shutdown.
func (s *Server) Start(addr string) error {
	s.StartWorkers()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("🌐 API server starting on %s", addr)
	log.Printf("🧱 WebSocket: ws://localhost%s/ws", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Shutdown stops accepting requests and ends background workers. Open
// sockets are closed by the relay's own Shutdown, which should run first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wsHub.Stop()
	s.rateLimiter.Stop()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) metricsLoop() {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			UpdateSnapshotMetrics(s.engine.GetSnapshot())
			stats := s.engine.GetEventLogStats()
			total, _ := stats["total"].(uint64)
			dropped, _ := stats["dropped"].(uint64)
			UpdateEventLogStats(total, dropped)
		}
	}
}

func (s *Server) transportStats() map[string]interface{} {
	return map[string]interface{}{
		"websocket": s.wsHub.GetStats(),
		"http":      s.rateLimiter.Stats(),
	}
}

// WebSocket handlers - these need access to wsHub

func (s *Server) handleSocketIO(w http.ResponseWriter, r *http.Request) {
	// Check if this is a WebSocket upgrade request
	if r.Header.Get("Upgrade") == "websocket" {
		s.wsHub.HandleWebSocket(w, r)
		return
	}

	// For polling fallback, return 404 (we only support WebSocket)
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"error":"use websocket"}`))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.wsHub.HandleWebSocket(w, r)
}

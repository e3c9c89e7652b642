package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kaikoh95/klaw-craft/internal/bots"
	"github.com/kaikoh95/klaw-craft/internal/game"
)

// Relay defines the engine methods used by the API.
// *game.Engine satisfies it; tests may substitute a stub.
type Relay interface {
	// Connect registers a live socket. Returns game.ErrServerFull at capacity.
	Connect(ctx context.Context, c game.Conn) error
	// Disconnect drops the socket and its avatar
	Disconnect(id string)
	// Receive queues one inbound frame for the socket
	Receive(id string, frame []byte) error
	// Exec runs fn on the engine goroutine
	Exec(ctx context.Context, fn func(bots.Host)) error
	// GetSnapshot returns the latest lock-free immutable snapshot
	GetSnapshot() *game.Snapshot
	// GetEventLogStats returns event log counters
	GetEventLogStats() map[string]interface{}
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Engine: engine,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Engine is the relay (required)
	Engine Relay

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, uses DefaultOrigins.
	CORSOrigins []string

	// StaticFilesDir is the directory served at "/". Defaults to "./public".
	StaticFilesDir string

	// ExtraStats adds transport counters to /api/stats
	ExtraStats func() map[string]interface{}

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// DefaultOrigins are the browser origins allowed when none are configured.
var DefaultOrigins = []string{
	"http://localhost:*",
	"http://127.0.0.1:*",
}

// routerHandlers holds the handler functions for the router.
type routerHandlers struct {
	engine     Relay
	extraStats func() map[string]interface{}
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// This function is PURE: it starts no goroutines and opens no listeners,
// so it is safe to use with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	r.Use(GetRateLimiterFromRouter(cfg).Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = DefaultOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}))

	h := &routerHandlers{
		engine:     cfg.Engine,
		extraStats: cfg.ExtraStats,
	}

	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.handleGetState)
		r.Get("/stats", h.handleGetStats)
		r.Get("/map.png", h.handleMap)
	})

	staticDir := cfg.StaticFilesDir
	if staticDir == "" {
		staticDir = "./public"
	}
	r.Handle("/*", http.FileServer(http.Dir(staticDir)))

	return r
}

// GetRateLimiterFromRouter returns the configured limiter or builds one.
func GetRateLimiterFromRouter(cfg RouterConfig) *IPRateLimiter {
	if cfg.RateLimiter != nil {
		return cfg.RateLimiter
	}
	rateLimitCfg := DefaultRateLimitConfig
	if cfg.RateLimitConfig != nil {
		rateLimitCfg = *cfg.RateLimitConfig
	}
	return NewIPRateLimiter(rateLimitCfg, RejectRate, RecordConnectionRejected)
}

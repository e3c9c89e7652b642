package api

import (
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kaikoh95/klaw-craft/internal/bots"
	"github.com/kaikoh95/klaw-craft/internal/game"
)

// Metrics with bounded cardinality (no per-player labels to prevent DoS)
var (
	// Relay metrics
	avatarsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "avatars_active",
		Help: "Avatars in the relay",
	}, []string{"kind"}) // Bounded: "player", "bot"

	voxelCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "world_voxels",
		Help: "Voxels in the canonical world",
	})

	worldMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "world_mutations_total",
		Help: "Successful world mutations",
	}, []string{"op"}) // Bounded: "place", "break"

	relayDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_dropped_total",
		Help: "Inbound messages dropped by the relay",
	}, []string{"reason"}) // Bounded: game.Drop* constants

	engineFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_faults_total",
		Help: "Recovered panics inside the engine loop",
	}, []string{"where"})

	// Bot metrics
	botTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bot_tick_duration_seconds",
		Help:    "Time spent ticking all bots",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05},
	})

	botFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_faults_total",
		Help: "Bot updates that panicked and were skipped",
	})

	// Event log metrics
	eventLogTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "event_log_total",
		Help: "Total events logged",
	})

	eventLogDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "event_log_dropped_total",
		Help: "Events dropped due to rate limiting or buffer full",
	})

	// DoS detection metrics - use ONLY bounded label values
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter, origin check or capacity",
	}, []string{"reason"}) // Bounded: "rate_limit", "connect_rate", "origin", "ws_total_limit", "ws_ip_limit", "full"

	// HTTP metrics with bounded labels
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is path pattern, not full URL

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	// WebSocket metrics
	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "WebSocket frames by direction",
	}, []string{"direction"}) // Bounded: "in", "out", "dropped"
)

// ObservabilityConfig configures the debug server
type ObservabilityConfig struct {
	Enabled       bool
	ListenAddr    string // MUST be "127.0.0.1:6060" in production
	BasicAuthUser string // Optional basic auth
	BasicAuthPass string

	// StatsviewAddr starts the go-echarts runtime dashboard when set
	StatsviewAddr string
}

// DefaultObservabilityConfig returns safe defaults
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060", // Localhost only - NEVER expose externally
	}
}

// StartDebugServer starts the internal observability server
// CRITICAL: This MUST bind to localhost only to prevent pprof-based DoS
func StartDebugServer(cfg ObservabilityConfig) error {
	if !cfg.Enabled {
		log.Println("📊 Debug server disabled")
		return nil
	}

	// SECURITY: Validate address is localhost
	if !isLoopback(cfg.ListenAddr) {
		// Only allow external binding if explicitly enabled via env
		if os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
			log.Println("⚠️ Debug server forced to localhost for security")
			cfg.ListenAddr = "127.0.0.1:6060"
		}
	}

	mux := http.NewServeMux()

	// pprof endpoints for profiling
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Optional basic auth wrapper
	var handler http.Handler = mux
	if cfg.BasicAuthUser != "" {
		handler = basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}

	go func() {
		log.Printf("📊 Debug server starting on %s", cfg.ListenAddr)
		log.Printf("   - pprof:   http://%s/debug/pprof/", cfg.ListenAddr)
		log.Printf("   - metrics: http://%s/metrics", cfg.ListenAddr)

		if err := http.ListenAndServe(cfg.ListenAddr, handler); err != nil {
			log.Printf("⚠️ Debug server error: %v", err)
		}
	}()

	if cfg.StatsviewAddr != "" {
		// set configurations before calling statsview.New()
		viewer.SetConfiguration(viewer.WithTheme(viewer.ThemeWesteros), viewer.WithAddr(cfg.StatsviewAddr))
		mgr := statsview.New()
		go mgr.Start()
		log.Printf("   - statsview: http://%s/debug/statsview", cfg.StatsviewAddr)
	}

	return nil
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// basicAuthMiddleware adds basic authentication to the handler
func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// EngineHooks returns engine hooks that feed the relay metrics.
func EngineHooks() game.Hooks {
	return game.Hooks{
		OnDrop:     func(reason string) { relayDropped.WithLabelValues(reason).Inc() },
		OnReject:   RecordConnectionRejected,
		OnMutation: func(op string) { worldMutations.WithLabelValues(op).Inc() },
		OnFault:    func(where string) { engineFaults.WithLabelValues(where).Inc() },
	}
}

// BotHooks returns bot manager hooks that feed the bot metrics.
func BotHooks() bots.Hooks {
	return bots.Hooks{
		OnTick:  func(d time.Duration) { botTickDuration.Observe(d.Seconds()) },
		OnFault: func(string) { botFaults.Inc() },
	}
}

// eventLogCounters converts the event log's running totals into counter
// increments.
type eventLogCounters struct {
	mu      sync.Mutex
	total   uint64
	dropped uint64
}

var eventLogSeen eventLogCounters

// UpdateSnapshotMetrics refreshes the gauges from a published snapshot.
func UpdateSnapshotMetrics(snap *game.Snapshot) {
	if snap == nil {
		return
	}
	avatarsActive.WithLabelValues("player").Set(float64(snap.Players))
	avatarsActive.WithLabelValues("bot").Set(float64(snap.Bots))
	voxelCount.Set(float64(snap.Voxels))
}

// UpdateEventLogStats adds the growth since the last call to the event log
// counters.
func UpdateEventLogStats(total, dropped uint64) {
	eventLogSeen.mu.Lock()
	defer eventLogSeen.mu.Unlock()
	if total > eventLogSeen.total {
		eventLogTotal.Add(float64(total - eventLogSeen.total))
		eventLogSeen.total = total
	}
	if dropped > eventLogSeen.dropped {
		eventLogDropped.Add(float64(dropped - eventLogSeen.dropped))
		eventLogSeen.dropped = dropped
	}
}

// RecordConnectionRejected increments the rejection counter
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}

// metricsMiddleware records latency per chi route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordRequest(r.Method, endpoint, status, time.Since(start))
	})
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// RecordWSMessage counts one frame in the given direction
func RecordWSMessage(direction string) {
	wsMessagesTotal.WithLabelValues(direction).Inc()
}

package api

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Rejection reasons, as reported to a RejectFunc and the connection_rejected
// metric.
const (
	RejectRate        = "rate_limit"
	RejectConnectRate = "connect_rate"
	RejectTotal       = "ws_total_limit"
	RejectPerIP       = "ws_ip_limit"
	RejectOrigin      = "origin"
)

// RejectFunc observes a refused request or socket.
type RejectFunc func(reason string)

// RateLimitConfig configures a token bucket per client address
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	CleanupInterval   time.Duration // idle buckets are swept this often
}

// DefaultRateLimitConfig covers a page load plus its socket
var DefaultRateLimitConfig = RateLimitConfig{
	RequestsPerSecond: 10,
	Burst:             20,
	CleanupInterval:   5 * time.Minute,
}

// LimiterStats is a point-in-time view of an IPRateLimiter.
type LimiterStats struct {
	Allowed  uint64 `json:"allowed"`
	Rejected uint64 `json:"rejected"`
	Tracked  int    `json:"tracked"`
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client address. Each refusal is
// reported once, under the limiter's reason.
type IPRateLimiter struct {
	config   RateLimitConfig
	reason   string
	onReject RejectFunc

	mu      sync.Mutex
	buckets map[string]*bucket

	allowed  atomic.Uint64
	rejected atomic.Uint64

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewIPRateLimiter starts a limiter and its sweeper. onReject may be nil.
func NewIPRateLimiter(cfg RateLimitConfig, reason string, onReject RejectFunc) *IPRateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultRateLimitConfig.CleanupInterval
	}
	rl := &IPRateLimiter{
		config:   cfg,
		reason:   reason,
		onReject: onReject,
		buckets:  make(map[string]*bucket),
		stopChan: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop ends the sweeper. Safe to call repeatedly.
func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
}

// Allow takes a token for ip.
func (rl *IPRateLimiter) Allow(ip string) bool {
	now := time.Now()

	rl.mu.Lock()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)
	rl.mu.Unlock()

	if allowed {
		rl.allowed.Add(1)
		return true
	}
	rl.rejected.Add(1)
	if rl.onReject != nil {
		rl.onReject(rl.reason)
	}
	return false
}

// Middleware answers 429 once an address runs out of tokens
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(GetClientIP(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stats returns the limiter's counters
func (rl *IPRateLimiter) Stats() LimiterStats {
	rl.mu.Lock()
	tracked := len(rl.buckets)
	rl.mu.Unlock()
	return LimiterStats{
		Allowed:  rl.allowed.Load(),
		Rejected: rl.rejected.Load(),
		Tracked:  tracked,
	}
}

func (rl *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case now := <-ticker.C:
			rl.sweep(now.Add(-2 * rl.config.CleanupInterval))
		}
	}
}

// sweep forgets addresses idle since before cutoff.
func (rl *IPRateLimiter) sweep(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
}

// GetClientIP extracts the client IP from an HTTP request
// Handles X-Forwarded-For header for proxied requests
func GetClientIP(r *http.Request) string {
	// CAUTION: forwarded headers can be spoofed if not behind a trusted proxy
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// SlotStats is a point-in-time view of SocketSlots.
type SlotStats struct {
	InUse    int    `json:"inUse"`
	Rejected uint64 `json:"rejected"`
	MaxTotal int    `json:"maxTotal"`
	MaxPerIP int    `json:"maxPerIP"`
}

// SocketSlots caps concurrent websockets, in total and per address. A slot is
// held from before the upgrade until the socket is gone.
type SocketSlots struct {
	maxTotal int
	maxPerIP int
	onReject RejectFunc

	mu    sync.Mutex
	perIP map[string]int
	total int

	rejected atomic.Uint64
}

// NewSocketSlots returns an empty slot table. onReject may be nil.
func NewSocketSlots(maxTotal, maxPerIP int, onReject RejectFunc) *SocketSlots {
	return &SocketSlots{
		maxTotal: maxTotal,
		maxPerIP: maxPerIP,
		onReject: onReject,
		perIP:    make(map[string]int),
	}
}

// Acquire reserves a slot for ip. On success it returns a release func that
// may be called any number of times; otherwise it returns the reason.
func (s *SocketSlots) Acquire(ip string) (release func(), reason string) {
	s.mu.Lock()
	switch {
	case s.total >= s.maxTotal:
		reason = RejectTotal
	case s.perIP[ip] >= s.maxPerIP:
		reason = RejectPerIP
	default:
		s.total++
		s.perIP[ip]++
	}
	s.mu.Unlock()

	if reason != "" {
		s.rejected.Add(1)
		if s.onReject != nil {
			s.onReject(reason)
		}
		return nil, reason
	}

	var once sync.Once
	return func() { once.Do(func() { s.release(ip) }) }, ""
}

func (s *SocketSlots) release(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total--
	if n := s.perIP[ip] - 1; n > 0 {
		s.perIP[ip] = n
	} else {
		delete(s.perIP, ip)
	}
}

// InUse returns how many slots ip holds.
func (s *SocketSlots) InUse(ip string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perIP[ip]
}

// Stats returns the slot counters
func (s *SocketSlots) Stats() SlotStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SlotStats{
		InUse:    s.total,
		Rejected: s.rejected.Load(),
		MaxTotal: s.maxTotal,
		MaxPerIP: s.maxPerIP,
	}
}

// OriginPolicy decides which browser origins may open a websocket.
// Patterns may hold one '*' wildcard, as in "http://localhost:*".
type OriginPolicy struct {
	patterns []string
}

// NewOriginPolicy builds a policy from CORS-style origin patterns
func NewOriginPolicy(patterns []string) OriginPolicy {
	return OriginPolicy{patterns: patterns}
}

// Allow reports whether the request's Origin is acceptable. Requests without
// an Origin come from non-browser clients and are allowed, as are same-host
// pages.
func (p OriginPolicy) Allow(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, pattern := range p.patterns {
		if matchOrigin(pattern, origin) {
			return true
		}
	}
	return false
}

func matchOrigin(pattern, origin string) bool {
	prefix, suffix, wild := strings.Cut(pattern, "*")
	if !wild {
		return pattern == origin
	}
	return len(origin) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(origin, prefix) &&
		strings.HasSuffix(origin, suffix)
}

// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for relay, world and bot settings.
//
// Precedence: environment variables, then the YAML tuning file, then the
// defaults below.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kaikoh95/klaw-craft/internal/bots"
	"github.com/kaikoh95/klaw-craft/internal/physics"
)

// DefaultTuningPath is read when TUNING_PATH is unset. A missing file is not
// an error.
const DefaultTuningPath = "configs/tuning.yaml"

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP, websocket and admission settings.
type ServerConfig struct {
	Port                int
	MaxPlayers          int     // concurrent websocket connections
	EventsPerSecond     float64 // per-connection inbound budget
	EventBurst          int
	ConnectRate         float64 // upgrade attempts per second per IP
	ConnectBurst        int
	MaxConnectionsPerIP int      // concurrent sockets per IP
	AllowedOrigins      []string // "*" allows any
	StaticDir           string
	ShutdownGrace       time.Duration
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:                8080,
		MaxPlayers:          20,
		EventsPerSecond:     30,
		EventBurst:          60,
		ConnectRate:         2,
		ConnectBurst:        5,
		MaxConnectionsPerIP: 5,
		AllowedOrigins:      []string{"http://localhost:*", "http://127.0.0.1:*"},
		StaticDir:           "./public",
		ShutdownGrace:       5 * time.Second,
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if mp := getEnvInt("MAX_PLAYERS", 0); mp > 0 {
		cfg.MaxPlayers = mp
	}
	if r := getEnvFloat("EVENTS_PER_SECOND", 0); r > 0 {
		cfg.EventsPerSecond = r
	}
	if b := getEnvInt("EVENT_BURST", 0); b > 0 {
		cfg.EventBurst = b
	}
	if r := getEnvFloat("CONNECT_RATE", 0); r > 0 {
		cfg.ConnectRate = r
	}
	if b := getEnvInt("CONNECT_BURST", 0); b > 0 {
		cfg.ConnectBurst = b
	}
	if n := getEnvInt("MAX_CONNECTIONS_PER_IP", 0); n > 0 {
		cfg.MaxConnectionsPerIP = n
	}
	if origins := getEnvList("ALLOWED_ORIGINS"); len(origins) > 0 {
		cfg.AllowedOrigins = origins
	}
	if dir := os.Getenv("STATIC_DIR"); dir != "" {
		cfg.StaticDir = dir
	}
	if d := getEnvDuration("SHUTDOWN_GRACE", 0); d > 0 {
		cfg.ShutdownGrace = d
	}

	return cfg
}

// =============================================================================
// WORLD & BOTS
// =============================================================================

// WorldConfig controls server-side terrain.
type WorldConfig struct {
	Extent int // half-size of generated terrain; 0 relays edits only
}

// DefaultWorld returns the default world configuration.
func DefaultWorld() WorldConfig {
	return WorldConfig{Extent: 16}
}

// WorldFromEnv returns world configuration with environment variable overrides.
func WorldFromEnv() WorldConfig {
	cfg := DefaultWorld()
	if e := getEnvInt("WORLD_EXTENT", -1); e >= 0 {
		cfg.Extent = e
	}
	return cfg
}

// BotSettings controls how many bots are spawned at start.
type BotSettings struct {
	Count int
}

// BotsFromEnv reads BOT_COUNT.
func BotsFromEnv() BotSettings {
	return BotSettings{Count: max(getEnvInt("BOT_COUNT", 0), 0)}
}

// =============================================================================
// OBSERVABILITY
// =============================================================================

// ObservabilityConfig holds debug, fault reporting and audit settings.
type ObservabilityConfig struct {
	DebugAddr     string
	DisableDebug  bool
	StatsviewAddr string
	SentryDSN     string
	EventLogPath  string // empty disables the on-disk event log
}

// DefaultObservability returns the default observability configuration.
func DefaultObservability() ObservabilityConfig {
	return ObservabilityConfig{DebugAddr: "127.0.0.1:6060"}
}

// ObservabilityFromEnv returns observability configuration with environment
// variable overrides.
func ObservabilityFromEnv() ObservabilityConfig {
	cfg := DefaultObservability()
	if a := os.Getenv("DEBUG_ADDR"); a != "" {
		cfg.DebugAddr = a
	}
	cfg.DisableDebug = os.Getenv("DISABLE_DEBUG_SERVER") == "true"
	cfg.StatsviewAddr = os.Getenv("STATSVIEW_ADDR")
	cfg.SentryDSN = os.Getenv("SENTRY_DSN")
	cfg.EventLogPath = os.Getenv("EVENT_LOG_PATH")
	return cfg
}

// =============================================================================
// TUNING FILE
// =============================================================================

// Tuning holds the movement and bot constants that may be overridden from YAML.
type Tuning struct {
	Physics physics.Params `yaml:"physics"`
	Bots    bots.Config    `yaml:"bots"`
}

// DefaultTuning returns the compiled-in constants.
func DefaultTuning() Tuning {
	return Tuning{
		Physics: physics.DefaultParams(),
		Bots:    bots.DefaultConfig(),
	}
}

// LoadTuning overlays the YAML file at path onto the defaults. Keys absent
// from the file keep their default value. A missing file yields the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return t, fmt.Errorf("read tuning: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return DefaultTuning(), fmt.Errorf("parse tuning %s: %w", path, err)
	}
	if err := t.validate(); err != nil {
		return DefaultTuning(), fmt.Errorf("tuning %s: %w", path, err)
	}
	return t, nil
}

func (t Tuning) validate() error {
	switch {
	case t.Physics.Radius <= 0 || t.Physics.Height <= 0:
		return errors.New("physics radius and height must be positive")
	case t.Physics.Friction < 0 || t.Physics.Friction > 1:
		return errors.New("physics friction must be within [0, 1]")
	case t.Bots.TickInterval <= 0:
		return errors.New("bots tick_interval must be positive")
	}
	return nil
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Server        ServerConfig
	World         WorldConfig
	Bots          BotSettings
	Observability ObservabilityConfig
	Tuning        Tuning
}

// Load returns the complete configuration with environment overrides.
func Load() (AppConfig, error) {
	path := os.Getenv("TUNING_PATH")
	if path == "" {
		path = DefaultTuningPath
	}
	tuning, err := LoadTuning(path)
	if err != nil {
		return AppConfig{}, err
	}
	if seed := getEnvInt64("BOT_SEED", 0); seed != 0 {
		tuning.Bots.Seed = seed
	}

	return AppConfig{
		Server:        ServerFromEnv(),
		World:         WorldFromEnv(),
		Bots:          BotsFromEnv(),
		Observability: ObservabilityFromEnv(),
		Tuning:        tuning,
	}, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

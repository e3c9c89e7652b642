package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/kaikoh95/klaw-craft/internal/api"
	"github.com/kaikoh95/klaw-craft/internal/bots"
	"github.com/kaikoh95/klaw-craft/internal/config"
	"github.com/kaikoh95/klaw-craft/internal/game"
)

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🧱 ================================")
	log.Println("🧱  KLAW-CRAFT - VOXEL RELAY")
	log.Println("🧱 ================================")

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config: %v", err)
	}
	serverCfg := appConfig.Server
	obsCfg := appConfig.Observability

	if obsCfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: obsCfg.SentryDSN}); err != nil {
			log.Printf("⚠️ Sentry disabled: %v", err)
		} else {
			log.Println("✅ Sentry fault reporting enabled")
			defer sentry.Flush(2 * time.Second)
		}
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("💥 Fatal: %v", r)
			sentry.CurrentHub().Recover(r)
			sentry.Flush(2 * time.Second)
			os.Exit(1)
		}
	}()

	log.Printf("🎮 Config: port %d, max %d players, %v events/s (burst %d), world extent %d, %d bots",
		serverCfg.Port, serverCfg.MaxPlayers, serverCfg.EventsPerSecond, serverCfg.EventBurst,
		appConfig.World.Extent, appConfig.Bots.Count)

	// Create relay engine
	engineCfg := game.DefaultConfig()
	engineCfg.MaxPlayers = serverCfg.MaxPlayers
	engineCfg.EventsPerSecond = serverCfg.EventsPerSecond
	engineCfg.EventBurst = serverCfg.EventBurst
	engineCfg.WorldExtent = appConfig.World.Extent
	engine := game.NewEngine(engineCfg, api.EngineHooks())

	// Start event log
	if obsCfg.EventLogPath != "" {
		engine.StartEventLog(game.NewJournal(obsCfg.EventLogPath, "events"))
		log.Printf("📝 Event log: %s", obsCfg.EventLogPath)
	} else {
		engine.StartEventLog(nil)
	}

	// Start debug server
	if !obsCfg.DisableDebug {
		debugCfg := api.DefaultObservabilityConfig()
		debugCfg.ListenAddr = obsCfg.DebugAddr
		debugCfg.StatsviewAddr = obsCfg.StatsviewAddr
		if err := api.StartDebugServer(debugCfg); err != nil {
			log.Printf("⚠️ Debug server disabled: %v", err)
		}
	}

	server := api.NewServer(engine, api.ServerConfig{
		CORSOrigins:    serverCfg.AllowedOrigins,
		StaticFilesDir: serverCfg.StaticDir,
		RateLimit:      api.DefaultRateLimitConfig,
		ConnectRate: api.RateLimitConfig{
			RequestsPerSecond: serverCfg.ConnectRate,
			Burst:             serverCfg.ConnectBurst,
		},
		MaxPerIP: serverCfg.MaxConnectionsPerIP,
	})

	engine.Start()

	botManager := bots.NewManager(engine, appConfig.Tuning.Bots, api.BotHooks())
	if n := appConfig.Bots.Count; n > 0 {
		if err := botManager.Start(context.Background(), n); err != nil {
			log.Printf("⚠️ Bots disabled: %v", err)
		}
	}

	// Start API server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(":" + strconv.Itoa(serverCfg.Port))
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("✅ Server ready! Press Ctrl+C to stop.")
	select {
	case <-quit:
	case err := <-serverErr:
		if err != nil {
			log.Printf("❌ Server failed: %v", err)
		}
	}

	log.Println("🛑 Shutting down...")
	watchdog := time.AfterFunc(serverCfg.ShutdownGrace, func() {
		log.Println("⏱️ Shutdown grace exceeded, forcing exit")
		os.Exit(1)
	})
	defer watchdog.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownGrace)
	defer cancel()

	botManager.Stop()
	// Notify and close every socket before the listener goes away
	if err := engine.Shutdown(ctx); err != nil {
		log.Printf("⚠️ Relay shutdown: %v", err)
	}
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️ HTTP shutdown: %v", err)
	}
	engine.StopEventLog()
	engine.Stop()
	log.Println("👋 Goodbye!")
}

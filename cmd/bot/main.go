// Command bot connects headless walkers to a running relay, for load and
// soak testing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kaikoh95/klaw-craft/internal/client"
	"github.com/kaikoh95/klaw-craft/internal/config"
	"github.com/kaikoh95/klaw-craft/internal/mirror"
)

func main() {
	var (
		url     = flag.String("ws", "ws://localhost:8080/ws", "relay websocket url")
		clients = flag.Int("clients", 1, "number of walkers")
		name    = flag.String("name", "Walker", "name prefix")
		seed    = flag.Int64("seed", 0, "base seed; 0 seeds from the clock")
		tuning  = flag.String("tuning", config.DefaultTuningPath, "YAML tuning file")
	)
	flag.Parse()

	_ = godotenv.Load(".env")

	tun, err := config.LoadTuning(*tuning)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if *clients < 1 {
		log.Fatalf("❌ -clients must be at least 1")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < *clients; i++ {
		cfg := client.DefaultConfig()
		cfg.URL = *url
		cfg.Physics = tun.Physics
		cfg.Name = *name
		if *clients > 1 {
			cfg.Name = fmt.Sprintf("%s%d", *name, i+1)
		}
		if *seed != 0 {
			cfg.Seed = *seed + int64(i)
		}

		wg.Add(1)
		go func(cfg client.Config) {
			defer wg.Done()
			runWalker(ctx, cfg)
		}(cfg)
	}

	log.Printf("🚶 %d walker(s) connecting to %s", *clients, *url)
	wg.Wait()
	log.Println("👋 All walkers stopped")
}

func runWalker(ctx context.Context, cfg client.Config) {
	c, err := client.Dial(ctx, cfg)
	if err != nil {
		log.Printf("❌ [%s] dial: %v", cfg.Name, err)
		return
	}
	err = c.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, mirror.ErrNotice):
		log.Printf("🛑 [%s] %v", cfg.Name, err)
	default:
		log.Printf("⚠️ [%s] disconnected: %v", cfg.Name, err)
	}
	log.Printf("📊 [%s] sent %v", cfg.Name, c.Sent())
}

package bots

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

// ErrRunning is returned by Start when the manager already has bots.
var ErrRunning = errors.New("bots already running")

// Executor runs fn on the goroutine that owns the Host.
type Executor interface {
	Exec(ctx context.Context, fn func(Host)) error
}

// Hooks receive manager telemetry. Nil fields are ignored.
type Hooks struct {
	OnTick  func(d time.Duration)
	OnFault func(name string)
}

// Manager spawns agents and ticks them from a single periodic driver.
type Manager struct {
	exec  Executor
	cfg   Config
	hooks Hooks

	mu     sync.Mutex
	bots   []*Agent
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager that drives its agents through exec.
func NewManager(exec Executor, cfg Config, hooks Hooks) *Manager {
	return &Manager{exec: exec, cfg: cfg, hooks: hooks}
}

// Start spawns n agents and begins ticking them. The driver stops when ctx
// is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context, n int) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return ErrRunning
	}
	m.mu.Unlock()

	seed := m.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	agents := make([]*Agent, n)
	for i := range agents {
		rng := rand.New(rand.NewSource(seed + int64(i)*7919))
		agents[i] = NewAgent(fmt.Sprintf("bot-%d", i), BotName(i), m.cfg, rng)
	}

	err := m.exec.Exec(ctx, func(h Host) {
		for _, a := range agents {
			pos, rot := a.Transform()
			h.Join(a.ID, a.Name, pos, rot)
		}
	})
	if err != nil {
		return fmt.Errorf("spawn bots: %w", err)
	}

	driverCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.bots = agents
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(driverCtx)
	log.Printf("🤖 Spawned %d AI bots", n)
	return nil
}

// Stop halts the driver and removes every agent's avatar. When it returns
// no agent remains and no further tick will run.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	m.mu.Lock()
	agents := m.bots
	m.bots = nil
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	ctx, cancelTeardown := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelTeardown()
	err := m.exec.Exec(ctx, func(h Host) {
		for _, a := range agents {
			h.Leave(a.ID)
		}
	})
	if err != nil {
		log.Printf("⚠️ Bot teardown skipped: %v", err)
	}
	log.Println("🤖 All bots stopped")
}

// Count returns the number of live agents.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bots)
}

// Agents returns the live agents. Their fields must only be read from the
// goroutine that owns the Host.
func (m *Manager) Agents() []*Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Agent(nil), m.bots...)
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	dt := m.cfg.TickInterval.Seconds()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := m.exec.Exec(ctx, func(h Host) {
				m.Tick(h, dt)
			})
			if err != nil && ctx.Err() == nil {
				log.Printf("⚠️ Bot driver stopped: %v", err)
				return
			}
		}
	}
}

// Tick updates every agent once. A fault in one agent skips only that
// agent's update.
func (m *Manager) Tick(h Host, dt float64) {
	start := time.Now()
	m.mu.Lock()
	agents := m.bots
	m.mu.Unlock()

	for _, a := range agents {
		m.safeUpdate(a, h, dt)
	}
	if m.hooks.OnTick != nil {
		m.hooks.OnTick(time.Since(start))
	}
}

func (m *Manager) safeUpdate(a *Agent, h Host, dt float64) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		log.Printf("❌ Bot %s fault: %v", a.Name, r)
		hub := sentry.CurrentHub().Clone()
		hub.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetTag("bot", a.Name)
			scope.SetTag("state", string(a.State))
		})
		hub.Recover(r)
		if m.hooks.OnFault != nil {
			m.hooks.OnFault(a.Name)
		}
	}()
	a.Update(h, dt)
}

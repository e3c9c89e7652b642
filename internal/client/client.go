// Package client is a headless player: it speaks the websocket protocol,
// keeps a mirror of the world and walks around with full physics.
package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"

	"github.com/kaikoh95/klaw-craft/internal/mirror"
	"github.com/kaikoh95/klaw-craft/internal/physics"
	"github.com/kaikoh95/klaw-craft/internal/protocol"
	"github.com/kaikoh95/klaw-craft/internal/world"
)

const (
	dialAttempts = 12
	dialBackoff  = 180 * time.Millisecond
	writeWait    = 5 * time.Second
)

var materials = []world.BlockType{world.Grass, world.Dirt, world.Stone, world.Wood, world.Sand}

// Config tunes one headless client.
type Config struct {
	URL          string
	Name         string
	Physics      physics.Params
	Spawn        mgl64.Vec3
	Extent       int           // local terrain when the server sends none
	StepInterval time.Duration // physics rate
	MoveInterval time.Duration // minimum gap between move frames
	ActionChance float64       // per-step chance to place or break a block
	Seed         int64
}

// DefaultConfig returns a 20 Hz walker.
func DefaultConfig() Config {
	return Config{
		URL:          "ws://localhost:8080/ws",
		Name:         "Walker",
		Physics:      physics.DefaultParams(),
		Spawn:        mgl64.Vec3{0, 20, 0},
		Extent:       16,
		StepInterval: 50 * time.Millisecond,
		MoveInterval: 50 * time.Millisecond,
		ActionChance: 0.02,
	}
}

// Client is one connected headless player. Run owns all state.
type Client struct {
	cfg    Config
	conn   *websocket.Conn
	mirror *mirror.Mirror
	body   physics.Body
	rng    *rand.Rand

	inbox   chan []byte
	readErr chan error
	done    chan struct{}

	input      physics.Input
	inputTimer float64
	lastMove   time.Time
	sent       map[string]int
}

// Dial connects to the server, retrying briefly, and sends join.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	conn, err := dialWithRetry(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	c := &Client{
		cfg:     cfg,
		conn:    conn,
		mirror:  mirror.New(cfg.Extent),
		body:    physics.Body{Position: cfg.Spawn},
		rng:     rand.New(rand.NewSource(seed)),
		inbox:   make(chan []byte, 256),
		readErr: make(chan error, 1),
		done:    make(chan struct{}),
		sent:    make(map[string]int),
	}
	go c.readLoop()

	if err := c.send(protocol.EventJoin, map[string]string{"name": cfg.Name}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("join: %w", err)
	}
	return c, nil
}

func dialWithRetry(ctx context.Context, url string) (*websocket.Conn, error) {
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return nil, fmt.Errorf("invalid ws url: %s", url)
	}
	var lastErr error
	for attempt := 0; attempt < dialAttempts; attempt++ {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialBackoff):
		}
	}
	return nil, lastErr
}

func (c *Client) readLoop() {
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.readErr <- err
			close(c.inbox)
			return
		}
		select {
		case c.inbox <- frame:
		case <-c.done:
			return
		}
	}
}

// Run applies server frames and steps physics until ctx ends, the server
// closes the connection or sends an error notice.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.conn.Close()

	ticker := time.NewTicker(c.cfg.StepInterval)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil

		case frame, ok := <-c.inbox:
			if !ok {
				return <-c.readErr
			}
			if err := c.handleFrame(frame); err != nil {
				return err
			}

		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			if err := c.step(now, dt); err != nil {
				return err
			}
		}
	}
}

func (c *Client) handleFrame(frame []byte) error {
	wasJoined := c.mirror.SelfID() != ""
	err := c.mirror.ApplyFrame(frame)
	switch {
	case errors.Is(err, mirror.ErrNotice):
		return err
	case err != nil:
		log.Printf("⚠️ [%s] dropped frame: %v", c.cfg.Name, err)
		return nil
	}
	if !wasJoined && c.mirror.SelfID() != "" {
		log.Printf("🔌 [%s] joined as %s (%d voxels, %d others)",
			c.cfg.Name, c.mirror.SelfID(), c.mirror.World().Len(), len(c.mirror.Remotes()))
	}
	return nil
}

// step advances the local simulation by dt seconds. Nothing happens before
// the server has acknowledged the join.
func (c *Client) step(now time.Time, dt float64) error {
	if c.mirror.SelfID() == "" || dt <= 0 {
		return nil
	}
	// Long stalls are capped at 100ms.
	dt = math.Min(dt, 0.1)

	c.wander(dt)
	c.cfg.Physics.Step(c.mirror.World(), &c.body, c.input, dt)
	c.mirror.Interpolate()

	if c.rng.Float64() < c.cfg.ActionChance {
		if err := c.act(); err != nil {
			return err
		}
	}
	if now.Sub(c.lastMove) >= c.cfg.MoveInterval {
		c.lastMove = now
		return c.sendMove()
	}
	return nil
}

// wander picks a new heading every few seconds and jumps when blocked.
func (c *Client) wander(dt float64) {
	c.inputTimer -= dt
	if c.inputTimer <= 0 {
		c.inputTimer = 1 + c.rng.Float64()*3
		c.input = physics.Input{Forward: c.rng.Float64() < 0.8}
		c.body.Rotate((c.rng.Float64()-0.5)*math.Pi/physics.LookSensitivity, 0)
	}
	horizontal := mgl64.Vec2{c.body.Velocity.X(), c.body.Velocity.Z()}.Len()
	c.input.Jump = c.input.Forward && c.body.Grounded && horizontal < c.cfg.Physics.Speed/2
}

// act places or breaks the block in view, applying it locally first.
func (c *Client) act() error {
	w := c.mirror.World()
	hit, ok := c.body.Target(w, c.cfg.Physics)
	if !ok {
		return nil
	}
	if c.rng.Intn(2) == 0 {
		if hit.Pos.Y() <= world.ProtectedFloorY {
			return nil
		}
		w.BreakBlock(hit.Pos)
		return c.send(protocol.EventBreakBlock, protocol.BlockRef{X: hit.Pos.X(), Y: hit.Pos.Y(), Z: hit.Pos.Z()})
	}

	pos := hit.Adjacent
	if pos == hit.Pos || !c.body.CanPlaceAt(pos, c.cfg.Physics) {
		return nil
	}
	t := materials[c.rng.Intn(len(materials))]
	if !w.PlaceBlock(pos, t) {
		return nil
	}
	return c.send(protocol.EventPlaceBlock, protocol.Block{X: pos.X(), Y: pos.Y(), Z: pos.Z(), BlockType: t})
}

func (c *Client) sendMove() error {
	p := c.body.Position
	return c.send(protocol.EventMove, map[string]any{
		"position": protocol.Vec3{X: p.X(), Y: p.Y(), Z: p.Z()},
		"rotation": protocol.Rotation{X: c.body.Pitch, Y: c.body.Yaw},
	})
}

func (c *Client) send(event string, data any) error {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	c.sent[event]++
	return nil
}

// Sent returns how many frames of each event were written. Run's goroutine only.
func (c *Client) Sent() map[string]int { return c.sent }

// Mirror returns the client's world replica. Run's goroutine only.
func (c *Client) Mirror() *mirror.Mirror { return c.mirror }

package client

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kaikoh95/klaw-craft/internal/mirror"
	"github.com/kaikoh95/klaw-craft/internal/protocol"
	"github.com/kaikoh95/klaw-craft/internal/world"
)

// fakeServer answers join with an init and records every frame it receives.
// After wantMoves moves it sends the shutdown notice.
type fakeServer struct {
	wantMoves int

	mu     sync.Mutex
	frames []protocol.Envelope
	moveAt []time.Time
}

func (s *fakeServer) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		moves := 0
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := protocol.Decode(frame)
			if err != nil {
				t.Errorf("client sent malformed frame: %v", err)
				return
			}
			s.mu.Lock()
			s.frames = append(s.frames, env)
			if env.Event == protocol.EventMove {
				s.moveAt = append(s.moveAt, time.Now())
				moves++
			}
			s.mu.Unlock()

			switch {
			case env.Event == protocol.EventJoin:
				init, _ := protocol.Encode(protocol.EventInit, protocol.Init{
					PlayerID: "c1",
					Players:  []protocol.Player{{ID: "x", Name: "Other"}},
					Blocks:   []protocol.Block{{X: 0, Y: 30, Z: 0, BlockType: world.Stone}},
				})
				conn.WriteMessage(websocket.TextMessage, init)
			case moves == s.wantMoves:
				bye, _ := protocol.Encode(protocol.EventError, protocol.ErrorNotice{Message: protocol.MsgShuttingDown})
				conn.WriteMessage(websocket.TextMessage, bye)
			}
		}
	}
}

func (s *fakeServer) events(name string) []protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Envelope
	for _, f := range s.frames {
		if f.Event == name {
			out = append(out, f)
		}
	}
	return out
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// TestClientSession runs a client against a scripted server until it is
// told to shut down
func TestClientSession(t *testing.T) {
	fs := &fakeServer{wantMoves: 6}
	srv := httptest.NewServer(fs.handler(t))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL = wsURL(srv)
	cfg.Name = "Tester"
	cfg.Extent = 2
	cfg.StepInterval = 10 * time.Millisecond
	cfg.MoveInterval = 50 * time.Millisecond
	cfg.Seed = 7

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, cfg)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	err = c.Run(ctx)
	if !errors.Is(err, mirror.ErrNotice) {
		t.Fatalf("Expected shutdown notice, got %v", err)
	}

	joins := fs.events(protocol.EventJoin)
	if len(joins) != 1 {
		t.Fatalf("Expected 1 join, got %d", len(joins))
	}
	var join struct{ Name string }
	json.Unmarshal(joins[0].Data, &join)
	if join.Name != "Tester" {
		t.Errorf("Expected name 'Tester', got '%s'", join.Name)
	}

	// Local terrain plus the snapshot block
	m := c.Mirror()
	if m.SelfID() != "c1" {
		t.Errorf("Expected self id 'c1', got '%s'", m.SelfID())
	}
	if !m.World().IsSolid(0, 30, 0) || m.World().Len() < 2 {
		t.Errorf("Expected generated terrain and snapshot block, got %d voxels", m.World().Len())
	}
	if _, ok := m.Remote("x"); !ok {
		t.Error("Expected remote from init")
	}

	moves := fs.events(protocol.EventMove)
	if len(moves) < fs.wantMoves {
		t.Fatalf("Expected at least %d moves, got %d", fs.wantMoves, len(moves))
	}
	for _, env := range moves {
		var mv struct {
			Position protocol.Vec3     `json:"position"`
			Rotation protocol.Rotation `json:"rotation"`
		}
		if err := json.Unmarshal(env.Data, &mv); err != nil {
			t.Fatalf("move payload: %v", err)
		}
		for _, v := range []float64{mv.Position.X, mv.Position.Y, mv.Position.Z, mv.Rotation.X, mv.Rotation.Y} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("Non-finite value in move: %+v", mv)
			}
		}
		if mv.Position.Y < 1 {
			t.Errorf("Client fell through the floor: %+v", mv.Position)
		}
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	for i := 1; i < len(fs.moveAt); i++ {
		if gap := fs.moveAt[i].Sub(fs.moveAt[i-1]); gap < 25*time.Millisecond {
			t.Errorf("Move %d sent %v after the previous one", i, gap)
		}
	}
}

// TestClientStopsOnContext verifies cancellation ends Run cleanly
func TestClientStopsOnContext(t *testing.T) {
	fs := &fakeServer{wantMoves: -1}
	srv := httptest.NewServer(fs.handler(t))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL = wsURL(srv)
	cfg.Extent = 0

	ctx, cancel := context.WithCancel(context.Background())
	c, err := Dial(ctx, cfg)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	time.AfterFunc(150*time.Millisecond, cancel)
	if err := c.Run(ctx); err != nil {
		t.Errorf("Expected clean exit, got %v", err)
	}
}

// TestDialRejectsBadURL verifies scheme validation
func TestDialRejectsBadURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "http://localhost:1"
	if _, err := Dial(context.Background(), cfg); err == nil {
		t.Error("Expected an error for a non-websocket url")
	}
}

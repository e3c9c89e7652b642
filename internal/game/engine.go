package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/elliotchance/orderedmap/v2"
	"github.com/getsentry/sentry-go"
	"golang.org/x/time/rate"

	"github.com/kaikoh95/klaw-craft/internal/bots"
	"github.com/kaikoh95/klaw-craft/internal/protocol"
	"github.com/kaikoh95/klaw-craft/internal/world"
)

var (
	// ErrServerFull is returned by Connect when MaxPlayers sockets are open.
	ErrServerFull = errors.New("server is full")
	// ErrStopped is returned by calls made after Stop.
	ErrStopped = errors.New("engine stopped")
)

// Drop reasons reported through Hooks.OnDrop.
const (
	DropRateLimit     = "rate_limit"
	DropInvalid       = "invalid"
	DropNotJoined     = "not_joined"
	DropDuplicateJoin = "duplicate_join"
)

// Config holds relay limits and world setup.
type Config struct {
	MaxPlayers       int
	EventsPerSecond  float64
	EventBurst       int
	WorldExtent      int
	Spawn            protocol.Vec3
	SnapshotInterval time.Duration
	InboundQueue     int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxPlayers:       20,
		EventsPerSecond:  30,
		EventBurst:       60,
		WorldExtent:      16,
		Spawn:            protocol.Vec3{X: 0, Y: 20, Z: 0},
		SnapshotInterval: 250 * time.Millisecond,
		InboundQueue:     1024,
	}
}

// Conn is one client transport. Send must not block; it returns false when
// the frame could not be queued. Close must be idempotent and should flush
// frames already queued.
type Conn interface {
	ID() string
	Send(frame []byte) bool
	Close()
}

// Hooks receive engine telemetry. Nil fields are ignored.
type Hooks struct {
	OnDrop     func(reason string)
	OnReject   func(reason string)
	OnMutation func(op string)
	OnFault    func(where string)
}

type session struct {
	conn    Conn
	limiter *rate.Limiter
	joined  bool
}

type connectReq struct {
	conn  Conn
	reply chan error
}

type inbound struct {
	id    string
	frame []byte
}

type execReq struct {
	fn   func()
	done chan struct{}
}

// Engine is the authoritative relay. One goroutine owns the canonical world,
// the avatar table and the session table; everything else talks to it over
// channels, so every message is handled to completion before the next.
type Engine struct {
	cfg   Config
	hooks Hooks

	// Loop-owned state
	world       *world.World
	generated   bool
	avatars     *orderedmap.OrderedMap[string, *Avatar]
	sessions    map[string]*session
	mutations   uint64
	dropped     map[string]uint64
	digest      uint64
	digestDirty bool
	snapshotSeq uint64

	eventLog *EventLog

	connectCh    chan connectReq
	disconnectCh chan string
	inboundCh    chan inbound
	execCh       chan execReq

	snapshot atomic.Pointer[Snapshot]

	running  atomic.Bool
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewEngine creates the relay and generates the canonical terrain.
func NewEngine(cfg Config, hooks Hooks) *Engine {
	e := &Engine{
		cfg:          cfg,
		hooks:        hooks,
		world:        world.New(),
		avatars:      orderedmap.NewOrderedMap[string, *Avatar](),
		sessions:     make(map[string]*session),
		dropped:      make(map[string]uint64),
		digestDirty:  true,
		eventLog:     NewEventLog(),
		connectCh:    make(chan connectReq),
		disconnectCh: make(chan string, 64),
		inboundCh:    make(chan inbound, cfg.InboundQueue),
		execCh:       make(chan execReq),
		stopChan:     make(chan struct{}),
		done:         make(chan struct{}),
	}

	if cfg.WorldExtent > 0 {
		e.world.GenerateTerrain(0, 0, cfg.WorldExtent)
		e.generated = true
	}
	e.world.SetObserver(worldObserver{e})
	e.produceSnapshot()
	return e
}

// Start begins the engine loop
func (e *Engine) Start() {
	if e.running.Swap(true) {
		return
	}
	go e.run()
	log.Printf("🎮 Relay engine started (%d voxels, max %d players)", e.world.Len(), e.cfg.MaxPlayers)
}

// Stop halts the loop. Calls made afterwards return ErrStopped.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
		if e.running.Load() {
			<-e.done
		}
		log.Println("🛑 Relay engine stopped")
	})
}

// StartEventLog starts the audit trail with the given sink (nil for
// in-memory only).
func (e *Engine) StartEventLog(sink EventSink) {
	e.eventLog.Start(sink)
}

// StopEventLog flushes and closes the audit trail
func (e *Engine) StopEventLog() {
	e.eventLog.Stop()
}

// GetEventLogStats returns event log statistics
func (e *Engine) GetEventLogStats() map[string]interface{} {
	return e.eventLog.GetStats()
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) run() {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case req := <-e.connectCh:
			req.reply <- e.handleConnect(req.conn)
		case id := <-e.disconnectCh:
			e.handleDisconnect(id)
		case in := <-e.inboundCh:
			e.handleInbound(in)
		case req := <-e.execCh:
			e.runExec(req)
		case <-ticker.C:
			e.produceSnapshot()
		}
	}
}

// Connect registers a new transport. When the server is full the client is
// sent an error notice, closed, and ErrServerFull is returned.
func (e *Engine) Connect(ctx context.Context, c Conn) error {
	req := connectReq{conn: c, reply: make(chan error, 1)}
	select {
	case e.connectCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopChan:
		return ErrStopped
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopChan:
		return ErrStopped
	}
}

// Disconnect removes a transport and its avatar.
func (e *Engine) Disconnect(id string) {
	select {
	case e.disconnectCh <- id:
	case <-e.stopChan:
	}
}

// Receive queues one inbound frame from a connection. Frames from a single
// connection are handled in the order they are received.
func (e *Engine) Receive(id string, frame []byte) error {
	select {
	case <-e.stopChan:
		return ErrStopped
	default:
	}
	select {
	case e.inboundCh <- inbound{id: id, frame: frame}:
		return nil
	case <-e.stopChan:
		return ErrStopped
	}
}

// Exec runs fn on the engine loop and waits for it to return.
func (e *Engine) Exec(ctx context.Context, fn func(bots.Host)) error {
	return e.exec(ctx, func() { fn(loopHost{e}) })
}

// Shutdown sends every connection the shutdown notice and closes it.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.exec(ctx, func() {
		frame := e.encode(protocol.EventError, protocol.ErrorNotice{Message: protocol.MsgShuttingDown})
		for id, s := range e.sessions {
			if frame != nil {
				s.conn.Send(frame)
			}
			s.conn.Close()
			e.removeSession(id)
		}
		e.produceSnapshot()
	})
}

func (e *Engine) exec(ctx context.Context, fn func()) error {
	req := execReq{fn: fn, done: make(chan struct{})}
	select {
	case e.execCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopChan:
		return ErrStopped
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopChan:
		return ErrStopped
	}
}

func (e *Engine) runExec(req execReq) {
	defer close(req.done)
	defer e.recoverFault("exec", "")
	req.fn()
}

// recoverFault keeps the loop alive when a handler panics. When id names a
// connection, that connection is dropped.
func (e *Engine) recoverFault(where, id string) {
	r := recover()
	if r == nil {
		return
	}
	log.Printf("❌ Engine fault in %s: %v", where, r)
	hub := sentry.CurrentHub().Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("where", where)
	})
	hub.Recover(r)
	if e.hooks.OnFault != nil {
		e.hooks.OnFault(where)
	}
	if s, ok := e.sessions[id]; ok {
		s.conn.Close()
		e.removeSession(id)
	}
}

func (e *Engine) handleConnect(c Conn) error {
	if len(e.sessions) >= e.cfg.MaxPlayers {
		if frame := e.encode(protocol.EventError, protocol.ErrorNotice{Message: protocol.MsgServerFull}); frame != nil {
			c.Send(frame)
		}
		c.Close()
		e.reject("full", c.ID())
		return ErrServerFull
	}
	e.sessions[c.ID()] = &session{
		conn:    c,
		limiter: rate.NewLimiter(rate.Limit(e.cfg.EventsPerSecond), e.cfg.EventBurst),
	}
	return nil
}

func (e *Engine) handleDisconnect(id string) {
	s, ok := e.sessions[id]
	if !ok {
		return
	}
	s.conn.Close()
	e.removeSession(id)
}

// removeSession drops the session and, if it had joined, its avatar.
func (e *Engine) removeSession(id string) {
	s, ok := e.sessions[id]
	if !ok {
		return
	}
	delete(e.sessions, id)
	if s.joined {
		e.removeAvatar(id)
	}
}

func (e *Engine) handleInbound(in inbound) {
	s, ok := e.sessions[in.id]
	if !ok {
		return
	}
	defer e.recoverFault("inbound", in.id)

	allowed := s.limiter.Allow()
	msg, err := protocol.DecodeClient(in.frame)
	if !allowed {
		e.drop(DropRateLimit)
		if err == nil && s.joined {
			e.correctEdit(s, msg)
		}
		return
	}
	if err != nil {
		e.drop(DropInvalid)
		return
	}

	if join, ok := msg.(protocol.Join); ok {
		e.handleJoin(s, join)
		return
	}
	if !s.joined {
		e.drop(DropNotJoined)
		return
	}

	id := s.conn.ID()
	switch m := msg.(type) {
	case protocol.Move:
		e.moveAvatar(id, m.Position, m.Rotation)
	case protocol.PlaceBlock:
		if !e.placeBlock(id, m.Pos, m.Type) {
			e.correctEdit(s, msg)
		}
	case protocol.BreakBlock:
		if !e.breakBlock(id, m.Pos) {
			e.correctEdit(s, msg)
		}
	}
}

// correctEdit tells the sender of an absorbed place or break what the cell
// actually holds, so its optimistic local edit is undone.
func (e *Engine) correctEdit(s *session, msg protocol.ClientMessage) {
	var pos cube.Pos
	switch m := msg.(type) {
	case protocol.PlaceBlock:
		pos = m.Pos
	case protocol.BreakBlock:
		pos = m.Pos
	default:
		return
	}
	var frame []byte
	if v, ok := e.world.Block(pos); ok {
		frame = e.encode(protocol.EventBlockPlaced, protocol.BlockFromVoxel(v))
	} else {
		frame = e.encode(protocol.EventBlockBroken, protocol.BlockRef{X: pos.X(), Y: pos.Y(), Z: pos.Z()})
	}
	if frame != nil {
		s.conn.Send(frame)
	}
}

func (e *Engine) handleJoin(s *session, m protocol.Join) {
	if s.joined {
		e.drop(DropDuplicateJoin)
		return
	}
	name := m.Name
	if name == "" {
		name = fmt.Sprintf("Player%d", e.avatars.Len()+1)
	}

	a := &Avatar{ID: s.conn.ID(), Name: name, Position: e.cfg.Spawn, JoinedAt: time.Now()}
	s.joined = true

	players := make([]protocol.Player, 0, e.avatars.Len())
	for el := e.avatars.Front(); el != nil; el = el.Next() {
		players = append(players, el.Value.Wire())
	}
	voxels := e.world.Voxels()
	blocks := make([]protocol.Block, len(voxels))
	for i, v := range voxels {
		blocks[i] = protocol.BlockFromVoxel(v)
	}
	init := protocol.Init{PlayerID: a.ID, Players: players, Blocks: blocks, Generated: e.generated}
	if frame := e.encode(protocol.EventInit, init); frame != nil {
		s.conn.Send(frame)
	}

	e.addAvatar(a)
}

// addAvatar records the avatar and announces it to every other joined session.
func (e *Engine) addAvatar(a *Avatar) {
	e.avatars.Set(a.ID, a)
	e.broadcast(e.encode(protocol.EventPlayerJoined, a.Wire()), a.ID)
	e.eventLog.EmitSimple(EventTypePlayerJoin, a.ID, PlayerJoinPayload{
		PlayerID:   a.ID,
		PlayerName: a.Name,
		Bot:        a.Bot,
		SpawnX:     a.Position.X,
		SpawnY:     a.Position.Y,
		SpawnZ:     a.Position.Z,
	})
	if !a.Bot {
		log.Printf("👤 Player joined: %s (%d online)", a.Name, e.avatars.Len())
	}
}

func (e *Engine) removeAvatar(id string) {
	a, ok := e.avatars.Get(id)
	if !ok {
		return
	}
	e.avatars.Delete(id)
	e.broadcast(e.encode(protocol.EventPlayerLeft, id), "")
	e.eventLog.EmitSimple(EventTypePlayerLeave, id, PlayerLeavePayload{PlayerID: id, PlayerName: a.Name})
	if !a.Bot {
		log.Printf("👋 Player left: %s (%d online)", a.Name, e.avatars.Len())
	}
}

// moveAvatar stores the reported transform and relays it to everyone but
// the mover.
func (e *Engine) moveAvatar(id string, pos protocol.Vec3, rot protocol.Rotation) {
	a, ok := e.avatars.Get(id)
	if !ok {
		return
	}
	a.Position = pos
	a.Rotation = rot
	e.broadcast(e.encode(protocol.EventPlayerMoved, protocol.PlayerMoved{ID: id, Position: pos, Rotation: rot}), id)
}

func (e *Engine) placeBlock(actor string, pos cube.Pos, t world.BlockType) bool {
	if !e.world.PlaceBlock(pos, t) {
		return false
	}
	e.eventLog.EmitSimple(EventTypeBlockPlace, actor, BlockPayload{X: pos.X(), Y: pos.Y(), Z: pos.Z(), BlockType: string(t)})
	return true
}

func (e *Engine) breakBlock(actor string, pos cube.Pos) bool {
	if !e.world.BreakBlock(pos) {
		return false
	}
	e.eventLog.EmitSimple(EventTypeBlockBreak, actor, BlockPayload{X: pos.X(), Y: pos.Y(), Z: pos.Z()})
	return true
}

// broadcast sends frame to every joined session except the one named.
func (e *Engine) broadcast(frame []byte, except string) {
	if frame == nil {
		return
	}
	for id, s := range e.sessions {
		if !s.joined || id == except {
			continue
		}
		s.conn.Send(frame)
	}
}

func (e *Engine) encode(event string, data any) []byte {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		log.Printf("⚠️ Failed to encode %s: %v", event, err)
		return nil
	}
	return frame
}

func (e *Engine) drop(reason string) {
	e.dropped[reason]++
	if e.hooks.OnDrop != nil {
		e.hooks.OnDrop(reason)
	}
}

func (e *Engine) reject(reason, remote string) {
	log.Printf("⚠️ Connection rejected (%s): %s", reason, remote)
	e.eventLog.EmitSimple(EventTypeReject, "", RejectPayload{Reason: reason, Remote: remote})
	if e.hooks.OnReject != nil {
		e.hooks.OnReject(reason)
	}
}

// worldObserver turns canonical world mutations into broadcasts to every
// joined session, the originator included.
type worldObserver struct{ e *Engine }

func (o worldObserver) BlockAdded(v world.Voxel) {
	o.e.mutated("place")
	o.e.broadcast(o.e.encode(protocol.EventBlockPlaced, protocol.BlockFromVoxel(v)), "")
}

func (o worldObserver) BlockRemoved(pos cube.Pos) {
	o.e.mutated("break")
	o.e.broadcast(o.e.encode(protocol.EventBlockBroken, protocol.BlockRef{X: pos.X(), Y: pos.Y(), Z: pos.Z()}), "")
}

func (e *Engine) mutated(op string) {
	e.mutations++
	e.digestDirty = true
	if e.hooks.OnMutation != nil {
		e.hooks.OnMutation(op)
	}
}

// loopHost exposes the engine to code running inside Exec.
type loopHost struct{ e *Engine }

func (h loopHost) World() *world.World { return h.e.world }

func (h loopHost) Join(id, name string, pos protocol.Vec3, rot protocol.Rotation) {
	h.e.addAvatar(&Avatar{ID: id, Name: name, Bot: true, Position: pos, Rotation: rot, JoinedAt: time.Now()})
}

func (h loopHost) Leave(id string) { h.e.removeAvatar(id) }

func (h loopHost) Move(id string, pos protocol.Vec3, rot protocol.Rotation) {
	h.e.moveAvatar(id, pos, rot)
}

func (h loopHost) PlaceBlock(pos cube.Pos, t world.BlockType) bool {
	return h.e.placeBlock("", pos, t)
}

func (h loopHost) BreakBlock(pos cube.Pos) bool {
	return h.e.breakBlock("", pos)
}

// Package mirror keeps a client's local copy of the shared world in step with
// the relay by applying server frames in the order they arrive.
package mirror

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/go-gl/mathgl/mgl64"

	"github.com/kaikoh95/klaw-craft/internal/protocol"
	"github.com/kaikoh95/klaw-craft/internal/world"
)

// Smoothing is the per-frame blend factor toward a remote's reported position.
const Smoothing = 0.3

// ErrNotice wraps an error event sent by the server (full, shutting down).
var ErrNotice = errors.New("server notice")

// Remote is another avatar as seen by this client.
type Remote struct {
	ID       string
	Name     string
	Position mgl64.Vec3 // rendered, trails Target
	Target   mgl64.Vec3
	Rotation protocol.Rotation
}

// Mirror is a client-side replica. Like world.World it is owned by a single
// goroutine.
type Mirror struct {
	world   *world.World
	extent  int
	selfID  string
	remotes *orderedmap.OrderedMap[string, *Remote]
}

// New returns an empty mirror. When the server's init carries no terrain, a
// square of terrain of the given extent is generated locally.
func New(extent int) *Mirror {
	return &Mirror{
		world:   world.New(),
		extent:  extent,
		remotes: orderedmap.NewOrderedMap[string, *Remote](),
	}
}

// World returns the local voxel store.
func (m *Mirror) World() *world.World { return m.world }

// SelfID returns the id assigned by the last init, or "" before joining.
func (m *Mirror) SelfID() string { return m.selfID }

// SetObserver installs the visual observer for local block changes.
func (m *Mirror) SetObserver(o world.Observer) { m.world.SetObserver(o) }

// ApplyFrame decodes one server frame and applies it.
func (m *Mirror) ApplyFrame(frame []byte) error {
	env, err := protocol.Decode(frame)
	if err != nil {
		return err
	}
	return m.Apply(env)
}

// Apply applies one server message. Unknown events and malformed payloads
// return an error and leave the mirror unchanged.
func (m *Mirror) Apply(env protocol.Envelope) error {
	switch env.Event {
	case protocol.EventInit:
		var init protocol.Init
		if err := decode(env, &init); err != nil {
			return err
		}
		m.applyInit(init)

	case protocol.EventPlayerJoined:
		var p protocol.Player
		if err := decode(env, &p); err != nil {
			return err
		}
		if p.ID != m.selfID {
			m.addRemote(p)
		}

	case protocol.EventPlayerLeft:
		var id string
		if err := decode(env, &id); err != nil {
			return err
		}
		m.remotes.Delete(id)

	case protocol.EventPlayerMoved:
		var mv protocol.PlayerMoved
		if err := decode(env, &mv); err != nil {
			return err
		}
		if r, ok := m.remotes.Get(mv.ID); ok {
			r.Target = vec(mv.Position)
			r.Rotation = mv.Rotation
		}

	case protocol.EventBlockPlaced:
		var b protocol.Block
		if err := decode(env, &b); err != nil {
			return err
		}
		if !b.BlockType.Valid() {
			return fmt.Errorf("%w: blockType %q", protocol.ErrInvalidPayload, b.BlockType)
		}
		// Server frames win over optimistic local edits.
		m.world.SetBlock(b.Pos(), b.BlockType)

	case protocol.EventBlockBroken:
		var ref protocol.BlockRef
		if err := decode(env, &ref); err != nil {
			return err
		}
		m.world.ClearBlock(ref.Pos())

	case protocol.EventError:
		var n protocol.ErrorNotice
		if err := decode(env, &n); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrNotice, n.Message)

	default:
		return fmt.Errorf("%w: %q", protocol.ErrUnknownEvent, env.Event)
	}
	return nil
}

// applyInit replaces the local state with the post-join snapshot.
func (m *Mirror) applyInit(init protocol.Init) {
	m.selfID = init.PlayerID
	m.world.Reset()
	m.remotes = orderedmap.NewOrderedMap[string, *Remote]()

	if !init.Generated && m.extent > 0 {
		m.world.GenerateTerrain(0, 0, m.extent)
	}
	for _, b := range init.Blocks {
		if b.BlockType.Valid() {
			m.world.PlaceBlock(b.Pos(), b.BlockType)
		}
	}
	for _, p := range init.Players {
		if p.ID != m.selfID {
			m.addRemote(p)
		}
	}
}

func (m *Mirror) addRemote(p protocol.Player) {
	pos := vec(p.Position)
	m.remotes.Set(p.ID, &Remote{
		ID:       p.ID,
		Name:     p.Name,
		Position: pos,
		Target:   pos,
		Rotation: p.Rotation,
	})
}

// Interpolate advances every remote one frame toward its target position.
// Rotation is applied as reported.
func (m *Mirror) Interpolate() {
	for el := m.remotes.Front(); el != nil; el = el.Next() {
		r := el.Value
		r.Position = r.Position.Add(r.Target.Sub(r.Position).Mul(Smoothing))
	}
}

// Remote returns one remote avatar.
func (m *Mirror) Remote(id string) (Remote, bool) {
	r, ok := m.remotes.Get(id)
	if !ok {
		return Remote{}, false
	}
	return *r, true
}

// Remotes returns copies of every remote avatar in join order.
func (m *Mirror) Remotes() []Remote {
	out := make([]Remote, 0, m.remotes.Len())
	for el := m.remotes.Front(); el != nil; el = el.Next() {
		out = append(out, *el.Value)
	}
	return out
}

func decode(env protocol.Envelope, v any) error {
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", protocol.ErrInvalidPayload, env.Event, err)
	}
	return nil
}

func vec(v protocol.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{v.X, v.Y, v.Z}
}

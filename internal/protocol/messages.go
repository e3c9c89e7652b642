// Package protocol defines the websocket wire format: a JSON envelope of
// {"event", "data"} carrying the join / move / block-edit messages and the
// server's relays of them.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/df-mc/dragonfly/server/block/cube"

	"github.com/kaikoh95/klaw-craft/internal/world"
)

// Event names.
const (
	// client -> server
	EventJoin       = "join"
	EventMove       = "move"
	EventPlaceBlock = "placeBlock"
	EventBreakBlock = "breakBlock"

	// server -> client
	EventInit         = "init"
	EventPlayerJoined = "playerJoined"
	EventPlayerMoved  = "playerMoved"
	EventPlayerLeft   = "playerLeft"
	EventBlockPlaced  = "blockPlaced"
	EventBlockBroken  = "blockBroken"
	EventError        = "error"
)

// User-visible error notices.
const (
	MsgServerFull     = "Server is full"
	MsgShuttingDown   = "Server is shutting down"
	MaxNameLength     = 24
	MaxCoordMagnitude = 10000
)

// Envelope is the outer frame of every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Vec3 is a wire position.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Rotation carries pitch in X and yaw in Y.
type Rotation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Player is an avatar as announced to peers.
type Player struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Position Vec3     `json:"position"`
	Rotation Rotation `json:"rotation"`
}

// Block is a voxel on the wire.
type Block struct {
	X         int             `json:"x"`
	Y         int             `json:"y"`
	Z         int             `json:"z"`
	BlockType world.BlockType `json:"blockType"`
}

// BlockFromVoxel converts a stored voxel to its wire form.
func BlockFromVoxel(v world.Voxel) Block {
	return Block{X: v.X(), Y: v.Y(), Z: v.Z(), BlockType: v.Type}
}

// Pos returns the block's coordinate.
func (b Block) Pos() cube.Pos {
	return cube.Pos{b.X, b.Y, b.Z}
}

// BlockRef addresses a voxel without a material, as in breakBlock.
type BlockRef struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Pos returns the referenced coordinate.
func (b BlockRef) Pos() cube.Pos {
	return cube.Pos{b.X, b.Y, b.Z}
}

// Init is the post-join snapshot. Players lists everyone except the receiver.
// Generated is true when Blocks already holds terrain, so the receiver must
// not generate its own.
type Init struct {
	PlayerID  string   `json:"playerId"`
	Players   []Player `json:"players"`
	Blocks    []Block  `json:"blocks"`
	Generated bool     `json:"generated"`
}

// PlayerMoved relays a transform update.
type PlayerMoved struct {
	ID       string   `json:"id"`
	Position Vec3     `json:"position"`
	Rotation Rotation `json:"rotation"`
}

// ErrorNotice is the payload of the error event.
type ErrorNotice struct {
	Message string `json:"message"`
}

// Encode wraps data in an envelope.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Decode splits a frame into its event name and raw payload.
func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event", ErrMalformed)
	}
	return env, nil
}

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/df-mc/dragonfly/server/block/cube"

	"github.com/kaikoh95/klaw-craft/internal/world"
)

var (
	// ErrMalformed is returned for frames that are not a valid envelope.
	ErrMalformed = errors.New("malformed frame")
	// ErrUnknownEvent is returned for events clients may not send.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrInvalidPayload is returned when a known event carries bad data.
	ErrInvalidPayload = errors.New("invalid payload")
)

// ClientMessage is one of Join, Move, PlaceBlock or BreakBlock.
type ClientMessage interface {
	Event() string
}

// Join asks to spawn an avatar. Name is already sanitised and may be empty.
type Join struct {
	Name string
}

// Move reports the sender's transform.
type Move struct {
	Position Vec3     `json:"position"`
	Rotation Rotation `json:"rotation"`
}

// PlaceBlock asks to add a voxel.
type PlaceBlock struct {
	Pos  cube.Pos
	Type world.BlockType
}

// BreakBlock asks to remove a voxel.
type BreakBlock struct {
	Pos cube.Pos
}

func (Join) Event() string       { return EventJoin }
func (Move) Event() string       { return EventMove }
func (PlaceBlock) Event() string { return EventPlaceBlock }
func (BreakBlock) Event() string { return EventBreakBlock }

// DecodeClient parses and validates a client frame. Any error means the
// frame must be dropped without a reply.
func DecodeClient(b []byte) (ClientMessage, error) {
	env, err := Decode(b)
	if err != nil {
		return nil, err
	}

	switch env.Event {
	case EventJoin:
		return decodeJoin(env.Data)
	case EventMove:
		return decodeMove(env.Data)
	case EventPlaceBlock:
		return decodePlace(env.Data)
	case EventBreakBlock:
		return decodeBreak(env.Data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

func decodeJoin(data json.RawMessage) (ClientMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Join{}, nil
	}

	var name string
	if data[0] == '{' {
		var obj struct {
			Name *string `json:"name"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, invalid(EventJoin, err)
		}
		if obj.Name != nil {
			name = *obj.Name
		}
	} else if err := json.Unmarshal(data, &name); err != nil {
		return nil, invalid(EventJoin, err)
	}
	return Join{Name: SanitizeName(name)}, nil
}

type rawVec3 struct {
	X, Y, Z *float64
}

type rawRotation struct {
	X, Y *float64
}

func decodeMove(data json.RawMessage) (ClientMessage, error) {
	var raw struct {
		Position *rawVec3     `json:"position"`
		Rotation *rawRotation `json:"rotation"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, invalid(EventMove, err)
	}
	if raw.Position == nil || raw.Rotation == nil {
		return nil, invalid(EventMove, errors.New("missing position or rotation"))
	}

	p, r := raw.Position, raw.Rotation
	for _, v := range []*float64{p.X, p.Y, p.Z, r.X, r.Y} {
		if !validCoord(v) {
			return nil, invalid(EventMove, errors.New("coordinate out of range"))
		}
	}
	return Move{
		Position: Vec3{X: *p.X, Y: *p.Y, Z: *p.Z},
		Rotation: Rotation{X: *r.X, Y: *r.Y},
	}, nil
}

type rawBlock struct {
	X, Y, Z   *float64
	BlockType *string `json:"blockType"`
}

func (b rawBlock) pos(event string) (cube.Pos, error) {
	for _, v := range []*float64{b.X, b.Y, b.Z} {
		if !validCoord(v) || *v != math.Trunc(*v) {
			return cube.Pos{}, invalid(event, errors.New("coordinates must be bounded integers"))
		}
	}
	return cube.Pos{int(*b.X), int(*b.Y), int(*b.Z)}, nil
}

func decodePlace(data json.RawMessage) (ClientMessage, error) {
	var raw rawBlock
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, invalid(EventPlaceBlock, err)
	}
	pos, err := raw.pos(EventPlaceBlock)
	if err != nil {
		return nil, err
	}
	if raw.BlockType == nil {
		return nil, invalid(EventPlaceBlock, errors.New("missing blockType"))
	}
	t, err := world.ParseBlockType(*raw.BlockType)
	if err != nil {
		return nil, invalid(EventPlaceBlock, err)
	}
	return PlaceBlock{Pos: pos, Type: t}, nil
}

func decodeBreak(data json.RawMessage) (ClientMessage, error) {
	var raw rawBlock
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, invalid(EventBreakBlock, err)
	}
	pos, err := raw.pos(EventBreakBlock)
	if err != nil {
		return nil, err
	}
	return BreakBlock{Pos: pos}, nil
}

func validCoord(v *float64) bool {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return false
	}
	return math.Abs(*v) < MaxCoordMagnitude
}

func invalid(event string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, event, err)
}

// SanitizeName strips control and markup characters, trims surrounding
// whitespace and truncates to MaxNameLength runes.
func SanitizeName(name string) string {
	if !utf8.ValidString(name) {
		name = strings.ToValidUTF8(name, "")
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune("<>&\"'`", r) {
			return -1
		}
		return r
	}, name)
	cleaned = strings.TrimSpace(cleaned)

	if utf8.RuneCountInString(cleaned) > MaxNameLength {
		cleaned = strings.TrimSpace(string([]rune(cleaned)[:MaxNameLength]))
	}
	return cleaned
}

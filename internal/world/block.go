package world

import (
	"fmt"

	"github.com/df-mc/dragonfly/server/block/cube"
)

// BlockType is the material tag of a voxel. It travels on the wire as-is.
type BlockType string

const (
	Grass  BlockType = "grass"
	Dirt   BlockType = "dirt"
	Stone  BlockType = "stone"
	Wood   BlockType = "wood"
	Sand   BlockType = "sand"
	Water  BlockType = "water"
	Leaves BlockType = "leaves"
)

// AllBlockTypes lists every material in palette order.
var AllBlockTypes = []BlockType{Grass, Dirt, Stone, Wood, Sand, Water, Leaves}

// Valid reports whether t is a known material.
func (t BlockType) Valid() bool {
	switch t {
	case Grass, Dirt, Stone, Wood, Sand, Water, Leaves:
		return true
	}
	return false
}

// Solid reports whether avatars collide with this material.
func (t BlockType) Solid() bool {
	return t != Water
}

// Breakable reports whether the material may be removed by a player.
func (t BlockType) Breakable() bool {
	return t != Water
}

// Color returns the display color of the material as a hex string.
func (t BlockType) Color() string {
	switch t {
	case Grass:
		return "#7cbd6b"
	case Dirt:
		return "#8b5a3c"
	case Stone:
		return "#808080"
	case Wood:
		return "#8b6914"
	case Sand:
		return "#f4e7c7"
	case Water:
		return "#4a90e2"
	case Leaves:
		return "#4f8f3a"
	}
	return "#ff00ff"
}

// ParseBlockType converts a wire tag into a BlockType.
func ParseBlockType(s string) (BlockType, error) {
	t := BlockType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown block type %q", s)
	}
	return t, nil
}

// Voxel is a single block at an integer coordinate.
type Voxel struct {
	Pos  cube.Pos
	Type BlockType
}

// X returns the voxel's x coordinate.
func (v Voxel) X() int { return v.Pos.X() }

// Y returns the voxel's y coordinate.
func (v Voxel) Y() int { return v.Pos.Y() }

// Z returns the voxel's z coordinate.
func (v Voxel) Z() int { return v.Pos.Z() }

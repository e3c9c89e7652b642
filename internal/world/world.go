// Package world holds the sparse voxel store shared by the relay server, the
// AI bots and client mirrors.
//
// A World is NOT safe for concurrent use. The server keeps exactly one
// instance and only touches it from the engine loop; each client keeps its own
// mirror and applies server events sequentially.
package world

import (
	"cmp"
	"encoding/binary"
	"math"
	"slices"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/zeebo/xxh3"
)

const (
	// ProtectedFloorY is the highest layer that can never be broken.
	ProtectedFloorY = 1

	// groundScanTop is where GroundHeight starts scanning downward.
	groundScanTop = 30
)

// Observer receives the side effects of successful mutations. The server uses
// it to broadcast, a client mirror uses it to add and remove visuals.
type Observer interface {
	BlockAdded(v Voxel)
	BlockRemoved(pos cube.Pos)
}

// World is a sparse map of voxels keyed by integer coordinate. A missing key
// is air.
type World struct {
	voxels   map[cube.Pos]BlockType
	observer Observer
	maxY     int
}

// New returns an empty world.
func New() *World {
	return &World{voxels: make(map[cube.Pos]BlockType)}
}

// SetObserver installs the mutation observer. Passing nil disables it.
func (w *World) SetObserver(o Observer) {
	w.observer = o
}

// Reset drops every voxel without notifying the observer.
func (w *World) Reset() {
	clear(w.voxels)
	w.maxY = 0
}

// Len returns the number of stored voxels.
func (w *World) Len() int {
	return len(w.voxels)
}

// PlaceBlock inserts a voxel. It is a no-op returning false when the
// coordinate is already occupied, whatever the existing material.
func (w *World) PlaceBlock(pos cube.Pos, t BlockType) bool {
	if _, ok := w.voxels[pos]; ok {
		return false
	}
	w.voxels[pos] = t
	if pos.Y() > w.maxY {
		w.maxY = pos.Y()
	}
	if w.observer != nil {
		w.observer.BlockAdded(Voxel{Pos: pos, Type: t})
	}
	return true
}

// BreakBlock removes the voxel at pos. Empty coordinates, water and anything
// at or below ProtectedFloorY are left untouched and false is returned.
func (w *World) BreakBlock(pos cube.Pos) bool {
	t, ok := w.voxels[pos]
	if !ok || !t.Breakable() || pos.Y() <= ProtectedFloorY {
		return false
	}
	delete(w.voxels, pos)
	if w.observer != nil {
		w.observer.BlockRemoved(pos)
	}
	return true
}

// SetBlock stores t at pos, replacing whatever occupies it. Replicas use it
// to adopt the relay's state for a cell. It returns false when pos already
// holds t.
func (w *World) SetBlock(pos cube.Pos, t BlockType) bool {
	if old, ok := w.voxels[pos]; ok {
		if old == t {
			return false
		}
		delete(w.voxels, pos)
		if w.observer != nil {
			w.observer.BlockRemoved(pos)
		}
	}
	return w.PlaceBlock(pos, t)
}

// ClearBlock empties pos without the BreakBlock rules.
func (w *World) ClearBlock(pos cube.Pos) bool {
	if _, ok := w.voxels[pos]; !ok {
		return false
	}
	delete(w.voxels, pos)
	if w.observer != nil {
		w.observer.BlockRemoved(pos)
	}
	return true
}

// Block returns the voxel at pos, if any.
func (w *World) Block(pos cube.Pos) (Voxel, bool) {
	t, ok := w.voxels[pos]
	if !ok {
		return Voxel{}, false
	}
	return Voxel{Pos: pos, Type: t}, true
}

// IsSolid reports whether the point collides. Everything at y <= 0 is the
// implicit world floor; above that the floored cell must hold a non-water voxel.
func (w *World) IsSolid(x, y, z float64) bool {
	if y <= 0 {
		return true
	}
	t, ok := w.voxels[floorPos(x, y, z)]
	return ok && t.Solid()
}

// IsWater reports whether the floored cell holds water.
func (w *World) IsWater(x, y, z float64) bool {
	t, ok := w.voxels[floorPos(x, y, z)]
	return ok && t == Water
}

// GroundHeight returns the y an avatar standing at (x, z) rests on: one above
// the highest non-water voxel found scanning down from groundScanTop, or one
// above the terrain height when the column is empty.
func (w *World) GroundHeight(x, z float64) int {
	ix, iz := int(math.Floor(x)), int(math.Floor(z))
	for y := groundScanTop; y >= 0; y-- {
		if t, ok := w.voxels[cube.Pos{ix, y, iz}]; ok && t != Water {
			return y + 1
		}
	}
	return TerrainHeight(float64(ix), float64(iz)) + 1
}

// HighestAt returns the topmost voxel of the column (x, z), water included.
func (w *World) HighestAt(x, z int) (Voxel, bool) {
	for y := w.maxY; y >= 0; y-- {
		pos := cube.Pos{x, y, z}
		if t, ok := w.voxels[pos]; ok {
			return Voxel{Pos: pos, Type: t}, true
		}
	}
	return Voxel{}, false
}

// Voxels returns every stored voxel ordered by Y, then X, then Z.
func (w *World) Voxels() []Voxel {
	out := make([]Voxel, 0, len(w.voxels))
	for pos, t := range w.voxels {
		out = append(out, Voxel{Pos: pos, Type: t})
	}
	slices.SortFunc(out, func(a, b Voxel) int {
		if c := cmp.Compare(a.Y(), b.Y()); c != 0 {
			return c
		}
		if c := cmp.Compare(a.X(), b.X()); c != 0 {
			return c
		}
		return cmp.Compare(a.Z(), b.Z())
	})
	return out
}

// Digest hashes the full voxel set. Two worlds with set-equal contents have
// the same digest regardless of insertion order.
func (w *World) Digest() uint64 {
	h := xxh3.New()
	var buf [24]byte
	for _, v := range w.Voxels() {
		binary.LittleEndian.PutUint64(buf[0:], uint64(int64(v.X())))
		binary.LittleEndian.PutUint64(buf[8:], uint64(int64(v.Y())))
		binary.LittleEndian.PutUint64(buf[16:], uint64(int64(v.Z())))
		_, _ = h.Write(buf[:])
		_, _ = h.Write([]byte(v.Type))
	}
	return h.Sum64()
}

func floorPos(x, y, z float64) cube.Pos {
	return cube.Pos{int(math.Floor(x)), int(math.Floor(y)), int(math.Floor(z))}
}

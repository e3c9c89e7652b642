package physics

import (
	"math"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
)

// Reach is how far an avatar can target blocks.
const Reach = 5.0

// eyeDrop is the distance from the top of the box down to the eyes.
const eyeDrop = 0.2

// Hit is the result of a block raycast. Adjacent is the empty cell the ray
// passed through just before Pos, where a new block would be placed.
type Hit struct {
	Pos      cube.Pos
	Adjacent cube.Pos
	Distance float64
}

// Eye returns the camera position of the body.
func (b *Body) Eye(p Params) mgl64.Vec3 {
	return b.Position.Add(mgl64.Vec3{0, p.Height - eyeDrop, 0})
}

// Look returns the unit view direction including pitch.
func (b *Body) Look() mgl64.Vec3 {
	cp := math.Cos(b.Pitch)
	return mgl64.Vec3{-math.Sin(b.Yaw) * cp, math.Sin(b.Pitch), -math.Cos(b.Yaw) * cp}
}

// Target casts the body's view ray and returns the first solid block in reach.
func (b *Body) Target(s Solidity, p Params) (Hit, bool) {
	return Raycast(s, b.Eye(p), b.Look(), Reach)
}

// Raycast walks the voxel grid from origin along dir and returns the first
// solid cell within reach. A ray starting inside a solid cell hits it at
// distance 0 with Adjacent equal to Pos.
func Raycast(s Solidity, origin, dir mgl64.Vec3, reach float64) (Hit, bool) {
	if dir.Len() == 0 {
		return Hit{}, false
	}
	dir = dir.Normalize()

	var cell, step [3]int
	var tMax, tDelta [3]float64
	for i := 0; i < 3; i++ {
		cell[i] = int(math.Floor(origin[i]))
		switch {
		case dir[i] > 0:
			step[i] = 1
			tMax[i] = (float64(cell[i]+1) - origin[i]) / dir[i]
			tDelta[i] = 1 / dir[i]
		case dir[i] < 0:
			step[i] = -1
			tMax[i] = (origin[i] - float64(cell[i])) / -dir[i]
			tDelta[i] = -1 / dir[i]
		default:
			tMax[i] = math.Inf(1)
			tDelta[i] = math.Inf(1)
		}
	}

	prev := cell
	for t := 0.0; t <= reach; {
		if s.IsSolid(float64(cell[0]), float64(cell[1]), float64(cell[2])) {
			return Hit{Pos: cube.Pos(cell), Adjacent: cube.Pos(prev), Distance: t}, true
		}
		prev = cell
		axis := 0
		if tMax[1] < tMax[axis] {
			axis = 1
		}
		if tMax[2] < tMax[axis] {
			axis = 2
		}
		t = tMax[axis]
		cell[axis] += step[axis]
		tMax[axis] += tDelta[axis]
	}
	return Hit{}, false
}

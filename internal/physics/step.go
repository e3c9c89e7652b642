package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	// touchEpsilon absorbs float drift when deciding which side of a face the
	// body started on. It must exceed the 1e-5 tolerance of BBox.IntersectsWith.
	touchEpsilon = 1e-4
	// maxStride is the longest per-axis distance covered by one substep.
	maxStride     = 0.5
	maxSubsteps   = 32
	resolvePasses = 4
)

// Solidity is the world query the integrator collides against.
type Solidity interface {
	IsSolid(x, y, z float64) bool
}

// Step advances the body by dt using the default params.
func Step(s Solidity, b *Body, in Input, dt float64) {
	DefaultParams().Step(s, b, in, dt)
}

// Step advances the body by dt: gravity, intent velocity or friction, jump,
// integration, then per-cell collision clamping in Y, X, Z order.
//
// The check is discrete. Movement is split into substeps of at most maxStride
// per axis, up to maxSubsteps, so only very fast bodies can pass through thin
// geometry.
func (p Params) Step(s Solidity, b *Body, in Input, dt float64) {
	b.Velocity[1] += p.Gravity * dt

	if in.Moving() {
		var dir mgl64.Vec3
		if in.Forward {
			dir = dir.Add(b.Forward())
		}
		if in.Backward {
			dir = dir.Sub(b.Forward())
		}
		if in.Right {
			dir = dir.Add(b.Right())
		}
		if in.Left {
			dir = dir.Sub(b.Right())
		}
		if dir.Len() > 0 {
			dir = dir.Normalize().Mul(p.Speed)
		}
		b.Velocity[0], b.Velocity[2] = dir.X(), dir.Z()
	} else {
		b.Velocity[0] *= p.Friction
		b.Velocity[2] *= p.Friction
	}

	if in.Jump && b.Grounded {
		b.Velocity[1] = p.JumpImpulse
	}
	b.Grounded = false

	n := substeps(b.Velocity.Mul(dt))
	h := dt / float64(n)
	for i := 0; i < n; i++ {
		b.Position = p.resolve(s, b, b.Position.Add(b.Velocity.Mul(h)))
	}
}

func substeps(d mgl64.Vec3) int {
	longest := math.Max(math.Abs(d.X()), math.Max(math.Abs(d.Y()), math.Abs(d.Z())))
	n := int(math.Ceil(longest / maxStride))
	return min(max(n, 1), maxSubsteps)
}

// resolve clamps next against every solid cell the swept box overlaps. Each
// cell is visited in ascending Y, X, Z order and tested against the box as
// clamped so far. A clamp can push the box into a cell already visited, so
// the sweep repeats until nothing moves. If the box still overlaps after
// resolvePasses, the substep is cancelled.
func (p Params) resolve(s Solidity, b *Body, next mgl64.Vec3) mgl64.Vec3 {
	prev := b.Position

	for pass := 0; pass < resolvePasses; pass++ {
		lo, hi := p.cellRange(prev, next)
		clamped := false
		for y := lo[1]; y <= hi[1]; y++ {
			for x := lo[0]; x <= hi[0]; x++ {
				for z := lo[2]; z <= hi[2]; z++ {
					if !s.IsSolid(float64(x), float64(y), float64(z)) {
						continue
					}
					if !boxAt(next, p).IntersectsWith(cellBox(x, y, z)) {
						continue
					}
					next = p.clampCell(b, prev, next, x, y, z)
					clamped = true
				}
			}
		}
		if !clamped {
			return next
		}
	}

	if p.Overlaps(s, next) && !p.Overlaps(s, prev) {
		b.Velocity = mgl64.Vec3{}
		return prev
	}
	return next
}

// Overlaps reports whether a body with its feet at pos intersects any solid
// cell.
func (p Params) Overlaps(s Solidity, pos mgl64.Vec3) bool {
	box := boxAt(pos, p)
	lo, hi := p.cellRange(pos, pos)
	for y := lo[1]; y <= hi[1]; y++ {
		for x := lo[0]; x <= hi[0]; x++ {
			for z := lo[2]; z <= hi[2]; z++ {
				if s.IsSolid(float64(x), float64(y), float64(z)) && box.IntersectsWith(cellBox(x, y, z)) {
					return true
				}
			}
		}
	}
	return false
}

// cellRange returns the cells covered by the boxes at a and b together.
func (p Params) cellRange(a, b mgl64.Vec3) (lo, hi [3]int) {
	lo = [3]int{
		floor(math.Min(a.X(), b.X()) - p.Radius),
		floor(math.Min(a.Y(), b.Y())),
		floor(math.Min(a.Z(), b.Z()) - p.Radius),
	}
	hi = [3]int{
		floor(math.Max(a.X(), b.X()) + p.Radius),
		floor(math.Max(a.Y(), b.Y()) + p.Height),
		floor(math.Max(a.Z(), b.Z()) + p.Radius),
	}
	return lo, hi
}

// clampCell pushes next out of one overlapping cell along the first axis
// whose boundary was crossed this step.
func (p Params) clampCell(b *Body, prev, next mgl64.Vec3, x, y, z int) mgl64.Vec3 {
	fx, fy, fz := float64(x), float64(y), float64(z)

	const e = touchEpsilon
	switch {
	case prev.Y() >= fy+1-e && next.Y() < fy+1:
		next[1] = fy + 1
		b.Velocity[1] = 0
		b.Grounded = true
	case prev.Y()+p.Height <= fy+e && next.Y()+p.Height > fy:
		next[1] = fy - p.Height
		b.Velocity[1] = 0
	case prev.X()-p.Radius >= fx+1-e && next.X()-p.Radius < fx+1:
		next[0] = fx + 1 + p.Radius
		b.Velocity[0] = 0
	case prev.X()+p.Radius <= fx+e && next.X()+p.Radius > fx:
		next[0] = fx - p.Radius
		b.Velocity[0] = 0
	case prev.Z()-p.Radius >= fz+1-e && next.Z()-p.Radius < fz+1:
		next[2] = fz + 1 + p.Radius
		b.Velocity[2] = 0
	case prev.Z()+p.Radius <= fz+e && next.Z()+p.Radius > fz:
		next[2] = fz - p.Radius
		b.Velocity[2] = 0
	default:
		next = p.pushOut(b, next, fx, fy, fz)
	}
	return next
}

// pushOut handles a body that already overlapped the cell before the step,
// such as one spawned inside terrain: it exits along the shallowest face.
func (p Params) pushOut(b *Body, next mgl64.Vec3, fx, fy, fz float64) mgl64.Vec3 {
	up := fy + 1 - next.Y()
	down := next.Y() + p.Height - fy
	east := fx + 1 - (next.X() - p.Radius)
	west := next.X() + p.Radius - fx
	south := fz + 1 - (next.Z() - p.Radius)
	north := next.Z() + p.Radius - fz

	least := math.Min(up, math.Min(down, math.Min(east, math.Min(west, math.Min(south, north)))))
	// Feet sunk into a cell below the waist step up out of it.
	if next.Y() > fy && fy+1 <= next.Y()+p.Height/2 {
		least = up
	}
	switch least {
	case up:
		next[1] = fy + 1
		b.Velocity[1] = 0
		b.Grounded = true
	case down:
		next[1] = fy - p.Height
		b.Velocity[1] = 0
	case east:
		next[0] = fx + 1 + p.Radius
		b.Velocity[0] = 0
	case west:
		next[0] = fx - p.Radius
		b.Velocity[0] = 0
	case south:
		next[2] = fz + 1 + p.Radius
		b.Velocity[2] = 0
	default:
		next[2] = fz - p.Radius
		b.Velocity[2] = 0
	}
	return next
}

func floor(v float64) int {
	return int(math.Floor(v))
}

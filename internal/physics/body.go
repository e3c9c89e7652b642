// Package physics implements the discrete AABB-vs-voxel movement integrator
// shared by human-style clients. Bots walk with a simpler ground-snap model
// and never call into it.
package physics

import (
	"math"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
)

// LookSensitivity converts pointer deltas into radians.
const LookSensitivity = 0.002

// maxPitch keeps the camera just short of straight up or down.
const maxPitch = math.Pi/2 - 0.01

// Params are the tunable movement constants.
type Params struct {
	Gravity     float64 `yaml:"gravity"`
	Speed       float64 `yaml:"speed"`
	JumpImpulse float64 `yaml:"jump_impulse"`
	Friction    float64 `yaml:"friction"`
	Radius      float64 `yaml:"radius"`
	Height      float64 `yaml:"height"`
}

// DefaultParams returns the stock movement constants.
func DefaultParams() Params {
	return Params{
		Gravity:     -20,
		Speed:       4.3,
		JumpImpulse: 7,
		Friction:    0.8,
		Radius:      0.3,
		Height:      1.8,
	}
}

// Input is one step's worth of movement intent.
type Input struct {
	Forward  bool
	Backward bool
	Left     bool
	Right    bool
	Jump     bool
}

// Moving reports whether any horizontal intent flag is set.
func (in Input) Moving() bool {
	return in.Forward || in.Backward || in.Left || in.Right
}

// Body is the simulated state of one avatar. Position is the centre of the
// feet; the box extends Radius on X/Z and Height upward.
type Body struct {
	Position mgl64.Vec3
	Velocity mgl64.Vec3
	Yaw      float64
	Pitch    float64
	Grounded bool
}

// AABB returns the body's collision box for the given params.
func (b *Body) AABB(p Params) cube.BBox {
	return boxAt(b.Position, p)
}

func boxAt(pos mgl64.Vec3, p Params) cube.BBox {
	return cube.Box(
		pos.X()-p.Radius, pos.Y(), pos.Z()-p.Radius,
		pos.X()+p.Radius, pos.Y()+p.Height, pos.Z()+p.Radius,
	)
}

// Rotate applies a pointer delta: yaw wraps to [-π, π], pitch is clamped.
func (b *Body) Rotate(dx, dy float64) {
	b.Yaw = normalizeAngle(b.Yaw - dx*LookSensitivity)
	b.Pitch = mgl64.Clamp(b.Pitch-dy*LookSensitivity, -maxPitch, maxPitch)
}

// Forward is the horizontal unit vector the body faces.
func (b *Body) Forward() mgl64.Vec3 {
	return mgl64.Vec3{-math.Sin(b.Yaw), 0, -math.Cos(b.Yaw)}
}

// Right is the horizontal unit vector to the body's right.
func (b *Body) Right() mgl64.Vec3 {
	return mgl64.Vec3{math.Cos(b.Yaw), 0, -math.Sin(b.Yaw)}
}

// CanPlaceAt reports whether a voxel at pos would stay clear of the body.
func (b *Body) CanPlaceAt(pos cube.Pos, p Params) bool {
	return !b.AABB(p).IntersectsWith(cellBox(pos.X(), pos.Y(), pos.Z()))
}

func cellBox(x, y, z int) cube.BBox {
	return cube.Box(0, 0, 0, 1, 1, 1).Translate(mgl64.Vec3{float64(x), float64(y), float64(z)})
}

// normalizeAngle wraps an angle into [-π, π].
func normalizeAngle(angle float64) float64 {
	const twoPi = 2 * math.Pi
	angle = math.Mod(angle, twoPi)
	if angle < 0 {
		angle += twoPi
	}
	if angle > math.Pi {
		angle -= twoPi
	}
	return angle
}

package physics

import (
	"math"
	"math/rand"
	"testing"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"

	"github.com/kaikoh95/klaw-craft/internal/world"
)

const frame = 1.0 / 60

// TestFallRestsOnFloor verifies a falling body lands on the implicit floor
// and never ends a step inside it
func TestFallRestsOnFloor(t *testing.T) {
	w := world.New()
	b := &Body{Position: mgl64.Vec3{0.5, 5, 0.5}}
	p := DefaultParams()

	for i := 0; i < 240; i++ {
		p.Step(w, b, Input{}, frame)
		if b.Position.Y() < 1 {
			t.Fatalf("Step %d: feet at %.4f, inside the floor", i, b.Position.Y())
		}
	}
	if b.Position.Y() != 1 {
		t.Errorf("Expected to rest at y=1, got %v", b.Position.Y())
	}
	if !b.Grounded {
		t.Error("Body resting on the floor should be grounded")
	}
	if b.Velocity.Y() != 0 {
		t.Errorf("Expected vertical velocity 0 after landing, got %v", b.Velocity.Y())
	}
}

// penetration returns the deepest overlap between the body and any solid cell
func penetration(w *world.World, b *Body, p Params) float64 {
	box := b.AABB(p)
	var deepest float64
	for y := floor(b.Position.Y()) - 1; y <= floor(b.Position.Y()+p.Height)+1; y++ {
		for x := floor(b.Position.X()) - 1; x <= floor(b.Position.X())+1; x++ {
			for z := floor(b.Position.Z()) - 1; z <= floor(b.Position.Z())+1; z++ {
				if !w.IsSolid(float64(x), float64(y), float64(z)) {
					continue
				}
				c := cellBox(x, y, z)
				if !box.IntersectsWith(c) {
					continue
				}
				dx := math.Min(box.Max().X(), c.Max().X()) - math.Max(box.Min().X(), c.Min().X())
				dy := math.Min(box.Max().Y(), c.Max().Y()) - math.Max(box.Min().Y(), c.Min().Y())
				dz := math.Min(box.Max().Z(), c.Max().Z()) - math.Max(box.Min().Z(), c.Min().Z())
				deepest = math.Max(deepest, math.Min(dx, math.Min(dy, dz)))
			}
		}
	}
	return deepest
}

// TestContainmentOverTerrain random-walks bodies with jumps across generated
// terrain and checks no step ends inside a solid cell
func TestContainmentOverTerrain(t *testing.T) {
	w := world.New()
	w.GenerateTerrain(0, 0, 16)
	p := DefaultParams()

	for _, dt := range []float64{frame, 0.05, 0.1} {
		rng := rand.New(rand.NewSource(int64(dt * 1e4)))
		for walk := 0; walk < 12; walk++ {
			x, z := rng.Float64()*28-14, rng.Float64()*28-14
			b := &Body{Position: mgl64.Vec3{x, float64(w.GroundHeight(x, z)) + 3, z}}
			if penetration(w, b, p) > 0 {
				continue
			}

			var in Input
			for i := 0; i < 2000; i++ {
				if i%40 == 0 {
					in = Input{Forward: rng.Intn(5) > 0, Left: rng.Intn(4) == 0}
					b.Rotate(rng.Float64()*3000-1500, 0)
				}
				in.Jump = rng.Intn(6) == 0
				prev := b.Position
				p.Step(w, b, in, dt)
				if d := penetration(w, b, p); d > 0 {
					t.Fatalf("dt=%v walk %d step %d: %v -> %v overlaps a solid cell by %.4f",
						dt, walk, i, prev, b.Position, d)
				}
			}
		}
	}
}

// TestDriftedRestStaysOnFloor starts a body a hair inside the floor and drops
// it with a large dt
func TestDriftedRestStaysOnFloor(t *testing.T) {
	w := world.New()
	w.GenerateTerrain(0, 0, 4)
	p := DefaultParams()

	x, z := 0.5, 0.5
	ground := float64(w.GroundHeight(x, z))
	b := &Body{
		Position: mgl64.Vec3{x, math.Nextafter(ground, 0), z},
		Velocity: mgl64.Vec3{2.5, -6.67, 2.5},
	}
	p.Step(w, b, Input{}, 0.1)
	if b.Position.Y() < ground-1e-9 {
		t.Errorf("Expected to stay on the ground at y=%v, sank to %v", ground, b.Position.Y())
	}
	if d := penetration(w, b, p); d > 0 {
		t.Errorf("Body overlaps terrain by %.4f at %v", d, b.Position)
	}
}

// TestLandsOnPlacedBlock verifies containment against stored voxels
func TestLandsOnPlacedBlock(t *testing.T) {
	w := world.New()
	w.PlaceBlock(cube.Pos{0, 3, 0}, world.Stone)
	b := &Body{Position: mgl64.Vec3{0.5, 8, 0.5}}

	for i := 0; i < 300; i++ {
		Step(w, b, Input{}, frame)
	}
	if b.Position.Y() != 4 {
		t.Errorf("Expected to rest on top of the block at y=4, got %v", b.Position.Y())
	}
	if !b.Grounded {
		t.Error("Expected grounded on the block")
	}
}

// TestWaterIsNotSolid verifies bodies sink through water
func TestWaterIsNotSolid(t *testing.T) {
	w := world.New()
	w.PlaceBlock(cube.Pos{0, 2, 0}, world.Water)
	w.PlaceBlock(cube.Pos{0, 1, 0}, world.Water)
	b := &Body{Position: mgl64.Vec3{0.5, 4, 0.5}}

	for i := 0; i < 240; i++ {
		Step(w, b, Input{}, frame)
	}
	if b.Position.Y() != 1 {
		t.Errorf("Expected to sink to the floor at y=1, got %v", b.Position.Y())
	}
}

// TestWallClamp walks into a two-high wall and checks the X clamp
func TestWallClamp(t *testing.T) {
	w := world.New()
	for z := -1; z <= 1; z++ {
		w.PlaceBlock(cube.Pos{2, 1, z}, world.Stone)
		w.PlaceBlock(cube.Pos{2, 2, z}, world.Stone)
	}
	b := &Body{Position: mgl64.Vec3{1.0, 1, 0.5}, Yaw: -math.Pi / 2, Grounded: true}
	p := DefaultParams()

	for i := 0; i < 60; i++ {
		p.Step(w, b, Input{Forward: true}, frame)
		if b.Position.X() > 2-p.Radius+1e-9 {
			t.Fatalf("Step %d: body passed the wall face, x=%v", i, b.Position.X())
		}
	}
	if math.Abs(b.Position.X()-(2-p.Radius)) > 1e-9 {
		t.Errorf("Expected to rest against the wall at x=%v, got %v", 2-p.Radius, b.Position.X())
	}
	if b.Velocity.X() != 0 {
		t.Errorf("Expected X velocity zeroed by the wall, got %v", b.Velocity.X())
	}
	if !b.Grounded {
		t.Error("Walking along the floor should stay grounded")
	}
}

// TestCeilingClamp jumps under a block and checks the head stops below it
func TestCeilingClamp(t *testing.T) {
	w := world.New()
	w.PlaceBlock(cube.Pos{0, 3, 0}, world.Stone)
	b := &Body{Position: mgl64.Vec3{0.5, 1, 0.5}, Grounded: true}
	p := DefaultParams()

	p.Step(w, b, Input{Jump: true}, frame)
	peak := b.Position.Y()
	for i := 0; i < 60; i++ {
		p.Step(w, b, Input{}, frame)
		peak = math.Max(peak, b.Position.Y())
	}
	if peak > 3-p.Height+1e-9 {
		t.Errorf("Head passed into the ceiling block, peak feet y=%v", peak)
	}
	if b.Position.Y() != 1 || !b.Grounded {
		t.Errorf("Expected to land back on the floor, got y=%v grounded=%v", b.Position.Y(), b.Grounded)
	}
}

// TestJumpRequiresGround verifies the jump impulse is only applied when grounded
func TestJumpRequiresGround(t *testing.T) {
	tests := []struct {
		name     string
		grounded bool
		wantVY   float64
	}{
		{"grounded", true, 7},
		{"airborne", false, -20 * frame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := world.New()
			b := &Body{Position: mgl64.Vec3{0.5, 10, 0.5}, Grounded: tt.grounded}
			Step(w, b, Input{Jump: true}, frame)
			if math.Abs(b.Velocity.Y()-tt.wantVY) > 1e-9 {
				t.Errorf("Expected vy=%v, got %v", tt.wantVY, b.Velocity.Y())
			}
			if b.Grounded {
				t.Error("Grounded should be false after a step in the air")
			}
		})
	}
}

// TestFriction verifies residual horizontal velocity decays without intent
func TestFriction(t *testing.T) {
	w := world.New()
	b := &Body{Position: mgl64.Vec3{0, 50, 0}, Velocity: mgl64.Vec3{4, 0, -2}}
	Step(w, b, Input{}, frame)

	if math.Abs(b.Velocity.X()-3.2) > 1e-9 || math.Abs(b.Velocity.Z()+1.6) > 1e-9 {
		t.Errorf("Expected velocity (3.2, -1.6) after friction, got (%v, %v)", b.Velocity.X(), b.Velocity.Z())
	}
}

// TestDiagonalIsNormalized verifies combined intent does not exceed Speed
func TestDiagonalIsNormalized(t *testing.T) {
	w := world.New()
	b := &Body{Position: mgl64.Vec3{0, 50, 0}, Yaw: 0.7}
	p := DefaultParams()
	p.Step(w, b, Input{Forward: true, Right: true}, frame)

	horizontal := math.Hypot(b.Velocity.X(), b.Velocity.Z())
	if math.Abs(horizontal-p.Speed) > 1e-9 {
		t.Errorf("Expected horizontal speed %v, got %v", p.Speed, horizontal)
	}
}

// TestOpposingIntentCancels verifies forward+backward yields no motion
func TestOpposingIntentCancels(t *testing.T) {
	w := world.New()
	b := &Body{Position: mgl64.Vec3{0, 50, 0}, Velocity: mgl64.Vec3{3, 0, 3}}
	Step(w, b, Input{Forward: true, Backward: true}, frame)

	if b.Velocity.X() != 0 || b.Velocity.Z() != 0 {
		t.Errorf("Expected zero horizontal velocity, got (%v, %v)", b.Velocity.X(), b.Velocity.Z())
	}
}

// TestForwardFollowsYaw checks the yaw convention used on the wire
func TestForwardFollowsYaw(t *testing.T) {
	tests := []struct {
		yaw  float64
		want mgl64.Vec3
	}{
		{0, mgl64.Vec3{0, 0, -1}},
		{math.Pi / 2, mgl64.Vec3{-1, 0, 0}},
		{-math.Pi / 2, mgl64.Vec3{1, 0, 0}},
		{math.Pi, mgl64.Vec3{0, 0, 1}},
	}
	for _, tt := range tests {
		b := &Body{Yaw: tt.yaw}
		if !b.Forward().ApproxEqualThreshold(tt.want, 1e-9) {
			t.Errorf("Forward() at yaw %v = %v, want %v", tt.yaw, b.Forward(), tt.want)
		}
	}
}

// TestPushOutOfSpawnOverlap verifies a body starting inside a block is expelled
func TestPushOutOfSpawnOverlap(t *testing.T) {
	w := world.New()
	w.PlaceBlock(cube.Pos{0, 1, 0}, world.Stone)
	b := &Body{Position: mgl64.Vec3{0.5, 1.1, 0.5}}
	p := DefaultParams()

	p.Step(w, b, Input{}, frame)
	if b.AABB(p).IntersectsWith(cellBox(0, 1, 0)) {
		t.Errorf("Body still overlaps the block at %v", b.Position)
	}
}

// TestRotate covers yaw wrapping and pitch clamping
func TestRotate(t *testing.T) {
	b := &Body{}
	b.Rotate(-2000, 0)
	if b.Yaw < -math.Pi || b.Yaw > math.Pi {
		t.Errorf("Yaw %v not wrapped into [-π, π]", b.Yaw)
	}
	if math.Abs(b.Yaw-normalizeAngle(4)) > 1e-9 {
		t.Errorf("Expected yaw %v, got %v", normalizeAngle(4), b.Yaw)
	}

	b.Rotate(0, -5000)
	if b.Pitch != maxPitch {
		t.Errorf("Expected pitch clamped to %v, got %v", maxPitch, b.Pitch)
	}
	b.Rotate(0, 10000)
	if b.Pitch != -maxPitch {
		t.Errorf("Expected pitch clamped to %v, got %v", -maxPitch, b.Pitch)
	}
}

// TestCanPlaceAt checks the placement overlap guard
func TestCanPlaceAt(t *testing.T) {
	b := &Body{Position: mgl64.Vec3{0.5, 1, 0.5}}
	p := DefaultParams()

	tests := []struct {
		pos  cube.Pos
		want bool
	}{
		{cube.Pos{0, 1, 0}, false},
		{cube.Pos{0, 2, 0}, false},
		{cube.Pos{0, 3, 0}, true},
		{cube.Pos{1, 1, 0}, true},
		{cube.Pos{0, 0, 0}, true},
		{cube.Pos{-1, 2, 0}, true},
	}
	for _, tt := range tests {
		if got := b.CanPlaceAt(tt.pos, p); got != tt.want {
			t.Errorf("CanPlaceAt(%v) = %v, want %v", tt.pos, got, tt.want)
		}
	}
}

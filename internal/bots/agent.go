// Package bots runs scripted players. Each Agent is a small state machine
// (wander, build, break, idle) that drives the same world and avatar
// operations a human connection does, so peers cannot tell them apart.
package bots

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"

	"github.com/kaikoh95/klaw-craft/internal/protocol"
	"github.com/kaikoh95/klaw-craft/internal/world"
)

// State is the behaviour an agent is currently running.
type State string

const (
	StateWander State = "wander"
	StateBuild  State = "build"
	StateBreak  State = "break"
	StateIdle   State = "idle"
)

// Host is the authoritative side the agents act on. All calls happen on the
// goroutine that owns the world.
type Host interface {
	World() *world.World
	Join(id, name string, pos protocol.Vec3, rot protocol.Rotation)
	Leave(id string)
	Move(id string, pos protocol.Vec3, rot protocol.Rotation)
	PlaceBlock(pos cube.Pos, t world.BlockType) bool
	BreakBlock(pos cube.Pos) bool
}

// Config holds the agent tunables.
type Config struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	Speed        float64       `yaml:"speed"`
	SpawnRange   float64       `yaml:"spawn_range"`
	SpawnY       float64       `yaml:"spawn_y"`
	WorldBound   float64       `yaml:"world_bound"`
	FallSpeed    float64       `yaml:"fall_speed"`
	IdleTurnRate float64       `yaml:"idle_turn_rate"`
	Seed         int64         `yaml:"seed"`
}

// DefaultConfig returns the stock bot tunables.
func DefaultConfig() Config {
	return Config{
		TickInterval: 100 * time.Millisecond,
		Speed:        3,
		SpawnRange:   15,
		SpawnY:       20,
		WorldBound:   60,
		FallSpeed:    10,
		IdleTurnRate: 0.5,
	}
}

var botNames = []string{
	"BuilderBot", "MinerMike", "CraftyAI", "BlockBuddy", "DigiDwarf",
	"PixelPete", "VoxelVic", "ChunkChris", "TerraTina", "StoneSam",
	"WoodWanda", "SandySue", "GrassyGus", "RockyRita", "DirtDave",
}

// buildMaterials is the palette structures draw from, in preference order.
var buildMaterials = []world.BlockType{world.Grass, world.Dirt, world.Stone, world.Wood, world.Sand}

// BotName returns the display name of the i-th bot. Names repeat with a
// numeric suffix once the roster is exhausted.
func BotName(i int) string {
	name := botNames[i%len(botNames)]
	if i >= len(botNames) {
		name = fmt.Sprintf("%s_%d", name, i/len(botNames))
	}
	return "🤖" + name
}

// PlannedBlock is one step of a build plan.
type PlannedBlock struct {
	Pos  cube.Pos
	Type world.BlockType
}

// Agent is one bot. Its fields are only touched by its own Update.
type Agent struct {
	ID   string
	Name string

	Position mgl64.Vec3
	Yaw      float64

	State      State
	StateTimer float64
	Target     *mgl64.Vec3
	Plan       []PlannedBlock
	PlanIndex  int
	Cooldown   float64

	cfg Config
	rng *rand.Rand
}

// NewAgent creates an agent at a random spawn point.
func NewAgent(id, name string, cfg Config, rng *rand.Rand) *Agent {
	return &Agent{
		ID:   id,
		Name: name,
		Position: mgl64.Vec3{
			rng.Float64()*2*cfg.SpawnRange - cfg.SpawnRange,
			cfg.SpawnY,
			rng.Float64()*2*cfg.SpawnRange - cfg.SpawnRange,
		},
		Yaw:   rng.Float64() * 2 * math.Pi,
		State: StateWander,
		cfg:   cfg,
		rng:   rng,
	}
}

// Transform returns the agent's wire position and rotation.
func (a *Agent) Transform() (protocol.Vec3, protocol.Rotation) {
	return protocol.Vec3{X: a.Position.X(), Y: a.Position.Y(), Z: a.Position.Z()},
		protocol.Rotation{Y: a.Yaw}
}

// Update advances the agent by dt seconds and publishes its transform.
func (a *Agent) Update(h Host, dt float64) {
	w := h.World()

	a.StateTimer -= dt
	a.Cooldown -= dt
	if a.StateTimer <= 0 {
		a.chooseState(w)
	}

	switch a.State {
	case StateWander:
		a.updateWander(w, dt)
	case StateBuild:
		a.updateBuild(h)
	case StateBreak:
		a.updateBreak(h)
	case StateIdle:
		a.Yaw += dt * a.cfg.IdleTurnRate
	}

	bound := a.cfg.WorldBound
	a.Position[0] = mgl64.Clamp(a.Position[0], -bound, bound)
	a.Position[2] = mgl64.Clamp(a.Position[2], -bound, bound)
	a.snapToGround(w, dt)

	pos, rot := a.Transform()
	h.Move(a.ID, pos, rot)
}

// snapToGround drops the agent toward the column's ground height and never
// lets it end below it.
func (a *Agent) snapToGround(w *world.World, dt float64) {
	ground := float64(w.GroundHeight(a.Position.X(), a.Position.Z()))
	if a.Position.Y() > ground+0.1 {
		a.Position[1] = math.Max(a.Position.Y()-a.cfg.FallSpeed*dt, ground)
		return
	}
	a.Position[1] = ground
}

func (a *Agent) chooseState(w *world.World) {
	r := a.rng.Float64()
	switch {
	case r < 0.5:
		a.State = StateWander
		a.StateTimer = 5 + a.rng.Float64()*10
		a.chooseTarget(w)
	case r < 0.75:
		a.State = StateBuild
		a.StateTimer = 8 + a.rng.Float64()*10
		a.startBuilding(w)
	case r < 0.9:
		a.State = StateBreak
		a.StateTimer = 3 + a.rng.Float64()*5
	default:
		a.State = StateIdle
		a.StateTimer = 2 + a.rng.Float64()*4
	}
}

// chooseTarget picks a dry destination 5-20 units away. After ten failed
// attempts the agent has no target and stays put.
func (a *Agent) chooseTarget(w *world.World) {
	for attempt := 0; attempt < 10; attempt++ {
		angle := a.rng.Float64() * 2 * math.Pi
		dist := 5 + a.rng.Float64()*15
		tx := a.Position.X() + math.Cos(angle)*dist
		tz := a.Position.Z() + math.Sin(angle)*dist
		ty := float64(w.GroundHeight(tx, tz))

		if w.IsWater(tx, ty, tz) || w.IsWater(tx, ty-1, tz) || ty <= 3 {
			continue
		}
		a.Target = &mgl64.Vec3{tx, ty, tz}
		a.Yaw = math.Atan2(tx-a.Position.X(), tz-a.Position.Z())
		return
	}
	a.Target = nil
}

func (a *Agent) updateWander(w *world.World, dt float64) {
	if a.Target == nil {
		a.chooseTarget(w)
		return
	}

	dx := a.Target.X() - a.Position.X()
	dz := a.Target.Z() - a.Position.Z()
	dist := math.Hypot(dx, dz)
	if dist < 1 {
		a.chooseTarget(w)
		return
	}

	step := a.cfg.Speed * dt
	a.Position[0] += dx / dist * step
	a.Position[2] += dz / dist * step
	a.Yaw = math.Atan2(dx, dz)

	aheadX := a.Position.X() + dx/dist*2
	aheadZ := a.Position.Z() + dz/dist*2
	if w.IsWater(aheadX, float64(w.GroundHeight(aheadX, aheadZ)), aheadZ) {
		a.chooseTarget(w)
	}
}

func (a *Agent) startBuilding(w *world.World) {
	bx := int(math.Floor(a.Position.X())) + a.rng.Intn(6) - 3
	bz := int(math.Floor(a.Position.Z())) + a.rng.Intn(6) - 3
	by := w.GroundHeight(float64(bx), float64(bz))

	switch a.rng.Intn(3) {
	case 0:
		a.Plan = PillarPlan(a.rng, cube.Pos{bx, by, bz})
	case 1:
		a.Plan = WallPlan(a.rng, cube.Pos{bx, by, bz})
	default:
		a.Plan = HutPlan(cube.Pos{bx, by, bz})
	}
	a.PlanIndex = 0
}

// updateBuild places the next planned block once the cooldown has run out.
// An exhausted plan sends the agent back to wandering.
func (a *Agent) updateBuild(h Host) {
	if a.PlanIndex >= len(a.Plan) {
		a.State = StateWander
		a.StateTimer = 5
		a.Plan = nil
		a.chooseTarget(h.World())
		return
	}
	if a.Cooldown > 0 {
		return
	}

	b := a.Plan[a.PlanIndex]
	h.PlaceBlock(b.Pos, b.Type)
	a.PlanIndex++
	a.Cooldown = 0.3 + a.rng.Float64()*0.3
	a.Yaw = math.Atan2(float64(b.Pos.X())-a.Position.X(), float64(b.Pos.Z())-a.Position.Z())
}

// updateBreak samples five nearby cells for something breakable. When
// nothing is found it waits a full second before sampling again.
func (a *Agent) updateBreak(h Host) {
	if a.Cooldown > 0 {
		return
	}
	w := h.World()
	px := int(math.Floor(a.Position.X()))
	py := int(math.Floor(a.Position.Y()))
	pz := int(math.Floor(a.Position.Z()))

	for attempt := 0; attempt < 5; attempt++ {
		pos := cube.Pos{px + a.rng.Intn(5) - 2, py + a.rng.Intn(3) - 1, pz + a.rng.Intn(5) - 2}
		v, ok := w.Block(pos)
		if !ok || !v.Type.Breakable() || pos.Y() <= world.ProtectedFloorY {
			continue
		}
		h.BreakBlock(pos)
		a.Cooldown = 0.5 + a.rng.Float64()*0.5
		a.Yaw = math.Atan2(float64(pos.X())-a.Position.X(), float64(pos.Z())-a.Position.Z())
		return
	}
	a.Cooldown = 1
}

// PillarPlan is a 3-5 high column of grass, dirt or stone.
func PillarPlan(rng *rand.Rand, at cube.Pos) []PlannedBlock {
	t := buildMaterials[rng.Intn(3)]
	h := 3 + rng.Intn(3)
	plan := make([]PlannedBlock, 0, h)
	for y := 0; y < h; y++ {
		plan = append(plan, PlannedBlock{Pos: at.Add(cube.Pos{0, y, 0}), Type: t})
	}
	return plan
}

// WallPlan is a 3-6 long, 2-3 high row along +X.
func WallPlan(rng *rand.Rand, at cube.Pos) []PlannedBlock {
	t := buildMaterials[rng.Intn(4)]
	length := 3 + rng.Intn(4)
	h := 2 + rng.Intn(2)
	plan := make([]PlannedBlock, 0, length*h)
	for i := 0; i < length; i++ {
		for y := 0; y < h; y++ {
			plan = append(plan, PlannedBlock{Pos: at.Add(cube.Pos{i, y, 0}), Type: t})
		}
	}
	return plan
}

// HutPlan is a hollow wooden ring, three high, spanning offsets 0..3 on X and
// Z. Each side has a two high gap at offset 1.
func HutPlan(at cube.Pos) []PlannedBlock {
	const size, h = 3, 3
	door := size / 2

	var plan []PlannedBlock
	seen := make(map[cube.Pos]struct{})
	add := func(p cube.Pos) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		plan = append(plan, PlannedBlock{Pos: p, Type: world.Wood})
	}
	for y := 0; y < h; y++ {
		for i := 0; i <= size; i++ {
			if y < 2 && i == door {
				continue
			}
			add(at.Add(cube.Pos{i, y, 0}))
			add(at.Add(cube.Pos{i, y, size}))
			add(at.Add(cube.Pos{0, y, i}))
			add(at.Add(cube.Pos{size, y, i}))
		}
	}
	return plan
}

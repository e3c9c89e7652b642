package world

import (
	"math/rand"
	"testing"

	"github.com/df-mc/dragonfly/server/block/cube"
)

type recordingObserver struct {
	added   []Voxel
	removed []cube.Pos
}

func (r *recordingObserver) BlockAdded(v Voxel)        { r.added = append(r.added, v) }
func (r *recordingObserver) BlockRemoved(pos cube.Pos) { r.removed = append(r.removed, pos) }

// TestPlaceBlockIdempotent verifies a second place at an occupied coordinate
// keeps the original material and emits no second side effect
func TestPlaceBlockIdempotent(t *testing.T) {
	w := New()
	obs := &recordingObserver{}
	w.SetObserver(obs)

	pos := cube.Pos{2, 5, 3}
	if !w.PlaceBlock(pos, Stone) {
		t.Fatal("First place should succeed")
	}
	if w.PlaceBlock(pos, Wood) {
		t.Error("Second place at occupied coordinate should be a no-op")
	}

	v, ok := w.Block(pos)
	if !ok || v.Type != Stone {
		t.Errorf("Expected stone at %v, got %v (present=%v)", pos, v.Type, ok)
	}
	if len(obs.added) != 1 {
		t.Errorf("Expected 1 add notification, got %d", len(obs.added))
	}
}

// TestPlaceBlockOverWater verifies water still occupies its coordinate
func TestPlaceBlockOverWater(t *testing.T) {
	w := New()
	pos := cube.Pos{0, 4, 0}
	w.PlaceBlock(pos, Water)
	if w.PlaceBlock(pos, Stone) {
		t.Error("Placing into water should be refused")
	}
}

// TestSetAndClearBlock verifies the replica-side overrides notify the observer
// and bypass the place and break rules
func TestSetAndClearBlock(t *testing.T) {
	w := New()
	obs := &recordingObserver{}
	w.SetObserver(obs)

	pos := cube.Pos{2, 5, 3}
	w.PlaceBlock(pos, Wood)
	if !w.SetBlock(pos, Stone) {
		t.Fatal("SetBlock should replace a different material")
	}
	if v, _ := w.Block(pos); v.Type != Stone {
		t.Errorf("Expected stone, got %q", v.Type)
	}
	if w.SetBlock(pos, Stone) {
		t.Error("SetBlock with the same material should be a no-op")
	}
	if len(obs.added) != 2 || len(obs.removed) != 1 {
		t.Errorf("Expected 2 adds and 1 removal, got %d and %d", len(obs.added), len(obs.removed))
	}

	floor := cube.Pos{0, 0, 0}
	w.PlaceBlock(floor, Stone)
	if !w.ClearBlock(floor) {
		t.Error("ClearBlock should empty the protected floor")
	}
	if w.ClearBlock(floor) {
		t.Error("ClearBlock on air should report false")
	}
}

// TestBreakBlockRules covers every refusal case and the success path
func TestBreakBlockRules(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(w *World)
		pos     cube.Pos
		removed bool
	}{
		{"empty coordinate", func(w *World) {}, cube.Pos{3, 4, 3}, false},
		{"water", func(w *World) { w.PlaceBlock(cube.Pos{3, 4, 3}, Water) }, cube.Pos{3, 4, 3}, false},
		{"floor layer 1", func(w *World) { w.PlaceBlock(cube.Pos{3, 1, 3}, Stone) }, cube.Pos{3, 1, 3}, false},
		{"floor layer 0", func(w *World) { w.PlaceBlock(cube.Pos{0, 0, 0}, Stone) }, cube.Pos{0, 0, 0}, false},
		{"negative layer", func(w *World) { w.PlaceBlock(cube.Pos{0, -4, 0}, Dirt) }, cube.Pos{0, -4, 0}, false},
		{"regular block", func(w *World) { w.PlaceBlock(cube.Pos{3, 2, 3}, Dirt) }, cube.Pos{3, 2, 3}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := New()
			tt.setup(w)
			before := w.Len()
			obs := &recordingObserver{}
			w.SetObserver(obs)

			got := w.BreakBlock(tt.pos)
			if got != tt.removed {
				t.Fatalf("BreakBlock returned %v, expected %v", got, tt.removed)
			}
			if tt.removed {
				if w.Len() != before-1 {
					t.Errorf("Expected %d voxels, got %d", before-1, w.Len())
				}
				if len(obs.removed) != 1 {
					t.Errorf("Expected 1 remove notification, got %d", len(obs.removed))
				}
				return
			}
			if w.Len() != before {
				t.Errorf("Refused break changed voxel count: %d -> %d", before, w.Len())
			}
			if len(obs.removed) != 0 {
				t.Error("Refused break should not notify the observer")
			}
		})
	}
}

// TestProtectionInvariants sweeps random coordinates for the floor and water rules
func TestProtectionInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	w := New()
	for i := 0; i < 2000; i++ {
		pos := cube.Pos{rng.Intn(40) - 20, rng.Intn(8) - 3, rng.Intn(40) - 20}
		typ := AllBlockTypes[rng.Intn(len(AllBlockTypes))]
		w.PlaceBlock(pos, typ)
	}
	for _, v := range w.Voxels() {
		protected := v.Y() <= ProtectedFloorY || v.Type == Water
		if w.BreakBlock(v.Pos) == protected {
			t.Errorf("BreakBlock(%v %s) protected=%v but break result disagreed", v.Pos, v.Type, protected)
		}
	}
}

// TestIsSolidLaw checks solidity against the stored voxel for a grid of points
func TestIsSolidLaw(t *testing.T) {
	w := New()
	w.PlaceBlock(cube.Pos{1, 3, 1}, Stone)
	w.PlaceBlock(cube.Pos{2, 3, 1}, Water)
	w.PlaceBlock(cube.Pos{-1, 2, -1}, Leaves)

	tests := []struct {
		x, y, z float64
		want    bool
	}{
		{0, 0, 0, true},
		{50, -3.5, 50, true},
		{0.5, 0.001, 0.5, false},
		{1.2, 3.9, 1.99, true},
		{2.5, 3.5, 1.5, false},
		{-0.5, 2.5, -0.1, true},
		{1, 4, 1, false},
	}
	for _, tt := range tests {
		if got := w.IsSolid(tt.x, tt.y, tt.z); got != tt.want {
			t.Errorf("IsSolid(%v,%v,%v) = %v, want %v", tt.x, tt.y, tt.z, got, tt.want)
		}
	}
}

// TestConvergence applies the same ordered event stream to two worlds
func TestConvergence(t *testing.T) {
	type op struct {
		place bool
		pos   cube.Pos
		typ   BlockType
	}
	rng := rand.New(rand.NewSource(42))
	ops := make([]op, 0, 5000)
	for i := 0; i < cap(ops); i++ {
		ops = append(ops, op{
			place: rng.Intn(3) > 0,
			pos:   cube.Pos{rng.Intn(10), rng.Intn(6), rng.Intn(10)},
			typ:   AllBlockTypes[rng.Intn(len(AllBlockTypes))],
		})
	}

	a, b := New(), New()
	for _, o := range ops {
		for _, w := range []*World{a, b} {
			if o.place {
				w.PlaceBlock(o.pos, o.typ)
			} else {
				w.BreakBlock(o.pos)
			}
		}
	}

	if a.Len() != b.Len() {
		t.Fatalf("Voxel counts diverged: %d vs %d", a.Len(), b.Len())
	}
	for _, v := range a.Voxels() {
		got, ok := b.Block(v.Pos)
		if !ok || got.Type != v.Type {
			t.Fatalf("Worlds diverged at %v: %v vs %v", v.Pos, v.Type, got.Type)
		}
	}
	if a.Digest() != b.Digest() {
		t.Error("Digests should match for set-equal worlds")
	}
}

// TestDigestOrderIndependent verifies the digest ignores insertion order
func TestDigestOrderIndependent(t *testing.T) {
	a, b := New(), New()
	a.PlaceBlock(cube.Pos{1, 2, 3}, Stone)
	a.PlaceBlock(cube.Pos{4, 5, 6}, Wood)
	b.PlaceBlock(cube.Pos{4, 5, 6}, Wood)
	b.PlaceBlock(cube.Pos{1, 2, 3}, Stone)
	if a.Digest() != b.Digest() {
		t.Error("Digest depends on insertion order")
	}

	b.BreakBlock(cube.Pos{4, 5, 6})
	if a.Digest() == b.Digest() {
		t.Error("Digest should change after a mutation")
	}
}

// TestGroundHeight covers the scan and the terrain fallback
func TestGroundHeight(t *testing.T) {
	w := New()
	if got, want := w.GroundHeight(3.7, -2.2), TerrainHeight(3, -3)+1; got != want {
		t.Errorf("Empty column: expected terrain fallback %d, got %d", want, got)
	}

	w.PlaceBlock(cube.Pos{3, 9, -3}, Water)
	w.PlaceBlock(cube.Pos{3, 7, -3}, Sand)
	if got := w.GroundHeight(3.7, -2.2); got != 8 {
		t.Errorf("Expected ground at 8 (water skipped), got %d", got)
	}
}

// TestVoxelsSorted verifies snapshot ordering
func TestVoxelsSorted(t *testing.T) {
	w := New()
	w.PlaceBlock(cube.Pos{5, 2, 0}, Stone)
	w.PlaceBlock(cube.Pos{1, 1, 9}, Stone)
	w.PlaceBlock(cube.Pos{1, 2, -4}, Stone)

	got := w.Voxels()
	want := []cube.Pos{{1, 1, 9}, {1, 2, -4}, {5, 2, 0}}
	for i := range want {
		if got[i].Pos != want[i] {
			t.Errorf("Voxels()[%d] = %v, want %v", i, got[i].Pos, want[i])
		}
	}
}

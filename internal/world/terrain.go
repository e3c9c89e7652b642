package world

import (
	"math"

	"github.com/df-mc/dragonfly/server/block/cube"
)

const (
	// BaseHeight is added to the summed noise octaves.
	BaseHeight = 5
	// SeaLevel is the highest y water is backfilled to.
	SeaLevel = 5
	// beachHeight marks columns shorter than this as sand instead of grass.
	beachHeight = 6
	// treeChance is the percentage of grass columns that grow a tree.
	treeChance = 3
)

var octaves = [...]struct{ freq, amp float64 }{
	{0.01, 8}, // hills
	{0.05, 4},
	{0.1, 2}, // bumps
}

// noise is an integer-hash lattice noise in [-1, 1). It only depends on the
// floored inputs, so it is a pure function of its arguments.
func noise(x, z float64) float64 {
	ix := int32(math.Floor(x)) & 255
	iz := int32(math.Floor(z)) & 255
	n := ix + iz*57
	n = (n << 13) ^ n
	v := (n*(n*n*15731+789221) + 1376312589) & 0x7fffffff
	return 1.0 - float64(v)/1073741824.0
}

// TerrainHeight returns the surface height of the column at (x, z).
func TerrainHeight(x, z float64) int {
	var h float64
	for _, o := range octaves {
		h += noise(x*o.freq, z*o.freq) * o.amp
	}
	return int(math.Floor(h)) + BaseHeight
}

// columnHash is the per-column hash driving feature placement.
func columnHash(x, z int) uint32 {
	return uint32(int32(x))*374761393 + uint32(int32(z))*668265263
}

// treeAt reports whether the column grows a tree and how tall its trunk is.
func treeAt(x, z int) (bool, int) {
	h := columnHash(x, z)
	if h%100 >= treeChance {
		return false, 0
	}
	return true, 4 + int((h>>8)%2)
}

// GenerateTerrain fills the square [cx-extent, cx+extent) x [cz-extent, cz+extent)
// with terrain columns, sea water and trees. Existing voxels are never replaced.
func (w *World) GenerateTerrain(cx, cz, extent int) {
	for x := cx - extent; x < cx+extent; x++ {
		for z := cz - extent; z < cz+extent; z++ {
			w.generateColumn(x, z)
		}
	}
}

func (w *World) generateColumn(x, z int) {
	height := TerrainHeight(float64(x), float64(z))
	beach := height < beachHeight

	for y := 0; y <= height; y++ {
		t := Stone
		switch {
		case y == height && beach:
			t = Sand
		case y == height:
			t = Grass
		case y >= height-3 && beach:
			t = Sand
		case y >= height-3:
			t = Dirt
		}
		w.PlaceBlock(cube.Pos{x, y, z}, t)
	}

	if height < SeaLevel {
		for y := height + 1; y <= SeaLevel; y++ {
			w.PlaceBlock(cube.Pos{x, y, z}, Water)
		}
	}

	if beach {
		return
	}
	if ok, trunk := treeAt(x, z); ok {
		w.placeTree(x, height+1, z, trunk)
	}
}

// placeTree grows a wood trunk with a diamond-shaped canopy on top of it.
func (w *World) placeTree(x, baseY, z, trunk int) {
	for y := 0; y < trunk; y++ {
		w.PlaceBlock(cube.Pos{x, baseY + y, z}, Wood)
	}
	top := baseY + trunk
	for dx := -2; dx <= 2; dx++ {
		for dy := -1; dy <= 2; dy++ {
			for dz := -2; dz <= 2; dz++ {
				if abs(dx)+abs(dy)+abs(dz) >= 4 {
					continue
				}
				w.PlaceBlock(cube.Pos{x + dx, top + dy, z + dz}, Leaves)
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

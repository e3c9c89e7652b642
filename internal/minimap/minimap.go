// Package minimap draws a top-down PNG of the world around a point.
package minimap

import (
	"image"
	"image/color"
	"io"

	"github.com/fogleman/gg"

	"github.com/kaikoh95/klaw-craft/internal/world"
)

// MaxRadius bounds the captured square.
const MaxRadius = 64

// shadeTop is the height at which columns are drawn unshaded.
const shadeTop = 20

// Marker is an avatar dot.
type Marker struct {
	X, Z float64
	Bot  bool
}

// Map is a captured region: the highest voxel of each column plus avatars.
type Map struct {
	CenterX, CenterZ int
	Radius           int
	Tops             []world.Voxel
	Markers          []Marker
}

// Capture records the top voxel of every column within radius of (cx, cz).
// It reads the world, so call it from the goroutine that owns w.
func Capture(w *world.World, cx, cz, radius int, markers []Marker) Map {
	radius = min(max(radius, 1), MaxRadius)
	m := Map{CenterX: cx, CenterZ: cz, Radius: radius, Markers: markers}
	for x := cx - radius; x < cx+radius; x++ {
		for z := cz - radius; z < cz+radius; z++ {
			if v, ok := w.HighestAt(x, z); ok {
				m.Tops = append(m.Tops, v)
			}
		}
	}
	return m
}

// Render draws the map with each column as a cell-pixel square. North (-Z)
// is up.
func (m Map) Render(cell int) image.Image {
	size := 2 * m.Radius * cell
	dc := gg.NewContext(size, size)

	dc.SetColor(color.RGBA{12, 12, 28, 255})
	dc.DrawRectangle(0, 0, float64(size), float64(size))
	dc.Fill()

	originX := float64(m.CenterX - m.Radius)
	originZ := float64(m.CenterZ - m.Radius)
	c := float64(cell)

	for _, v := range m.Tops {
		px := (float64(v.X()) - originX) * c
		pz := (float64(v.Z()) - originZ) * c
		dc.SetHexColor(v.Type.Color())
		dc.DrawRectangle(px, pz, c, c)
		dc.Fill()

		// Lower columns are darker
		if depth := shadeTop - v.Y(); depth > 0 {
			dc.SetColor(color.RGBA{0, 0, 0, uint8(min(depth*6, 140))})
			dc.DrawRectangle(px, pz, c, c)
			dc.Fill()
		}
	}

	for _, mk := range m.Markers {
		px := (mk.X - originX) * c
		pz := (mk.Z - originZ) * c
		if px < 0 || pz < 0 || px >= float64(size) || pz >= float64(size) {
			continue
		}
		if mk.Bot {
			dc.SetColor(color.RGBA{255, 149, 0, 255})
		} else {
			dc.SetColor(color.RGBA{255, 62, 62, 255})
		}
		dc.DrawCircle(px, pz, max(c, 3))
		dc.Fill()
		dc.SetColor(color.White)
		dc.SetLineWidth(1)
		dc.DrawCircle(px, pz, max(c, 3))
		dc.Stroke()
	}
	return dc.Image()
}

// WritePNG renders the map and encodes it as PNG.
func (m Map) WritePNG(w io.Writer, cell int) error {
	dc := gg.NewContextForImage(m.Render(cell))
	return dc.EncodePNG(w)
}

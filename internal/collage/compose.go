package collage

import (
	"image"
	"image/color"
	"image/draw"
	"math/rand"

	"github.com/disintegration/imaging"
)

// Geometry controls how tiles are placed on the canvas.
type Geometry struct {
	PadPx     int
	JitterPx  int
	RotateDeg int
}

// Compose pastes the assigned candidates onto a black canvas the size of the
// standardized base image plus padding. Slots are drawn row-major, so later
// tiles overlap earlier ones where jitter makes them collide.
func Compose(ts *TileSet, pool []Tile, a Assignment, g Geometry, rng *rand.Rand) *image.NRGBA {
	pad := g.PadPx
	canvas := imaging.New(ts.Width+2*pad, ts.Height+2*pad, color.Black)

	for r := 0; r < a.Rows; r++ {
		for c := 0; c < a.Cols; c++ {
			tile := pool[a.At(r, c)].Image
			if b := tile.Bounds(); b.Dx() != ts.TileW || b.Dy() != ts.TileH {
				tile = imaging.Resize(tile, ts.TileW, ts.TileH, imaging.Lanczos)
			}
			if g.RotateDeg > 0 {
				angle := rng.Float64()*2*float64(g.RotateDeg) - float64(g.RotateDeg)
				tile = imaging.CropCenter(imaging.Rotate(tile, angle, color.Black), ts.TileW, ts.TileH)
			}
			var dx, dy int
			if g.JitterPx > 0 {
				dx = rng.Intn(2*g.JitterPx+1) - g.JitterPx
				dy = rng.Intn(2*g.JitterPx+1) - g.JitterPx
			}

			origin := image.Pt(c*ts.TileW+pad+dx, r*ts.TileH+pad+dy)
			dst := image.Rectangle{Min: origin, Max: origin.Add(image.Pt(ts.TileW, ts.TileH))}
			draw.Draw(canvas, dst, tile, tile.Bounds().Min, draw.Src)
		}
	}
	return canvas
}

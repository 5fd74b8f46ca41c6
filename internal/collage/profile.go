package collage

import (
	"image"

	colorful "github.com/lucasb-eyer/go-colorful"
)

const (
	edgeFraction   = 0.12
	maxSamplesAxis = 8
)

// gray128 is the reference color for slots with no placed neighbor.
var gray128 = colorful.Color{R: 128.0 / 255, G: 128.0 / 255, B: 128.0 / 255}

// EdgeColorProfile summarizes a tile by the mean color of its four border
// strips and its center box.
type EdgeColorProfile struct {
	Top, Bottom, Left, Right, Center colorful.Color
}

// Distance is the Euclidean RGB distance between two colors on 0..255
// channels, in [0, sqrt(3*255^2)].
func Distance(a, b colorful.Color) float64 {
	return a.DistanceRgb(b) * 255
}

// ExtractProfile computes the edge-color profile of a tile. Alpha is ignored.
func ExtractProfile(img *image.NRGBA) EdgeColorProfile {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	sx := max(1, int(edgeFraction*float64(w)))
	sy := max(1, int(edgeFraction*float64(h)))
	cw, ch := max(1, w/2), max(1, h/2)
	cx, cy := b.Min.X+w/4, b.Min.Y+h/4

	return EdgeColorProfile{
		Top:    meanColor(img, image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+sy)),
		Bottom: meanColor(img, image.Rect(b.Min.X, b.Max.Y-sy, b.Max.X, b.Max.Y)),
		Left:   meanColor(img, image.Rect(b.Min.X, b.Min.Y, b.Min.X+sx, b.Max.Y)),
		Right:  meanColor(img, image.Rect(b.Max.X-sx, b.Min.Y, b.Max.X, b.Max.Y)),
		Center: meanColor(img, image.Rect(cx, cy, cx+cw, cy+ch)),
	}
}

// ExtractProfiles fills in the profile of every tile in the set.
func ExtractProfiles(ts *TileSet) {
	for s := range ts.Tiles {
		for i := range ts.Tiles[s] {
			ts.Tiles[s][i].Profile = ExtractProfile(ts.Tiles[s][i].Image)
		}
	}
}

// meanColor averages a sparse grid of at most maxSamplesAxis points per axis
// inside r.
func meanColor(img *image.NRGBA, r image.Rectangle) colorful.Color {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return colorful.Color{}
	}
	xs := sampleAxis(r.Min.X, r.Dx())
	ys := sampleAxis(r.Min.Y, r.Dy())

	var sr, sg, sb float64
	for _, y := range ys {
		for _, x := range xs {
			i := img.PixOffset(x, y)
			sr += float64(img.Pix[i])
			sg += float64(img.Pix[i+1])
			sb += float64(img.Pix[i+2])
		}
	}
	n := float64(len(xs)*len(ys)) * 255
	return colorful.Color{R: sr / n, G: sg / n, B: sb / n}
}

// sampleAxis returns up to maxSamplesAxis evenly spread coordinates in
// [start, start+length).
func sampleAxis(start, length int) []int {
	n := min(length, maxSamplesAxis)
	out := make([]int, n)
	for i := range n {
		out[i] = start + (i*length)/n
	}
	return out
}

package collage

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	"tessera/internal/errors"
)

// Tile is one grid cell of a standardized image. Image is an owned copy with
// its origin at (0,0).
type Tile struct {
	Source  int
	Row     int
	Col     int
	Image   *image.NRGBA
	Profile EdgeColorProfile
}

// TileSet is the Preprocessor output: every input standardized to the same
// size and cut into Rows×Cols tiles in row-major order.
type TileSet struct {
	Rows, Cols    int
	Width, Height int // standardized image size
	TileW, TileH  int
	Tiles         [][]Tile // Tiles[source][row*Cols+col]
}

// Slot returns the tile of source at (row, col).
func (ts *TileSet) Slot(source, row, col int) Tile {
	return ts.Tiles[source][row*ts.Cols+col]
}

// Standardize resizes every source to width and crops all of them to one
// common size whose width is a multiple of cols and height a multiple of
// rows. The surplus width is cut from the right edge; the surplus height is
// split evenly between top and bottom.
//
// The common height is the smallest aspect-preserving height among the
// inputs, floored to a multiple of rows, so no image is ever upscaled
// vertically to fill the frame.
func Standardize(sources []Source, width, rows, cols int) ([]*image.NRGBA, error) {
	if rows <= 0 || cols <= 0 {
		return nil, errors.Validation("grid must be positive, got rows=%d cols=%d", rows, cols)
	}
	if len(sources) == 0 {
		return nil, errors.Validation("no input images")
	}

	scaled := make([]int, len(sources))
	minH := math.MaxInt
	for i, src := range sources {
		b := src.Image.Bounds()
		h := int(math.Round(float64(b.Dy()) * float64(width) / float64(b.Dx())))
		if h < 1 {
			h = 1
		}
		scaled[i] = h
		minH = min(minH, h)
	}

	outW := width - width%cols
	outH := minH - minH%rows
	if outW == 0 || outH == 0 {
		return nil, errors.Validation("images too small for a %dx%d grid at width %d (height %d)", rows, cols, width, minH)
	}

	out := make([]*image.NRGBA, len(sources))
	for i, src := range sources {
		resized := imaging.Resize(src.Image, width, scaled[i], imaging.CatmullRom)
		top := (resized.Bounds().Dy() - outH) / 2
		out[i] = imaging.Crop(resized, image.Rect(0, top, outW, top+outH))
	}
	return out, nil
}

// Partition cuts a standardized image into rows×cols tiles in row-major order.
// The image size must be divisible by the grid.
func Partition(img *image.NRGBA, source, rows, cols int) []Tile {
	b := img.Bounds()
	tw, th := b.Dx()/cols, b.Dy()/rows
	tiles := make([]Tile, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			rect := image.Rect(b.Min.X+c*tw, b.Min.Y+r*th, b.Min.X+(c+1)*tw, b.Min.Y+(r+1)*th)
			tiles = append(tiles, Tile{
				Source: source,
				Row:    r,
				Col:    c,
				Image:  imaging.Crop(img, rect),
			})
		}
	}
	return tiles
}

// Preprocess standardizes all sources and partitions each into tiles.
// Profiles are left zero; see ExtractProfiles.
func Preprocess(sources []Source, width, rows, cols int) (*TileSet, error) {
	std, err := Standardize(sources, width, rows, cols)
	if err != nil {
		return nil, err
	}
	b := std[0].Bounds()
	ts := &TileSet{
		Rows:   rows,
		Cols:   cols,
		Width:  b.Dx(),
		Height: b.Dy(),
		TileW:  b.Dx() / cols,
		TileH:  b.Dy() / rows,
		Tiles:  make([][]Tile, len(std)),
	}
	for i, img := range std {
		ts.Tiles[i] = Partition(img, sources[i].Index, rows, cols)
	}
	return ts, nil
}

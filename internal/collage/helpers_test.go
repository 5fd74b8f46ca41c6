package collage

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func noise(w, h int, seed int64) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(rng.Intn(256))
		img.Pix[i+1] = uint8(rng.Intn(256))
		img.Pix[i+2] = uint8(rng.Intn(256))
		img.Pix[i+3] = 255
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// memInputs encodes images as in-memory PNG inputs.
func memInputs(t *testing.T, imgs ...image.Image) []Input {
	t.Helper()
	inputs := make([]Input, len(imgs))
	for i, img := range imgs {
		inputs[i] = Input{Name: filepath.Join("mem", string(rune('a'+i))+".png"), Data: pngBytes(t, img)}
	}
	return inputs
}

// writeInputs writes images as PNG files under dir and returns file inputs.
func writeInputs(t *testing.T, dir string, imgs ...image.Image) []Input {
	t.Helper()
	paths := make([]string, len(imgs))
	for i, img := range imgs {
		paths[i] = filepath.Join(dir, string(rune('a'+i))+".png")
		require.NoError(t, os.WriteFile(paths[i], pngBytes(t, img), 0o644))
	}
	return PathInputs(paths)
}

func seeded(s int64) *int64 { return &s }

// tileSetFromSources runs the preprocessing and profile steps.
func tileSetFromSources(t *testing.T, width, rows, cols int, imgs ...image.Image) *TileSet {
	t.Helper()
	sources := make([]Source, len(imgs))
	for i, img := range imgs {
		sources[i] = Source{Index: i, Image: img}
	}
	ts, err := Preprocess(sources, width, rows, cols)
	require.NoError(t, err)
	ExtractProfiles(ts)
	return ts
}

func seededRand(s int64) *rand.Rand { return rand.New(rand.NewSource(s)) }

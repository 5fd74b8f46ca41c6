package collage

import (
	"bytes"
	"image"
	_ "image/gif" // Register GIF format decoder
	"io"
	"os"
	"path/filepath"

	_ "github.com/chai2010/webp" // Register WebP format decoder
	"github.com/disintegration/imaging"

	"tessera/internal/errors"
)

// Source is a decoded input image and its position in the input list.
// It is never mutated after loading.
type Source struct {
	Index int
	Name  string
	Image image.Image
}

// Input names one image to load. Exactly one of Path or Data is used;
// Data takes precedence when non-empty.
type Input struct {
	Name string
	Path string
	Data []byte
}

// PathInputs converts file paths into inputs named by their base name.
func PathInputs(paths []string) []Input {
	inputs := make([]Input, len(paths))
	for i, p := range paths {
		inputs[i] = Input{Name: filepath.Base(p), Path: p}
	}
	return inputs
}

// LoadSource decodes a single input. EXIF orientation is applied so that
// camera photos tile the way they display.
//
// Errors are classified as ErrCodeDecode whether the file is missing or
// its contents are not a supported image (PNG, JPEG, GIF, WebP, BMP, TIFF).
func LoadSource(index int, in Input) (Source, error) {
	var r io.Reader
	if len(in.Data) > 0 {
		r = bytes.NewReader(in.Data)
	} else {
		f, err := os.Open(in.Path)
		if err != nil {
			return Source{}, errors.Wrap(errors.ErrCodeDecode, err, "open input %d (%s)", index, in.Name)
		}
		defer f.Close()
		r = f
	}

	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return Source{}, errors.Wrap(errors.ErrCodeDecode, err, "decode input %d (%s)", index, in.Name)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return Source{}, errors.New(errors.ErrCodeDecode, "input %d (%s) has empty bounds", index, in.Name)
	}

	name := in.Name
	if name == "" {
		name = filepath.Base(in.Path)
	}
	return Source{Index: index, Name: name, Image: img}, nil
}

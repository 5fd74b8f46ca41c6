package collage

import (
	"fmt"
	"strings"
	"time"

	"tessera/internal/errors"
)

// Mode selects the assignment strategy.
type Mode string

const (
	ModeGreedy Mode = "greedy"
	ModeWave   Mode = "wave"
	ModeRandom Mode = "random"
)

// ParseMode normalizes and validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeGreedy, ModeWave, ModeRandom:
		return m, nil
	case "":
		return ModeGreedy, nil
	default:
		return "", errors.Validation("unknown mode %q (greedy|wave|random)", s)
	}
}

// BasePolicy selects which input supplies the slot grid.
type BasePolicy string

const (
	BaseFirst BasePolicy = "first"
	// BaseMean currently resolves to the first input.
	BaseMean BasePolicy = "mean"
)

// ParseBasePolicy normalizes and validates a base policy string.
func ParseBasePolicy(s string) (BasePolicy, error) {
	switch b := BasePolicy(strings.ToLower(strings.TrimSpace(s))); b {
	case BaseFirst, BaseMean:
		return b, nil
	case "":
		return BaseFirst, nil
	default:
		return "", errors.Validation("unknown base policy %q (first|mean)", s)
	}
}

// Format is the output encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
)

// ParseFormat normalizes and validates an output format. "jpg" is accepted as
// an alias of "jpeg".
func ParseFormat(s string) (Format, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "png", "":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "webp":
		return FormatWebP, nil
	default:
		return "", errors.Validation("unsupported format %q (png|jpg|jpeg|webp)", s)
	}
}

// Ext returns the file extension for the format, without the dot.
func (f Format) Ext() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

// MimeType returns the content type of the encoded output.
func (f Format) MimeType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/png"
	}
}

// Params holds the validated configuration of one collage job.
type Params struct {
	Rows      int        `json:"rows" toml:"rows"`
	Cols      int        `json:"cols" toml:"cols"`
	Mode      Mode       `json:"mode" toml:"mode"`
	Base      BasePolicy `json:"base" toml:"base"`
	AllowSelf bool       `json:"allow_self" toml:"allow_self"`
	ResizeW   int        `json:"resize_w" toml:"resize_w"`
	PadPx     int        `json:"pad_px" toml:"pad_px"`
	JitterPx  int        `json:"jitter_px" toml:"jitter_px"`
	RotateDeg int        `json:"rotate_deg" toml:"rotate_deg"`
	Format    Format     `json:"format" toml:"format"`
	Quality   int        `json:"quality" toml:"quality"`
	// Seed is optional; Resolve fills it from the clock when nil.
	Seed      *int64 `json:"seed,omitempty" toml:"seed,omitempty"`
	ReturnMap bool   `json:"return_map" toml:"return_map"`
}

const (
	MaxRotateDeg = 45
	minQuality   = 1
	maxQuality   = 100
)

// DefaultParams returns the parameter defaults used when a request omits a field.
func DefaultParams() Params {
	return Params{
		Rows:    8,
		Cols:    8,
		Mode:    ModeGreedy,
		Base:    BaseFirst,
		ResizeW: 1024,
		Format:  FormatPNG,
		Quality: 92,
	}
}

// Validate checks every field and the number of inputs against the
// self-composition rule. It returns an *errors.Error with ErrCodeValidation.
func (p Params) Validate(inputs int) error {
	if p.Rows <= 0 || p.Cols <= 0 {
		return errors.Validation("grid must be positive, got rows=%d cols=%d", p.Rows, p.Cols)
	}
	if inputs < 1 {
		return errors.Validation("no input images")
	}
	if inputs < 2 && !p.AllowSelf {
		return errors.Validation("need at least 2 images (or allow_self for single-image composition), got %d", inputs)
	}
	if _, err := ParseMode(string(p.Mode)); err != nil || p.Mode == "" {
		return errors.Validation("invalid mode %q", p.Mode)
	}
	if _, err := ParseBasePolicy(string(p.Base)); err != nil || p.Base == "" {
		return errors.Validation("invalid base policy %q", p.Base)
	}
	if p.ResizeW <= 0 {
		return errors.Validation("resize_w must be positive, got %d", p.ResizeW)
	}
	if p.ResizeW < p.Cols {
		return errors.Validation("resize_w %d is smaller than cols %d", p.ResizeW, p.Cols)
	}
	if p.PadPx < 0 || p.JitterPx < 0 {
		return errors.Validation("pad_px and jitter_px must be non-negative, got %d and %d", p.PadPx, p.JitterPx)
	}
	if p.RotateDeg < 0 || p.RotateDeg > MaxRotateDeg {
		return errors.Validation("rotate_deg must be in [0, %d], got %d", MaxRotateDeg, p.RotateDeg)
	}
	if p.Quality < minQuality || p.Quality > maxQuality {
		return errors.Validation("quality must be in [%d, %d], got %d", minQuality, maxQuality, p.Quality)
	}
	return nil
}

// Resolve returns a copy with normalized enums and a concrete seed.
func (p Params) Resolve(now time.Time) (Params, error) {
	var err error
	if p.Mode, err = ParseMode(string(p.Mode)); err != nil {
		return p, err
	}
	if p.Base, err = ParseBasePolicy(string(p.Base)); err != nil {
		return p, err
	}
	if p.Format, err = ParseFormat(string(p.Format)); err != nil {
		return p, err
	}
	if p.Seed == nil {
		seed := now.UnixNano()
		p.Seed = &seed
	}
	return p, nil
}

// SeedValue returns the seed, or 0 when unset.
func (p Params) SeedValue() int64 {
	if p.Seed == nil {
		return 0
	}
	return *p.Seed
}

// BaseIndex resolves the base policy to an input index.
// BaseMean falls back to the first input.
func (p Params) BaseIndex() int {
	return 0
}

func (p Params) String() string {
	return fmt.Sprintf("%dx%d %s base=%s self=%t w=%d pad=%d jitter=%d rot=%d %s/q%d seed=%d",
		p.Rows, p.Cols, p.Mode, p.Base, p.AllowSelf, p.ResizeW, p.PadPx, p.JitterPx, p.RotateDeg,
		p.Format, p.Quality, p.SeedValue())
}

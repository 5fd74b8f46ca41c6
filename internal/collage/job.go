package collage

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"tessera/internal/errors"
)

// Job is a fully specified collage request.
type Job struct {
	ID        string
	Inputs    []Input
	Params    Params
	OutputDir string
}

// NewJob resolves defaults and validates params against the inputs. The
// returned error is always an ErrCodeValidation error.
func NewJob(id string, inputs []Input, params Params, outputDir string, now time.Time) (Job, error) {
	if id == "" {
		return Job{}, errors.Validation("job id is required")
	}
	p, err := params.Resolve(now)
	if err != nil {
		return Job{}, err
	}
	if err := p.Validate(len(inputs)); err != nil {
		return Job{}, err
	}
	return Job{ID: id, Inputs: inputs, Params: p, OutputDir: outputDir}, nil
}

// MappingEntry records which source tile filled an output slot.
type MappingEntry struct {
	Row         int `json:"row"`
	Col         int `json:"col"`
	SourceImage int `json:"source_image"`
	SourceRow   int `json:"source_row"`
	SourceCol   int `json:"source_col"`
}

// OutputInfo describes the written composite.
type OutputInfo struct {
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format Format `json:"format"`
	Bytes  int64  `json:"bytes"`
}

// Metadata is the JSON record written next to every composite.
type Metadata struct {
	ID        string         `json:"id"`
	Parents   []string       `json:"parents"`
	Rows      int            `json:"rows"`
	Cols      int            `json:"cols"`
	Mode      Mode           `json:"mode"`
	Base      BasePolicy     `json:"base"`
	BaseIndex int            `json:"base_index"`
	AllowSelf bool           `json:"allow_self"`
	ResizeW   int            `json:"resize_w"`
	PadPx     int            `json:"pad_px"`
	JitterPx  int            `json:"jitter_px"`
	RotateDeg int            `json:"rotate_deg"`
	Seed      int64          `json:"seed"`
	Format    Format         `json:"format"`
	Quality   int            `json:"quality"`
	Output    OutputInfo     `json:"output"`
	CreatedAt time.Time      `json:"created_at"`
	TileMap   []MappingEntry `json:"tile_map,omitempty"`
}

// Result is the outcome of a successful job.
type Result struct {
	Metadata     Metadata
	MetadataPath string
	// TileMap is always populated; Metadata.TileMap only when ReturnMap is set.
	TileMap []MappingEntry
}

// Runner executes collage jobs. The zero value is ready to use.
type Runner struct {
	Log *slog.Logger
	Now func() time.Time
}

// Run executes job with a default Runner.
func Run(job Job, progress chan<- Progress) (*Result, error) {
	var r Runner
	return r.Run(job, progress)
}

// Run loads, tiles, matches, reassembles and saves one collage. Progress
// events are sent without blocking; the caller records the terminal state.
// On error no output files are left behind.
func (r *Runner) Run(job Job, progress chan<- Progress) (*Result, error) {
	log := r.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	log = log.With("job_id", job.ID)
	rep := reporter{jobID: job.ID, ch: progress, now: now}

	p, err := job.Params.Resolve(now())
	if err != nil {
		return nil, err
	}
	if err := p.Validate(len(job.Inputs)); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(*p.Seed))
	base := p.BaseIndex()

	rep.emit(pctLoadingStart, StageLoading, fmt.Sprintf("loading %d images", len(job.Inputs)))
	sources := make([]Source, len(job.Inputs))
	for i, in := range job.Inputs {
		src, err := LoadSource(i, in)
		if err != nil {
			return nil, err
		}
		sources[i] = src
		b := src.Image.Bounds()
		log.Debug("decoded input", "index", i, "name", src.Name, "width", b.Dx(), "height", b.Dy())
		rep.emit(pctLoadingStart+pctLoadingSpan*(i+1)/len(job.Inputs), StageLoading,
			fmt.Sprintf("decoded %s", src.Name))
	}

	rep.emit(pctTiling, StageTiling, fmt.Sprintf("cutting %dx%d grid", p.Rows, p.Cols))
	ts, err := Preprocess(sources, p.ResizeW, p.Rows, p.Cols)
	if err != nil {
		return nil, err
	}
	ExtractProfiles(ts)
	log.Debug("tiled inputs", "width", ts.Width, "height", ts.Height, "tile_w", ts.TileW, "tile_h", ts.TileH,
		"base_center", ts.Tiles[base][0].Profile.Center.Hex())

	rep.emit(pctMatching, StageMatching, fmt.Sprintf("matching tiles (%s)", p.Mode))
	strategy, err := StrategyFor(p.Mode)
	if err != nil {
		return nil, err
	}
	pool := BuildPool(ts, base, p.AllowSelf)
	assignment, err := Assign(strategy, p.Rows, p.Cols, pool, rng)
	if err != nil {
		return nil, err
	}

	rep.emit(pctReassembling, StageReassembling, "compositing tiles")
	canvas := Compose(ts, pool, assignment, Geometry{PadPx: p.PadPx, JitterPx: p.JitterPx, RotateDeg: p.RotateDeg}, rng)

	rep.emit(pctSaving, StageSaving, fmt.Sprintf("encoding %s", p.Format))
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeEncode, err, "create output dir %s", job.OutputDir)
	}
	imgPath := filepath.Join(job.OutputDir, job.ID+"."+p.Format.Ext())
	metaPath := filepath.Join(job.OutputDir, job.ID+".json")

	n, err := writeAtomic(imgPath, func(w io.Writer) error {
		return Encode(w, canvas, p.Format, p.Quality)
	})
	if err != nil {
		return nil, err
	}

	tileMap := buildTileMap(pool, assignment)
	parents := make([]string, len(sources))
	for i, s := range sources {
		parents[i] = s.Name
	}
	meta := Metadata{
		ID:        job.ID,
		Parents:   parents,
		Rows:      p.Rows,
		Cols:      p.Cols,
		Mode:      p.Mode,
		Base:      p.Base,
		BaseIndex: base,
		AllowSelf: p.AllowSelf,
		ResizeW:   p.ResizeW,
		PadPx:     p.PadPx,
		JitterPx:  p.JitterPx,
		RotateDeg: p.RotateDeg,
		Seed:      *p.Seed,
		Format:    p.Format,
		Quality:   p.Quality,
		Output: OutputInfo{
			Path:   imgPath,
			Width:  canvas.Bounds().Dx(),
			Height: canvas.Bounds().Dy(),
			Format: p.Format,
			Bytes:  n,
		},
		CreatedAt: now().UTC(),
	}
	if p.ReturnMap {
		meta.TileMap = tileMap
	}

	if _, err := writeAtomic(metaPath, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(meta); err != nil {
			return errors.Wrap(errors.ErrCodeEncode, err, "encode metadata")
		}
		return nil
	}); err != nil {
		os.Remove(imgPath)
		return nil, err
	}

	return &Result{Metadata: meta, MetadataPath: metaPath, TileMap: tileMap}, nil
}

func buildTileMap(pool []Tile, a Assignment) []MappingEntry {
	out := make([]MappingEntry, 0, len(a.Slots))
	for r := 0; r < a.Rows; r++ {
		for c := 0; c < a.Cols; c++ {
			t := pool[a.At(r, c)]
			out = append(out, MappingEntry{Row: r, Col: c, SourceImage: t.Source, SourceRow: t.Row, SourceCol: t.Col})
		}
	}
	return out
}

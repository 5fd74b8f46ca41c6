package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"tessera/internal/collage"
	"tessera/internal/config"
	"tessera/internal/errors"
	"tessera/internal/fsutil"
	"tessera/internal/grpcserver"
	"tessera/internal/jobstore"
	"tessera/internal/metrics"
	"tessera/internal/pipeline"
	"tessera/internal/server"
	"tessera/internal/storage"
)

type pipelineClient interface {
	SubmitAndWait(ctx context.Context, job collage.Job) (pipeline.Result, error)
}

// serveOptions are the listen addresses chosen for the serve command.
type serveOptions struct {
	Addr      string
	GRPCAddr  string
	OutputDir string
	InputRoot string
}

type serverFunc func(ctx context.Context, r *Root, opts serveOptions) error

// Deps carries the long-lived services the commands operate on.
type Deps struct {
	Config   *config.Config
	Log      *slog.Logger
	Store    *storage.Store
	Status   *jobstore.Store
	Metrics  metrics.Collector
	Pipeline *pipeline.Pipeline
}

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	status   *jobstore.Store
	metrics  metrics.Collector
	serveFn  serverFunc
	now      func() time.Time
}

// NewRoot constructs the command root from d.
func NewRoot(d Deps) *Root {
	r := &Root{
		cfg:     d.Config,
		log:     d.Log,
		store:   d.Store,
		status:  d.Status,
		metrics: d.Metrics,
		serveFn: defaultServe,
		now:     time.Now,
	}
	if d.Pipeline != nil {
		r.pipeline = d.Pipeline
	}
	if r.cfg == nil {
		r.cfg = config.Default()
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.metrics == nil {
		r.metrics = metrics.NewNop()
	}
	return r
}

func defaultServe(ctx context.Context, r *Root, opts serveOptions) error {
	pipe, ok := r.pipeline.(*pipeline.Pipeline)
	if !ok {
		return fmt.Errorf("pipeline does not support server operation")
	}
	if r.status == nil {
		return fmt.Errorf("server requires a job status store")
	}

	go r.status.RunJanitor(ctx, r.cfg.Store.SweepInterval(), r.metrics.JobsEvicted)

	srv, err := server.NewServer(server.Options{
		Addr:      opts.Addr,
		OutputDir: opts.OutputDir,
		InputRoot: opts.InputRoot,
		Defaults:  r.cfg.Collage,
		Store:     r.store,
		Status:    r.status,
		Pipeline:  pipe,
		Log:       r.log,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if opts.GRPCAddr != "" {
		health := grpcserver.NewHealthServer(r.log)
		health.SetServing(true)
		go func() {
			if err := health.ListenAndServe(ctx, opts.GRPCAddr); err != nil {
				r.log.Error("gRPC health server failed", "addr", opts.GRPCAddr, "error", err)
			}
		}()
	}

	r.log.Info("server ready",
		"addr", opts.Addr,
		"grpc_addr", opts.GRPCAddr,
		"endpoints", []string{"/collages", "/jobs", "/stream", "/healthz", "/metrics"},
	)
	return srv.Start(ctx)
}

// compose submits one job over paths and waits for it to finish.
func (r *Root) compose(ctx context.Context, prefix string, paths []string, params collage.Params, outputDir string, out io.Writer) (*collage.Metadata, error) {
	if r.pipeline == nil {
		return nil, fmt.Errorf("pipeline unavailable")
	}
	job, err := collage.NewJob(newID(prefix, r.now()), collage.PathInputs(paths), params, outputDir, r.now())
	if err != nil {
		return nil, err
	}
	r.log.Info("job queued", "id", job.ID, "inputs", len(paths), "output_dir", outputDir)

	res, err := r.pipeline.SubmitAndWait(ctx, job)
	if err != nil {
		return nil, err
	}
	if res.Error != nil {
		return nil, res.Error
	}
	meta := res.Meta
	fmt.Fprintf(out, "%s: %s (%dx%d, %d bytes, seed %d)\n",
		meta.ID, meta.Output.Path, meta.Output.Width, meta.Output.Height, meta.Output.Bytes, meta.Seed)
	return meta, nil
}

// watch re-renders dir into outputDir every time its images settle.
func (r *Root) watch(ctx context.Context, dir, outputDir string, params collage.Params, debounce time.Duration, initial bool, out io.Writer) error {
	if inside(outputDir, dir) {
		return errors.Validation("output directory %s must not be inside watched directory %s", outputDir, dir)
	}
	w, err := fsutil.NewWatcher(r.log, debounce, dir)
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	go w.Run(ctx)

	if initial {
		if _, err := r.renderDir(ctx, dir, outputDir, params, out); err != nil {
			r.log.Warn("initial render failed", "dir", dir, "error", err)
		}
	}
	for batch := range w.Batches {
		r.log.Info("changes detected", "dir", dir, "events", len(batch))
		if _, err := r.renderDir(ctx, dir, outputDir, params, out); err != nil {
			r.log.Warn("render failed", "dir", dir, "error", err)
		}
	}
	return nil
}

func (r *Root) renderDir(ctx context.Context, dir, outputDir string, params collage.Params, out io.Writer) (*collage.Metadata, error) {
	paths, err := fsutil.ListImages(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.Validation("no images in %s", dir)
	}
	return r.compose(ctx, "watch", paths, params, outputDir, out)
}

// expandInputs replaces directory arguments with the images they contain.
func expandInputs(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil || !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		found, err := fsutil.ListImages(arg)
		if err != nil {
			return nil, err
		}
		paths = append(paths, found...)
	}
	return paths, nil
}

// inside reports whether path is dir or lies beneath it.
func inside(path, dir string) bool {
	absPath, err1 := filepath.Abs(path)
	absDir, err2 := filepath.Abs(dir)
	if err1 != nil || err2 != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func newID(prefix string, now time.Time) string {
	ts := now.UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%s", prefix, ts, uuid.NewString()[:8])
}

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"tessera/internal/collage"
	"tessera/internal/config"
	"tessera/internal/errors"
	"tessera/internal/jobstore"
	"tessera/internal/pipeline"
)

type fakePipeline struct {
	mu   sync.Mutex
	jobs []collage.Job
	err  error
}

func (f *fakePipeline) SubmitAndWait(_ context.Context, job collage.Job) (pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	if f.err != nil {
		return pipeline.Result{Job: job, Error: f.err}, nil
	}
	meta := &collage.Metadata{
		ID:     job.ID,
		Seed:   job.Params.SeedValue(),
		Output: collage.OutputInfo{Path: filepath.Join(job.OutputDir, job.ID+"."+job.Params.Format.Ext()), Width: 64, Height: 64, Bytes: 10},
	}
	return pipeline.Result{Job: job, Meta: meta}, nil
}

func (f *fakePipeline) submitted() []collage.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]collage.Job(nil), f.jobs...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRoot(t *testing.T) (*Root, *fakePipeline) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DefaultOutput = filepath.Join(t.TempDir(), "out")
	fake := &fakePipeline{}
	root := NewRoot(Deps{Config: cfg, Log: quietLogger()})
	root.pipeline = fake
	return root, fake
}

func execute(t *testing.T, root *Root, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(root)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writePNG(t *testing.T, path string, shade uint8) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.NRGBA{R: shade, G: uint8(x * 8), B: uint8(y * 8), A: 255})
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestComposeBuildsJobFromFlags(t *testing.T) {
	root, fake := newTestRoot(t)
	out := filepath.Join(t.TempDir(), "mosaics")

	stdout, err := execute(t, root, "compose", "a.png", "b.png",
		"--rows", "4", "--cols", "6", "--mode", "wave", "--format", "jpg",
		"--seed", "7", "--pad", "3", "--allow-self", "--output", out)
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}

	jobs := fake.submitted()
	if len(jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs))
	}
	job := jobs[0]
	p := job.Params
	if p.Rows != 4 || p.Cols != 6 || p.Mode != collage.ModeWave || p.Format != collage.FormatJPEG {
		t.Fatalf("unexpected params %+v", p)
	}
	if p.Seed == nil || *p.Seed != 7 || p.PadPx != 3 || !p.AllowSelf {
		t.Fatalf("unexpected params %+v", p)
	}
	if job.OutputDir != out || len(job.Inputs) != 2 || job.Inputs[1].Path != "b.png" {
		t.Fatalf("unexpected job %+v", job)
	}
	if !strings.HasPrefix(job.ID, "compose-") {
		t.Fatalf("unexpected id %q", job.ID)
	}
	if !strings.Contains(stdout, "seed 7") {
		t.Fatalf("expected summary line, got %q", stdout)
	}
}

func TestComposeUsesConfigDefaults(t *testing.T) {
	root, fake := newTestRoot(t)
	root.cfg.Collage.Rows = 3
	root.cfg.Collage.Mode = collage.ModeRandom

	if _, err := execute(t, root, "compose", "a.png", "b.png"); err != nil {
		t.Fatal(err)
	}
	job := fake.submitted()[0]
	if job.Params.Rows != 3 || job.Params.Mode != collage.ModeRandom {
		t.Fatalf("config defaults not applied: %+v", job.Params)
	}
	if job.OutputDir != root.cfg.Paths.DefaultOutput {
		t.Fatalf("expected default output dir, got %s", job.OutputDir)
	}
	if job.Params.Seed == nil {
		t.Fatal("seed should be resolved before submission")
	}
}

func TestComposeValidatesBeforeSubmitting(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{"no inputs", []string{"compose"}},
		{"bad mode", []string{"compose", "a.png", "b.png", "--mode", "spiral"}},
		{"bad format", []string{"compose", "a.png", "b.png", "--format", "gif"}},
		{"zero rows", []string{"compose", "a.png", "b.png", "--rows", "0"}},
		{"single image without self", []string{"compose", "a.png"}},
		{"rotation too large", []string{"compose", "a.png", "b.png", "--rotate", "90"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root, fake := newTestRoot(t)
			if _, err := execute(t, root, tc.args...); err == nil {
				t.Fatal("expected an error")
			}
			if n := len(fake.submitted()); n != 0 {
				t.Fatalf("expected nothing submitted, got %d", n)
			}
		})
	}
}

func TestComposeReportsJobFailure(t *testing.T) {
	root, fake := newTestRoot(t)
	fake.err = errors.New(errors.ErrCodeDecode, "decode input 1 (b.png)")

	_, err := execute(t, root, "compose", "a.png", "b.png")
	if !errors.Is(err, errors.ErrCodeDecode) {
		t.Fatalf("expected DECODE error, got %v", err)
	}
}

func TestComposeExpandsDirectories(t *testing.T) {
	root, fake := newTestRoot(t)
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "b.png"), 20)
	writePNG(t, filepath.Join(dir, "a.png"), 10)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, root, "compose", dir); err != nil {
		t.Fatal(err)
	}
	inputs := fake.submitted()[0].Inputs
	if len(inputs) != 2 || filepath.Base(inputs[0].Path) != "a.png" || filepath.Base(inputs[1].Path) != "b.png" {
		t.Fatalf("unexpected inputs %+v", inputs)
	}
}

func TestComposeWithRealPipeline(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")
	writePNG(t, a, 10)
	writePNG(t, b, 240)
	out := filepath.Join(dir, "out")

	status := jobstore.New(time.Minute)
	pipe := pipeline.New(context.Background(), pipeline.Config{Logger: quietLogger(), Status: status})
	defer pipe.Stop()
	root := NewRoot(Deps{Config: config.Default(), Log: quietLogger(), Status: status, Pipeline: pipe})

	if _, err := execute(t, root, "compose", a, b, "--rows", "2", "--cols", "2", "--resize-w", "32", "--seed", "42", "--output", out); err != nil {
		t.Fatalf("compose failed: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(out, "*.json"))
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one metadata file, got %v (%v)", files, err)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	var meta collage.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.Seed != 42 || meta.Output.Width != 32 || len(meta.Parents) != 2 {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if _, err := os.Stat(meta.Output.Path); err != nil {
		t.Fatalf("composite missing: %v", err)
	}
}

func TestServeDelegatesToServer(t *testing.T) {
	root, _ := newTestRoot(t)
	root.cfg.Server.GRPCAddr = ":9999"
	var got serveOptions
	root.serveFn = func(_ context.Context, r *Root, opts serveOptions) error {
		got = opts
		return nil
	}

	if _, err := execute(t, root, "serve", "--addr", ":7070"); err != nil {
		t.Fatal(err)
	}
	if got.Addr != ":7070" || got.GRPCAddr != ":9999" || got.OutputDir != root.cfg.Paths.DefaultOutput || got.InputRoot != root.cfg.Paths.DefaultInput {
		t.Fatalf("unexpected serve options %+v", got)
	}

	if _, err := execute(t, root, "serve", "--addr", ""); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestDefaultServeRequiresRealPipeline(t *testing.T) {
	root, _ := newTestRoot(t)
	if err := defaultServe(context.Background(), root, serveOptions{Addr: ":0"}); err == nil {
		t.Fatal("expected error without a real pipeline")
	}
}

func TestRenderDir(t *testing.T) {
	root, fake := newTestRoot(t)
	dir := t.TempDir()

	if _, err := root.renderDir(context.Background(), dir, t.TempDir(), collage.DefaultParams(), io.Discard); !errors.Is(err, errors.ErrCodeValidation) {
		t.Fatalf("expected validation error for empty dir, got %v", err)
	}

	writePNG(t, filepath.Join(dir, "one.png"), 1)
	writePNG(t, filepath.Join(dir, "two.png"), 2)
	meta, err := root.renderDir(context.Background(), dir, t.TempDir(), collage.DefaultParams(), io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(meta.ID, "watch-") || len(fake.submitted()[0].Inputs) != 2 {
		t.Fatalf("unexpected render %+v", meta)
	}
}

func TestWatchRejectsOutputInsideDir(t *testing.T) {
	root, _ := newTestRoot(t)
	dir := t.TempDir()
	err := root.watch(context.Background(), dir, filepath.Join(dir, "out"), collage.DefaultParams(), time.Millisecond, false, io.Discard)
	if !errors.Is(err, errors.ErrCodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestWatchRendersOnChange(t *testing.T) {
	root, fake := newTestRoot(t)
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- root.watch(ctx, dir, t.TempDir(), collage.DefaultParams(), 20*time.Millisecond, false, io.Discard)
	}()

	// Give the watcher time to register before changing the directory.
	time.Sleep(100 * time.Millisecond)
	writePNG(t, filepath.Join(dir, "b.png"), 250)

	deadline := time.Now().Add(5 * time.Second)
	for len(fake.submitted()) == 0 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("no render after change")
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watch returned %v", err)
	}
	if n := len(fake.submitted()[0].Inputs); n != 2 {
		t.Fatalf("expected both images rendered, got %d", n)
	}
}

func TestInside(t *testing.T) {
	cases := []struct {
		path, dir string
		want      bool
	}{
		{"/a/b", "/a", true},
		{"/a", "/a", true},
		{"/a/../c", "/a", false},
		{"/ab", "/a", false},
		{"/a/..b", "/a", true},
	}
	for _, tc := range cases {
		if got := inside(tc.path, tc.dir); got != tc.want {
			t.Errorf("inside(%q, %q) = %t, want %t", tc.path, tc.dir, got, tc.want)
		}
	}
}

func TestConfigShowAndVersion(t *testing.T) {
	root, _ := newTestRoot(t)
	t.Setenv("TESSERA_CONFIG", "/etc/tessera.toml")

	out, err := execute(t, root, "config", "show")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Config file: /etc/tessera.toml", "Parallel jobs: 4", "Address: :8080"} {
		if !strings.Contains(out, want) {
			t.Fatalf("config show missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, root, "config", "show", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var decoded config.Config
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("config show --json not JSON: %v", err)
	}
	if decoded.Collage.Rows != 8 {
		t.Fatalf("unexpected decoded config %+v", decoded.Collage)
	}

	out, err = execute(t, root, "config", "path")
	if err != nil || strings.TrimSpace(out) != "/etc/tessera.toml" {
		t.Fatalf("config path = %q, %v", out, err)
	}

	out, err = execute(t, root, "version")
	if err != nil || !strings.Contains(out, Version) {
		t.Fatalf("version = %q, %v", out, err)
	}
}

package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tessera/internal/config"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		logFunc func(*slog.Logger)
		wantLog bool
	}{
		{"info at info level", "info", func(l *slog.Logger) { l.Info("test") }, true},
		{"debug at info level", "info", func(l *slog.Logger) { l.Debug("test") }, false},
		{"debug at debug level", "debug", func(l *slog.Logger) { l.Debug("test") }, true},
		{"warn at error level", "error", func(l *slog.Logger) { l.Warn("test") }, false},
		{"unknown level defaults to info", "loud", func(l *slog.Logger) { l.Info("test") }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.logFunc(New(tt.level, "text", &buf))
			if got := buf.Len() > 0; got != tt.wantLog {
				t.Errorf("got log output = %v, want %v", got, tt.wantLog)
			}
		})
	}
}

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	New("info", "json", &buf).Info("job started", "id", "abc")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "job started" || rec["id"] != "abc" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestTextIncludesAttributes(t *testing.T) {
	var buf bytes.Buffer
	New("info", "text", &buf).Info("job completed", "id", "xyz")
	out := buf.String()
	if !strings.Contains(out, "job completed") || !strings.Contains(out, "xyz") {
		t.Errorf("text output missing fields: %q", out)
	}
}

func TestJobHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New("debug", "json", &buf)

	LogJobStart(logger, "j1", 3, "/tmp/out", stringer("4x4 greedy"))
	LogProcessingStep(logger, "j1", "matching", 40, "matching tiles")
	LogJobComplete(logger, "j1", 1500*time.Millisecond, map[string]any{"bytes": 10})
	LogJobError(logger, "j1", time.Second, errors.New("boom"), nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 records, got %d: %q", len(lines), buf.String())
	}
	var last map[string]any
	if err := json.Unmarshal([]byte(lines[3]), &last); err != nil {
		t.Fatal(err)
	}
	if last["level"] != "ERROR" || last["error"] != "boom" {
		t.Errorf("unexpected error record %v", last)
	}
}

func TestSetupFileOutput(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.FileOutput = true
	cfg.Logging.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.Logging.Format = "json"

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	if _, err := Setup(cfg); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	matches, err := filepath.Glob(filepath.Join(cfg.Logging.LogDir, "tessera-*.log"))
	if err != nil || len(matches) == 0 {
		t.Fatalf("expected a log file, got %v (%v)", matches, err)
	}
	data, err := os.ReadFile(filepath.Join(cfg.Logging.LogDir, "tessera-current.log"))
	if err != nil {
		t.Fatalf("read current log: %v", err)
	}
	if !strings.Contains(string(data), "tessera logging initialized") {
		t.Errorf("log file missing startup record: %q", data)
	}
}

type stringer string

func (s stringer) String() string { return string(s) }

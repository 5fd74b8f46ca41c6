package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"tessera/internal/config"
)

// New returns a slog.Logger writing to w with the provided level string
// (debug, info, warn, error). format may be "json" or "text"; text output is
// rendered by charmbracelet/log.
func New(level, format string, w io.Writer) *slog.Logger {
	lvl := parseLevel(level)
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	}
	return slog.New(newCharmHandler(w, lvl))
}

func newCharmHandler(w io.Writer, level slog.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           log.Level(level),
	})
}

// Setup configures global logging to stdout and, when enabled, a dated log
// file in the configured directory.
func Setup(cfg *config.Config) (*slog.Logger, error) {
	writers := []io.Writer{os.Stdout}

	if cfg.Logging.FileOutput {
		if err := os.MkdirAll(cfg.Logging.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		logFile := filepath.Join(cfg.Logging.LogDir, fmt.Sprintf("tessera-%s.log", time.Now().Format("2006-01-02")))
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)

		// Best effort; a missing symlink only affects convenience.
		current := filepath.Join(cfg.Logging.LogDir, "tessera-current.log")
		os.Remove(current)
		_ = os.Symlink(filepath.Base(logFile), current)
	}

	logger := New(cfg.Logging.Level, cfg.Logging.Format, io.MultiWriter(writers...))
	slog.SetDefault(logger)

	logger.Info("tessera logging initialized",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"file_output", cfg.Logging.FileOutput,
		"log_dir", cfg.Logging.LogDir,
	)
	return logger, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogJobStart logs the beginning of a collage job.
func LogJobStart(logger *slog.Logger, jobID string, inputs int, outputDir string, params fmt.Stringer) {
	logger.Info("job started",
		"id", jobID,
		"inputs", inputs,
		"output_dir", outputDir,
		"params", params.String(),
	)
}

// LogJobComplete logs successful job completion.
func LogJobComplete(logger *slog.Logger, jobID string, duration time.Duration, resultInfo map[string]any) {
	logger.Info("job completed successfully",
		"id", jobID,
		"duration_ms", duration.Milliseconds(),
		"duration_human", duration.String(),
		"result", resultInfo,
	)
}

// LogJobError logs job failures.
func LogJobError(logger *slog.Logger, jobID string, duration time.Duration, err error, context map[string]any) {
	logger.Error("job failed",
		"id", jobID,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
		"context", context,
	)
}

// LogProcessingStep logs individual processing steps within a job.
func LogProcessingStep(logger *slog.Logger, jobID, step string, percent int, message string) {
	logger.Debug("processing step",
		"job_id", jobID,
		"step", step,
		"percent", percent,
		"message", message,
	)
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"tessera/internal/collage"
)

const (
	defaultConfigPath = "~/.config/tessera/config.json"
	envConfigPath     = "TESSERA_CONFIG"
	defaultParallel   = 4
)

// Config holds user-editable settings for the service and CLI.
type Config struct {
	Processing Processing     `json:"processing" toml:"processing"`
	Logging    Logging        `json:"logging" toml:"logging"`
	Paths      Paths          `json:"paths" toml:"paths"`
	Collage    collage.Params `json:"collage" toml:"collage"`
	Server     Server         `json:"server" toml:"server"`
	Store      Store          `json:"store" toml:"store"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int `json:"parallel_jobs" toml:"parallel_jobs"`
	QueueSize    int `json:"queue_size" toml:"queue_size"` // 0 means 2×parallel_jobs
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level" toml:"level"`             // debug, info, warn, error
	Format     string `json:"format" toml:"format"`           // text, json
	FileOutput bool   `json:"file_output" toml:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir" toml:"log_dir"`         // Directory for log files
}

// Paths configures default input/output locations.
type Paths struct {
	DefaultInput  string `json:"default_input" toml:"default_input"`
	DefaultOutput string `json:"default_output" toml:"default_output"`
	DatabasePath  string `json:"database_path" toml:"database_path"`
}

// Server configures the HTTP API and the optional gRPC health endpoint.
type Server struct {
	Addr     string `json:"addr" toml:"addr"`
	GRPCAddr string `json:"grpc_addr" toml:"grpc_addr"` // empty disables gRPC
}

// Store configures the in-memory job status registry.
type Store struct {
	TTLSeconds   int `json:"ttl_seconds" toml:"ttl_seconds"`     // retention after a job finishes
	SweepSeconds int `json:"sweep_seconds" toml:"sweep_seconds"` // janitor interval
}

// TTL returns the completion retention as a duration.
func (s Store) TTL() time.Duration { return time.Duration(s.TTLSeconds) * time.Second }

// SweepInterval returns the janitor interval as a duration.
func (s Store) SweepInterval() time.Duration { return time.Duration(s.SweepSeconds) * time.Second }

// Path returns the configuration file location, honoring TESSERA_CONFIG.
func Path() (string, error) {
	configPath := os.Getenv(envConfigPath)
	if configPath == "" {
		configPath = defaultConfigPath
	}
	return expandUser(configPath)
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the file at path over the defaults. Files ending in .toml
// are decoded as TOML, anything else as JSON. A missing file yields the
// defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if cfg.Processing.ParallelJobs < 1 {
		cfg.Processing.ParallelJobs = 1
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config { return defaultConfig() }

func defaultConfig() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultInput:  ".",
			DefaultOutput: "./output",
			DatabasePath:  filepath.Join(os.TempDir(), "tessera.db"),
		},
		Collage: collage.DefaultParams(),
		Server: Server{
			Addr: ":8080",
		},
		Store: Store{
			TTLSeconds:   3600,
			SweepSeconds: 60,
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}

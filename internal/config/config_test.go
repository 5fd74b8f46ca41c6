package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tessera/internal/collage"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(envConfigPath, filepath.Join(t.TempDir(), "absent.json"))
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, defaultParallel, cfg.Processing.ParallelJobs)
	require.Equal(t, collage.DefaultParams(), cfg.Collage)
	require.Equal(t, time.Hour, cfg.Store.TTL())
}

func TestLoadJSONOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"processing": {"parallel_jobs": 2},
		"collage": {"rows": 4, "mode": "wave"},
		"server": {"grpc_addr": ":9090"}
	}`), 0o644))
	t.Setenv(envConfigPath, path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Processing.ParallelJobs)
	require.Equal(t, 4, cfg.Collage.Rows)
	require.Equal(t, 8, cfg.Collage.Cols, "unset fields keep defaults")
	require.Equal(t, collage.ModeWave, cfg.Collage.Mode)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, ":9090", cfg.Server.GRPCAddr)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tessera.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[processing]
parallel_jobs = 0

[collage]
format = "webp"
quality = 70
seed = 42

[store]
ttl_seconds = 30
`), 0o644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	require.Equal(t, 1, cfg.Processing.ParallelJobs, "parallelism is clamped to at least one")
	require.Equal(t, collage.FormatWebP, cfg.Collage.Format)
	require.Equal(t, 70, cfg.Collage.Quality)
	require.NotNil(t, cfg.Collage.Seed)
	require.Equal(t, int64(42), *cfg.Collage.Seed)
	require.Equal(t, 30*time.Second, cfg.Store.TTL())
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := LoadFrom(path)
	require.Error(t, err)
}

func TestExpandUser(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"/etc/tessera.json", "/etc/tessera.json"},
		{"~", home},
		{"~/.config/tessera/config.json", filepath.Join(home, ".config/tessera/config.json")},
	}
	for _, tt := range tests {
		got, err := expandUser(tt.in)
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}
}

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/eak1mov/orthotiles/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Records.Driver)
	require.Equal(t, "fs", cfg.Tiles.Driver)
	require.Equal(t, 1, cfg.Batch.Concurrency)
	require.Equal(t, int64(1)<<30, cfg.Builder.MaxSourcePixels)
	require.Equal(t, "info", cfg.Log.Level)
	require.False(t, cfg.S3.Sources)
}

func TestFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orthotiles.yaml")
	data := []byte(`
records:
  driver: redis
  redis_addr: redis:6379
tiles:
  root: /srv/tiles
batch:
  concurrency: 4
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	t.Setenv("ORTHOTILES_BATCH_CONCURRENCY", "8")
	t.Setenv("ORTHOTILES_LOG_FORMAT", "json")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "redis", cfg.Records.Driver)
	require.Equal(t, "redis:6379", cfg.Records.RedisAddr)
	require.Equal(t, "/srv/tiles", cfg.Tiles.Root)
	require.Equal(t, 8, cfg.Batch.Concurrency)
	require.Equal(t, "json", cfg.Log.Format)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown records driver", func(c *config.Config) { c.Records.Driver = "postgres" }},
		{"s3 without bucket", func(c *config.Config) { c.Tiles.Driver = "s3" }},
		{"zero concurrency", func(c *config.Config) { c.Batch.Concurrency = 0 }},
		{"zero band rows", func(c *config.Config) { c.Builder.BandRows = 0 }},
		{"bad compression", func(c *config.Config) { c.Builder.PNGCompression = "max" }},
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eak1mov/orthotiles/batch"
	"github.com/eak1mov/orthotiles/pyramid"
	"github.com/eak1mov/orthotiles/record"
	"github.com/eak1mov/orthotiles/record/sqldb"
	"github.com/google/go-cmp/cmp"
	"github.com/google/subcommands"
	"github.com/stretchr/testify/require"
)

func TestParseImageID(t *testing.T) {
	testCases := []struct {
		args    []string
		want    int64
		wantErr bool
	}{
		{args: nil, want: 1},
		{args: []string{"42"}, want: 42},
		{args: []string{"0"}, wantErr: true},
		{args: []string{"-3"}, wantErr: true},
		{args: []string{"abc"}, wantErr: true},
		{args: []string{"1", "2"}, wantErr: true},
	}
	for _, tc := range testCases {
		got, err := parseImageID(tc.args)
		if (err != nil) != tc.wantErr {
			t.Errorf("parseImageID(%q) error = %v, wantErr %v", tc.args, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("parseImageID(%q) = %d, want %d", tc.args, got, tc.want)
		}
	}
}

func TestCompressionLevel(t *testing.T) {
	for name, want := range map[string]png.CompressionLevel{
		"default": png.DefaultCompression,
		"speed":   png.BestSpeed,
		"best":    png.BestCompression,
		"none":    png.NoCompression,
	} {
		if got := compressionLevel(name); got != want {
			t.Errorf("compressionLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestExitStatus(t *testing.T) {
	testCases := []struct {
		name   string
		report batch.Report
		err    error
		want   subcommands.ExitStatus
		msg    string
	}{
		{
			name:   "Completed",
			report: batch.Report{Outcome: batch.OutcomeCompleted, Result: pyramid.Result{MinZoom: 6, MaxZoom: 7, TotalTiles: 3}},
			want:   subcommands.ExitSuccess,
			msg:    "3 tiles, zoom 6-7",
		},
		{
			name:   "HasTiles",
			report: batch.Report{Outcome: batch.OutcomeSkippedHasTiles},
			want:   subcommands.ExitSuccess,
			msg:    "already has tiles",
		},
		{
			name:   "MissingSource",
			report: batch.Report{Outcome: batch.OutcomeSkippedMissingSource},
			want:   subcommands.ExitFailure,
			msg:    "source image not found",
		},
		{
			name:   "Failed",
			report: batch.Report{Outcome: batch.OutcomeFailed, Err: pyramid.ErrSourceUnreadable},
			want:   subcommands.ExitFailure,
			msg:    "tile generation failed",
		},
		{
			name: "NotFound",
			err:  fmt.Errorf("get: %w", record.ErrNotFound),
			want: subcommands.ExitFailure,
			msg:  "image 5 not found",
		},
		{
			name: "GatewayError",
			err:  errors.New("database is locked"),
			want: subcommands.ExitFailure,
			msg:  "database is locked",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, msg := exitStatus(5, tc.report, tc.err)
			if got != tc.want {
				t.Errorf("exitStatus() = %v, want %v", got, tc.want)
			}
			if !strings.Contains(msg, tc.msg) {
				t.Errorf("exitStatus() message = %q, want it to contain %q", msg, tc.msg)
			}
		})
	}
}

// setupConfig writes a config file pointing at a fresh sqlite database and
// tile directory, and makes it the one commands load.
func setupConfig(t *testing.T, images ...record.Image) string {
	t.Helper()
	dir := t.TempDir()
	dsn := filepath.Join(dir, "images.db")

	db, err := sqldb.Open(dsn)
	require.NoError(t, err)
	for _, img := range images {
		require.NoError(t, db.Insert(context.Background(), img))
	}
	require.NoError(t, db.Close())

	path := filepath.Join(dir, "orthotiles.yaml")
	yaml := fmt.Sprintf("records:\n  dsn: %q\ntiles:\n  root: %q\nlog:\n  level: error\n", dsn, filepath.Join(dir, "tiles"))
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	old := *configPath
	*configPath = path
	t.Cleanup(func() { *configPath = old })
	return dsn
}

func getImage(t *testing.T, dsn string, id int64) record.Image {
	t.Helper()
	db, err := sqldb.Open(dsn)
	require.NoError(t, err)
	defer db.Close()
	img, err := db.GetImage(context.Background(), id)
	require.NoError(t, err)
	return img
}

func runGenerate(t *testing.T, args ...string) subcommands.ExitStatus {
	t.Helper()
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	cmd := &generateCmd{}
	cmd.SetFlags(fs)
	require.NoError(t, fs.Parse(args))
	return cmd.Execute(context.Background(), fs)
}

func TestGenerateExecute(t *testing.T) {
	changed := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	newImage := func(id int64, path string) record.Image {
		return record.Image{
			ID:              id,
			FilePath:        path,
			North:           "44.0",
			South:           "43.0",
			East:            "-110.0",
			West:            "-111.0",
			Status:          record.NotStarted,
			StatusChangedAt: changed,
		}
	}

	t.Run("MissingSource", func(t *testing.T) {
		img := newImage(1, filepath.Join(t.TempDir(), "gone.tif"))
		dsn := setupConfig(t, img)

		require.Equal(t, subcommands.ExitFailure, runGenerate(t, "1"))
		if diff := cmp.Diff(img, getImage(t, dsn, 1)); diff != "" {
			t.Errorf("record changed (-want+got):\n%v", diff)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		setupConfig(t)
		require.Equal(t, subcommands.ExitFailure, runGenerate(t, "7"))
	})

	t.Run("CorruptSource", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "corrupt.png")
		require.NoError(t, os.WriteFile(path, []byte("\x89PNG not really"), 0644))
		dsn := setupConfig(t, newImage(1, path))

		require.Equal(t, subcommands.ExitFailure, runGenerate(t))
		got := getImage(t, dsn, 1)
		require.Equal(t, record.Failed, got.Status)
		require.False(t, got.HasTiles)
	})

	t.Run("MalformedID", func(t *testing.T) {
		require.Equal(t, subcommands.ExitFailure, runGenerate(t, "abc"))
	})
}

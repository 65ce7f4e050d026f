// Package archive packs the tile pyramid of a completed image into a single
// MBTiles or PMTiles file.
package archive

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/eak1mov/orthotiles/mb"
	"github.com/eak1mov/orthotiles/pm"
	"github.com/eak1mov/orthotiles/pm/spec"
	"github.com/eak1mov/orthotiles/progress"
	"github.com/eak1mov/orthotiles/record"
	"github.com/eak1mov/orthotiles/tile"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

var ErrNoTiles = errors.New("orthotiles: image has no tiles")

type Format string

const (
	FormatMBTiles Format = "mbtiles"
	FormatPMTiles Format = "pmtiles"
	FormatXYZ     Format = "xyz"
)

// DeduceFormat returns format, or the format implied by the file extension
// when format is empty.
func DeduceFormat(format, filePath string) (Format, error) {
	if format == "" {
		switch {
		case strings.HasSuffix(filePath, ".mbtiles"):
			return FormatMBTiles, nil
		case strings.HasSuffix(filePath, ".pmtiles"):
			return FormatPMTiles, nil
		case strings.Contains(filePath, "{z}"):
			return FormatXYZ, nil
		}
	}
	switch f := Format(format); f {
	case FormatMBTiles, FormatPMTiles, FormatXYZ:
		return f, nil
	}
	return "", fmt.Errorf("unknown archive format %q for %q", format, filePath)
}

// Metadata returns the MBTiles metadata rows describing img.
func Metadata(img record.Image) (map[string]string, error) {
	bounds, err := img.Bounds()
	if err != nil {
		return nil, err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	lng, lat := bounds.Center()
	return map[string]string{
		"name":    "image " + strconv.FormatInt(img.ID, 10),
		"type":    "overlay",
		"version": "1.1",
		"format":  "png",
		"bounds":  strings.Join([]string{f(bounds.West), f(bounds.South), f(bounds.East), f(bounds.North)}, ","),
		"center":  strings.Join([]string{f(lng), f(lat), strconv.Itoa(img.TileMinZoom)}, ","),
		"minzoom": strconv.Itoa(img.TileMinZoom),
		"maxzoom": strconv.Itoa(img.TileMaxZoom),
	}, nil
}

type writer interface {
	tile.Writer
	io.Closer
}

type config struct {
	Logger   logrus.FieldLogger
	Progress progress.Func
}

type Option func(*config)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *config) { c.Logger = logger }
}

// WithProgress reports the share of tiles copied so far.
func WithProgress(f progress.Func) Option {
	return func(c *config) { c.Progress = f }
}

func newConfig(opts []Option) config {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	cfg := config{Logger: discard, Progress: progress.Nop}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Write copies every tile of img from store into a new archive at path.
// Tiles are written in PMTiles tile code order so the archive is clustered.
func Write(ctx context.Context, store tile.Store, img record.Image, path string, format Format, opts ...Option) (int, error) {
	cfg := newConfig(opts)

	if !img.HasTiles {
		return 0, fmt.Errorf("%w: %d", ErrNoTiles, img.ID)
	}
	metadata, err := Metadata(img)
	if err != nil {
		return 0, err
	}

	ids, err := store.List(ctx, img.ID)
	if err != nil {
		return 0, err
	}
	slices.SortFunc(ids, func(a, b tile.ID) int {
		return cmp.Compare(spec.EncodeTileID(a), spec.EncodeTileID(b))
	})

	w, err := newWriter(path, format, img, metadata, cfg.Logger)
	if err != nil {
		return 0, err
	}
	defer w.Close()

	onProgress := progress.Monotonic(cfg.Progress)
	for i, id := range ids {
		data, err := store.Get(ctx, tile.Address{ImageID: img.ID, ID: id})
		if err != nil {
			return i, err
		}
		if err := w.WriteTile(id, data); err != nil {
			return i, err
		}
		onProgress(float64(i+1)/float64(len(ids))*100, "copy")
	}
	if err := w.Finalize(); err != nil {
		return len(ids), err
	}
	cfg.Logger.WithFields(logrus.Fields{"image_id": img.ID, "path": path, "tiles": len(ids)}).Info("archive written")
	return len(ids), nil
}

func newWriter(path string, format Format, img record.Image, metadata map[string]string, logger logrus.FieldLogger) (writer, error) {
	switch format {
	case FormatMBTiles:
		return mb.NewWriter(path, mb.WithMetadata(metadata), mb.WithLogger(logger))
	case FormatPMTiles:
		bounds, err := img.Bounds()
		if err != nil {
			return nil, err
		}
		jsonMetadata, err := json.Marshal(metadata)
		if err != nil {
			return nil, err
		}
		header := pm.NewHeaderMetadata(spec.TileTypePng, bounds.Bound(), img.TileMinZoom, img.TileMaxZoom)
		return pm.NewWriter(path,
			pm.WithMetadata(jsonMetadata),
			pm.WithHeaderMetadata(header),
			pm.WithLogger(logger),
		)
	}
	return nil, fmt.Errorf("unknown archive format %q", format)
}

// CountByZoom opens the tileset at path and counts its tiles per zoom.
func CountByZoom(path string, format Format) (map[uint32]int, error) {
	r, err := OpenReader(path, format)
	if err != nil {
		return nil, err
	}
	if closer, ok := r.(io.Closer); ok {
		defer closer.Close()
	}
	return tile.CountByZoom(r)
}

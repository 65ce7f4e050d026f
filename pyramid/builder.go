// Package pyramid builds sparse slippy-map tile pyramids from a single
// georeferenced raster.
//
// The finest zoom level is resampled from the source raster, one band of
// tile rows at a time. Every coarser level is built by merging the four
// children of each cell from the level below.
package pyramid

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"time"

	"github.com/eak1mov/orthotiles/geo"
	"github.com/eak1mov/orthotiles/progress"
	"github.com/eak1mov/orthotiles/raster"
	"github.com/eak1mov/orthotiles/tile"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidBounds       = geo.ErrInvalidBounds
	ErrSourceUnreadable    = raster.ErrUnreadable
	ErrResourceExhausted   = raster.ErrTooLarge
	ErrStorageWriteFailure = errors.New("orthotiles: tile storage failure")
)

// Result summarizes one successful pyramid build.
type Result struct {
	MinZoom      int
	MaxZoom      int
	StoragePath  string
	TotalTiles   int
	TilesPerZoom map[int]int
	Elapsed      time.Duration
}

// Builder writes tile pyramids to a tile.Store.
type Builder struct {
	store    tile.Store
	logger   logrus.FieldLogger
	tileSize int
	bandRows uint32
	encoder  Encoder
}

type Option func(*Builder)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(b *Builder) { b.logger = logger }
}

// WithTileSize sets the tile edge in pixels. It must be even.
func WithTileSize(size int) Option {
	return func(b *Builder) { b.tileSize = size }
}

// WithBandRows sets how many tile rows of the finest level are resampled
// from one source region.
func WithBandRows(rows int) Option {
	return func(b *Builder) { b.bandRows = uint32(max(rows, 1)) }
}

func WithEncoder(encoder Encoder) Option {
	return func(b *Builder) { b.encoder = encoder }
}

func NewBuilder(store tile.Store, opts ...Option) *Builder {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	b := &Builder{
		store:    store,
		logger:   discard,
		tileSize: geo.TileSize,
		bandRows: 1,
		encoder:  NewPNGEncoder(png.DefaultCompression),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// GenerateFromImage opens the source at sourcePath and builds its pyramid.
func (b *Builder) GenerateFromImage(ctx context.Context, sources raster.Locator, sourcePath string, bounds geo.Bounds, imageID int64, onProgress progress.Func) (Result, error) {
	if err := bounds.Validate(); err != nil {
		return Result{}, err
	}
	src, err := sources.Open(ctx, sourcePath)
	if err != nil {
		return Result{}, err
	}
	if c, ok := src.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				b.logger.WithError(err).WithField("path", sourcePath).Warn("closing source")
			}
		}()
	}
	return b.Generate(ctx, src, bounds, imageID, onProgress)
}

// Generate plans the zoom range for src and builds its pyramid.
func (b *Builder) Generate(ctx context.Context, src raster.Source, bounds geo.Bounds, imageID int64, onProgress progress.Func) (Result, error) {
	width, height := src.Size()
	tr, err := geo.NewTransform(bounds, width, height)
	if err != nil {
		return Result{}, err
	}
	zr, err := geo.PlanZoomRange(bounds, width, height)
	if err != nil {
		return Result{}, err
	}
	return b.Build(ctx, src, tr, zr, imageID, onProgress)
}

// Build writes one tile for every grid cell intersecting the image
// footprint at every zoom level in zr, finest level first. Progress is
// reported after each completed level.
func (b *Builder) Build(ctx context.Context, src raster.Source, tr geo.Transform, zr geo.ZoomRange, imageID int64, onProgress progress.Func) (Result, error) {
	if zr.Min < 0 || zr.Min > zr.Max || zr.Max > geo.MaxZoom {
		return Result{}, fmt.Errorf("orthotiles: invalid zoom range [%d, %d]", zr.Min, zr.Max)
	}
	if onProgress == nil {
		onProgress = progress.Nop
	}
	onProgress = progress.Monotonic(onProgress)

	start := time.Now()
	logger := b.logger.WithField("image_id", imageID)
	result := Result{
		MinZoom:      zr.Min,
		MaxZoom:      zr.Max,
		StoragePath:  b.store.StoragePath(imageID),
		TilesPerZoom: make(map[int]int),
	}

	totalLevels := float64(zr.Levels())
	levelDone := func(z int, level Index) {
		result.TilesPerZoom[z] = len(level)
		result.TotalTiles += len(level)
		done := float64(zr.Max - z + 1)
		logger.WithFields(logrus.Fields{"zoom": z, "tiles": len(level)}).Debug("zoom level complete")
		onProgress(done/totalLevels*100, fmt.Sprintf("zoom %d", z))
	}

	level, err := b.buildFinest(ctx, src, tr, zr.Max, imageID)
	if err != nil {
		return Result{}, err
	}
	levelDone(zr.Max, level)

	for z := zr.Max - 1; z >= zr.Min; z-- {
		level, err = b.buildParents(ctx, level, imageID)
		if err != nil {
			return Result{}, err
		}
		levelDone(z, level)
	}

	result.Elapsed = time.Since(start)
	onProgress(100, "done")
	return result, nil
}

// buildFinest resamples the source into every cell at zoom z that has at
// least one pixel centre inside the footprint. Coverage is geometric:
// transparent source pixels still produce a tile.
func (b *Builder) buildFinest(ctx context.Context, src raster.Source, tr geo.Transform, z int, imageID int64) (Index, error) {
	bounds := tr.Bounds()
	width, height := src.Size()
	rng := geo.CoveringTiles(bounds, z)
	level := make(Index)

	for y0 := rng.MinY; y0 <= rng.MaxY; y0 += b.bandRows {
		y1 := min(y0+b.bandRows-1, rng.MaxY)
		north := min(tile.ID{X: rng.MinX, Y: y0, Z: uint32(z)}.Bound().Top(), bounds.North)
		south := max(tile.ID{X: rng.MinX, Y: y1, Z: uint32(z)}.Bound().Bottom(), bounds.South)

		// One pixel of margin keeps bilinear sampling continuous across bands.
		_, pyTop := tr.GeoToPixel(bounds.West, north)
		_, pyBottom := tr.GeoToPixel(bounds.West, south)
		rect := image.Rect(0, int(math.Floor(pyTop))-1, width, int(math.Ceil(pyBottom))+1)
		rect = rect.Intersect(image.Rect(0, 0, width, height))
		if rect.Empty() {
			continue
		}

		region, err := src.Region(rect)
		if err != nil {
			return nil, err
		}

		for y := y0; y <= y1; y++ {
			for x := rng.MinX; x <= rng.MaxX; x++ {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				if geo.TilePixels(bounds, z, x, y, b.tileSize).Empty() {
					continue
				}
				id := tile.ID{X: x, Y: y, Z: uint32(z)}
				img := renderTile(region, tr, id, b.tileSize)
				if err := b.put(ctx, tile.Address{ImageID: imageID, ID: id}, img); err != nil {
					return nil, err
				}
				level.Add(id)
			}
		}
	}

	return level, nil
}

// buildParents builds the level above children by quad-merge.
func (b *Builder) buildParents(ctx context.Context, children Index, imageID int64) (Index, error) {
	level := make(Index)
	for _, parent := range children.Parents() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var quads [4]image.Image
		for i, child := range parent.Children() {
			if !children.Has(child) {
				continue
			}
			img, err := b.get(ctx, tile.Address{ImageID: imageID, ID: child})
			if err != nil {
				return nil, err
			}
			quads[i] = img
		}

		if err := b.put(ctx, tile.Address{ImageID: imageID, ID: parent}, mergeChildren(quads, b.tileSize)); err != nil {
			return nil, err
		}
		level.Add(parent)
	}
	return level, nil
}

func (b *Builder) put(ctx context.Context, addr tile.Address, img image.Image) error {
	data, err := encode(b.encoder, img)
	if err != nil {
		return fmt.Errorf("%w: encode tile %v: %w", ErrStorageWriteFailure, addr, err)
	}
	if err := b.store.Put(ctx, addr, data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrStorageWriteFailure, err)
	}
	return nil
}

func (b *Builder) get(ctx context.Context, addr tile.Address) (image.Image, error) {
	data, err := b.store.Get(ctx, addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: read tile %v: %w", ErrStorageWriteFailure, addr, err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode tile %v: %w", ErrStorageWriteFailure, addr, err)
	}
	return img, nil
}

package pyramid_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sync"
	"testing"

	"github.com/eak1mov/orthotiles/geo"
	"github.com/eak1mov/orthotiles/internal/tiletest"
	"github.com/eak1mov/orthotiles/pyramid"
	"github.com/eak1mov/orthotiles/raster"
	"github.com/eak1mov/orthotiles/tile"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var yellowstone = geo.Bounds{North: 44.0, South: 43.0, East: -110.0, West: -111.0}

func solidSource(w, h int, c color.RGBA) raster.Source {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return raster.NewImageSource(img)
}

func gradientSource(w, h int) raster.Source {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), uint8(x ^ y), 255})
		}
	}
	return raster.NewImageSource(img)
}

type report struct {
	Percent float64
	Stage   string
}

func decodeTile(t *testing.T, store *tiletest.MemStore, addr tile.Address) image.Image {
	t.Helper()
	data, err := store.Get(context.Background(), addr)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestGenerateExample(t *testing.T) {
	store := tiletest.NewMemStore()
	builder := pyramid.NewBuilder(store)

	var reports []report
	result, err := builder.Generate(context.Background(), gradientSource(1024, 1024), yellowstone, 7,
		func(percent float64, stage string) { reports = append(reports, report{percent, stage}) })
	require.NoError(t, err)

	require.Equal(t, 6, result.MinZoom)
	require.Equal(t, 11, result.MaxZoom)
	require.Equal(t, "mem://7", result.StoragePath)
	require.Equal(t, 1, result.TilesPerZoom[result.MinZoom], "exactly one tile at minZoom")

	total := 0
	for z := result.MinZoom; z <= result.MaxZoom; z++ {
		require.Positivef(t, result.TilesPerZoom[z], "zoom %d has no tiles", z)
		if z > result.MinZoom {
			require.GreaterOrEqualf(t, result.TilesPerZoom[z], result.TilesPerZoom[z-1], "zoom %d", z)
		}
		require.LessOrEqual(t, result.TilesPerZoom[z], geo.TileCount(yellowstone, z))
		total += result.TilesPerZoom[z]
	}
	require.Equal(t, total, result.TotalTiles)
	require.Equal(t, total, store.Puts())

	wantReports := []report{
		{100.0 / 6, "zoom 11"},
		{200.0 / 6, "zoom 10"},
		{300.0 / 6, "zoom 9"},
		{400.0 / 6, "zoom 8"},
		{500.0 / 6, "zoom 7"},
		{100, "zoom 6"},
		{100, "done"},
	}
	if diff := cmp.Diff(wantReports, reports, cmp.Comparer(func(a, b float64) bool { return a-b < 1e-9 && b-a < 1e-9 })); diff != "" {
		t.Errorf("progress reports mismatch (-want+got):\n%v", diff)
	}
}

func TestPyramidCompleteness(t *testing.T) {
	store := tiletest.NewMemStore()
	builder := pyramid.NewBuilder(store, pyramid.WithBandRows(3))

	bounds := geo.Bounds{North: 0.3, South: -0.2, East: 0.25, West: -0.35}
	result, err := builder.Generate(context.Background(), gradientSource(700, 600), bounds, 1, nil)
	require.NoError(t, err)

	ids := store.IDs(1)
	require.Len(t, ids, result.TotalTiles)
	for id := range ids {
		require.GreaterOrEqual(t, int(id.Z), result.MinZoom)
		require.LessOrEqual(t, int(id.Z), result.MaxZoom)
		if int(id.Z) > result.MinZoom {
			require.Truef(t, ids[id.Parent()], "tile %v has no parent", id)
		}
	}
}

func TestFinestTileContent(t *testing.T) {
	store := tiletest.NewMemStore()
	builder := pyramid.NewBuilder(store)
	red := color.RGBA{255, 0, 0, 255}

	src := solidSource(1024, 1024, red)
	tr, err := geo.NewTransform(yellowstone, 1024, 1024)
	require.NoError(t, err)
	_, err = builder.Build(context.Background(), src, tr, geo.ZoomRange{Min: 6, Max: 11}, 3, nil)
	require.NoError(t, err)

	// Column 393 spans [-110.918, -110.742], row 748 spans [43.453, 43.580].
	inner := decodeTile(t, store, tile.Address{ImageID: 3, ID: tile.ID{X: 393, Y: 748, Z: 11}})
	for _, p := range []image.Point{{0, 0}, {128, 128}, {255, 255}} {
		r, g, b, a := inner.At(p.X, p.Y).RGBA()
		require.Equalf(t, [4]uint32{0xffff, 0, 0, 0xffff}, [4]uint32{r, g, b, a}, "pixel %v", p)
	}

	// The single overview tile covers far more than the footprint.
	overview := decodeTile(t, store, tile.Address{ImageID: 3, ID: tile.ID{X: 12, Y: 23, Z: 6}})
	_, _, _, a := overview.At(0, 0).RGBA()
	require.Zero(t, a, "corner outside the footprint must be transparent")
	_, _, _, a = overview.At(90, 100).RGBA()
	require.NotZero(t, a, "footprint must be visible at the overview")
}

// bandSource is a uniformly coloured raster that allocates only the
// regions it is asked for and records them.
type bandSource struct {
	width, height int
	color         color.RGBA

	mu      sync.Mutex
	regions []image.Rectangle
}

func (s *bandSource) Size() (int, int) { return s.width, s.height }

func (s *bandSource) Region(r image.Rectangle) (image.Image, error) {
	r = r.Intersect(image.Rect(0, 0, s.width, s.height))
	s.mu.Lock()
	s.regions = append(s.regions, r)
	s.mu.Unlock()
	img := image.NewRGBA(r)
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = s.color.R, s.color.G, s.color.B, s.color.A
	}
	return img, nil
}

func TestGenerateLargeSource(t *testing.T) {
	store := tiletest.NewMemStore()
	src := &bandSource{width: 4096, height: 4096, color: color.RGBA{30, 120, 60, 255}}

	result, err := pyramid.NewBuilder(store).Generate(context.Background(), src, yellowstone, 9, nil)
	require.NoError(t, err)
	require.Equal(t, 6, result.MinZoom)
	require.Equal(t, 13, result.MaxZoom)
	require.Equal(t, 1, result.TilesPerZoom[result.MinZoom])
	require.Equal(t, geo.TileCount(yellowstone, 13), result.TilesPerZoom[13])
	require.Equal(t, result.TotalTiles, store.Puts())

	// One region per row of finest tiles, each a thin band of the source.
	rng := geo.CoveringTiles(yellowstone, 13)
	require.Len(t, src.regions, int(rng.MaxY-rng.MinY+1))
	for _, r := range src.regions {
		require.Equal(t, 4096, r.Dx())
		require.LessOrEqualf(t, r.Dy(), 4096/16, "region %v", r)
	}
}

func TestPartiallyTransparentSource(t *testing.T) {
	// Opaque east half, transparent west half.
	img := image.NewRGBA(image.Rect(0, 0, 1024, 1024))
	for y := range 1024 {
		for x := 512; x < 1024; x++ {
			img.SetRGBA(x, y, color.RGBA{0, 90, 200, 255})
		}
	}
	store := tiletest.NewMemStore()
	result, err := pyramid.NewBuilder(store).Generate(context.Background(), raster.NewImageSource(img), yellowstone, 2, nil)
	require.NoError(t, err)

	rng := geo.CoveringTiles(yellowstone, result.MaxZoom)
	ids := store.IDs(2)
	for y := rng.MinY; y <= rng.MaxY; y++ {
		for x := rng.MinX; x <= rng.MaxX; x++ {
			id := tile.ID{X: x, Y: y, Z: uint32(result.MaxZoom)}
			require.Truef(t, ids[id], "cell %v intersects the footprint but has no tile", id)
		}
	}

	t.Run("FullyTransparent", func(t *testing.T) {
		store := tiletest.NewMemStore()
		result, err := pyramid.NewBuilder(store).Generate(context.Background(), solidSource(64, 64, color.RGBA{}), yellowstone, 1, nil)
		require.NoError(t, err)
		require.Equal(t, map[int]int{6: 1, 7: 2}, result.TilesPerZoom)
	})
}

func TestBuildErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("InvalidBounds", func(t *testing.T) {
		flipped := geo.Bounds{North: 43, South: 44, East: -110, West: -111}
		_, err := pyramid.NewBuilder(tiletest.NewMemStore()).Generate(ctx, gradientSource(64, 64), flipped, 1, nil)
		require.ErrorIs(t, err, pyramid.ErrInvalidBounds)
	})

	t.Run("StorageWriteFailure", func(t *testing.T) {
		store := tiletest.NewMemStore()
		store.FailPut = tiletest.ErrInjected
		_, err := pyramid.NewBuilder(store).Generate(ctx, gradientSource(64, 64), yellowstone, 1, nil)
		require.ErrorIs(t, err, pyramid.ErrStorageWriteFailure)
		require.ErrorIs(t, err, tiletest.ErrInjected)
	})

	t.Run("MissingSource", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing.tif")
		_, err := pyramid.NewBuilder(tiletest.NewMemStore()).GenerateFromImage(ctx, raster.NewFileLocator(0), path, yellowstone, 1, nil)
		require.ErrorIs(t, err, pyramid.ErrSourceUnreadable)
	})

	t.Run("Cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := pyramid.NewBuilder(tiletest.NewMemStore()).Generate(cctx, gradientSource(64, 64), yellowstone, 1, nil)
		require.True(t, errors.Is(err, context.Canceled), "%v", err)
	})

	t.Run("InvalidZoomRange", func(t *testing.T) {
		tr, err := geo.NewTransform(yellowstone, 64, 64)
		require.NoError(t, err)
		_, err = pyramid.NewBuilder(tiletest.NewMemStore()).Build(ctx, gradientSource(64, 64), tr, geo.ZoomRange{Min: 5, Max: 4}, 1, nil)
		require.Error(t, err)
	})
}

func TestIndexParents(t *testing.T) {
	idx := pyramid.Index{}
	for _, id := range []tile.ID{{X: 4, Y: 6, Z: 3}, {X: 5, Y: 7, Z: 3}, {X: 2, Y: 0, Z: 3}, {X: 3, Y: 1, Z: 3}} {
		idx.Add(id)
	}
	want := []tile.ID{{X: 1, Y: 0, Z: 2}, {X: 2, Y: 3, Z: 2}}
	if diff := cmp.Diff(want, idx.Parents()); diff != "" {
		t.Errorf("Parents() mismatch (-want+got):\n%v", diff)
	}
}

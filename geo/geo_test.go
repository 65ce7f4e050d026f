package geo_test

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/eak1mov/orthotiles/geo"
	"github.com/google/go-cmp/cmp"
)

var yellowstone = geo.Bounds{North: 44.0, South: 43.0, East: -110.0, West: -111.0}

func TestParseBounds(t *testing.T) {
	b, err := geo.ParseBounds("44.0", " 43.0", "-110.0", "-111.0")
	if err != nil {
		t.Fatalf("ParseBounds failed: %v", err)
	}
	if diff := cmp.Diff(yellowstone, b); diff != "" {
		t.Errorf("ParseBounds mismatch (-want+got):\n%v", diff)
	}

	for _, tc := range []struct {
		Name                     string
		North, South, East, West string
	}{
		{"NotANumber", "north", "43", "-110", "-111"},
		{"Empty", "", "43", "-110", "-111"},
		{"NorthBelowSouth", "43", "44", "-110", "-111"},
		{"EastEqualsWest", "44", "43", "-110", "-110"},
		{"OutsideMercator", "89", "43", "-110", "-111"},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			_, err := geo.ParseBounds(tc.North, tc.South, tc.East, tc.West)
			if !errors.Is(err, geo.ErrInvalidBounds) {
				t.Errorf("ParseBounds error = %v, want %v", err, geo.ErrInvalidBounds)
			}
		})
	}
}

func TestTransformRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		Name          string
		Bounds        geo.Bounds
		Width, Height int
	}{
		{"Yellowstone", yellowstone, 4096, 4096},
		{"Equator", geo.Bounds{North: 0.01, South: -0.01, East: 0.02, West: -0.02}, 3000, 1500},
		{"Tiny", geo.Bounds{North: 51.50001, South: 51.5, East: -0.12, West: -0.12001}, 7, 13},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			tr, err := geo.NewTransform(tc.Bounds, tc.Width, tc.Height)
			if err != nil {
				t.Fatalf("NewTransform failed: %v", err)
			}
			for _, p := range [][2]float64{{0, 0}, {1, 1}, {float64(tc.Width), float64(tc.Height)}, {0.5, 123.25}} {
				lng, lat := tr.PixelToGeo(p[0], p[1])
				px, py := tr.GeoToPixel(lng, lat)
				if math.Abs(px-p[0]) > 1e-6 || math.Abs(py-p[1]) > 1e-6 {
					t.Errorf("GeoToPixel(PixelToGeo(%v)) = (%v, %v)", p, px, py)
				}
			}
		})
	}
}

func TestTransformCorners(t *testing.T) {
	tr, err := geo.NewTransform(yellowstone, 4096, 2048)
	if err != nil {
		t.Fatalf("NewTransform failed: %v", err)
	}
	if lng, lat := tr.PixelToGeo(0, 0); lng != -111 || lat != 44 {
		t.Errorf("PixelToGeo(0, 0) = (%v, %v), want = (-111, 44)", lng, lat)
	}
	if lng, lat := tr.PixelToGeo(4096, 2048); lng != -110 || lat != 43 {
		t.Errorf("PixelToGeo(w, h) = (%v, %v), want = (-110, 43)", lng, lat)
	}
}

func TestTransformInvalid(t *testing.T) {
	if _, err := geo.NewTransform(yellowstone, 0, 10); !errors.Is(err, geo.ErrInvalidBounds) {
		t.Errorf("NewTransform(width=0) error = %v", err)
	}
	flipped := geo.Bounds{North: 43, South: 44, East: -110, West: -111}
	if _, err := geo.NewTransform(flipped, 10, 10); !errors.Is(err, geo.ErrInvalidBounds) {
		t.Errorf("NewTransform(flipped) error = %v", err)
	}
}

func TestGroundResolution(t *testing.T) {
	if got, want := geo.GroundResolution(0, 0), 156543.03392804097; math.Abs(got-want) > 1e-6 {
		t.Errorf("GroundResolution(0, 0) = %v, want = %v", got, want)
	}
	for z := range 20 {
		if got, want := geo.GroundResolution(43.5, z+1), geo.GroundResolution(43.5, z)/2; math.Abs(got-want) > 1e-9 {
			t.Errorf("GroundResolution(z=%d) = %v, want = %v", z+1, got, want)
		}
	}
}

func TestPlanZoomRangeExample(t *testing.T) {
	zr, err := geo.PlanZoomRange(yellowstone, 4096, 4096)
	if err != nil {
		t.Fatalf("PlanZoomRange failed: %v", err)
	}
	if diff := cmp.Diff(geo.ZoomRange{Min: 6, Max: 13}, zr); diff != "" {
		t.Errorf("PlanZoomRange mismatch (-want+got):\n%v", diff)
	}
	if got := geo.TileCount(yellowstone, zr.Min); got != 1 {
		t.Errorf("TileCount(minZoom) = %v, want = 1", got)
	}
}

func TestPlanZoomRangeProperties(t *testing.T) {
	for _, tc := range []struct {
		Name          string
		Bounds        geo.Bounds
		Width, Height int
	}{
		{"Yellowstone", yellowstone, 4096, 4096},
		{"Small", yellowstone, 64, 64},
		{"Wide", geo.Bounds{North: 10, South: 9.9, East: 20, West: 18}, 20000, 1000},
		{"Drone", geo.Bounds{North: 47.6015, South: 47.6, East: 8.5025, West: 8.5}, 12000, 9000},
		{"CrossingGrid", geo.Bounds{North: 0.5, South: -0.5, East: 0.5, West: -0.5}, 2048, 2048},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			zr, err := geo.PlanZoomRange(tc.Bounds, tc.Width, tc.Height)
			if err != nil {
				t.Fatalf("PlanZoomRange failed: %v", err)
			}
			if zr.Min > zr.Max {
				t.Fatalf("minZoom %d > maxZoom %d", zr.Min, zr.Max)
			}
			_, lat := tc.Bounds.Center()
			res := geo.ImageResolution(tc.Bounds, tc.Width, tc.Height)
			if geo.GroundResolution(lat, zr.Max) > res {
				t.Errorf("maxZoom %d resolution %v coarser than image %v", zr.Max, geo.GroundResolution(lat, zr.Max), res)
			}
			if zr.Max > 0 && geo.GroundResolution(lat, zr.Max-1) <= res {
				t.Errorf("maxZoom %d is not the smallest fitting zoom", zr.Max)
			}
			if got := geo.TileCount(tc.Bounds, zr.Min); got > 4 {
				t.Errorf("TileCount(minZoom=%d) = %d, want <= 4", zr.Min, got)
			}
		})
	}
}

func TestPlanZoomRangeTinyFootprint(t *testing.T) {
	for _, tc := range []struct {
		Name   string
		Bounds geo.Bounds
		Want   geo.ZoomRange
	}{
		{"OneCell", geo.Bounds{North: 0.001, South: 0, East: 0.001, West: 0}, geo.ZoomRange{Min: 17, Max: 17}},
		// Straddles a column boundary at zoom 17.
		{"TwoCells", geo.Bounds{North: 0.001, South: 0, East: 0.003, West: 0.002}, geo.ZoomRange{Min: 17, Max: 17}},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			zr, err := geo.PlanZoomRange(tc.Bounds, 64, 64)
			if err != nil {
				t.Fatalf("PlanZoomRange failed: %v", err)
			}
			if got, want := zr, tc.Want; !cmp.Equal(got, want) {
				t.Errorf("PlanZoomRange = %+v, want %+v", got, want)
			}
		})
	}
}

func TestCoveringTiles(t *testing.T) {
	if diff := cmp.Diff(geo.TileRange{Z: 0}, geo.CoveringTiles(yellowstone, 0)); diff != "" {
		t.Errorf("CoveringTiles(z=0) mismatch (-want+got):\n%v", diff)
	}

	// East edge on the prime meridian must not pull in the next column.
	b := geo.Bounds{North: 10, South: 5, East: 0, West: -10}
	got := geo.CoveringTiles(b, 1)
	if got.MinX != 0 || got.MaxX != 0 {
		t.Errorf("CoveringTiles(z=1) columns = [%d, %d], want [0, 0]", got.MinX, got.MaxX)
	}

	for z := 6; z <= 13; z++ {
		parent, child := geo.CoveringTiles(yellowstone, z-1), geo.CoveringTiles(yellowstone, z)
		if child.MinX>>1 != parent.MinX || child.MaxX>>1 != parent.MaxX ||
			child.MinY>>1 != parent.MinY || child.MaxY>>1 != parent.MaxY {
			t.Errorf("CoveringTiles(z=%d) = %+v is not nested in %+v", z, child, parent)
		}
	}
}

func TestRowLatitude(t *testing.T) {
	for _, tc := range []struct {
		Z    int
		Y    float64
		Want float64
	}{
		{0, 0, geo.MaxLatitude},
		{0, 1, -geo.MaxLatitude},
		{1, 1, 0},
		{2, 1, 66.51326044311186},
	} {
		if got := geo.RowLatitude(tc.Z, tc.Y); math.Abs(got-tc.Want) > 1e-9 {
			t.Errorf("RowLatitude(%d, %v) = %v, want %v", tc.Z, tc.Y, got, tc.Want)
		}
	}
}

func TestTilePixels(t *testing.T) {
	// Tile 6/32/31 spans longitudes [0, 5.625] and latitudes [0, 5.6].
	square := geo.Bounds{North: 10, South: -10, East: 10, West: -10}
	full := image.Rect(0, 0, geo.TileSize, geo.TileSize)
	if got := geo.TilePixels(square, 6, 32, 31, geo.TileSize); got != full {
		t.Errorf("TilePixels(inner tile) = %v, want %v", got, full)
	}
	if got := geo.TilePixels(square, 6, 0, 0, geo.TileSize); !got.Empty() {
		t.Errorf("TilePixels(far tile) = %v, want empty", got)
	}

	// Column 128 at zoom 8 starts at the prime meridian and is 1.40625 degrees
	// wide, so 0.1 degrees covers 18.2 pixels.
	partial := geo.Bounds{North: 10, South: 5, East: 0.1, West: -10}
	got := geo.TilePixels(partial, 8, 128, 123, geo.TileSize)
	if got.Min.X != 0 || got.Max.X != 18 {
		t.Errorf("TilePixels(partial) columns = [%d, %d), want [0, 18)", got.Min.X, got.Max.X)
	}

	// Less than half a pixel: the cell overlaps the bounds but no pixel
	// centre is inside them.
	sliver := geo.Bounds{North: 10, South: 5, East: 0.002, West: -10}
	if r := geo.CoveringTiles(sliver, 8); r.MaxX != 128 {
		t.Fatalf("CoveringTiles(sliver).MaxX = %d, want 128", r.MaxX)
	}
	if got := geo.TilePixels(sliver, 8, 128, 123, geo.TileSize); !got.Empty() {
		t.Errorf("TilePixels(sliver) = %v, want empty", got)
	}
}

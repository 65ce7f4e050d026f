package geo

import (
	"image"
	"math"
)

const (
	// MaxZoom is the finest zoom level the planner will return.
	MaxZoom = 24

	// TileSize is the pixel size of a square tile.
	TileSize = 256

	earthCircumference = 2 * math.Pi * 6378137
	metresPerDegree    = earthCircumference / 360

	// maxOverviewDescent bounds how far below the fitting zoom the planner
	// looks for a single-tile overview.
	maxOverviewDescent = 2
)

// ZoomRange is an inclusive range of zoom levels.
type ZoomRange struct {
	Min int
	Max int
}

// Levels returns the number of zoom levels in the range.
func (r ZoomRange) Levels() int {
	return r.Max - r.Min + 1
}

// GroundResolution returns metres per pixel of a TileSize tile at the given
// latitude and zoom level. It halves with every zoom level.
func GroundResolution(lat float64, z int) float64 {
	return earthCircumference / TileSize * math.Cos(lat*math.Pi/180) / float64(uint64(1)<<z)
}

// ImageResolution returns metres per pixel of an image covering the bounds,
// taking the finer of the two axes at the centre latitude.
func ImageResolution(bounds Bounds, width, height int) float64 {
	_, lat := bounds.Center()
	resX := (bounds.East - bounds.West) * metresPerDegree * math.Cos(lat*math.Pi/180) / float64(width)
	resY := (bounds.North - bounds.South) * metresPerDegree / float64(height)
	return min(resX, resY)
}

// PlanZoomRange derives the usable zoom range for an image.
//
// Max is the smallest zoom whose ground resolution is no coarser than the
// image's own resolution. Min is chosen so that the footprint spans one to
// four tiles, preferring a zoom at which a single tile covers it. A
// footprint that already fits one tile at Max yields a single level.
func PlanZoomRange(bounds Bounds, width, height int) (ZoomRange, error) {
	if _, err := NewTransform(bounds, width, height); err != nil {
		return ZoomRange{}, err
	}

	_, lat := bounds.Center()
	res := ImageResolution(bounds, width, height)
	maxZoom := MaxZoom
	for z := 0; z < MaxZoom; z++ {
		if GroundResolution(lat, z) <= res {
			maxZoom = z
			break
		}
	}

	fitZoom := fittingZoom(bounds)
	if fitZoom >= maxZoom {
		return ZoomRange{Min: maxZoom, Max: maxZoom}, nil
	}
	minZoom := fitZoom
	for z := fitZoom; z >= max(0, fitZoom-maxOverviewDescent); z-- {
		if TileCount(bounds, z) == 1 {
			minZoom = z
			break
		}
	}

	return ZoomRange{Min: minZoom, Max: maxZoom}, nil
}

// fittingZoom returns the largest zoom at which the longer side of the
// footprint is no wider than one tile.
func fittingZoom(bounds Bounds) int {
	extent := max(
		lngToX(bounds.East)-lngToX(bounds.West),
		latToY(bounds.South)-latToY(bounds.North),
	)
	if extent <= 0 {
		return MaxZoom
	}
	z := int(math.Floor(math.Log2(1 / extent)))
	return min(max(z, 0), MaxZoom)
}

// TileRange is an inclusive range of grid cells at one zoom level.
type TileRange struct {
	Z          uint32
	MinX, MaxX uint32
	MinY, MaxY uint32
}

func (r TileRange) Count() int {
	return int(r.MaxX-r.MinX+1) * int(r.MaxY-r.MinY+1)
}

// CoveringTiles returns the grid cells at zoom z whose footprint overlaps
// the bounds. A bound lying exactly on a grid line does not pull in the
// neighbouring cell.
func CoveringTiles(bounds Bounds, z int) TileRange {
	n := math.Exp2(float64(z))
	last := uint32(n) - 1
	if z == 0 {
		last = 0
	}
	cell := func(v float64, upper bool) uint32 {
		c := math.Floor(v * n)
		if upper && c == v*n {
			c--
		}
		return uint32(min(max(c, 0), float64(last)))
	}
	return TileRange{
		Z:    uint32(z),
		MinX: cell(lngToX(bounds.West), false),
		MaxX: cell(lngToX(bounds.East), true),
		MinY: cell(latToY(bounds.North), false),
		MaxY: cell(latToY(bounds.South), true),
	}
}

// TileCount returns the number of grid cells at zoom z overlapping the bounds.
func TileCount(bounds Bounds, z int) int {
	return CoveringTiles(bounds, z).Count()
}

// RowLatitude returns the latitude at the fractional tile row y of zoom z.
func RowLatitude(z int, y float64) float64 {
	n := math.Pi * (1 - 2*y/math.Exp2(float64(z)))
	return math.Atan(math.Sinh(n)) * 180 / math.Pi
}

// TilePixels returns the pixels of the size×size tile (z, x, y) whose
// centres fall inside the bounds. The rectangle is empty when the bounds
// only graze the tile.
func TilePixels(b Bounds, z int, x, y uint32, size int) image.Rectangle {
	n := math.Exp2(float64(z))
	span := func(lo, hi float64, cell uint32) (int, int) {
		first := math.Ceil((lo*n-float64(cell))*float64(size) - 0.5)
		last := math.Floor((hi*n-float64(cell))*float64(size) - 0.5)
		return int(max(first, 0)), int(min(last, float64(size-1))) + 1
	}
	x0, x1 := span(lngToX(b.West), lngToX(b.East), x)
	y0, y1 := span(latToY(b.North), latToY(b.South), y)
	r := image.Rectangle{Min: image.Pt(x0, y0), Max: image.Pt(x1, y1)}
	if r.Empty() {
		return image.Rectangle{}
	}
	return r
}

// lngToX converts longitude to a normalized Web Mercator x in [0, 1].
func lngToX(lng float64) float64 {
	return (lng + 180) / 360
}

// latToY converts latitude to a normalized Web Mercator y in [0, 1], north at 0.
func latToY(lat float64) float64 {
	r := lat * math.Pi / 180
	return (1 - math.Log(math.Tan(r)+1/math.Cos(r))/math.Pi) / 2
}

// Package geo maps between image pixels and geographic coordinates and plans
// the zoom range of a tile pyramid on the Web Mercator XYZ grid.
package geo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// MaxLatitude is the latitude limit of the Web Mercator projection.
const MaxLatitude = 85.05112877980659

var ErrInvalidBounds = errors.New("orthotiles: invalid bounds")

// Bounds is an axis-aligned geographic bounding box in degrees.
type Bounds struct {
	North float64
	South float64
	East  float64
	West  float64
}

// ParseBounds parses bounds stored as decimal strings.
func ParseBounds(north, south, east, west string) (Bounds, error) {
	var b Bounds
	for _, f := range []struct {
		name  string
		value string
		dst   *float64
	}{
		{"north", north, &b.North},
		{"south", south, &b.South},
		{"east", east, &b.East},
		{"west", west, &b.West},
	} {
		v, err := strconv.ParseFloat(strings.TrimSpace(f.value), 64)
		if err != nil {
			return Bounds{}, fmt.Errorf("%w: %s %q: %w", ErrInvalidBounds, f.name, f.value, err)
		}
		*f.dst = v
	}
	return b, b.Validate()
}

// Validate checks that the box is non-degenerate and inside the Web Mercator range.
func (b Bounds) Validate() error {
	if !(b.North > b.South) {
		return fmt.Errorf("%w: north %v <= south %v", ErrInvalidBounds, b.North, b.South)
	}
	if !(b.East > b.West) {
		return fmt.Errorf("%w: east %v <= west %v", ErrInvalidBounds, b.East, b.West)
	}
	if b.North > MaxLatitude || b.South < -MaxLatitude {
		return fmt.Errorf("%w: latitude outside [%v, %v]", ErrInvalidBounds, -MaxLatitude, MaxLatitude)
	}
	if b.East > 180 || b.West < -180 {
		return fmt.Errorf("%w: longitude outside [-180, 180]", ErrInvalidBounds)
	}
	return nil
}

func (b Bounds) Center() (lng, lat float64) {
	return (b.West + b.East) / 2, (b.North + b.South) / 2
}

// Bound returns the box as an orb.Bound.
func (b Bounds) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.West, b.South}, Max: orb.Point{b.East, b.North}}
}

// Transform is a linear mapping between pixel coordinates of an image
// (origin top-left) and geographic coordinates of its bounding box.
// Pixel spacing is assumed uniform across the box.
type Transform struct {
	bounds Bounds
	width  float64
	height float64
}

func NewTransform(bounds Bounds, width, height int) (Transform, error) {
	if err := bounds.Validate(); err != nil {
		return Transform{}, err
	}
	if width <= 0 || height <= 0 {
		return Transform{}, fmt.Errorf("%w: image size %dx%d", ErrInvalidBounds, width, height)
	}
	return Transform{bounds: bounds, width: float64(width), height: float64(height)}, nil
}

func (t Transform) Bounds() Bounds { return t.bounds }

// PixelToGeo converts pixel coordinates to longitude and latitude.
func (t Transform) PixelToGeo(px, py float64) (lng, lat float64) {
	b := t.bounds
	lng = b.West + px/t.width*(b.East-b.West)
	lat = b.North - py/t.height*(b.North-b.South)
	return lng, lat
}

// GeoToPixel converts longitude and latitude to pixel coordinates.
func (t Transform) GeoToPixel(lng, lat float64) (px, py float64) {
	b := t.bounds
	px = (lng - b.West) / (b.East - b.West) * t.width
	py = (b.North - lat) / (b.North - b.South) * t.height
	return px, py
}

// PixelsPerDegree returns the horizontal and vertical pixel density.
func (t Transform) PixelsPerDegree() (x, y float64) {
	b := t.bounds
	return t.width / (b.East - b.West), t.height / (b.North - b.South)
}

// Package pm reads and writes PMTiles v3 archives.
package pm

import (
	"math"

	"github.com/eak1mov/orthotiles/pm/spec"
	"github.com/paulmach/orb"
)

// HeaderMetadata is the descriptive part of the PMTiles header.
type HeaderMetadata = spec.Tileset

// NewHeaderMetadata describes an uncompressed raster tileset covering bound.
// The center zoom is the coarsest zoom.
func NewHeaderMetadata(tileType spec.TileType, bound orb.Bound, minZoom, maxZoom int) HeaderMetadata {
	center := bound.Center()
	return HeaderMetadata{
		TileCompression: spec.CompressionNone,
		TileType:        tileType,
		MinZoom:         uint8(minZoom),
		MaxZoom:         uint8(maxZoom),
		MinLonE7:        e7(bound.Min.Lon()),
		MinLatE7:        e7(bound.Min.Lat()),
		MaxLonE7:        e7(bound.Max.Lon()),
		MaxLatE7:        e7(bound.Max.Lat()),
		CenterZoom:      uint8(minZoom),
		CenterLonE7:     e7(center.Lon()),
		CenterLatE7:     e7(center.Lat()),
	}
}

func e7(deg float64) int32 {
	return int32(math.Round(deg * 1e7))
}

package spec

import (
	"math/bits"

	"github.com/eak1mov/orthotiles/tile"
	"github.com/google/hilbert"
)

// ZoomStart returns the tile code of the first tile at zoom z, which is the
// number of tiles on all coarser zooms.
func ZoomStart(z uint32) uint64 {
	return (1<<(2*z) - 1) / 3
}

func curve(z uint32) *hilbert.Hilbert {
	// 1<<z is always a power of two, the only error NewHilbert reports.
	h, _ := hilbert.NewHilbert(1 << z)
	return h
}

// EncodeTileID returns the tile code: ZoomStart(z) plus the position of
// (x, y) along the hilbert curve of zoom z.
func EncodeTileID(id tile.ID) uint64 {
	d, _ := curve(id.Z).MapInverse(int(id.X), int(id.Y))
	return ZoomStart(id.Z) + uint64(d)
}

func DecodeTileID(code uint64) tile.ID {
	z := uint32(bits.Len64(3*code+1)-1) / 2
	x, y, _ := curve(z).Map(int(code - ZoomStart(z)))
	return tile.ID{X: uint32(x), Y: uint32(y), Z: z}
}

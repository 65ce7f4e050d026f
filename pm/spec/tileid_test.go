package spec_test

import (
	"testing"

	"github.com/eak1mov/orthotiles/pm/spec"
	"github.com/eak1mov/orthotiles/tile"
	"github.com/google/go-cmp/cmp"
)

func TestTileCodes(t *testing.T) {
	testCases := []struct {
		id   tile.ID
		code uint64
	}{
		{tile.ID{Z: 0}, 0},
		{tile.ID{X: 0, Y: 0, Z: 1}, 1},
		{tile.ID{X: 0, Y: 1, Z: 1}, 2},
		{tile.ID{X: 1, Y: 1, Z: 1}, 3},
		{tile.ID{X: 1, Y: 0, Z: 1}, 4},
		{tile.ID{X: 0, Y: 0, Z: 2}, 5},
	}
	for _, tc := range testCases {
		if got := spec.EncodeTileID(tc.id); got != tc.code {
			t.Errorf("EncodeTileID(%v) = %d, want %d", tc.id, got, tc.code)
		}
		if diff := cmp.Diff(tc.id, spec.DecodeTileID(tc.code)); diff != "" {
			t.Errorf("DecodeTileID(%d) mismatch (-want+got):\n%v", tc.code, diff)
		}
	}
}

func TestZoomStart(t *testing.T) {
	for z, want := range []uint64{0, 1, 5, 21, 85} {
		if got := spec.ZoomStart(uint32(z)); got != want {
			t.Errorf("ZoomStart(%d) = %d, want %d", z, got, want)
		}
	}
}

func TestTileCodesRoundTrip(t *testing.T) {
	// Every code of the first zooms maps back to itself and codes are dense.
	next := uint64(0)
	for z := range uint32(8) {
		seen := make(map[uint64]bool)
		for x := range uint32(1) << z {
			for y := range uint32(1) << z {
				id := tile.ID{X: x, Y: y, Z: z}
				code := spec.EncodeTileID(id)
				if diff := cmp.Diff(id, spec.DecodeTileID(code)); diff != "" {
					t.Fatalf("DecodeTileID(EncodeTileID(%v)) mismatch (-want+got):\n%v", id, diff)
				}
				seen[code] = true
			}
		}
		for range seen {
			if !seen[next] {
				t.Fatalf("zoom %d: missing code %d", z, next)
			}
			next++
		}
	}
	// Corner tiles of deep zooms.
	for z := range uint32(31) {
		id := tile.ID{X: 1<<z - 1, Y: 1<<z - 1, Z: z}
		if diff := cmp.Diff(id, spec.DecodeTileID(spec.EncodeTileID(id))); diff != "" {
			t.Errorf("DecodeTileID(EncodeTileID(%v)) mismatch (-want+got):\n%v", id, diff)
		}
	}
}

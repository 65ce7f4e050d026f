package pyramid

import (
	"cmp"
	"slices"

	"github.com/eak1mov/orthotiles/tile"
)

// Index records which grid cells of one zoom level hold a tile.
type Index map[tile.ID]struct{}

func (idx Index) Add(id tile.ID) {
	idx[id] = struct{}{}
}

func (idx Index) Has(id tile.ID) bool {
	_, ok := idx[id]
	return ok
}

// Sorted returns the cells in row-major order.
func (idx Index) Sorted() []tile.ID {
	ids := make([]tile.ID, 0, len(idx))
	for id := range idx {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b tile.ID) int {
		return cmp.Or(cmp.Compare(a.Z, b.Z), cmp.Compare(a.Y, b.Y), cmp.Compare(a.X, b.X))
	})
	return ids
}

// Parents returns the parent cells of every indexed cell, in row-major order.
func (idx Index) Parents() []tile.ID {
	parents := make(Index, len(idx)/2+1)
	for id := range idx {
		if id.Z > 0 {
			parents.Add(id.Parent())
		}
	}
	return parents.Sorted()
}

package tile

// Collect reads every tile of r into a map.
func Collect(r Visitor) (map[ID][]byte, error) {
	tiles := make(map[ID][]byte)
	err := r.VisitTiles(func(id ID, data []byte) error {
		tiles[id] = data
		return nil
	})
	return tiles, err
}

// CountByZoom returns the number of tiles per zoom level.
func CountByZoom(r Visitor) (map[uint32]int, error) {
	counts := make(map[uint32]int)
	err := r.VisitTiles(func(id ID, _ []byte) error {
		counts[id.Z]++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// ZoomRange returns the lowest and highest zoom holding a tile. ok is false
// for an empty tileset.
func ZoomRange(r Visitor) (minZoom, maxZoom uint32, ok bool, err error) {
	err = r.VisitTiles(func(id ID, _ []byte) error {
		if !ok {
			minZoom, maxZoom, ok = id.Z, id.Z, true
			return nil
		}
		minZoom, maxZoom = min(minZoom, id.Z), max(maxZoom, id.Z)
		return nil
	})
	return minZoom, maxZoom, ok, err
}

// Package tile provides common tile interfaces and types.
package tile

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

var (
	ErrTileExists   = errors.New("orthotiles: tile already exists")
	ErrTileNotFound = errors.New("orthotiles: tile not found")
)

// ID represents tile coordinates in the XYZ scheme (Tiled web map).
// X is the grid column, Y is the grid row and Z is the zoom level.
type ID struct {
	X uint32
	Y uint32
	Z uint32
}

func (t ID) Valid() bool {
	return t.Z < 32 && t.X < (1<<t.Z) && t.Y < (1<<t.Z)
}

func (t ID) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// Parent returns the tile one zoom level up whose grid cell contains t.
// The parent of a zoom 0 tile is itself.
func (t ID) Parent() ID {
	if t.Z == 0 {
		return t
	}
	return ID{X: t.X >> 1, Y: t.Y >> 1, Z: t.Z - 1}
}

// Children returns the four tiles one zoom level down in the order
// top-left, top-right, bottom-left, bottom-right.
func (t ID) Children() [4]ID {
	x, y, z := t.X<<1, t.Y<<1, t.Z+1
	return [4]ID{
		{X: x, Y: y, Z: z},
		{X: x + 1, Y: y, Z: z},
		{X: x, Y: y + 1, Z: z},
		{X: x + 1, Y: y + 1, Z: z},
	}
}

// Bound returns the geographic extent of the tile in lon/lat degrees.
func (t ID) Bound() orb.Bound {
	return maptile.New(t.X, t.Y, maptile.Zoom(t.Z)).Bound()
}

// Address identifies a single tile of one image's pyramid.
type Address struct {
	ImageID int64
	ID
}

func (a Address) String() string {
	return fmt.Sprintf("%d/%v", a.ImageID, a.ID)
}

// Store is a write-once tile storage organized by image, zoom, column and row.
type Store interface {
	// Put writes a tile. Writing the same address twice fails with ErrTileExists.
	Put(ctx context.Context, addr Address, tileData []byte) error

	// Get reads a tile. It fails with ErrTileNotFound if the tile does not exist.
	Get(ctx context.Context, addr Address) ([]byte, error)

	Exists(ctx context.Context, addr Address) (bool, error)

	// StoragePath returns the location of the pyramid root for an image.
	StoragePath(imageID int64) string

	// Visit calls the visitor for every tile of an image in unspecified order.
	Visit(ctx context.Context, imageID int64, visitor func(ID, []byte) error) error

	// List returns the IDs of every tile of an image in unspecified order
	// without reading tile data.
	List(ctx context.Context, imageID int64) ([]ID, error)

	// Sweep removes every tile of an image.
	Sweep(ctx context.Context, imageID int64) error
}

// Writer defines an interface for writing tiles to a tileset.
type Writer interface {
	// WriteTile writes a single tile to the tileset.
	WriteTile(tileID ID, tileData []byte) error

	// Finalize completes the writing process: flushes buffers, writes header and indices.
	// It must be called before closing the Writer.
	Finalize() error
}

type Reader interface {
	// ReadTile reads a single tile from the tileset.
	// It returns the tile data or an error if the tile cannot be read.
	// If the tile does not exist, it returns an empty slice with no error.
	ReadTile(tileID ID) ([]byte, error)
}

type Visitor interface {
	// VisitTiles visits all tiles in the tileset, calling the visitor for each.
	// It returns an error if visiting fails.
	// Order of tiles, upfront cpu and memory consumption are implementation-defined.
	VisitTiles(visitor func(ID, []byte) error) error
}

// StoreVisitor adapts a single image pyramid of a Store to the Visitor interface.
type StoreVisitor struct {
	Ctx     context.Context
	Store   Store
	ImageID int64
}

func (v StoreVisitor) VisitTiles(visitor func(ID, []byte) error) error {
	return v.Store.Visit(v.Ctx, v.ImageID, visitor)
}

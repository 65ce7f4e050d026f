package xyz

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/eak1mov/orthotiles/tile"
)

// Store implements tile.Store on a directory tree laid out as
// "{root}/{image}/{z}/{x}/{y}.png".
type Store struct {
	rootDir string
	ext     string
}

// NewStore creates a Store rooted at rootDir.
func NewStore(rootDir string) *Store {
	return &Store{rootDir: rootDir, ext: ".png"}
}

func (s *Store) StoragePath(imageID int64) string {
	return filepath.Join(s.rootDir, strconv.FormatInt(imageID, 10))
}

func (s *Store) filePattern(imageID int64) string {
	return filepath.Join(s.StoragePath(imageID), "{z}", "{x}", "{y}"+s.ext)
}

func (s *Store) path(addr tile.Address) string {
	return pattern(s.filePattern(addr.ImageID)).path(addr.ID)
}

func (s *Store) Put(ctx context.Context, addr tile.Address, tileData []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !addr.Valid() {
		return fmt.Errorf("orthotiles: invalid tile %v", addr)
	}
	writer, err := NewWriter(s.filePattern(addr.ImageID), WithExclusive())
	if err != nil {
		return err
	}
	if err := writer.WriteTile(addr.ID, tileData); err != nil {
		return fmt.Errorf("write tile %v: %w", addr, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, addr tile.Address) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tileData, err := os.ReadFile(s.path(addr))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %v", tile.ErrTileNotFound, addr)
	}
	if err != nil {
		return nil, err
	}
	return tileData, nil
}

func (s *Store) Exists(_ context.Context, addr tile.Address) (bool, error) {
	_, err := os.Stat(s.path(addr))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Visit(ctx context.Context, imageID int64, visitor func(tile.ID, []byte) error) error {
	reader, err := NewReader(s.filePattern(imageID))
	if err != nil {
		return err
	}
	return reader.VisitTiles(func(tileID tile.ID, tileData []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return visitor(tileID, tileData)
	})
}

func (s *Store) List(ctx context.Context, imageID int64) ([]tile.ID, error) {
	reader, err := NewReader(s.filePattern(imageID))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return reader.ListTiles()
}

func (s *Store) Sweep(_ context.Context, imageID int64) error {
	return os.RemoveAll(s.StoragePath(imageID))
}

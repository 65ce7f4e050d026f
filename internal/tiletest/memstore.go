// Package tiletest provides an in-memory tile.Store for tests.
package tiletest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/eak1mov/orthotiles/tile"
)

// MemStore is a thread-safe in-memory tile.Store that counts reads and writes.
type MemStore struct {
	mu      sync.Mutex
	tiles   map[tile.Address][]byte
	puts    int
	gets    int
	visited int
	sweeps  int

	// FailPut, if set, is returned by every Put.
	FailPut error
}

func NewMemStore() *MemStore {
	return &MemStore{tiles: make(map[tile.Address][]byte)}
}

func (s *MemStore) Put(ctx context.Context, addr tile.Address, tileData []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPut != nil {
		return s.FailPut
	}
	if _, ok := s.tiles[addr]; ok {
		return fmt.Errorf("%w: %v", tile.ErrTileExists, addr)
	}
	s.tiles[addr] = tileData
	s.puts++
	return nil
}

func (s *MemStore) Get(_ context.Context, addr tile.Address) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	tileData, ok := s.tiles[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %v", tile.ErrTileNotFound, addr)
	}
	return tileData, nil
}

func (s *MemStore) Exists(_ context.Context, addr tile.Address) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tiles[addr]
	return ok, nil
}

func (s *MemStore) StoragePath(imageID int64) string {
	return "mem://" + strconv.FormatInt(imageID, 10)
}

func (s *MemStore) Visit(_ context.Context, imageID int64, visitor func(tile.ID, []byte) error) error {
	s.mu.Lock()
	snapshot := make(map[tile.ID][]byte)
	for addr, tileData := range s.tiles {
		if addr.ImageID == imageID {
			snapshot[addr.ID] = tileData
		}
	}
	s.visited += len(snapshot)
	s.mu.Unlock()

	for id, tileData := range snapshot {
		if err := visitor(id, tileData); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) List(_ context.Context, imageID int64) ([]tile.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []tile.ID
	for addr := range s.tiles {
		if addr.ImageID == imageID {
			ids = append(ids, addr.ID)
		}
	}
	return ids, nil
}

func (s *MemStore) Sweep(_ context.Context, imageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr := range s.tiles {
		if addr.ImageID == imageID {
			delete(s.tiles, addr)
		}
	}
	s.sweeps++
	return nil
}

// IDs returns the tile IDs stored for an image.
func (s *MemStore) IDs(imageID int64) map[tile.ID]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[tile.ID]bool)
	for addr := range s.tiles {
		if addr.ImageID == imageID {
			ids[addr.ID] = true
		}
	}
	return ids
}

// Puts returns the number of successful writes.
func (s *MemStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// Reads returns the number of Get calls plus the number of tiles passed to
// Visit callbacks.
func (s *MemStore) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets + s.visited
}

// Sweeps returns the number of Sweep calls.
func (s *MemStore) Sweeps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweeps
}

var ErrInjected = errors.New("tiletest: injected failure")

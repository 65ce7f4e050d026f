package xyz_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/eak1mov/orthotiles/tile"
	"github.com/eak1mov/orthotiles/xyz"
	"github.com/google/go-cmp/cmp"
)

func TestWriterReader(t *testing.T) {
	rootDir := t.TempDir()
	pattern := filepath.Join(rootDir, "{z}", "{x}", "{y}.png")

	tiles := map[tile.ID][]byte{
		{X: 0, Y: 0, Z: 0}: []byte("tile000"),
		{X: 1, Y: 1, Z: 1}: []byte("tile111"),
		{X: 0, Y: 0, Z: 6}: []byte("tile006"),
		{X: 6, Y: 6, Z: 6}: []byte("tile666"),
	}

	writer, err := xyz.NewWriter(pattern)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	for tileID, tileData := range tiles {
		if err := writer.WriteTile(tileID, tileData); err != nil {
			t.Errorf("WriteTile(%v) failed: %v", tileID, err)
		}
	}

	if err := writer.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	reader, err := xyz.NewReader(pattern)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}

	got, err := tile.Collect(reader)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if want := tiles; !cmp.Equal(got, want) {
		t.Errorf("VisitTiles data mismatch")
	}

	for tileID, tileData := range tiles {
		data, err := reader.ReadTile(tileID)
		if err != nil {
			t.Errorf("ReadTile(%v) failed: %v", tileID, err)
			continue
		}
		if !cmp.Equal(data, tileData) {
			t.Errorf("ReadTile data mismatch for %v", tileID)
		}
	}

	tileData, err := reader.ReadTile(tile.ID{X: 9, Y: 9, Z: 9})
	if err != nil {
		t.Errorf("ReadTile(missing tile) failed: %v", err)
	}
	if len(tileData) != 0 {
		t.Errorf("ReadTile(missing tile) expected empty tile, got: %v bytes", len(tileData))
	}
}

func TestReaderSpecialCharacters(t *testing.T) {
	rootDir := filepath.Join(t.TempDir(), "tiles.v1+(a)")
	pattern := filepath.Join(rootDir, "{z}", "{x}", "{y}.png")

	writer, err := xyz.NewWriter(pattern)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := writer.WriteTile(tile.ID{X: 2, Y: 3, Z: 2}, []byte("x")); err != nil {
		t.Fatalf("WriteTile failed: %v", err)
	}

	reader, err := xyz.NewReader(pattern)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	got, err := tile.Collect(reader)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if want := map[tile.ID][]byte{{X: 2, Y: 3, Z: 2}: []byte("x")}; !cmp.Equal(got, want) {
		t.Errorf("VisitTiles = %v, want = %v", got, want)
	}
}

func TestInvalidPattern(t *testing.T) {
	if _, err := xyz.NewWriter("/tmp/{z}/{x}.png"); !errors.Is(err, xyz.ErrInvalidPattern) {
		t.Errorf("NewWriter error = %v, want %v", err, xyz.ErrInvalidPattern)
	}
	if _, err := xyz.NewReader("/tmp/{x}/{y}.png"); !errors.Is(err, xyz.ErrInvalidPattern) {
		t.Errorf("NewReader error = %v, want %v", err, xyz.ErrInvalidPattern)
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	store := xyz.NewStore(t.TempDir())

	addr := tile.Address{ImageID: 42, ID: tile.ID{X: 3, Y: 5, Z: 4}}
	other := tile.Address{ImageID: 7, ID: tile.ID{X: 3, Y: 5, Z: 4}}

	if err := store.Put(ctx, addr, []byte("png")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, addr, []byte("again")); !errors.Is(err, tile.ErrTileExists) {
		t.Errorf("second Put error = %v, want %v", err, tile.ErrTileExists)
	}
	if err := store.Put(ctx, other, []byte("other")); err != nil {
		t.Fatalf("Put(other) failed: %v", err)
	}
	if err := store.Put(ctx, tile.Address{ImageID: 42, ID: tile.ID{X: 9, Y: 0, Z: 2}}, nil); err == nil {
		t.Errorf("Put(invalid tile) succeeded")
	}

	data, err := store.Get(ctx, addr)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got, want := string(data), "png"; got != want {
		t.Errorf("Get = %q, want = %q", got, want)
	}

	if ok, err := store.Exists(ctx, addr); err != nil || !ok {
		t.Errorf("Exists = %v, %v, want = true", ok, err)
	}

	if got, want := store.StoragePath(42), filepath.Join(filepath.Dir(store.StoragePath(7)), "42"); got != want {
		t.Errorf("StoragePath = %q, want = %q", got, want)
	}

	visited := make(map[tile.ID][]byte)
	err = store.Visit(ctx, 42, func(id tile.ID, data []byte) error {
		visited[id] = data
		return nil
	})
	if err != nil {
		t.Fatalf("Visit failed: %v", err)
	}
	if want := map[tile.ID][]byte{addr.ID: []byte("png")}; !cmp.Equal(visited, want) {
		t.Errorf("Visit = %v, want = %v", visited, want)
	}

	ids, err := store.List(ctx, 42)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if want := []tile.ID{addr.ID}; !cmp.Equal(ids, want) {
		t.Errorf("List = %v, want = %v", ids, want)
	}

	if err := store.Sweep(ctx, 42); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if _, err := store.Get(ctx, addr); !errors.Is(err, tile.ErrTileNotFound) {
		t.Errorf("Get after Sweep error = %v, want %v", err, tile.ErrTileNotFound)
	}
	if ok, _ := store.Exists(ctx, other); !ok {
		t.Errorf("Sweep removed tiles of another image")
	}
	if err := store.Put(ctx, addr, []byte("rebuilt")); err != nil {
		t.Errorf("Put after Sweep failed: %v", err)
	}

	if err := store.Visit(ctx, 1000, func(tile.ID, []byte) error { return nil }); err != nil {
		t.Errorf("Visit(missing image) failed: %v", err)
	}
	if ids, err := store.List(ctx, 1000); err != nil || len(ids) != 0 {
		t.Errorf("List(missing image) = %v, %v, want empty", ids, err)
	}
}

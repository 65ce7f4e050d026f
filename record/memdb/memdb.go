// Package memdb is an in-memory record.Gateway.
package memdb

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/eak1mov/orthotiles/record"
)

// DB is a mutex guarded map of image records.
type DB struct {
	mu      sync.Mutex
	images  map[int64]record.Image
	updates int
}

func New(images ...record.Image) *DB {
	db := &DB{images: make(map[int64]record.Image)}
	for _, img := range images {
		db.images[img.ID] = img
	}
	return db
}

func (db *DB) Insert(_ context.Context, img record.Image) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.images[img.ID]; ok {
		return fmt.Errorf("orthotiles: image %d already exists", img.ID)
	}
	db.images[img.ID] = img
	return nil
}

func (db *DB) GetImage(_ context.Context, id int64) (record.Image, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	img, ok := db.images[id]
	if !ok {
		return record.Image{}, fmt.Errorf("%w: %d", record.ErrNotFound, id)
	}
	return img, nil
}

func (db *DB) ListImagesNeedingTiles(_ context.Context) ([]record.Image, error) {
	return db.list(func(img record.Image) bool { return !img.HasTiles }), nil
}

func (db *DB) ListStale(_ context.Context, status record.Status, before time.Time) ([]record.Image, error) {
	return db.list(func(img record.Image) bool {
		return img.Status == status && img.StatusChangedAt.Before(before)
	}), nil
}

func (db *DB) list(keep func(record.Image) bool) []record.Image {
	db.mu.Lock()
	defer db.mu.Unlock()
	var images []record.Image
	for _, img := range db.images {
		if keep(img) {
			images = append(images, img)
		}
	}
	slices.SortFunc(images, func(a, b record.Image) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return images
}

func (db *DB) UpdateImage(_ context.Context, id int64, patch record.Patch) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	img, ok := db.images[id]
	if !ok {
		return fmt.Errorf("%w: %d", record.ErrNotFound, id)
	}
	if err := patch.Check(img); err != nil {
		return err
	}
	db.images[id] = patch.Apply(img)
	db.updates++
	return nil
}

// Updates returns the number of applied updates.
func (db *DB) Updates() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.updates
}

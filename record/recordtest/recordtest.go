// Package recordtest holds behaviour tests shared by record.Gateway implementations.
package recordtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eak1mov/orthotiles/record"
	"github.com/google/go-cmp/cmp"
)

// Gateway is a record.Gateway that can be seeded with records.
type Gateway interface {
	record.Gateway
	record.StaleLister
	Insert(ctx context.Context, img record.Image) error
}

var (
	epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	Seed = []record.Image{
		{ID: 3, FilePath: "/data/3.tif", North: "44.0", South: "43.0", East: "-110.0", West: "-111.0"},
		{ID: 1, FilePath: "/data/1.tif", North: "1", South: "0", East: "1", West: "0", Status: record.Failed, StatusChangedAt: epoch},
		{
			ID: 2, FilePath: "/data/2.tif", North: "1", South: "0", East: "1", West: "0",
			HasTiles: true, TileMinZoom: 5, TileMaxZoom: 9, TileStoragePath: "/tiles/2",
			Status: record.Complete, StatusChangedAt: epoch,
		},
		{ID: 4, FilePath: "/data/4.tif", Status: record.GeneratingTiles, StatusChangedAt: epoch},
	}
)

// Run exercises a gateway created by newGateway. Every call must return an
// empty gateway.
func Run(t *testing.T, newGateway func(t *testing.T) Gateway) {
	ctx := context.Background()

	seeded := func(t *testing.T) Gateway {
		t.Helper()
		gw := newGateway(t)
		for _, img := range Seed {
			if err := gw.Insert(ctx, img); err != nil {
				t.Fatalf("Insert(%d) failed: %v", img.ID, err)
			}
		}
		return gw
	}

	t.Run("GetImage", func(t *testing.T) {
		gw := seeded(t)
		for _, want := range Seed {
			got, err := gw.GetImage(ctx, want.ID)
			if err != nil {
				t.Fatalf("GetImage(%d) failed: %v", want.ID, err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("GetImage(%d) mismatch (-want+got):\n%v", want.ID, diff)
			}
		}
		if _, err := gw.GetImage(ctx, 100); !errors.Is(err, record.ErrNotFound) {
			t.Errorf("GetImage(missing) error = %v, want %v", err, record.ErrNotFound)
		}
	})

	t.Run("ListImagesNeedingTiles", func(t *testing.T) {
		gw := seeded(t)
		images, err := gw.ListImagesNeedingTiles(ctx)
		if err != nil {
			t.Fatalf("ListImagesNeedingTiles failed: %v", err)
		}
		var ids []int64
		for _, img := range images {
			ids = append(ids, img.ID)
		}
		if diff := cmp.Diff([]int64{1, 3, 4}, ids); diff != "" {
			t.Errorf("ListImagesNeedingTiles ids mismatch (-want+got):\n%v", diff)
		}
	})

	t.Run("UpdateImage", func(t *testing.T) {
		gw := seeded(t)
		at := epoch.Add(time.Hour)

		if err := gw.UpdateImage(ctx, 3, record.StatusPatch(record.GeneratingTiles, at)); err != nil {
			t.Fatalf("UpdateImage(generating) failed: %v", err)
		}
		if err := gw.UpdateImage(ctx, 3, record.CompletePatch(6, 13, "/tiles/3", at)); err != nil {
			t.Fatalf("UpdateImage(complete) failed: %v", err)
		}

		got, err := gw.GetImage(ctx, 3)
		if err != nil {
			t.Fatalf("GetImage failed: %v", err)
		}
		want := Seed[0]
		want.HasTiles = true
		want.TileMinZoom, want.TileMaxZoom = 6, 13
		want.TileStoragePath = "/tiles/3"
		want.Status = record.Complete
		want.StatusChangedAt = at
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("updated image mismatch (-want+got):\n%v", diff)
		}

		err = gw.UpdateImage(ctx, 3, record.StatusPatch(record.GeneratingTiles, at))
		if !errors.Is(err, record.ErrInvalidTransition) {
			t.Errorf("UpdateImage(complete -> generating) error = %v, want %v", err, record.ErrInvalidTransition)
		}

		if err := gw.UpdateImage(ctx, 100, record.StatusPatch(record.Failed, at)); !errors.Is(err, record.ErrNotFound) {
			t.Errorf("UpdateImage(missing) error = %v, want %v", err, record.ErrNotFound)
		}
	})

	t.Run("FailedLeavesMetadata", func(t *testing.T) {
		gw := seeded(t)
		at := epoch.Add(time.Minute)
		if err := gw.UpdateImage(ctx, 4, record.StatusPatch(record.Failed, at)); err != nil {
			t.Fatalf("UpdateImage failed: %v", err)
		}
		got, err := gw.GetImage(ctx, 4)
		if err != nil {
			t.Fatalf("GetImage failed: %v", err)
		}
		want := Seed[3]
		want.Status = record.Failed
		want.StatusChangedAt = at
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("failed image mismatch (-want+got):\n%v", diff)
		}
	})

	t.Run("ListStale", func(t *testing.T) {
		gw := seeded(t)
		stale, err := gw.ListStale(ctx, record.GeneratingTiles, epoch.Add(time.Second))
		if err != nil {
			t.Fatalf("ListStale failed: %v", err)
		}
		if len(stale) != 1 || stale[0].ID != 4 {
			t.Errorf("ListStale = %+v, want image 4", stale)
		}

		stale, err = gw.ListStale(ctx, record.GeneratingTiles, epoch)
		if err != nil {
			t.Fatalf("ListStale failed: %v", err)
		}
		if len(stale) != 0 {
			t.Errorf("ListStale(before epoch) = %+v, want none", stale)
		}
	})
}

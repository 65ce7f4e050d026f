package record_test

import (
	"errors"
	"testing"
	"time"

	"github.com/eak1mov/orthotiles/geo"
	"github.com/eak1mov/orthotiles/record"
	"github.com/google/go-cmp/cmp"
)

func TestStatusString(t *testing.T) {
	for _, s := range []record.Status{record.NotStarted, record.GeneratingTiles, record.Complete, record.Failed} {
		parsed, err := record.ParseStatus(s.String())
		if err != nil {
			t.Fatalf("ParseStatus(%q) failed: %v", s, err)
		}
		if parsed != s {
			t.Errorf("ParseStatus(%q) = %v, want = %v", s.String(), parsed, s)
		}
	}
	if _, err := record.ParseStatus("processing"); err == nil {
		t.Errorf("ParseStatus(unknown) succeeded")
	}
}

func TestCanTransition(t *testing.T) {
	all := []record.Status{record.NotStarted, record.GeneratingTiles, record.Complete, record.Failed}
	allowed := map[[2]record.Status]bool{
		{record.NotStarted, record.GeneratingTiles}: true,
		{record.Failed, record.GeneratingTiles}:     true,
		{record.GeneratingTiles, record.Complete}:   true,
		{record.GeneratingTiles, record.Failed}:     true,
	}
	for _, from := range all {
		for _, to := range all {
			if got, want := from.CanTransition(to), allowed[[2]record.Status{from, to}]; got != want {
				t.Errorf("%v.CanTransition(%v) = %v, want = %v", from, to, got, want)
			}
		}
	}
}

func TestPatch(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	img := record.Image{ID: 1, FilePath: "a.tif", Status: record.GeneratingTiles}

	got := record.CompletePatch(10, 17, "/tiles/1", now).Apply(img)
	want := record.Image{
		ID:              1,
		FilePath:        "a.tif",
		HasTiles:        true,
		TileMinZoom:     10,
		TileMaxZoom:     17,
		TileStoragePath: "/tiles/1",
		Status:          record.Complete,
		StatusChangedAt: now,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Apply mismatch (-want+got):\n%v", diff)
	}

	failed := record.StatusPatch(record.Failed, now).Apply(img)
	if failed.HasTiles || failed.TileStoragePath != "" || failed.Status != record.Failed {
		t.Errorf("failed patch touched tile metadata: %+v", failed)
	}

	if err := record.StatusPatch(record.Complete, now).Check(record.Image{Status: record.NotStarted}); !errors.Is(err, record.ErrInvalidTransition) {
		t.Errorf("Check(not_started -> complete) = %v, want %v", err, record.ErrInvalidTransition)
	}
	if err := (record.Patch{}).Check(record.Image{Status: record.Complete}); err != nil {
		t.Errorf("Check(empty patch) = %v", err)
	}
}

func TestImageBounds(t *testing.T) {
	img := record.Image{North: "44.0", South: "43.0", East: "-110.0", West: "-111.0"}
	b, err := img.Bounds()
	if err != nil {
		t.Fatalf("Bounds failed: %v", err)
	}
	if want := (geo.Bounds{North: 44, South: 43, East: -110, West: -111}); b != want {
		t.Errorf("Bounds = %+v, want = %+v", b, want)
	}

	img.North = ""
	if _, err := img.Bounds(); !errors.Is(err, geo.ErrInvalidBounds) {
		t.Errorf("Bounds(empty north) = %v, want %v", err, geo.ErrInvalidBounds)
	}
}

// Package record defines drone image records and the gateway used to read
// and update them.
package record

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eak1mov/orthotiles/geo"
)

var (
	ErrNotFound          = errors.New("orthotiles: image not found")
	ErrInvalidTransition = errors.New("orthotiles: invalid status transition")
)

// Status is the tile processing state of an image.
type Status int

const (
	NotStarted Status = iota
	GeneratingTiles
	Complete
	Failed
)

func (s Status) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case GeneratingTiles:
		return "generating_tiles"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func ParseStatus(s string) (Status, error) {
	switch s {
	case "not_started", "":
		return NotStarted, nil
	case "generating_tiles":
		return GeneratingTiles, nil
	case "complete":
		return Complete, nil
	case "failed":
		return Failed, nil
	}
	return 0, fmt.Errorf("orthotiles: unknown status %q", s)
}

// CanTransition reports whether an image may move from s to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case NotStarted, Failed:
		return next == GeneratingTiles
	case GeneratingTiles:
		return next == Complete || next == Failed
	case Complete:
		return false
	}
	return false
}

// Image is a persisted drone image record. Bounds are stored as decimal strings.
type Image struct {
	ID              int64
	FilePath        string
	North           string
	South           string
	East            string
	West            string
	HasTiles        bool
	TileMinZoom     int
	TileMaxZoom     int
	TileStoragePath string
	Status          Status
	StatusChangedAt time.Time
}

// Bounds parses the stored bounding box.
func (img Image) Bounds() (geo.Bounds, error) {
	return geo.ParseBounds(img.North, img.South, img.East, img.West)
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	HasTiles        *bool
	TileMinZoom     *int
	TileMaxZoom     *int
	TileStoragePath *string
	Status          *Status
	StatusChangedAt *time.Time
}

// Apply returns img with the patch applied.
func (p Patch) Apply(img Image) Image {
	if p.HasTiles != nil {
		img.HasTiles = *p.HasTiles
	}
	if p.TileMinZoom != nil {
		img.TileMinZoom = *p.TileMinZoom
	}
	if p.TileMaxZoom != nil {
		img.TileMaxZoom = *p.TileMaxZoom
	}
	if p.TileStoragePath != nil {
		img.TileStoragePath = *p.TileStoragePath
	}
	if p.Status != nil {
		img.Status = *p.Status
	}
	if p.StatusChangedAt != nil {
		img.StatusChangedAt = *p.StatusChangedAt
	}
	return img
}

// Check validates the status change carried by the patch against the
// current record.
func (p Patch) Check(current Image) error {
	if p.Status == nil || *p.Status == current.Status {
		return nil
	}
	if !current.Status.CanTransition(*p.Status) {
		return fmt.Errorf("%w: image %d %v -> %v", ErrInvalidTransition, current.ID, current.Status, *p.Status)
	}
	return nil
}

// StatusPatch moves an image to status at time at.
func StatusPatch(status Status, at time.Time) Patch {
	return Patch{Status: &status, StatusChangedAt: &at}
}

// CompletePatch commits a finished pyramid.
func CompletePatch(minZoom, maxZoom int, storagePath string, at time.Time) Patch {
	hasTiles := true
	status := Complete
	return Patch{
		HasTiles:        &hasTiles,
		TileMinZoom:     &minZoom,
		TileMaxZoom:     &maxZoom,
		TileStoragePath: &storagePath,
		Status:          &status,
		StatusChangedAt: &at,
	}
}

// Gateway reads and updates image records.
type Gateway interface {
	GetImage(ctx context.Context, id int64) (Image, error)

	// ListImagesNeedingTiles returns images without tiles ordered by id.
	ListImagesNeedingTiles(ctx context.Context) ([]Image, error)

	// UpdateImage applies a partial update. It fails with ErrNotFound for
	// unknown ids and ErrInvalidTransition for disallowed status changes.
	UpdateImage(ctx context.Context, id int64, patch Patch) error
}

// StaleLister is implemented by gateways that can find images stuck in a
// status since before a given time.
type StaleLister interface {
	ListStale(ctx context.Context, status Status, before time.Time) ([]Image, error)
}

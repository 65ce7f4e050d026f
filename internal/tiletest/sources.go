package tiletest

import (
	"context"
	"fmt"
	"os"

	"github.com/eak1mov/orthotiles/raster"
)

// Sources is a raster.Locator over in-memory sources keyed by path.
type Sources map[string]raster.Source

func (s Sources) Exists(_ context.Context, path string) (bool, error) {
	_, ok := s[path]
	return ok, nil
}

func (s Sources) Open(_ context.Context, path string) (raster.Source, error) {
	src, ok := s[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s: %w", raster.ErrUnreadable, path, os.ErrNotExist)
	}
	return src, nil
}

package xyz

import (
	"os"
	"path/filepath"

	"github.com/eak1mov/orthotiles/tile"
)

// Writer implements tile.Writer interface for tiles in XYZ format.
type Writer struct {
	pattern   pattern
	exclusive bool
}

type WriterOption func(*Writer)

// WithExclusive makes WriteTile fail with tile.ErrTileExists instead of
// overwriting an existing file.
func WithExclusive() WriterOption {
	return func(w *Writer) { w.exclusive = true }
}

// NewWriter creates a Writer for filePattern. Missing directories are
// created on write.
func NewWriter(filePattern string, opts ...WriterOption) (*Writer, error) {
	p, err := parsePattern(filePattern)
	if err != nil {
		return nil, err
	}
	w := &Writer{pattern: p}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *Writer) WriteTile(tileID tile.ID, tileData []byte) error {
	filePath := w.pattern.path(tileID)

	dirPath := filepath.Dir(filePath)
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return err
	}

	if !w.exclusive {
		return os.WriteFile(filePath, tileData, 0644)
	}

	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if os.IsExist(err) {
		return tile.ErrTileExists
	}
	if err != nil {
		return err
	}
	_, err = file.Write(tileData)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (w *Writer) Finalize() error {
	return nil
}

package xyz

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/eak1mov/orthotiles/tile"
)

// Reader implements tile.Reader and tile.Visitor for a file pattern.
type Reader struct {
	pattern    pattern
	rootDir    string
	pathRegexp *regexp.Regexp
}

// NewReader creates a Reader for filePattern, for example
// "/srv/tiles/7/{z}/{x}/{y}.png".
func NewReader(filePattern string) (*Reader, error) {
	p, err := parsePattern(filePattern)
	if err != nil {
		return nil, err
	}
	re, err := p.matcher()
	if err != nil {
		return nil, err
	}
	return &Reader{pattern: p, rootDir: p.root(), pathRegexp: re}, nil
}

func (r *Reader) ReadTile(tileID tile.ID) ([]byte, error) {
	filePath := r.pattern.path(tileID)
	tileData, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return make([]byte, 0), nil
	}
	if err != nil {
		return nil, err
	}
	return tileData, nil
}

func (r *Reader) VisitTiles(visitor func(tile.ID, []byte) error) error {
	return r.walk(func(tileID tile.ID, filePath string) error {
		tileData, err := os.ReadFile(filePath)
		if err != nil {
			return err
		}
		return visitor(tileID, tileData)
	})
}

// ListTiles returns the IDs of all tiles matching the pattern without
// reading them.
func (r *Reader) ListTiles() ([]tile.ID, error) {
	var ids []tile.ID
	err := r.walk(func(tileID tile.ID, _ string) error {
		ids = append(ids, tileID)
		return nil
	})
	return ids, err
}

func (r *Reader) walk(fn func(tile.ID, string) error) error {
	if _, err := os.Stat(r.rootDir); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return filepath.WalkDir(r.rootDir, func(filePath string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		matches := r.pathRegexp.FindStringSubmatch(filePath)
		if matches == nil {
			return nil
		}

		x, _ := strconv.ParseUint(matches[r.pathRegexp.SubexpIndex("x")], 10, 32)
		y, _ := strconv.ParseUint(matches[r.pathRegexp.SubexpIndex("y")], 10, 32)
		z, _ := strconv.ParseUint(matches[r.pathRegexp.SubexpIndex("z")], 10, 32)
		return fn(tile.ID{X: uint32(x), Y: uint32(y), Z: uint32(z)}, filePath)
	})
}

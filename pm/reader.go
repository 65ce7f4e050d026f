package pm

import (
	"errors"
	"os"

	"github.com/eak1mov/orthotiles/pm/spec"
	"github.com/eak1mov/orthotiles/tile"
)

// FileAccessFunc reads length bytes at offset of an archive.
type FileAccessFunc = func(offset, length uint64) ([]byte, error)

// Reader implements tile.Reader and tile.Visitor for PMTiles archives.
type Reader struct {
	fileAccess FileAccessFunc
	fileCloser func() error
	header     *spec.Header
}

// NewFileReader opens the archive at filePath. The Reader must be closed.
func NewFileReader(filePath string) (*Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	fileAccess := func(offset, length uint64) ([]byte, error) {
		buffer := make([]byte, length)
		if _, err := file.ReadAt(buffer, int64(offset)); err != nil {
			return nil, err
		}
		return buffer, nil
	}
	r, err := NewReader(fileAccess)
	if err != nil {
		return nil, errors.Join(err, file.Close())
	}
	r.fileCloser = file.Close
	return r, nil
}

// NewReader reads an archive through fileAccess, for example ranged reads of
// a remote object.
func NewReader(fileAccess FileAccessFunc) (*Reader, error) {
	headerData, err := fileAccess(0, spec.HeaderLength)
	if err != nil {
		return nil, err
	}
	header, err := spec.DeserializeHeader(headerData)
	if err != nil {
		return nil, err
	}
	return &Reader{
		fileAccess: fileAccess,
		fileCloser: func() error { return nil },
		header:     header,
	}, nil
}

func (r *Reader) Close() error {
	return r.fileCloser()
}

func (r *Reader) HeaderMetadata() HeaderMetadata {
	return r.header.Tileset
}

// Counts returns the addressed tile, directory entry and unique content
// counts recorded in the header.
func (r *Reader) Counts() (tiles, entries, contents uint64) {
	return r.header.AddressedTilesCount, r.header.TileEntriesCount, r.header.TileContentsCount
}

func (r *Reader) ReadMetadata() ([]byte, error) {
	return r.fileAccess(r.header.MetadataOffset, r.header.MetadataLength)
}

func (r *Reader) readDirectory(dirOffset, dirLength uint64) ([]spec.Entry, error) {
	dirCompressed, err := r.fileAccess(dirOffset, dirLength)
	if err != nil {
		return nil, err
	}
	dirData, err := spec.Decompress(dirCompressed, r.header.InternalCompression)
	if err != nil {
		return nil, err
	}
	return spec.DeserializeDirectory(dirData)
}

// ReadTile returns the tile data, or an empty slice if the archive has no
// such tile.
func (r *Reader) ReadTile(tileID tile.ID) ([]byte, error) {
	tileCode := spec.EncodeTileID(tileID)
	dirOffset := r.header.RootOffset
	dirLength := r.header.RootLength
	for {
		dirEntries, err := r.readDirectory(dirOffset, dirLength)
		if err != nil {
			return nil, err
		}
		entry, found := spec.FindEntry(dirEntries, tileCode)
		if !found {
			return make([]byte, 0), nil
		}
		if entry.RunLength > 0 {
			return r.fileAccess(r.header.TileDataOffset+entry.Offset, uint64(entry.Length))
		}
		dirOffset = r.header.LeafDirectoryOffset + entry.Offset
		dirLength = uint64(entry.Length)
	}
}

// VisitTiles visits tiles in tile code order.
func (r *Reader) VisitTiles(visitor func(tile.ID, []byte) error) error {
	var traverse func(uint64, uint64) error
	traverse = func(dirOffset, dirLength uint64) error {
		dirEntries, err := r.readDirectory(dirOffset, dirLength)
		if err != nil {
			return err
		}
		for _, entry := range dirEntries {
			if entry.RunLength == 0 {
				if err := traverse(r.header.LeafDirectoryOffset+entry.Offset, uint64(entry.Length)); err != nil {
					return err
				}
				continue
			}
			tileData, err := r.fileAccess(r.header.TileDataOffset+entry.Offset, uint64(entry.Length))
			if err != nil {
				return err
			}
			for i := range entry.RunLength {
				if err := visitor(spec.DecodeTileID(entry.TileCode+uint64(i)), tileData); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return traverse(r.header.RootOffset, r.header.RootLength)
}

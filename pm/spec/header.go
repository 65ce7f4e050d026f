// Package spec implements the PMTiles v3 binary layout: the fixed size
// header, varint directories, hilbert tile codes and internal compression.
package spec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

type Compression uint8

const (
	CompressionUnknown Compression = iota
	CompressionNone
	CompressionGzip
	CompressionBrotli
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionBrotli:
		return "brotli"
	case CompressionZstd:
		return "zstd"
	}
	return fmt.Sprintf("compression(%d)", uint8(c))
}

type TileType uint8

const (
	TileTypeUnknown TileType = iota
	TileTypeMvt
	TileTypePng
	TileTypeJpeg
	TileTypeWebp
	TileTypeAvif
)

// tileFormats maps MBTiles "format" metadata values to tile types.
var tileFormats = map[string]TileType{
	"pbf":  TileTypeMvt,
	"png":  TileTypePng,
	"jpg":  TileTypeJpeg,
	"jpeg": TileTypeJpeg,
	"webp": TileTypeWebp,
	"avif": TileTypeAvif,
}

// ParseTileFormat returns the tile type and tile compression for an MBTiles
// format name. Vector tiles are gzipped, images are stored as is.
func ParseTileFormat(format string) (TileType, Compression, bool) {
	t, ok := tileFormats[format]
	if !ok {
		return TileTypeUnknown, CompressionUnknown, false
	}
	if t == TileTypeMvt {
		return t, CompressionGzip, true
	}
	return t, CompressionNone, true
}

// Tileset is the descriptive tail of the header. Its fields follow the
// on-disk order.
type Tileset struct {
	TileCompression Compression
	TileType        TileType
	MinZoom         uint8
	MaxZoom         uint8
	MinLonE7        int32
	MinLatE7        int32
	MaxLonE7        int32
	MaxLatE7        int32
	CenterZoom      uint8
	CenterLonE7     int32
	CenterLatE7     int32
}

// Bound returns the geographic bound of the tileset.
func (t Tileset) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(t.MinLonE7) / 1e7, float64(t.MinLatE7) / 1e7},
		Max: orb.Point{float64(t.MaxLonE7) / 1e7, float64(t.MaxLatE7) / 1e7},
	}
}

// Header is the first HeaderLength bytes of an archive, little endian.
type Header struct {
	HeaderMagic         uint64
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafDirectoryOffset uint64
	LeafDirectoryLength uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	AddressedTilesCount uint64
	TileEntriesCount    uint64
	TileContentsCount   uint64
	Clustered           bool
	InternalCompression Compression
	Tileset
}

const (
	magic        uint64 = 0x73656C69544D50 // "PMTiles"
	magicMask    uint64 = 1<<56 - 1
	HeaderMagicV3       = magic | 3<<56

	HeaderLength = 127

	// spec v3: header and root directory share the first 16 KiB.
	HeaderRootDirMaxLength = 16 << 10
	RootDirOffset          = HeaderLength
	RootDirMaxLength       = HeaderRootDirMaxLength - HeaderLength
)

var (
	ErrInvalidHeader  = errors.New("pm: invalid file header")
	ErrInvalidVersion = errors.New("pm: unsupported version")
)

// NewHeader returns a v3 header with the given internal compression.
func NewHeader(internal Compression) Header {
	return Header{HeaderMagic: HeaderMagicV3, InternalCompression: internal}
}

func SerializeHeader(header *Header) []byte {
	data, err := binary.Append(make([]byte, 0, HeaderLength), binary.LittleEndian, header)
	if err != nil {
		// Header holds only fixed size fields.
		panic(err)
	}
	return data
}

func DeserializeHeader(data []byte) (*Header, error) {
	var header Header
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}
	switch {
	case header.HeaderMagic&magicMask != magic:
		return nil, ErrInvalidHeader
	case header.HeaderMagic != HeaderMagicV3:
		return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, header.HeaderMagic>>56)
	}
	return &header, nil
}

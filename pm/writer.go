package pm

import (
	"bufio"
	"cmp"
	"crypto/md5"
	"errors"
	"io"
	"os"
	"slices"

	"github.com/eak1mov/orthotiles/pm/spec"
	"github.com/eak1mov/orthotiles/tile"
	"github.com/sirupsen/logrus"
)

var ErrFinalized = errors.New("pm: writer already finalized")

// Writer implements tile.Writer for PMTiles archives. Identical tiles are
// stored once.
type Writer struct {
	logger logrus.FieldLogger
	file   *os.File
	header spec.Header

	tileWriter *bufio.Writer
	tileOffset uint64
	lastCode   uint64

	entries   []spec.Entry
	locations map[[16]byte]uint32 // hash -> entry index
}

type writerConfig struct {
	Metadata       []byte
	HeaderMetadata HeaderMetadata
	Logger         logrus.FieldLogger
}

type WriterOption func(*writerConfig)

// WithMetadata sets the JSON metadata section.
func WithMetadata(metadata []byte) WriterOption {
	return func(c *writerConfig) { c.Metadata = metadata }
}

func WithHeaderMetadata(m HeaderMetadata) WriterOption {
	return func(c *writerConfig) { c.HeaderMetadata = m }
}

func WithLogger(logger logrus.FieldLogger) WriterOption {
	return func(c *writerConfig) { c.Logger = logger }
}

// NewWriter creates the archive at filePath. Tiles are streamed into the
// data section; directories and the header are written by Finalize.
func NewWriter(filePath string, opts ...WriterOption) (w *Writer, err error) {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	config := writerConfig{Logger: discard}
	for _, opt := range opts {
		opt(&config)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			file.Close()
		}
	}()

	header := spec.NewHeader(spec.CompressionGzip)
	header.Tileset = config.HeaderMetadata
	header.Clustered = true
	offset := uint64(spec.HeaderRootDirMaxLength)

	if _, err = file.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, err
	}

	if config.Metadata != nil {
		if _, err = file.Write(config.Metadata); err != nil {
			return nil, err
		}
		header.MetadataOffset = offset
		header.MetadataLength = uint64(len(config.Metadata))
		offset += header.MetadataLength
	}

	header.TileDataOffset = offset

	return &Writer{
		logger:     config.Logger,
		file:       file,
		header:     header,
		tileWriter: bufio.NewWriter(file),
		locations:  make(map[[16]byte]uint32),
	}, nil
}

func (w *Writer) WriteTile(tileID tile.ID, tileData []byte) error {
	if w.tileWriter == nil {
		return ErrFinalized
	}
	if len(tileData) == 0 {
		return nil
	}

	code := spec.EncodeTileID(tileID)
	if len(w.entries) > 0 && code <= w.lastCode {
		w.header.Clustered = false
	}
	w.lastCode = code

	digest := md5.Sum(tileData)
	if entryIdx, exists := w.locations[digest]; exists {
		w.entries = append(w.entries, spec.Entry{
			TileCode:  code,
			Offset:    w.entries[entryIdx].Offset,
			Length:    w.entries[entryIdx].Length,
			RunLength: 1,
		})
		return nil
	}

	if _, err := w.tileWriter.Write(tileData); err != nil {
		return err
	}
	w.locations[digest] = uint32(len(w.entries))
	w.entries = append(w.entries, spec.Entry{
		TileCode:  code,
		Offset:    w.tileOffset,
		Length:    uint32(len(tileData)),
		RunLength: 1,
	})
	w.tileOffset += uint64(len(tileData))
	return nil
}

func (w *Writer) Finalize() error {
	if w.tileWriter == nil {
		return ErrFinalized
	}

	if err := w.tileWriter.Flush(); err != nil {
		return err
	}
	w.header.TileDataLength = w.tileOffset
	w.tileWriter = nil

	slices.SortFunc(w.entries, func(a, b spec.Entry) int {
		return cmp.Compare(a.TileCode, b.TileCode)
	})
	w.header.AddressedTilesCount = uint64(len(w.entries))
	w.header.TileContentsCount = uint64(len(w.locations))

	w.entries = spec.CompactEntries(w.entries)
	w.header.TileEntriesCount = uint64(len(w.entries))

	w.logger.WithFields(logrus.Fields{
		"tiles":    w.header.AddressedTilesCount,
		"entries":  w.header.TileEntriesCount,
		"contents": w.header.TileContentsCount,
	}).Debug("pm: writing directories")
	rootBytes, leavesBytes, err := spec.SerializeAll(w.entries, w.header.InternalCompression)
	if err != nil {
		return err
	}

	leavesOffset, err := w.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := w.file.Write(leavesBytes); err != nil {
		return err
	}
	w.header.LeafDirectoryOffset = uint64(leavesOffset)
	w.header.LeafDirectoryLength = uint64(len(leavesBytes))

	if _, err := w.file.Seek(spec.RootDirOffset, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.file.Write(rootBytes); err != nil {
		return err
	}
	w.header.RootOffset = spec.RootDirOffset
	w.header.RootLength = uint64(len(rootBytes))

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.file.Write(spec.SerializeHeader(&w.header)); err != nil {
		return err
	}

	err = w.file.Close()
	w.file = nil
	return err
}

func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

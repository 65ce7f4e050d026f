package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"

	"golang.org/x/image/tiff/lzw"
)

const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagExtraSamples    = 338
	tagSampleFormat    = 339
)

const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionDeflateOld = 32946

	photometricWhiteIsZero = 0
	photometricBlackIsZero = 1
	photometricRGB         = 2

	predictorNone       = 1
	predictorHorizontal = 2

	extraAssociatedAlpha = 1

	// maxFieldBytes bounds a single IFD value array.
	maxFieldBytes = 64 << 20
)

// errTIFFLayout marks a well-formed TIFF whose sample layout is not read
// chunk by chunk. Such files are decoded in full instead.
var errTIFFLayout = errors.New("unsupported tiff layout")

// readAt fills buf from off, accepting io.EOF once buf is full.
func readAt(r io.ReaderAt, buf []byte, off int64) error {
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

func isTIFF(magic []byte) bool {
	return bytes.HasPrefix(magic, []byte("II*\x00")) || bytes.HasPrefix(magic, []byte("MM\x00*")) ||
		bytes.HasPrefix(magic, []byte("II+\x00")) || bytes.HasPrefix(magic, []byte("MM\x00+"))
}

// TIFFSource reads an 8-bit gray or RGB TIFF strip by strip or tile by tile.
// Region decodes only the chunks that intersect the requested rectangle, so
// memory use follows the region size rather than the raster size.
type TIFFSource struct {
	r     io.ReaderAt
	order binary.ByteOrder

	width, height  int
	chunkW, chunkH int
	across         int
	offsets        []uint64
	counts         []uint64

	compression uint16
	predictor   uint16
	photometric uint16
	samples     int
	associated  bool
}

type ifdEntry struct {
	typ    uint16
	count  uint64
	inline []byte
	offset uint64
}

var fieldSizes = map[uint16]uint64{
	1:  1, // BYTE
	3:  2, // SHORT
	4:  4, // LONG
	13: 4, // IFD
	16: 8, // LONG8
	18: 8, // IFD8
}

// NewTIFFSource parses the first image directory of the TIFF read through r.
// If r is an io.Closer it is closed by Close.
func NewTIFFSource(r io.ReaderAt) (*TIFFSource, error) {
	entries, order, err := readIFD(r)
	if err != nil {
		return nil, fmt.Errorf("%w: tiff: %w", ErrUnreadable, err)
	}
	s := &TIFFSource{r: r, order: order}
	if err := s.parse(entries); err != nil {
		if errors.Is(err, errTIFFLayout) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: tiff: %w", ErrUnreadable, err)
	}
	return s, nil
}

func readIFD(r io.ReaderAt) (map[uint16]ifdEntry, binary.ByteOrder, error) {
	var head [16]byte
	if err := readAt(r, head[:8], 0); err != nil {
		return nil, nil, err
	}
	var order binary.ByteOrder
	switch string(head[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, nil, errors.New("invalid byte order")
	}

	big := false
	var ifdOffset uint64
	switch order.Uint16(head[2:4]) {
	case 42:
		ifdOffset = uint64(order.Uint32(head[4:8]))
	case 43:
		big = true
		if err := readAt(r, head[8:16], 8); err != nil {
			return nil, nil, err
		}
		if order.Uint16(head[4:6]) != 8 {
			return nil, nil, errors.New("invalid BigTIFF offset size")
		}
		ifdOffset = order.Uint64(head[8:16])
	default:
		return nil, nil, errors.New("invalid identifier")
	}
	if ifdOffset == 0 {
		return nil, nil, errors.New("no image directory")
	}

	countLen, entryLen, inlineLen := 2, 12, 4
	if big {
		countLen, entryLen, inlineLen = 8, 20, 8
	}
	buf := make([]byte, countLen)
	if err := readAt(r, buf, int64(ifdOffset)); err != nil {
		return nil, nil, fmt.Errorf("read directory: %w", err)
	}
	n := uint64(order.Uint16(buf))
	if big {
		n = order.Uint64(buf)
	}
	if n > 4096 {
		return nil, nil, fmt.Errorf("directory has %d entries", n)
	}

	block := make([]byte, int(n)*entryLen)
	if err := readAt(r, block, int64(ifdOffset)+int64(countLen)); err != nil {
		return nil, nil, fmt.Errorf("read directory: %w", err)
	}
	entries := make(map[uint16]ifdEntry, n)
	for i := range int(n) {
		b := block[i*entryLen : (i+1)*entryLen]
		tag := order.Uint16(b[0:2])
		e := ifdEntry{typ: order.Uint16(b[2:4])}
		value := b[8:]
		if big {
			e.count = order.Uint64(b[4:12])
			value = b[12:]
			e.offset = order.Uint64(value)
		} else {
			e.count = uint64(order.Uint32(b[4:8]))
			e.offset = uint64(order.Uint32(value))
		}
		if size, ok := fieldSizes[e.typ]; ok && e.count <= uint64(inlineLen)/size {
			e.inline = value[:size*e.count]
		}
		entries[tag] = e
	}
	return entries, order, nil
}

// values decodes an unsigned integer field.
func (s *TIFFSource) values(e ifdEntry) ([]uint64, error) {
	size, ok := fieldSizes[e.typ]
	if !ok {
		return nil, fmt.Errorf("field type %d is not an integer", e.typ)
	}
	if e.count == 0 || e.count > maxFieldBytes/size {
		return nil, fmt.Errorf("field has %d values", e.count)
	}
	data := e.inline
	if data == nil {
		data = make([]byte, size*e.count)
		if err := readAt(s.r, data, int64(e.offset)); err != nil {
			return nil, fmt.Errorf("read field: %w", err)
		}
	}
	out := make([]uint64, e.count)
	for i := range out {
		b := data[uint64(i)*size:]
		switch size {
		case 1:
			out[i] = uint64(b[0])
		case 2:
			out[i] = uint64(s.order.Uint16(b))
		case 4:
			out[i] = uint64(s.order.Uint32(b))
		case 8:
			out[i] = s.order.Uint64(b)
		}
	}
	return out, nil
}

func (s *TIFFSource) parse(entries map[uint16]ifdEntry) error {
	var err error
	get := func(tag uint16, def uint64) uint64 {
		e, ok := entries[tag]
		if !ok || err != nil {
			return def
		}
		var v []uint64
		if v, err = s.values(e); err != nil {
			err = fmt.Errorf("tag %d: %w", tag, err)
			return def
		}
		return v[0]
	}
	list := func(tag uint16) []uint64 {
		e, ok := entries[tag]
		if !ok || err != nil {
			return nil
		}
		var v []uint64
		if v, err = s.values(e); err != nil {
			err = fmt.Errorf("tag %d: %w", tag, err)
		}
		return v
	}

	width, height := get(tagImageWidth, 0), get(tagImageLength, 0)
	samples := get(tagSamplesPerPixel, 1)
	bits := list(tagBitsPerSample)
	s.compression = uint16(get(tagCompression, compressionNone))
	s.photometric = uint16(get(tagPhotometric, photometricBlackIsZero))
	s.predictor = uint16(get(tagPredictor, predictorNone))
	planar := get(tagPlanarConfig, 1)
	format := get(tagSampleFormat, 1)
	extra := get(tagExtraSamples, 0)
	if err != nil {
		return err
	}
	if width == 0 || height == 0 || width > 1<<31 || height > 1<<31 {
		return fmt.Errorf("image size %dx%d", width, height)
	}
	s.width, s.height = int(width), int(height)

	for _, b := range bits {
		if b != 8 {
			return fmt.Errorf("%w: %d bits per sample", errTIFFLayout, b)
		}
	}
	switch {
	case planar != 1:
		return fmt.Errorf("%w: planar configuration %d", errTIFFLayout, planar)
	case format != 1:
		return fmt.Errorf("%w: sample format %d", errTIFFLayout, format)
	}
	switch s.photometric {
	case photometricWhiteIsZero, photometricBlackIsZero:
		if samples != 1 && samples != 2 {
			return fmt.Errorf("%w: %d gray samples", errTIFFLayout, samples)
		}
	case photometricRGB:
		if samples != 3 && samples != 4 {
			return fmt.Errorf("%w: %d rgb samples", errTIFFLayout, samples)
		}
	default:
		return fmt.Errorf("%w: photometric interpretation %d", errTIFFLayout, s.photometric)
	}
	s.samples = int(samples)
	s.associated = extra == extraAssociatedAlpha

	switch s.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld:
	default:
		return fmt.Errorf("%w: compression %d", errTIFFLayout, s.compression)
	}
	if s.predictor != predictorNone && s.predictor != predictorHorizontal {
		return fmt.Errorf("%w: predictor %d", errTIFFLayout, s.predictor)
	}

	if _, tiled := entries[tagTileWidth]; tiled {
		tw, th := get(tagTileWidth, 0), get(tagTileLength, 0)
		s.offsets, s.counts = list(tagTileOffsets), list(tagTileByteCounts)
		if err != nil {
			return err
		}
		if tw == 0 || th == 0 || tw > 1<<16 || th > 1<<16 {
			return fmt.Errorf("tile size %dx%d", tw, th)
		}
		s.chunkW, s.chunkH = int(tw), int(th)
	} else {
		rows := get(tagRowsPerStrip, height)
		s.offsets, s.counts = list(tagStripOffsets), list(tagStripByteCounts)
		if err != nil {
			return err
		}
		s.chunkW, s.chunkH = s.width, int(min(max(rows, 1), height))
	}
	s.across = (s.width + s.chunkW - 1) / s.chunkW
	down := (s.height + s.chunkH - 1) / s.chunkH
	if n := s.across * down; len(s.offsets) != n || len(s.counts) != n {
		return fmt.Errorf("%d chunk offsets and %d byte counts for %d chunks", len(s.offsets), len(s.counts), n)
	}
	return nil
}

func (s *TIFFSource) Size() (int, int) {
	return s.width, s.height
}

// Close closes the underlying reader if it is an io.Closer.
func (s *TIFFSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *TIFFSource) Region(r image.Rectangle) (image.Image, error) {
	r = r.Intersect(image.Rect(0, 0, s.width, s.height))
	if r.Empty() {
		return nil, fmt.Errorf("%w: empty region", ErrUnreadable)
	}

	var pix []uint8
	var stride int
	var img image.Image
	if s.associated {
		dst := image.NewRGBA(r)
		pix, stride, img = dst.Pix, dst.Stride, dst
	} else {
		dst := image.NewNRGBA(r)
		pix, stride, img = dst.Pix, dst.Stride, dst
	}

	for row := r.Min.Y / s.chunkH; row <= (r.Max.Y-1)/s.chunkH; row++ {
		for col := r.Min.X / s.chunkW; col <= (r.Max.X-1)/s.chunkW; col++ {
			chunk := image.Rect(col*s.chunkW, row*s.chunkH, (col+1)*s.chunkW, (row+1)*s.chunkH)
			need := chunk.Intersect(r)
			data, err := s.readRows(row*s.across+col, need.Min.Y-chunk.Min.Y, need.Max.Y-chunk.Min.Y)
			if err != nil {
				return nil, fmt.Errorf("%w: tiff chunk %d,%d: %w", ErrUnreadable, col, row, err)
			}
			rowBytes := s.chunkW * s.samples
			for y := need.Min.Y; y < need.Max.Y; y++ {
				src := data[(y-need.Min.Y)*rowBytes:]
				dst := pix[(y-r.Min.Y)*stride:]
				for x := need.Min.X; x < need.Max.X; x++ {
					s.convert(dst[(x-r.Min.X)*4:], src[(x-chunk.Min.X)*s.samples:])
				}
			}
		}
	}
	return img, nil
}

// convert writes one pixel of samples into a 4-byte RGBA or NRGBA pixel.
func (s *TIFFSource) convert(dst, src []uint8) {
	switch s.samples {
	case 1, 2:
		v := src[0]
		if s.photometric == photometricWhiteIsZero {
			v = 255 - v
		}
		a := uint8(255)
		if s.samples == 2 {
			a = src[1]
		}
		dst[0], dst[1], dst[2], dst[3] = v, v, v, a
	case 3:
		dst[0], dst[1], dst[2], dst[3] = src[0], src[1], src[2], 255
	case 4:
		dst[0], dst[1], dst[2], dst[3] = src[0], src[1], src[2], src[3]
	}
}

// readRows returns the samples of rows [first, last) of chunk i.
func (s *TIFFSource) readRows(i, first, last int) ([]byte, error) {
	rowBytes := s.chunkW * s.samples
	buf := make([]byte, (last-first)*rowBytes)
	offset, count := int64(s.offsets[i]), int64(s.counts[i])
	if count == 0 {
		// Sparse chunk.
		return buf, nil
	}

	if s.compression == compressionNone {
		start := int64(first * rowBytes)
		if err := readAt(s.r, buf, offset+start); err != nil {
			return nil, err
		}
	} else {
		var dec io.ReadCloser
		section := io.NewSectionReader(s.r, offset, count)
		switch s.compression {
		case compressionLZW:
			dec = lzw.NewReader(section, lzw.MSB, 8)
		default:
			zr, err := zlib.NewReader(section)
			if err != nil {
				return nil, err
			}
			dec = zr
		}
		defer dec.Close()
		if _, err := io.CopyN(io.Discard, dec, int64(first*rowBytes)); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(dec, buf); err != nil {
			return nil, err
		}
	}

	if s.predictor == predictorHorizontal {
		for row := 0; row < len(buf); row += rowBytes {
			line := buf[row : row+rowBytes]
			for j := s.samples; j < len(line); j++ {
				line[j] += line[j-s.samples]
			}
		}
	}
	return buf, nil
}

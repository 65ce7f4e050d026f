// Package raster provides access to georeferenced source images.
//
// Supported encodings are PNG, JPEG, TIFF and WebP. 8-bit gray and RGB TIFFs
// are read chunk by chunk; everything else is decoded in full.
package raster

import (
	"errors"
	"fmt"
	"image"
	"io"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	ErrUnreadable = errors.New("orthotiles: source unreadable")
	ErrTooLarge   = errors.New("orthotiles: source exceeds pixel limit")
)

// Source is a decoded raster that can be read region by region.
type Source interface {
	// Size returns the raster dimensions in pixels.
	Size() (width, height int)

	// Region returns the pixels inside r, in raster coordinates with the
	// origin at the top-left corner. r is clipped to the raster.
	Region(r image.Rectangle) (image.Image, error)
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// ImageSource adapts an in-memory image to Source.
type ImageSource struct {
	img image.Image
}

func NewImageSource(img image.Image) *ImageSource {
	return &ImageSource{img: img}
}

func (s *ImageSource) Size() (int, int) {
	b := s.img.Bounds()
	return b.Dx(), b.Dy()
}

func (s *ImageSource) Region(r image.Rectangle) (image.Image, error) {
	b := s.img.Bounds()
	r = r.Add(b.Min).Intersect(b)
	if r.Empty() {
		return nil, fmt.Errorf("%w: empty region", ErrUnreadable)
	}
	if si, ok := s.img.(subImager); ok {
		return si.SubImage(r), nil
	}
	return s.img, nil
}

// File is an opened source file.
type File interface {
	io.ReadSeeker
	io.ReaderAt
	io.Closer
}

// Open returns a Source reading f. A TIFF in a layout TIFFSource supports
// keeps f open until the source is closed, and maxPixels does not apply to
// it. Any other file is decoded in full under the maxPixels limit and f is
// closed before Open returns.
func Open(f File, maxPixels int64) (Source, error) {
	var magic [4]byte
	if err := readAt(f, magic[:], 0); err == nil && isTIFF(magic[:]) {
		src, err := NewTIFFSource(f)
		if err == nil {
			return src, nil
		}
		if !errors.Is(err, errTIFFLayout) {
			f.Close()
			return nil, err
		}
	}
	defer f.Close()
	return Decode(f, maxPixels)
}

// Decode decodes a raster after checking its header against maxPixels.
// A non-positive maxPixels disables the check.
func Decode(r io.ReadSeeker, maxPixels int64) (*ImageSource, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %s image has size %dx%d", ErrUnreadable, format, cfg.Width, cfg.Height)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d > %d", ErrTooLarge, cfg.Width, cfg.Height, maxPixels)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	return NewImageSource(img), nil
}

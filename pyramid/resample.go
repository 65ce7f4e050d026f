package pyramid

import (
	"bytes"
	"image"
	"image/png"
	"io"

	"github.com/eak1mov/orthotiles/geo"
	"github.com/eak1mov/orthotiles/tile"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Encoder serializes a rendered tile.
type Encoder interface {
	Encode(w io.Writer, img image.Image) error
}

// PNGEncoder encodes RGBA tiles as PNG, keeping transparency.
type PNGEncoder struct {
	encoder png.Encoder
}

func NewPNGEncoder(level png.CompressionLevel) *PNGEncoder {
	return &PNGEncoder{encoder: png.Encoder{CompressionLevel: level}}
}

func (e *PNGEncoder) Encode(w io.Writer, img image.Image) error {
	return e.encoder.Encode(w, img)
}

func encode(enc Encoder, img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// renderTile resamples the part of src that falls inside tile id into a
// transparent size×size tile. src is a region of the full raster in raster
// pixel coordinates. Each destination row is mapped through the Mercator
// projection to its source row, and columns are mapped linearly.
func renderTile(src image.Image, tr geo.Transform, id tile.ID, size int) *image.RGBA {
	b := tr.Bounds()
	tb := id.Bound()
	ppdX, ppdY := tr.PixelsPerDegree()

	// Source column = scale * tile column + offset.
	scaleX := (tb.Right() - tb.Left()) / float64(size) * ppdX
	offsetX := (tb.Left() - b.West) * ppdX

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	for j := range size {
		lat := geo.RowLatitude(int(id.Z), float64(id.Y)+(float64(j)+0.5)/float64(size))
		sy := (b.North - lat) * ppdY
		// Maps the centre of destination row j to source row sy.
		s2d := f64.Aff3{
			1 / scaleX, 0, -offsetX / scaleX,
			0, 1, float64(j) + 0.5 - sy,
		}
		row := dst.SubImage(image.Rect(0, j, size, j+1)).(*image.RGBA)
		draw.BiLinear.Transform(row, s2d, src, src.Bounds(), draw.Src, nil)
	}
	return dst
}

// mergeChildren composes up to four child tiles, ordered top-left,
// top-right, bottom-left, bottom-right, into one tile of the same size.
// Missing children are nil and leave their quadrant transparent.
func mergeChildren(children [4]image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	half := size / 2
	for i, child := range children {
		if child == nil {
			continue
		}
		qx, qy := i%2, i/2
		quadrant := image.Rect(qx*half, qy*half, (qx+1)*half, (qy+1)*half)
		draw.ApproxBiLinear.Scale(dst, quadrant, child, child.Bounds(), draw.Src, nil)
	}
	return dst
}

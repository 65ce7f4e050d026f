package archive

import (
	"fmt"
	"io"

	"github.com/eak1mov/orthotiles/mb"
	"github.com/eak1mov/orthotiles/pm"
	"github.com/eak1mov/orthotiles/pm/spec"
	"github.com/eak1mov/orthotiles/tile"
	"github.com/eak1mov/orthotiles/xyz"
	"github.com/sirupsen/logrus"
)

// OpenReader opens a tileset for reading. For FormatXYZ path is a file
// pattern such as "tiles/{z}/{x}/{y}.png".
func OpenReader(path string, format Format) (tile.Visitor, error) {
	switch format {
	case FormatMBTiles:
		return mb.NewReader(path)
	case FormatPMTiles:
		return pm.NewFileReader(path)
	case FormatXYZ:
		return xyz.NewReader(path)
	}
	return nil, fmt.Errorf("unknown tileset format %q", format)
}

// Convert copies every tile of the input tileset into a new output tileset.
// MBTiles metadata is carried over into the PMTiles header.
func Convert(input string, inputFormat Format, output string, outputFormat Format, opts ...Option) (int, error) {
	cfg := newConfig(opts)

	reader, err := OpenReader(input, inputFormat)
	if err != nil {
		return 0, err
	}
	if closer, ok := reader.(io.Closer); ok {
		defer closer.Close()
	}

	var header pm.HeaderMetadata
	var jsonMetadata []byte
	if r, ok := reader.(*mb.Reader); ok && outputFormat == FormatPMTiles {
		metadata, err := r.ReadMetadata()
		if err != nil {
			return 0, err
		}
		if header, err = HeaderFromMetadata(metadata); err != nil {
			return 0, fmt.Errorf("failed to convert metadata: %w", err)
		}
		if jsonValue, found := metadata["json"]; found {
			jsonMetadata = []byte(jsonValue)
		}
	}

	if outputFormat == FormatPMTiles && header.MaxZoom == 0 {
		minZoom, maxZoom, ok, err := tile.ZoomRange(reader)
		if err != nil {
			return 0, err
		}
		if ok {
			header.MinZoom, header.MaxZoom = uint8(minZoom), uint8(maxZoom)
		}
	}

	var writer tile.Writer
	switch outputFormat {
	case FormatMBTiles:
		writer, err = mb.NewWriter(output, mb.WithLogger(cfg.Logger))
	case FormatPMTiles:
		writer, err = pm.NewWriter(output,
			pm.WithMetadata(jsonMetadata),
			pm.WithHeaderMetadata(header),
			pm.WithLogger(cfg.Logger),
		)
	case FormatXYZ:
		writer, err = xyz.NewWriter(output)
	default:
		err = fmt.Errorf("unknown tileset format %q", outputFormat)
	}
	if err != nil {
		return 0, err
	}
	if closer, ok := writer.(io.Closer); ok {
		defer closer.Close()
	}

	count := 0
	err = reader.VisitTiles(func(tileID tile.ID, tileData []byte) error {
		count++
		cfg.Progress(0, fmt.Sprintf("%d tiles", count))
		return writer.WriteTile(tileID, tileData)
	})
	if err != nil {
		return count, err
	}
	if err := writer.Finalize(); err != nil {
		return count, err
	}
	cfg.Logger.WithFields(logrus.Fields{"input": input, "output": output, "tiles": count}).Info("tileset converted")
	return count, nil
}

// HeaderFromMetadata derives a PMTiles header from MBTiles metadata rows.
func HeaderFromMetadata(metadata map[string]string) (pm.HeaderMetadata, error) {
	header := pm.HeaderMetadata{}

	if format, found := metadata["format"]; found {
		tileType, compression, ok := spec.ParseTileFormat(format)
		if !ok {
			return pm.HeaderMetadata{}, fmt.Errorf("unknown tile format %q", format)
		}
		header.TileType, header.TileCompression = tileType, compression
	}

	const E7 = 10000000.0
	if boundsValue, found := metadata["bounds"]; found {
		var coords [4]float64
		if _, err := fmt.Sscanf(boundsValue, "%f,%f,%f,%f", &coords[0], &coords[1], &coords[2], &coords[3]); err != nil {
			return pm.HeaderMetadata{}, fmt.Errorf("bounds %q: %w", boundsValue, err)
		}
		header.MinLonE7 = int32(coords[0] * E7)
		header.MinLatE7 = int32(coords[1] * E7)
		header.MaxLonE7 = int32(coords[2] * E7)
		header.MaxLatE7 = int32(coords[3] * E7)
	} else {
		header.MinLonE7 = int32(-180 * E7)
		header.MinLatE7 = int32(-85 * E7)
		header.MaxLonE7 = int32(180 * E7)
		header.MaxLatE7 = int32(85 * E7)
	}

	if centerValue, found := metadata["center"]; found {
		var centerLon, centerLat float64
		if _, err := fmt.Sscanf(centerValue, "%f,%f,%d", &centerLon, &centerLat, &header.CenterZoom); err != nil {
			return pm.HeaderMetadata{}, fmt.Errorf("center %q: %w", centerValue, err)
		}
		header.CenterLonE7 = int32(centerLon * E7)
		header.CenterLatE7 = int32(centerLat * E7)
	}

	if v, found := metadata["minzoom"]; found {
		if _, err := fmt.Sscanf(v, "%d", &header.MinZoom); err != nil {
			return pm.HeaderMetadata{}, fmt.Errorf("minzoom %q: %w", v, err)
		}
	}
	if v, found := metadata["maxzoom"]; found {
		if _, err := fmt.Sscanf(v, "%d", &header.MaxZoom); err != nil {
			return pm.HeaderMetadata{}, fmt.Errorf("maxzoom %q: %w", v, err)
		}
	}
	return header, nil
}

package spec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

func unsupported(c Compression) error {
	return fmt.Errorf("pm: %v compression not supported", c)
}

// Compress encodes data for the archive. Only none and gzip are written.
func Compress(data []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		var buf bytes.Buffer
		zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("pm: gzip: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("pm: gzip: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, unsupported(compression)
}

func Decompress(data []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("pm: gunzip: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("pm: gunzip: %w", err)
		}
		return out, nil
	}
	return nil, unsupported(compression)
}

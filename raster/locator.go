package raster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Locator resolves source paths stored on image records.
type Locator interface {
	// Exists reports whether a source is present at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Open opens the source at path. A returned Source that implements
	// io.Closer must be closed by the caller.
	Open(ctx context.Context, path string) (Source, error)
}

// FileLocator opens sources from the local filesystem.
type FileLocator struct {
	maxPixels int64
}

func NewFileLocator(maxPixels int64) *FileLocator {
	return &FileLocator{maxPixels: maxPixels}
}

func (l *FileLocator) Exists(_ context.Context, path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (l *FileLocator) Open(_ context.Context, path string) (Source, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	return Open(file, l.maxPixels)
}

// S3API is the subset of the S3 client used to read sources.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Locator opens sources addressed as s3://bucket/key.
// Objects are downloaded to a temporary file that lives as long as the
// returned source.
type S3Locator struct {
	client    S3API
	maxPixels int64
	tempDir   string
}

func NewS3Locator(client S3API, maxPixels int64) *S3Locator {
	return &S3Locator{client: client, maxPixels: maxPixels}
}

// ParseS3Path splits an s3://bucket/key path.
func ParseS3Path(path string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(path, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}

func (l *S3Locator) Exists(ctx context.Context, path string) (bool, error) {
	bucket, key, ok := ParseS3Path(path)
	if !ok {
		return false, nil
	}
	_, err := l.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get object metadata: %w", err)
	}
	return true, nil
}

func (l *S3Locator) Open(ctx context.Context, path string) (Source, error) {
	bucket, key, ok := ParseS3Path(path)
	if !ok {
		return nil, fmt.Errorf("%w: invalid s3 path %q", ErrUnreadable, path)
	}

	resp, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get s3 object: %w", ErrUnreadable, err)
	}
	defer resp.Body.Close()

	f, err := os.CreateTemp(l.tempDir, "orthotiles-source-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpFile := tempFile{f}

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		tmpFile.Close()
		return nil, fmt.Errorf("%w: failed to download object: %w", ErrUnreadable, err)
	}
	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		tmpFile.Close()
		return nil, err
	}
	return Open(tmpFile, l.maxPixels)
}

// tempFile removes itself when closed.
type tempFile struct {
	*os.File
}

func (f tempFile) Close() error {
	err := f.File.Close()
	os.Remove(f.Name())
	return err
}

// MultiLocator dispatches s3:// paths to an S3 locator and everything else
// to a local one. A nil S3 locator treats s3:// paths as missing.
type MultiLocator struct {
	Local Locator
	S3    Locator
}

func (m MultiLocator) pick(path string) Locator {
	if strings.HasPrefix(path, "s3://") {
		return m.S3
	}
	return m.Local
}

func (m MultiLocator) Exists(ctx context.Context, path string) (bool, error) {
	l := m.pick(path)
	if l == nil {
		return false, nil
	}
	return l.Exists(ctx, path)
}

func (m MultiLocator) Open(ctx context.Context, path string) (Source, error) {
	l := m.pick(path)
	if l == nil {
		return nil, fmt.Errorf("%w: no locator for %q", ErrUnreadable, path)
	}
	return l.Open(ctx, path)
}

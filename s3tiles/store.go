// Package s3tiles implements tile storage on S3-compatible object storage.
//
// Objects are keyed "{prefix}/{image}/{z}/{x}/{y}.png".
package s3tiles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/eak1mov/orthotiles/tile"
	"github.com/sirupsen/logrus"
)

// deleteBatchSize is the DeleteObjects per-request key limit.
const deleteBatchSize = 1000

// API is the subset of the S3 client used by Store.
type API interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Store implements tile.Store on an S3 bucket.
type Store struct {
	client API
	bucket string
	prefix string
	logger logrus.FieldLogger
}

type Option func(*Store)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Store) { s.logger = logger }
}

func NewStore(client API, bucket, prefix string, opts ...Option) *Store {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	s := &Store{client: client, bucket: bucket, prefix: prefix, logger: discard}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) imagePrefix(imageID int64) string {
	return path.Join(s.prefix, strconv.FormatInt(imageID, 10)) + "/"
}

func (s *Store) key(addr tile.Address) string {
	return fmt.Sprintf("%s%d/%d/%d.png", s.imagePrefix(addr.ImageID), addr.Z, addr.X, addr.Y)
}

// StoragePath returns the s3:// URL of the image pyramid root.
func (s *Store) StoragePath(imageID int64) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, path.Join(s.prefix, strconv.FormatInt(imageID, 10)))
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed"
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}

func (s *Store) Put(ctx context.Context, addr tile.Address, tileData []byte) error {
	if !addr.Valid() {
		return fmt.Errorf("orthotiles: invalid tile %v", addr)
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(addr)),
		Body:        bytes.NewReader(tileData),
		ContentType: aws.String("image/png"),
		IfNoneMatch: aws.String("*"),
	})
	if isPreconditionFailed(err) {
		return fmt.Errorf("%w: %v", tile.ErrTileExists, addr)
	}
	if err != nil {
		return fmt.Errorf("failed to put tile %v: %w", addr, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, addr tile.Address) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(addr)),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %v", tile.ErrTileNotFound, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tile %v: %w", addr, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (s *Store) Exists(ctx context.Context, addr tile.Address) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(addr)),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get object metadata: %w", err)
	}
	return true, nil
}

// listKeys calls fn for every object key under the image prefix.
func (s *Store) listKeys(ctx context.Context, imageID int64, fn func(key string) error) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.imagePrefix(imageID)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if err := fn(aws.ToString(obj.Key)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) parseKey(imageID int64, key string) (tile.ID, bool) {
	var id tile.ID
	rest := key[len(s.imagePrefix(imageID)):]
	if _, err := fmt.Sscanf(rest, "%d/%d/%d.png", &id.Z, &id.X, &id.Y); err != nil {
		return tile.ID{}, false
	}
	return id, id.Valid()
}

func (s *Store) Visit(ctx context.Context, imageID int64, visitor func(tile.ID, []byte) error) error {
	return s.listKeys(ctx, imageID, func(key string) error {
		id, ok := s.parseKey(imageID, key)
		if !ok {
			return nil
		}
		tileData, err := s.Get(ctx, tile.Address{ImageID: imageID, ID: id})
		if err != nil {
			return err
		}
		return visitor(id, tileData)
	})
}

// List returns the tile IDs of an image from object keys alone.
func (s *Store) List(ctx context.Context, imageID int64) ([]tile.ID, error) {
	var ids []tile.ID
	err := s.listKeys(ctx, imageID, func(key string) error {
		if id, ok := s.parseKey(imageID, key); ok {
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) Sweep(ctx context.Context, imageID int64) error {
	var batch []types.ObjectIdentifier
	deleted := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects: %w", err)
		}
		if len(out.Errors) > 0 {
			return fmt.Errorf("failed to delete %d objects: %s", len(out.Errors), aws.ToString(out.Errors[0].Message))
		}
		deleted += len(batch)
		batch = batch[:0]
		return nil
	}

	err := s.listKeys(ctx, imageID, func(key string) error {
		batch = append(batch, types.ObjectIdentifier{Key: aws.String(key)})
		if len(batch) == deleteBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"image_id": imageID,
		"deleted":  deleted,
	}).Debug("swept image tiles")
	return nil
}

// Package rdb is a record.Gateway backed by Redis hashes.
//
// Each image is stored in the hash drone_image:{id}. The sorted set
// drone_images indexes all ids with the id as score.
package rdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/eak1mov/orthotiles/record"
	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"
	"github.com/sirupsen/logrus"
)

const (
	indexKey   = "drone_images"
	maxRetries = 8
)

type config struct {
	Logger logrus.FieldLogger
	Redis  redis.Options
}

type Option func(*config)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *config) { c.Logger = logger }
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *config) { c.Redis.DialTimeout = d }
}

func WithPoolSize(n int) Option {
	return func(c *config) { c.Redis.PoolSize = n }
}

// DB implements record.Gateway on top of a Redis client.
type DB struct {
	rdb    *redis.Client
	logger logrus.FieldLogger
}

// New connects to addr and pings the server.
func New(ctx context.Context, addr string, opts ...Option) (*DB, error) {
	if addr == "" {
		return nil, errors.New("orthotiles: redis address is required")
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	cfg := config{
		Logger: discard,
		Redis: redis.Options{
			Addr:         addr,
			PoolSize:     16,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			MaintNotificationsConfig: &maintnotifications.Config{
				Mode: maintnotifications.ModeDisabled,
			},
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	rdb := redis.NewClient(&cfg.Redis)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("orthotiles: redis ping: %w", err)
	}
	return &DB{rdb: rdb, logger: cfg.Logger}, nil
}

func (d *DB) Close() error {
	return d.rdb.Close()
}

func imageKey(id int64) string {
	return "drone_image:" + strconv.FormatInt(id, 10)
}

func (d *DB) Insert(ctx context.Context, img record.Image) error {
	key := imageKey(img.ID)
	return d.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("orthotiles: image %d already exists", img.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encode(img))
			pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(img.ID), Member: img.ID})
			return nil
		})
		return err
	}, key)
}

func (d *DB) GetImage(ctx context.Context, id int64) (record.Image, error) {
	return get(ctx, d.rdb, id)
}

type hashGetter interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func get(ctx context.Context, c hashGetter, id int64) (record.Image, error) {
	fields, err := c.HGetAll(ctx, imageKey(id)).Result()
	if err != nil {
		return record.Image{}, err
	}
	if len(fields) == 0 {
		return record.Image{}, fmt.Errorf("%w: %d", record.ErrNotFound, id)
	}
	return decode(id, fields)
}

func (d *DB) ListImagesNeedingTiles(ctx context.Context) ([]record.Image, error) {
	return d.list(ctx, func(img record.Image) bool { return !img.HasTiles })
}

func (d *DB) ListStale(ctx context.Context, status record.Status, before time.Time) ([]record.Image, error) {
	return d.list(ctx, func(img record.Image) bool {
		return img.Status == status && !img.StatusChangedAt.IsZero() && img.StatusChangedAt.Before(before)
	})
}

func (d *DB) list(ctx context.Context, keep func(record.Image) bool) ([]record.Image, error) {
	members, err := d.rdb.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	cmds := make([]*redis.MapStringStringCmd, len(members))
	ids := make([]int64, len(members))
	_, err = d.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range members {
			if ids[i], err = strconv.ParseInt(m, 10, 64); err != nil {
				return fmt.Errorf("orthotiles: bad index member %q: %w", m, err)
			}
			cmds[i] = pipe.HGetAll(ctx, imageKey(ids[i]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var images []record.Image
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			d.logger.WithField("id", ids[i]).Warn("indexed image has no record")
			continue
		}
		img, err := decode(ids[i], fields)
		if err != nil {
			return nil, err
		}
		if keep(img) {
			images = append(images, img)
		}
	}
	return images, nil
}

// UpdateImage applies the patch under WATCH and retries when another writer
// touched the record first.
func (d *DB) UpdateImage(ctx context.Context, id int64, patch record.Patch) error {
	key := imageKey(id)
	update := func(tx *redis.Tx) error {
		current, err := get(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := patch.Check(current); err != nil {
			return err
		}
		img := patch.Apply(current)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encode(img))
			if img.StatusChangedAt.IsZero() {
				pipe.HDel(ctx, key, "status_changed_at")
			}
			return nil
		})
		return err
	}

	for range maxRetries {
		err := d.rdb.Watch(ctx, update, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err == nil {
			d.logger.WithFields(logrus.Fields{"id": id}).Debug("record updated")
		}
		return err
	}
	return fmt.Errorf("orthotiles: image %d: too many concurrent updates", id)
}

func encode(img record.Image) map[string]any {
	fields := map[string]any{
		"file_path":         img.FilePath,
		"north_boundary":    img.North,
		"south_boundary":    img.South,
		"east_boundary":     img.East,
		"west_boundary":     img.West,
		"has_tiles":         strconv.FormatBool(img.HasTiles),
		"tile_min_zoom":     img.TileMinZoom,
		"tile_max_zoom":     img.TileMaxZoom,
		"tile_storage_path": img.TileStoragePath,
		"status":            img.Status.String(),
	}
	if !img.StatusChangedAt.IsZero() {
		fields["status_changed_at"] = img.StatusChangedAt.UTC().Format(time.RFC3339Nano)
	}
	return fields
}

func decode(id int64, fields map[string]string) (record.Image, error) {
	img := record.Image{
		ID:              id,
		FilePath:        fields["file_path"],
		North:           fields["north_boundary"],
		South:           fields["south_boundary"],
		East:            fields["east_boundary"],
		West:            fields["west_boundary"],
		TileStoragePath: fields["tile_storage_path"],
	}
	var err error
	if img.HasTiles, err = strconv.ParseBool(fields["has_tiles"]); err != nil {
		return record.Image{}, fmt.Errorf("orthotiles: image %d has_tiles: %w", id, err)
	}
	if img.TileMinZoom, err = strconv.Atoi(fields["tile_min_zoom"]); err != nil {
		return record.Image{}, fmt.Errorf("orthotiles: image %d tile_min_zoom: %w", id, err)
	}
	if img.TileMaxZoom, err = strconv.Atoi(fields["tile_max_zoom"]); err != nil {
		return record.Image{}, fmt.Errorf("orthotiles: image %d tile_max_zoom: %w", id, err)
	}
	if img.Status, err = record.ParseStatus(fields["status"]); err != nil {
		return record.Image{}, err
	}
	if s, ok := fields["status_changed_at"]; ok {
		if img.StatusChangedAt, err = time.Parse(time.RFC3339Nano, s); err != nil {
			return record.Image{}, fmt.Errorf("orthotiles: image %d status_changed_at: %w", id, err)
		}
	}
	return img, nil
}

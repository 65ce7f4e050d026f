// Package sqldb is a record.Gateway backed by an SQLite database.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/eak1mov/orthotiles/record"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const schema = `
	CREATE TABLE IF NOT EXISTS drone_images (
		id INTEGER PRIMARY KEY,
		file_path TEXT NOT NULL,
		north_boundary TEXT,
		south_boundary TEXT,
		east_boundary TEXT,
		west_boundary TEXT,
		has_tiles INTEGER NOT NULL DEFAULT 0,
		tile_min_zoom INTEGER,
		tile_max_zoom INTEGER,
		tile_storage_path TEXT,
		tile_generation_status TEXT NOT NULL DEFAULT 'not_started',
		status_changed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS drone_images_has_tiles ON drone_images (has_tiles);
`

const columns = `id, file_path, north_boundary, south_boundary, east_boundary, west_boundary,
	has_tiles, tile_min_zoom, tile_max_zoom, tile_storage_path, tile_generation_status, status_changed_at`

// DB implements record.Gateway over the drone_images table.
type DB struct {
	db     *sql.DB
	logger logrus.FieldLogger
}

type config struct {
	Logger logrus.FieldLogger
}

type Option func(*config)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *config) { c.Logger = logger }
}

// Open opens the database at path and creates the schema when missing.
func Open(path string, opts ...Option) (*DB, error) {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	cfg := config{Logger: discard}
	for _, opt := range opts {
		opt(&cfg)
	}

	var err error
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	if _, err = db.Exec(schema); err != nil {
		return nil, fmt.Errorf("orthotiles: create schema: %w", err)
	}
	return &DB{db: db, logger: cfg.Logger}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Insert adds a new record.
func (d *DB) Insert(ctx context.Context, img record.Image) error {
	_, err := d.db.ExecContext(ctx, `INSERT INTO drone_images (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.ID, img.FilePath,
		nullString(img.North), nullString(img.South), nullString(img.East), nullString(img.West),
		img.HasTiles, nullZoom(img.HasTiles, img.TileMinZoom), nullZoom(img.HasTiles, img.TileMaxZoom),
		nullString(img.TileStoragePath), img.Status.String(), formatTime(img.StatusChangedAt),
	)
	return err
}

func (d *DB) GetImage(ctx context.Context, id int64) (record.Image, error) {
	return get(ctx, d.db, id)
}

func (d *DB) ListImagesNeedingTiles(ctx context.Context) ([]record.Image, error) {
	return d.query(ctx, `SELECT `+columns+` FROM drone_images WHERE has_tiles = 0 ORDER BY id`)
}

func (d *DB) ListStale(ctx context.Context, status record.Status, before time.Time) ([]record.Image, error) {
	images, err := d.query(ctx, `SELECT `+columns+` FROM drone_images
		WHERE tile_generation_status = ? AND status_changed_at IS NOT NULL ORDER BY id`, status.String())
	if err != nil {
		return nil, err
	}
	var stale []record.Image
	for _, img := range images {
		if img.StatusChangedAt.Before(before) {
			stale = append(stale, img)
		}
	}
	return stale, nil
}

// UpdateImage reads, checks and writes the record inside one transaction.
func (d *DB) UpdateImage(ctx context.Context, id int64, patch record.Patch) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := get(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := patch.Check(current); err != nil {
		return err
	}
	img := patch.Apply(current)

	_, err = tx.ExecContext(ctx, `UPDATE drone_images SET
		has_tiles = ?, tile_min_zoom = ?, tile_max_zoom = ?, tile_storage_path = ?,
		tile_generation_status = ?, status_changed_at = ?
		WHERE id = ?`,
		img.HasTiles, nullZoom(img.HasTiles, img.TileMinZoom), nullZoom(img.HasTiles, img.TileMaxZoom),
		nullString(img.TileStoragePath), img.Status.String(), formatTime(img.StatusChangedAt), id,
	)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	d.logger.WithFields(logrus.Fields{"id": id, "status": img.Status}).Debug("record updated")
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func get(ctx context.Context, q queryer, id int64) (record.Image, error) {
	row := q.QueryRowContext(ctx, `SELECT `+columns+` FROM drone_images WHERE id = ?`, id)
	img, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Image{}, fmt.Errorf("%w: %d", record.ErrNotFound, id)
	}
	return img, err
}

func (d *DB) query(ctx context.Context, query string, args ...any) ([]record.Image, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []record.Image
	for rows.Next() {
		img, err := scan(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (record.Image, error) {
	var (
		img                      record.Image
		north, south, east, west sql.NullString
		minZoom, maxZoom         sql.NullInt64
		storagePath, changedAt   sql.NullString
		status                   string
	)
	err := s.Scan(&img.ID, &img.FilePath, &north, &south, &east, &west,
		&img.HasTiles, &minZoom, &maxZoom, &storagePath, &status, &changedAt)
	if err != nil {
		return record.Image{}, err
	}
	img.North, img.South, img.East, img.West = north.String, south.String, east.String, west.String
	img.TileMinZoom, img.TileMaxZoom = int(minZoom.Int64), int(maxZoom.Int64)
	img.TileStoragePath = storagePath.String
	if img.Status, err = record.ParseStatus(status); err != nil {
		return record.Image{}, err
	}
	if changedAt.Valid {
		if img.StatusChangedAt, err = time.Parse(time.RFC3339Nano, changedAt.String); err != nil {
			return record.Image{}, fmt.Errorf("orthotiles: image %d: %w", img.ID, err)
		}
	}
	return img, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullZoom(hasTiles bool, z int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(z), Valid: hasTiles}
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

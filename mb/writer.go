package mb

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/eak1mov/orthotiles/tile"
	"github.com/sirupsen/logrus"
)

// Writer implements tile.Writer for MBTiles. All tiles are inserted in one
// transaction that Finalize commits.
type Writer struct {
	db     *sql.DB
	tx     *sql.Tx
	stmt   *sql.Stmt
	logger logrus.FieldLogger
	count  int
}

type writerConfig struct {
	Metadata map[string]string
	Logger   logrus.FieldLogger
}

type WriterOption func(*writerConfig)

func WithMetadata(metadata map[string]string) WriterOption {
	return func(c *writerConfig) { c.Metadata = metadata }
}

func WithLogger(logger logrus.FieldLogger) WriterOption {
	return func(c *writerConfig) { c.Logger = logger }
}

// NewWriter creates the MBTiles file at filePath with the metadata and
// tiles tables.
func NewWriter(filePath string, opts ...WriterOption) (w *Writer, err error) {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	config := writerConfig{Logger: discard}
	for _, opt := range opts {
		opt(&config)
	}

	db, err := sql.Open("sqlite3", filePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	_, err = db.Exec(`
		CREATE TABLE metadata (name TEXT, value TEXT);
		CREATE TABLE tiles (
			zoom_level INTEGER,
			tile_column INTEGER,
			tile_row INTEGER,
			tile_data BLOB
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("mb: create tables: %w", err)
	}

	for _, k := range slices.Sorted(maps.Keys(config.Metadata)) {
		if _, err = db.Exec("INSERT INTO metadata (name, value) VALUES (?, ?)", k, config.Metadata[k]); err != nil {
			return nil, err
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	stmt, err := tx.Prepare("INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	return &Writer{db: db, tx: tx, stmt: stmt, logger: config.Logger}, nil
}

// Close releases the database. Tiles of an unfinalized writer are discarded.
func (w *Writer) Close() error {
	var errs []error
	if w.tx != nil {
		errs = append(errs, w.stmt.Close(), w.tx.Rollback())
		w.tx = nil
	}
	return errors.Join(append(errs, w.db.Close())...)
}

func (w *Writer) WriteTile(tileID tile.ID, tileData []byte) error {
	if w.tx == nil {
		return errors.New("mb: writer already finalized")
	}
	if _, err := w.stmt.Exec(tileID.Z, tileID.X, flipY(tileID.Z, tileID.Y), tileData); err != nil {
		return err
	}
	w.count++
	return nil
}

func (w *Writer) Finalize() error {
	if w.tx == nil {
		return errors.New("mb: writer already finalized")
	}
	err := errors.Join(w.stmt.Close(), w.tx.Commit())
	w.tx = nil
	if err != nil {
		return err
	}

	w.logger.WithField("tiles", w.count).Debug("mb: creating index")
	_, err = w.db.Exec("CREATE UNIQUE INDEX tile_index ON tiles (zoom_level, tile_column, tile_row)")
	return err
}

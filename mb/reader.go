// Package mb reads and writes MBTiles archives.
//
// The sqlite3 driver must be registered by the caller, for example with
// import _ "github.com/mattn/go-sqlite3".
package mb

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/eak1mov/orthotiles/tile"
)

// flipY converts between XYZ and TMS rows; the mapping is its own inverse.
func flipY(z, y uint32) uint32 {
	return 1<<z - 1 - y
}

// Reader implements tile.Reader and tile.Visitor for MBTiles.
type Reader struct {
	db       *sql.DB
	tileStmt *sql.Stmt
}

// NewReader opens filePath read-only. The Reader must be closed.
func NewReader(filePath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", filePath))
	if err != nil {
		return nil, err
	}
	tileStmt, err := db.Prepare(`SELECT tile_data FROM tiles
		WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("mb: %s: %w", filePath, err), db.Close())
	}
	return &Reader{db: db, tileStmt: tileStmt}, nil
}

func (r *Reader) Close() error {
	return errors.Join(r.tileStmt.Close(), r.db.Close())
}

// ReadMetadata returns the rows of the metadata table.
func (r *Reader) ReadMetadata() (map[string]string, error) {
	rows, err := r.db.Query("SELECT name, value FROM metadata")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	metadata := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		metadata[name] = value
	}
	return metadata, rows.Err()
}

// ReadTile returns the tile data, or an empty slice if there is no such tile.
func (r *Reader) ReadTile(id tile.ID) ([]byte, error) {
	var data []byte
	err := r.tileStmt.QueryRow(id.Z, id.X, flipY(id.Z, id.Y)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return []byte{}, nil
	}
	return data, err
}

// VisitTiles visits tiles ordered by zoom, then column, then row.
func (r *Reader) VisitTiles(visitor func(tile.ID, []byte) error) error {
	rows, err := r.db.Query(`SELECT zoom_level, tile_column, tile_row, tile_data FROM tiles
		ORDER BY zoom_level, tile_column, tile_row`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id tile.ID
		var data []byte
		if err := rows.Scan(&id.Z, &id.X, &id.Y, &data); err != nil {
			return err
		}
		id.Y = flipY(id.Z, id.Y)
		if err := visitor(id, data); err != nil {
			return err
		}
	}
	return rows.Err()
}

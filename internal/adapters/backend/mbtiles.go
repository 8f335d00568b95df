package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/stratumgis/stratum/internal/domain"
	"github.com/stratumgis/stratum/internal/ports/output"
	"github.com/stratumgis/stratum/internal/raster"
)

// mbtilesSchema follows the mbtiles single-file layout, extended with a
// layer dimension and a key instant so one file can hold a whole catalog.
const mbtilesSchema = `
CREATE TABLE IF NOT EXISTS layers (
	name     TEXT    NOT NULL,
	zoom     INTEGER NOT NULL,
	metadata BLOB    NOT NULL,
	header   BLOB,
	PRIMARY KEY (name, zoom)
);
CREATE TABLE IF NOT EXISTS tiles (
	name    TEXT    NOT NULL,
	zoom    INTEGER NOT NULL,
	col     INTEGER NOT NULL,
	row     INTEGER NOT NULL,
	instant INTEGER NOT NULL,
	data    BLOB    NOT NULL,
	PRIMARY KEY (name, zoom, col, row, instant)
);`

type mbtilesStore struct {
	db *sql.DB
}

// newMBTilesBackend opens (or creates) the catalog file and builds the
// handle bundle around one shared database connection pool.
func newMBTilesBackend(path string) (*output.Bundle, error) {
	if path == "" {
		return nil, &domain.BackendError{
			Backend:   "mbtiles",
			Operation: "connect",
			Err:       fmt.Errorf("empty path: %w", domain.ErrInvalidLocation),
		}
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &domain.BackendError{Backend: "mbtiles", Operation: "connect", Err: err}
	}
	// cache=shared requires a single connection to avoid table locks.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(mbtilesSchema); err != nil {
		_ = db.Close()
		return nil, &domain.BackendError{Backend: "mbtiles", Operation: "connect", Err: err}
	}

	store := &mbtilesStore{db: db}
	attrs := &mbtilesAttributes{store: store}
	return &output.Bundle{
		Attributes: attrs,
		Reader:     &mbtilesReader{attrs: attrs},
		Values:     &mbtilesValues{store: store},
		Writer:     &mbtilesWriter{attrs: attrs},
	}, nil
}

// mbtilesAttributes implements output.AttributeStore.
type mbtilesAttributes struct {
	store *mbtilesStore
}

// ReadMetadata returns the raw metadata record for one layer and zoom.
func (a *mbtilesAttributes) ReadMetadata(ctx context.Context, _ domain.SpatialType, id domain.LayerID) ([]byte, error) {
	var record []byte
	err := a.store.db.QueryRowContext(ctx,
		`SELECT metadata FROM layers WHERE name = ? AND zoom = ?`,
		id.Name, id.Zoom).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrLayerNotFound)
	}
	if err != nil {
		return nil, &domain.BackendError{Backend: "mbtiles", Operation: "read metadata", Err: err}
	}
	return record, nil
}

// WriteMetadata persists the raw metadata record for one layer and zoom.
func (a *mbtilesAttributes) WriteMetadata(ctx context.Context, _ domain.SpatialType, id domain.LayerID, record []byte) error {
	_, err := a.store.db.ExecContext(ctx,
		`INSERT INTO layers (name, zoom, metadata) VALUES (?, ?, ?)
		 ON CONFLICT (name, zoom) DO UPDATE SET metadata = excluded.metadata`,
		id.Name, id.Zoom, record)
	if err != nil {
		return &domain.BackendError{Backend: "mbtiles", Operation: "write metadata", Err: err}
	}
	return nil
}

// LayerIDs lists all layer identifiers in the catalog.
func (a *mbtilesAttributes) LayerIDs(ctx context.Context) ([]domain.LayerID, error) {
	rows, err := a.store.db.QueryContext(ctx,
		`SELECT name, zoom FROM layers ORDER BY name, zoom`)
	if err != nil {
		return nil, &domain.BackendError{Backend: "mbtiles", Operation: "list layers", Err: err}
	}
	defer rows.Close()

	var ids []domain.LayerID
	for rows.Next() {
		var id domain.LayerID
		if err := rows.Scan(&id.Name, &id.Zoom); err != nil {
			return nil, &domain.BackendError{Backend: "mbtiles", Operation: "list layers", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.BackendError{Backend: "mbtiles", Operation: "list layers", Err: err}
	}
	return ids, nil
}

// metadata reads and parses the layer metadata.
func (a *mbtilesAttributes) metadata(ctx context.Context, st domain.SpatialType, id domain.LayerID) (*domain.Metadata, error) {
	raw, err := a.ReadMetadata(ctx, st, id)
	if err != nil {
		return nil, err
	}
	return domain.ParseMetadata(raw)
}

// mbtilesReader implements output.LayerReader.
type mbtilesReader struct {
	attrs *mbtilesAttributes
}

// Read returns the full layer.
func (r *mbtilesReader) Read(ctx context.Context, st domain.SpatialType, id domain.LayerID, _ int) (*domain.TileLayer, error) {
	md, err := r.attrs.metadata(ctx, st, id)
	if err != nil {
		return nil, err
	}
	return r.scan(ctx, st, id, md,
		`SELECT col, row, instant, data FROM tiles WHERE name = ? AND zoom = ?`,
		id.Name, id.Zoom)
}

// Query pushes the full key range down to SQL; only the time filter runs
// client side.
func (r *mbtilesReader) Query(ctx context.Context, st domain.SpatialType, id domain.LayerID, geomWKB []byte, timeIntervals []string, projection string, numPartitions int) (*domain.TileLayer, error) {
	if len(geomWKB) == 0 {
		return r.Read(ctx, st, id, numPartitions)
	}

	geom, err := wkb.Unmarshal(geomWKB)
	if err != nil {
		return nil, &domain.QueryError{Layer: id.Name, Zoom: id.Zoom, Err: err}
	}
	intervals, err := domain.ParseTimeIntervals(timeIntervals)
	if err != nil {
		return nil, &domain.QueryError{Layer: id.Name, Zoom: id.Zoom, Err: err}
	}

	md, err := r.attrs.metadata(ctx, st, id)
	if err != nil {
		return nil, err
	}
	if projection != "" && md.CRS != "" && !strings.EqualFold(projection, md.CRS) {
		return nil, &domain.QueryError{
			Layer: id.Name,
			Zoom:  id.Zoom,
			Err:   fmt.Errorf("reprojection from %s to %s: %w", md.CRS, projection, domain.ErrUnsupported),
		}
	}

	minKey, maxKey := md.Layout.KeyRange(geom.Bound())
	layer, err := r.scan(ctx, st, id, md,
		`SELECT col, row, instant, data FROM tiles
		 WHERE name = ? AND zoom = ? AND col BETWEEN ? AND ? AND row BETWEEN ? AND ?`,
		id.Name, id.Zoom, minKey.Col, maxKey.Col, minKey.Row, maxKey.Row)
	if err != nil {
		return nil, err
	}

	filtered := layer.Tiles[:0]
	for _, kt := range layer.Tiles {
		if !domain.AnyIntervalContains(intervals, kt.Time) {
			continue
		}
		filtered = append(filtered, kt)
	}
	layer.Tiles = filtered
	return layer, nil
}

func (r *mbtilesReader) scan(ctx context.Context, st domain.SpatialType, id domain.LayerID, md *domain.Metadata, query string, args ...interface{}) (*domain.TileLayer, error) {
	rows, err := r.attrs.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.BackendError{Backend: "mbtiles", Operation: "read layer", Err: err}
	}
	defer rows.Close()

	layer := &domain.TileLayer{
		Type:     st,
		Name:     id.Name,
		Zoom:     id.Zoom,
		Metadata: md,
	}
	for rows.Next() {
		var col, row int
		var instant int64
		var data []byte
		if err := rows.Scan(&col, &row, &instant, &data); err != nil {
			return nil, &domain.BackendError{Backend: "mbtiles", Operation: "read layer", Err: err}
		}
		tile, err := raster.Decode(data)
		if err != nil {
			return nil, &domain.BackendError{Backend: "mbtiles", Operation: "decode tile", Err: err}
		}
		layer.Tiles = append(layer.Tiles, domain.KeyedTile{
			Key:  domain.Key{Col: col, Row: row},
			Time: timeOfInstant(instant),
			Tile: tile,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.BackendError{Backend: "mbtiles", Operation: "read layer", Err: err}
	}

	sortTiles(layer.Tiles)
	return layer, nil
}

// mbtilesValues implements output.ValueReader.
type mbtilesValues struct {
	store *mbtilesStore
}

// ReadTile returns the encoded payload of one tile.
func (v *mbtilesValues) ReadTile(ctx context.Context, _ domain.SpatialType, id domain.LayerID, col, row int, timeLabel string) ([]byte, error) {
	ts, err := parseTimeLabel(timeLabel)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = v.store.db.QueryRowContext(ctx,
		`SELECT data FROM tiles WHERE name = ? AND zoom = ? AND col = ? AND row = ? AND instant = ?`,
		id.Name, id.Zoom, col, row, instantOf(ts)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", id, domain.Key{Col: col, Row: row}, domain.ErrTileNotFound)
	}
	if err != nil {
		return nil, &domain.BackendError{Backend: "mbtiles", Operation: "read tile", Err: err}
	}
	return data, nil
}

// mbtilesWriter implements output.LayerWriter.
type mbtilesWriter struct {
	attrs *mbtilesAttributes
}

// WriteSpatial persists a spatial layer.
func (w *mbtilesWriter) WriteSpatial(ctx context.Context, name string, layer *domain.TileLayer, method domain.IndexingMethod) error {
	return w.writeLayer(ctx, name, layer, "", method)
}

// WriteTemporal persists a spatiotemporal layer.
func (w *mbtilesWriter) WriteTemporal(ctx context.Context, name string, layer *domain.TileLayer, timeUnit string, method domain.IndexingMethod) error {
	return w.writeLayer(ctx, name, layer, timeUnit, method)
}

// writeLayer runs in one transaction so a failed write leaves no partial
// layer behind.
func (w *mbtilesWriter) writeLayer(ctx context.Context, name string, layer *domain.TileLayer, timeUnit string, method domain.IndexingMethod) error {
	if layer == nil || layer.Metadata == nil {
		return fmt.Errorf("writing layer %s: missing metadata: %w", name, domain.ErrInvalidInput)
	}
	id := domain.LayerID{Name: name, Zoom: layer.Zoom}

	md := *layer.Metadata
	if bounds, ok := layer.KeyBounds(); ok {
		md.Bounds = bounds
	}
	record, err := md.Encode()
	if err != nil {
		return err
	}
	header, err := encodeHeader(layer.Type, timeUnit, method)
	if err != nil {
		return err
	}

	tx, err := w.attrs.store.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.BackendError{Backend: "mbtiles", Operation: "write layer", Err: err}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO layers (name, zoom, metadata, header) VALUES (?, ?, ?, ?)
		 ON CONFLICT (name, zoom) DO UPDATE SET metadata = excluded.metadata, header = excluded.header`,
		id.Name, id.Zoom, record, header)
	if err != nil {
		return &domain.BackendError{Backend: "mbtiles", Operation: "write metadata", Err: err}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tiles (name, zoom, col, row, instant, data) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name, zoom, col, row, instant) DO UPDATE SET data = excluded.data`)
	if err != nil {
		return &domain.BackendError{Backend: "mbtiles", Operation: "write tiles", Err: err}
	}
	defer stmt.Close()

	for _, kt := range layer.Tiles {
		data, err := raster.Encode(kt.Tile)
		if err != nil {
			return fmt.Errorf("encoding tile %s: %w", kt.Key, err)
		}
		if _, err := stmt.ExecContext(ctx, id.Name, id.Zoom, kt.Key.Col, kt.Key.Row, instantOf(kt.Time), data); err != nil {
			return &domain.BackendError{Backend: "mbtiles", Operation: "write tiles", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &domain.BackendError{Backend: "mbtiles", Operation: "write layer", Err: err}
	}
	return nil
}

package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/stratumgis/stratum/internal/domain"
	"github.com/stratumgis/stratum/internal/ports/output"
	"github.com/stratumgis/stratum/internal/raster"
	"github.com/stratumgis/stratum/internal/uri"
)

// Cassandra schema, one tile table plus a metadata table per catalog:
//
//	CREATE TABLE <table>_metadata (
//	    name text, zoom int, value blob, header blob,
//	    PRIMARY KEY ((name, zoom)))
//	CREATE TABLE <table> (
//	    name text, zoom int, col int, row int, instant bigint, value blob,
//	    PRIMARY KEY ((name, zoom), col, row, instant))
type cassandraStore struct {
	session *gocql.Session
	table   string
}

func (s *cassandraStore) metadataTable() string {
	return s.table + "_metadata"
}

// newCassandraBackend opens a session against the cluster and builds the
// handle bundle. The session is shared by all four handles.
func newCassandraBackend(addr uri.CassandraAddress) (*output.Bundle, error) {
	cluster := gocql.NewCluster(strings.Split(addr.Host, ",")...)
	cluster.Keyspace = addr.Keyspace
	cluster.Authenticator = gocql.PasswordAuthenticator{
		Username: addr.Username,
		Password: addr.Password,
	}
	cluster.Timeout = 10 * time.Second

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, &domain.BackendError{Backend: "cassandra", Operation: "connect", Err: err}
	}

	store := &cassandraStore{session: session, table: addr.Table}
	attrs := &cassandraAttributes{store: store}
	return &output.Bundle{
		Attributes: attrs,
		Reader:     &cassandraReader{attrs: attrs},
		Values:     &cassandraValues{store: store},
		Writer:     &cassandraWriter{attrs: attrs},
	}, nil
}

// cassandraAttributes implements output.AttributeStore.
type cassandraAttributes struct {
	store *cassandraStore
}

// ReadMetadata returns the raw metadata record for one layer and zoom.
func (a *cassandraAttributes) ReadMetadata(ctx context.Context, _ domain.SpatialType, id domain.LayerID) ([]byte, error) {
	stmt := fmt.Sprintf("SELECT value FROM %s WHERE name = ? AND zoom = ?", a.store.metadataTable())

	var record []byte
	err := a.store.session.Query(stmt, id.Name, id.Zoom).WithContext(ctx).Scan(&record)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", id, domain.ErrLayerNotFound)
		}
		return nil, &domain.BackendError{Backend: "cassandra", Operation: "read metadata", Err: err}
	}
	return record, nil
}

// WriteMetadata persists the raw metadata record for one layer and zoom.
func (a *cassandraAttributes) WriteMetadata(ctx context.Context, _ domain.SpatialType, id domain.LayerID, record []byte) error {
	stmt := fmt.Sprintf("INSERT INTO %s (name, zoom, value) VALUES (?, ?, ?)", a.store.metadataTable())
	if err := a.store.session.Query(stmt, id.Name, id.Zoom, record).WithContext(ctx).Exec(); err != nil {
		return &domain.BackendError{Backend: "cassandra", Operation: "write metadata", Err: err}
	}
	return nil
}

// LayerIDs lists all layer identifiers in the catalog.
func (a *cassandraAttributes) LayerIDs(ctx context.Context) ([]domain.LayerID, error) {
	stmt := fmt.Sprintf("SELECT DISTINCT name, zoom FROM %s", a.store.metadataTable())

	var ids []domain.LayerID
	iter := a.store.session.Query(stmt).WithContext(ctx).Iter()
	var id domain.LayerID
	for iter.Scan(&id.Name, &id.Zoom) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, &domain.BackendError{Backend: "cassandra", Operation: "list layers", Err: err}
	}
	return ids, nil
}

// metadata reads and parses the layer metadata.
func (a *cassandraAttributes) metadata(ctx context.Context, st domain.SpatialType, id domain.LayerID) (*domain.Metadata, error) {
	raw, err := a.ReadMetadata(ctx, st, id)
	if err != nil {
		return nil, err
	}
	return domain.ParseMetadata(raw)
}

// cassandraReader implements output.LayerReader.
type cassandraReader struct {
	attrs *cassandraAttributes
}

// Read returns the full layer.
func (r *cassandraReader) Read(ctx context.Context, st domain.SpatialType, id domain.LayerID, _ int) (*domain.TileLayer, error) {
	md, err := r.attrs.metadata(ctx, st, id)
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf("SELECT col, row, instant, value FROM %s WHERE name = ? AND zoom = ?", r.attrs.store.table)
	return r.scan(ctx, st, id, md, stmt, id.Name, id.Zoom)
}

// Query restricts the partition scan to the column range covered by the
// geometry's bound; row and instant filtering happens client side.
func (r *cassandraReader) Query(ctx context.Context, st domain.SpatialType, id domain.LayerID, geomWKB []byte, timeIntervals []string, projection string, numPartitions int) (*domain.TileLayer, error) {
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
	stmt := fmt.Sprintf(
		"SELECT col, row, instant, value FROM %s WHERE name = ? AND zoom = ? AND col >= ? AND col <= ?",
		r.attrs.store.table)

	layer, err := r.scan(ctx, st, id, md, stmt, id.Name, id.Zoom, minKey.Col, maxKey.Col)
	if err != nil {
		return nil, err
	}

	filtered := layer.Tiles[:0]
	for _, kt := range layer.Tiles {
		if kt.Key.Row < minKey.Row || kt.Key.Row > maxKey.Row {
			continue
		}
		if !domain.AnyIntervalContains(intervals, kt.Time) {
			continue
		}
		filtered = append(filtered, kt)
	}
	layer.Tiles = filtered
	return layer, nil
}

func (r *cassandraReader) scan(ctx context.Context, st domain.SpatialType, id domain.LayerID, md *domain.Metadata, stmt string, args ...interface{}) (*domain.TileLayer, error) {
	layer := &domain.TileLayer{
		Type:     st,
		Name:     id.Name,
		Zoom:     id.Zoom,
		Metadata: md,
	}

	iter := r.attrs.store.session.Query(stmt, args...).WithContext(ctx).Iter()
	var col, row int
	var instant int64
	var data []byte
	for iter.Scan(&col, &row, &instant, &data) {
		tile, err := raster.Decode(data)
		if err != nil {
			_ = iter.Close()
			return nil, &domain.BackendError{Backend: "cassandra", Operation: "decode tile", Err: err}
		}
		layer.Tiles = append(layer.Tiles, domain.KeyedTile{
			Key:  domain.Key{Col: col, Row: row},
			Time: timeOfInstant(instant),
			Tile: tile,
		})
		data = nil
	}
	if err := iter.Close(); err != nil {
		return nil, &domain.BackendError{Backend: "cassandra", Operation: "read layer", Err: err}
	}

	sortTiles(layer.Tiles)
	return layer, nil
}

// cassandraValues implements output.ValueReader.
type cassandraValues struct {
	store *cassandraStore
}

// ReadTile returns the encoded payload of one tile.
func (v *cassandraValues) ReadTile(ctx context.Context, _ domain.SpatialType, id domain.LayerID, col, row int, timeLabel string) ([]byte, error) {
	ts, err := parseTimeLabel(timeLabel)
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf(
		"SELECT value FROM %s WHERE name = ? AND zoom = ? AND col = ? AND row = ? AND instant = ?",
		v.store.table)

	var data []byte
	err = v.store.session.Query(stmt, id.Name, id.Zoom, col, row, instantOf(ts)).WithContext(ctx).Scan(&data)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, fmt.Errorf("%s %s: %w", id, domain.Key{Col: col, Row: row}, domain.ErrTileNotFound)
		}
		return nil, &domain.BackendError{Backend: "cassandra", Operation: "read tile", Err: err}
	}
	return data, nil
}

// cassandraWriter implements output.LayerWriter.
type cassandraWriter struct {
	attrs *cassandraAttributes
}

// WriteSpatial persists a spatial layer.
func (w *cassandraWriter) WriteSpatial(ctx context.Context, name string, layer *domain.TileLayer, method domain.IndexingMethod) error {
	return w.writeLayer(ctx, name, layer, "", method)
}

// WriteTemporal persists a spatiotemporal layer.
func (w *cassandraWriter) WriteTemporal(ctx context.Context, name string, layer *domain.TileLayer, timeUnit string, method domain.IndexingMethod) error {
	return w.writeLayer(ctx, name, layer, timeUnit, method)
}

func (w *cassandraWriter) writeLayer(ctx context.Context, name string, layer *domain.TileLayer, timeUnit string, method domain.IndexingMethod) error {
	if layer == nil || layer.Metadata == nil {
		return fmt.Errorf("writing layer %s: missing metadata: %w", name, domain.ErrInvalidInput)
	}
	id := domain.LayerID{Name: name, Zoom: layer.Zoom}
	store := w.attrs.store

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
	stmt := fmt.Sprintf(
		"INSERT INTO %s (name, zoom, value, header) VALUES (?, ?, ?, ?)", store.metadataTable())
	if err := store.session.Query(stmt, id.Name, id.Zoom, record, header).WithContext(ctx).Exec(); err != nil {
		return &domain.BackendError{Backend: "cassandra", Operation: "write metadata", Err: err}
	}

	insert := fmt.Sprintf(
		"INSERT INTO %s (name, zoom, col, row, instant, value) VALUES (?, ?, ?, ?, ?, ?)", store.table)
	for _, kt := range layer.Tiles {
		data, err := raster.Encode(kt.Tile)
		if err != nil {
			return fmt.Errorf("encoding tile %s: %w", kt.Key, err)
		}
		err = store.session.Query(insert, id.Name, id.Zoom, kt.Key.Col, kt.Key.Row, instantOf(kt.Time), data).
			WithContext(ctx).Exec()
		if err != nil {
			return &domain.BackendError{Backend: "cassandra", Operation: "write tile", Err: err}
		}
	}

	return nil
}

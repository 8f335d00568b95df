package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb/encoding/wkb"
	"github.com/tsuna/gohbase"
	"github.com/tsuna/gohbase/hrpc"

	"github.com/stratumgis/stratum/internal/domain"
	"github.com/stratumgis/stratum/internal/ports/output"
	"github.com/stratumgis/stratum/internal/raster"
	"github.com/stratumgis/stratum/internal/uri"
)

const (
	hbaseFamily    = "v"
	hbaseQualifier = "value"
	hbaseHeaderQ   = "header"
)

// hbaseStore holds the shared client. Row keys are laid out so that
// lexicographic order matches scan order:
//
//	m:<name>:<zoom>                          metadata and header cells
//	t:<name>:<zoom>:<col>:<row>:<instant>    tile cells
//
// with col, row and instant zero-padded to fixed width.
type hbaseStore struct {
	client gohbase.Client
	table  string
}

// newHBaseBackend connects through the zookeeper quorum. The master address
// is accepted for location compatibility but unused: the client discovers
// the active master from zookeeper.
func newHBaseBackend(addr uri.HBaseAddress, _ string) (*output.Bundle, error) {
	if len(addr.Zookeepers) == 0 {
		return nil, &domain.BackendError{
			Backend:   "hbase",
			Operation: "connect",
			Err:       fmt.Errorf("no zookeepers: %w", domain.ErrInvalidLocation),
		}
	}

	quorum := make([]string, len(addr.Zookeepers))
	for i, zk := range addr.Zookeepers {
		if addr.Port != "" && !strings.Contains(zk, ":") {
			zk = zk + ":" + addr.Port
		}
		quorum[i] = zk
	}

	store := &hbaseStore{
		client: gohbase.NewClient(strings.Join(quorum, ",")),
		table:  addr.Table,
	}
	attrs := &hbaseAttributes{store: store}
	return &output.Bundle{
		Attributes: attrs,
		Reader:     &hbaseReader{attrs: attrs},
		Values:     &hbaseValues{store: store},
		Writer:     &hbaseWriter{attrs: attrs},
	}, nil
}

func hbaseMetaKey(id domain.LayerID) string {
	return fmt.Sprintf("m:%s:%02d", id.Name, id.Zoom)
}

func hbaseTileKey(id domain.LayerID, col, row int, instant int64) string {
	return fmt.Sprintf("t:%s:%02d:%09d:%09d:%013d", id.Name, id.Zoom, col, row, instant)
}

// hbaseTilePrefix covers all tiles of a layer, or all instants of a column
// range when truncated by the caller.
func hbaseTilePrefix(id domain.LayerID) string {
	return fmt.Sprintf("t:%s:%02d:", id.Name, id.Zoom)
}

// cellValue extracts one qualifier value from a get or scan result.
func cellValue(res *hrpc.Result, qualifier string) ([]byte, bool) {
	for _, cell := range res.Cells {
		if string(cell.Qualifier) == qualifier {
			return cell.Value, true
		}
	}
	return nil, false
}

// hbaseAttributes implements output.AttributeStore.
type hbaseAttributes struct {
	store *hbaseStore
}

// ReadMetadata returns the raw metadata record for one layer and zoom.
func (a *hbaseAttributes) ReadMetadata(ctx context.Context, _ domain.SpatialType, id domain.LayerID) ([]byte, error) {
	get, err := hrpc.NewGetStr(ctx, a.store.table, hbaseMetaKey(id))
	if err != nil {
		return nil, &domain.BackendError{Backend: "hbase", Operation: "read metadata", Err: err}
	}
	res, err := a.store.client.Get(get)
	if err != nil {
		return nil, &domain.BackendError{Backend: "hbase", Operation: "read metadata", Err: err}
	}
	record, ok := cellValue(res, hbaseQualifier)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrLayerNotFound)
	}
	return record, nil
}

// WriteMetadata persists the raw metadata record for one layer and zoom.
func (a *hbaseAttributes) WriteMetadata(ctx context.Context, _ domain.SpatialType, id domain.LayerID, record []byte) error {
	return a.store.put(ctx, hbaseMetaKey(id), map[string][]byte{hbaseQualifier: record}, "write metadata")
}

// LayerIDs lists all layer identifiers in the catalog.
func (a *hbaseAttributes) LayerIDs(ctx context.Context) ([]domain.LayerID, error) {
	scan, err := hrpc.NewScanRangeStr(ctx, a.store.table, "m:", "n")
	if err != nil {
		return nil, &domain.BackendError{Backend: "hbase", Operation: "list layers", Err: err}
	}

	var ids []domain.LayerID
	scanner := a.store.client.Scan(scan)
	for {
		res, err := scanner.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &domain.BackendError{Backend: "hbase", Operation: "list layers", Err: err}
		}
		if len(res.Cells) == 0 {
			continue
		}
		parts := strings.Split(string(res.Cells[0].Row), ":")
		if len(parts) != 3 {
			continue
		}
		zoom, err := strconv.Atoi(parts[2])
		if err != nil {
			continue
		}
		ids = append(ids, domain.LayerID{Name: parts[1], Zoom: zoom})
	}
	return ids, nil
}

// metadata reads and parses the layer metadata.
func (a *hbaseAttributes) metadata(ctx context.Context, st domain.SpatialType, id domain.LayerID) (*domain.Metadata, error) {
	raw, err := a.ReadMetadata(ctx, st, id)
	if err != nil {
		return nil, err
	}
	return domain.ParseMetadata(raw)
}

func (s *hbaseStore) put(ctx context.Context, key string, values map[string][]byte, op string) error {
	put, err := hrpc.NewPutStr(ctx, s.table, key, map[string]map[string][]byte{hbaseFamily: values})
	if err != nil {
		return &domain.BackendError{Backend: "hbase", Operation: op, Err: err}
	}
	if _, err := s.client.Put(put); err != nil {
		return &domain.BackendError{Backend: "hbase", Operation: op, Err: err}
	}
	return nil
}

// hbaseReader implements output.LayerReader.
type hbaseReader struct {
	attrs *hbaseAttributes
}

// Read returns the full layer.
func (r *hbaseReader) Read(ctx context.Context, st domain.SpatialType, id domain.LayerID, _ int) (*domain.TileLayer, error) {
	md, err := r.attrs.metadata(ctx, st, id)
	if err != nil {
		return nil, err
	}
	prefix := hbaseTilePrefix(id)
	return r.scan(ctx, st, id, md, prefix, prefix[:len(prefix)-1]+";")
}

// Query restricts the scan to the column range covered by the geometry's
// bound; row and instant filtering happens client side.
func (r *hbaseReader) Query(ctx context.Context, st domain.SpatialType, id domain.LayerID, geomWKB []byte, timeIntervals []string, projection string, numPartitions int) (*domain.TileLayer, error) {
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
	start := fmt.Sprintf("%s%09d:", hbaseTilePrefix(id), minKey.Col)
	stop := fmt.Sprintf("%s%09d:", hbaseTilePrefix(id), maxKey.Col+1)

	layer, err := r.scan(ctx, st, id, md, start, stop)
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

func (r *hbaseReader) scan(ctx context.Context, st domain.SpatialType, id domain.LayerID, md *domain.Metadata, start, stop string) (*domain.TileLayer, error) {
	scan, err := hrpc.NewScanRangeStr(ctx, r.attrs.store.table, start, stop)
	if err != nil {
		return nil, &domain.BackendError{Backend: "hbase", Operation: "read layer", Err: err}
	}

	layer := &domain.TileLayer{
		Type:     st,
		Name:     id.Name,
		Zoom:     id.Zoom,
		Metadata: md,
	}

	scanner := r.attrs.store.client.Scan(scan)
	for {
		res, err := scanner.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &domain.BackendError{Backend: "hbase", Operation: "read layer", Err: err}
		}
		data, ok := cellValue(res, hbaseQualifier)
		if !ok || len(res.Cells) == 0 {
			continue
		}

		parts := strings.Split(string(res.Cells[0].Row), ":")
		if len(parts) != 6 {
			continue
		}
		col, errC := strconv.Atoi(parts[3])
		row, errR := strconv.Atoi(parts[4])
		instant, errI := strconv.ParseInt(parts[5], 10, 64)
		if errC != nil || errR != nil || errI != nil {
			continue
		}

		tile, err := raster.Decode(data)
		if err != nil {
			return nil, &domain.BackendError{Backend: "hbase", Operation: "decode tile", Err: err}
		}
		layer.Tiles = append(layer.Tiles, domain.KeyedTile{
			Key:  domain.Key{Col: col, Row: row},
			Time: timeOfInstant(instant),
			Tile: tile,
		})
	}

	sortTiles(layer.Tiles)
	return layer, nil
}

// hbaseValues implements output.ValueReader.
type hbaseValues struct {
	store *hbaseStore
}

// ReadTile returns the encoded payload of one tile.
func (v *hbaseValues) ReadTile(ctx context.Context, _ domain.SpatialType, id domain.LayerID, col, row int, timeLabel string) ([]byte, error) {
	ts, err := parseTimeLabel(timeLabel)
	if err != nil {
		return nil, err
	}

	get, err := hrpc.NewGetStr(ctx, v.store.table, hbaseTileKey(id, col, row, instantOf(ts)))
	if err != nil {
		return nil, &domain.BackendError{Backend: "hbase", Operation: "read tile", Err: err}
	}
	res, err := v.store.client.Get(get)
	if err != nil {
		return nil, &domain.BackendError{Backend: "hbase", Operation: "read tile", Err: err}
	}
	data, ok := cellValue(res, hbaseQualifier)
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", id, domain.Key{Col: col, Row: row}, domain.ErrTileNotFound)
	}
	return data, nil
}

// hbaseWriter implements output.LayerWriter.
type hbaseWriter struct {
	attrs *hbaseAttributes
}

// WriteSpatial persists a spatial layer.
func (w *hbaseWriter) WriteSpatial(ctx context.Context, name string, layer *domain.TileLayer, method domain.IndexingMethod) error {
	return w.writeLayer(ctx, name, layer, "", method)
}

// WriteTemporal persists a spatiotemporal layer.
func (w *hbaseWriter) WriteTemporal(ctx context.Context, name string, layer *domain.TileLayer, timeUnit string, method domain.IndexingMethod) error {
	return w.writeLayer(ctx, name, layer, timeUnit, method)
}

func (w *hbaseWriter) writeLayer(ctx context.Context, name string, layer *domain.TileLayer, timeUnit string, method domain.IndexingMethod) error {
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
	err = store.put(ctx, hbaseMetaKey(id), map[string][]byte{
		hbaseQualifier: record,
		hbaseHeaderQ:   header,
	}, "write metadata")
	if err != nil {
		return err
	}

	for _, kt := range layer.Tiles {
		data, err := raster.Encode(kt.Tile)
		if err != nil {
			return fmt.Errorf("encoding tile %s: %w", kt.Key, err)
		}
		key := hbaseTileKey(id, kt.Key.Col, kt.Key.Row, instantOf(kt.Time))
		if err := store.put(ctx, key, map[string][]byte{hbaseQualifier: data}, "write tile"); err != nil {
			return err
		}
	}

	return nil
}

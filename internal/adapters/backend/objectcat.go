package backend

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/encoding/wkb"

	"github.com/stratumgis/stratum/internal/domain"
	"github.com/stratumgis/stratum/internal/ports/output"
	"github.com/stratumgis/stratum/internal/raster"
)

// objectFS is the flat namespace shared by the file, hdfs, s3 and azure
// backends. Paths are slash-delimited and relative to the catalog root.
type objectFS interface {
	// read returns the object's bytes, domain.ErrNotFound when absent.
	read(ctx context.Context, path string) ([]byte, error)

	// write stores the object, creating parent levels as needed and
	// replacing any previous object at the path.
	write(ctx context.Context, path string, data []byte) error

	// list returns the immediate child names under a directory path. A
	// missing directory lists as empty.
	list(ctx context.Context, dir string) ([]string, error)
}

// layerHeader is the per-layer write record kept next to the metadata.
type layerHeader struct {
	Format         string             `json:"format"`
	SpatialType    domain.SpatialType `json:"spatialType"`
	IndexingMethod string             `json:"indexingMethod"`
	TimeUnit       string             `json:"timeUnit,omitempty"`
}

const headerFormat = "stratum/v1"

// newObjectBundle builds the four capability handles over an object
// namespace. The attribute store is constructed first and shared.
func newObjectBundle(fs objectFS, scheme string) *output.Bundle {
	attrs := &objectAttributes{fs: fs, scheme: scheme}
	return &output.Bundle{
		Attributes: attrs,
		Reader:     &objectReader{attrs: attrs},
		Values:     &objectValues{attrs: attrs},
		Writer:     &objectWriter{attrs: attrs},
	}
}

// Object naming within a catalog root:
//
//	attributes/<name>__<zoom>__metadata.json
//	attributes/<name>__<zoom>__header.json
//	tiles/<name>/<zoom>/<col>_<row>.tile
//	tiles/<name>/<zoom>/<col>_<row>_<unixms>.tile
const (
	attributesDir  = "attributes"
	tilesDir       = "tiles"
	metadataSuffix = "__metadata.json"
	headerSuffix   = "__header.json"
	tileSuffix     = ".tile"
)

func metadataPath(id domain.LayerID) string {
	return fmt.Sprintf("%s/%s__%d%s", attributesDir, id.Name, id.Zoom, metadataSuffix)
}

func headerPath(id domain.LayerID) string {
	return fmt.Sprintf("%s/%s__%d%s", attributesDir, id.Name, id.Zoom, headerSuffix)
}

func tileDir(id domain.LayerID) string {
	return fmt.Sprintf("%s/%s/%d", tilesDir, id.Name, id.Zoom)
}

func tileName(key domain.Key, t time.Time) string {
	if t.IsZero() {
		return fmt.Sprintf("%d_%d%s", key.Col, key.Row, tileSuffix)
	}
	return fmt.Sprintf("%d_%d_%d%s", key.Col, key.Row, instantOf(t), tileSuffix)
}

// parseTileName recovers the key and instant from a tile object name.
func parseTileName(name string) (domain.Key, time.Time, bool) {
	base, found := strings.CutSuffix(name, tileSuffix)
	if !found {
		return domain.Key{}, time.Time{}, false
	}

	parts := strings.Split(base, "_")
	if len(parts) != 2 && len(parts) != 3 {
		return domain.Key{}, time.Time{}, false
	}

	col, err := strconv.Atoi(parts[0])
	if err != nil {
		return domain.Key{}, time.Time{}, false
	}
	row, err := strconv.Atoi(parts[1])
	if err != nil {
		return domain.Key{}, time.Time{}, false
	}

	var ts time.Time
	if len(parts) == 3 {
		ms, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return domain.Key{}, time.Time{}, false
		}
		ts = timeOfInstant(ms)
	}

	return domain.Key{Col: col, Row: row}, ts, true
}

// parseMetadataName recovers a layer identifier from a metadata object name.
func parseMetadataName(name string) (domain.LayerID, bool) {
	base, found := strings.CutSuffix(name, metadataSuffix)
	if !found {
		return domain.LayerID{}, false
	}

	idx := strings.LastIndex(base, "__")
	if idx < 1 {
		return domain.LayerID{}, false
	}

	zoom, err := strconv.Atoi(base[idx+2:])
	if err != nil || zoom < 0 {
		return domain.LayerID{}, false
	}

	return domain.LayerID{Name: base[:idx], Zoom: zoom}, true
}

// objectAttributes implements output.AttributeStore over an object
// namespace.
type objectAttributes struct {
	fs     objectFS
	scheme string
}

// ReadMetadata returns the raw metadata record for one layer and zoom.
func (a *objectAttributes) ReadMetadata(ctx context.Context, _ domain.SpatialType, id domain.LayerID) ([]byte, error) {
	data, err := a.fs.read(ctx, metadataPath(id))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", id, domain.ErrLayerNotFound)
		}
		return nil, &domain.BackendError{Backend: a.scheme, Operation: "read metadata", Err: err}
	}
	return data, nil
}

// WriteMetadata persists the raw metadata record for one layer and zoom.
func (a *objectAttributes) WriteMetadata(ctx context.Context, _ domain.SpatialType, id domain.LayerID, record []byte) error {
	if err := a.fs.write(ctx, metadataPath(id), record); err != nil {
		return &domain.BackendError{Backend: a.scheme, Operation: "write metadata", Err: err}
	}
	return nil
}

// LayerIDs lists all layer identifiers known to the catalog.
func (a *objectAttributes) LayerIDs(ctx context.Context) ([]domain.LayerID, error) {
	names, err := a.fs.list(ctx, attributesDir)
	if err != nil {
		return nil, &domain.BackendError{Backend: a.scheme, Operation: "list layers", Err: err}
	}

	ids := make([]domain.LayerID, 0, len(names))
	for _, name := range names {
		if id, ok := parseMetadataName(name); ok {
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Name != ids[j].Name {
			return ids[i].Name < ids[j].Name
		}
		return ids[i].Zoom < ids[j].Zoom
	})
	return ids, nil
}

// metadata reads and parses the layer metadata.
func (a *objectAttributes) metadata(ctx context.Context, st domain.SpatialType, id domain.LayerID) (*domain.Metadata, error) {
	raw, err := a.ReadMetadata(ctx, st, id)
	if err != nil {
		return nil, err
	}
	return domain.ParseMetadata(raw)
}

// objectReader implements output.LayerReader over an object namespace.
type objectReader struct {
	attrs *objectAttributes
}

// Read returns the full layer. The partition hint is ignored: object
// namespaces are read sequentially.
func (r *objectReader) Read(ctx context.Context, st domain.SpatialType, id domain.LayerID, _ int) (*domain.TileLayer, error) {
	return r.readFiltered(ctx, st, id, nil, nil)
}

// Query returns the part of the layer whose keys intersect the WKB
// geometry's bound and whose instants fall inside the time intervals.
// The query geometry must be in the layer's stored reference system;
// object backends do not reproject.
func (r *objectReader) Query(ctx context.Context, st domain.SpatialType, id domain.LayerID, geomWKB []byte, timeIntervals []string, projection string, numPartitions int) (*domain.TileLayer, error) {
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
	keep := func(key domain.Key, ts time.Time) bool {
		if key.Col < minKey.Col || key.Col > maxKey.Col {
			return false
		}
		if key.Row < minKey.Row || key.Row > maxKey.Row {
			return false
		}
		return domain.AnyIntervalContains(intervals, ts)
	}

	return r.readFiltered(ctx, st, id, md, keep)
}

// readFiltered loads tiles, optionally dropping keys that fail the keep
// predicate. md may be nil, in which case the metadata is fetched.
func (r *objectReader) readFiltered(ctx context.Context, st domain.SpatialType, id domain.LayerID, md *domain.Metadata, keep func(domain.Key, time.Time) bool) (*domain.TileLayer, error) {
	var err error
	if md == nil {
		md, err = r.attrs.metadata(ctx, st, id)
		if err != nil {
			return nil, err
		}
	}

	names, err := r.attrs.fs.list(ctx, tileDir(id))
	if err != nil {
		return nil, &domain.BackendError{Backend: r.attrs.scheme, Operation: "list tiles", Err: err}
	}

	layer := &domain.TileLayer{
		Type:     st,
		Name:     id.Name,
		Zoom:     id.Zoom,
		Metadata: md,
	}

	for _, name := range names {
		key, ts, ok := parseTileName(name)
		if !ok {
			continue
		}
		if keep != nil && !keep(key, ts) {
			continue
		}

		data, err := r.attrs.fs.read(ctx, tileDir(id)+"/"+name)
		if err != nil {
			return nil, &domain.BackendError{Backend: r.attrs.scheme, Operation: "read tile", Err: err}
		}
		tile, err := raster.Decode(data)
		if err != nil {
			return nil, &domain.BackendError{Backend: r.attrs.scheme, Operation: "decode tile", Err: err}
		}

		layer.Tiles = append(layer.Tiles, domain.KeyedTile{Key: key, Time: ts, Tile: tile})
	}

	sortTiles(layer.Tiles)
	return layer, nil
}

// objectValues implements output.ValueReader over an object namespace.
type objectValues struct {
	attrs *objectAttributes
}

// ReadTile returns the encoded payload of one tile.
func (v *objectValues) ReadTile(ctx context.Context, _ domain.SpatialType, id domain.LayerID, col, row int, timeLabel string) ([]byte, error) {
	ts, err := parseTimeLabel(timeLabel)
	if err != nil {
		return nil, err
	}

	data, err := v.attrs.fs.read(ctx, tileDir(id)+"/"+tileName(domain.Key{Col: col, Row: row}, ts))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s %s: %w", id, domain.Key{Col: col, Row: row}, domain.ErrTileNotFound)
		}
		return nil, &domain.BackendError{Backend: v.attrs.scheme, Operation: "read tile", Err: err}
	}
	return data, nil
}

// objectWriter implements output.LayerWriter over an object namespace.
type objectWriter struct {
	attrs *objectAttributes
}

// WriteSpatial persists a spatial layer.
func (w *objectWriter) WriteSpatial(ctx context.Context, name string, layer *domain.TileLayer, method domain.IndexingMethod) error {
	return w.writeLayer(ctx, name, layer, "", method)
}

// WriteTemporal persists a spatiotemporal layer.
func (w *objectWriter) WriteTemporal(ctx context.Context, name string, layer *domain.TileLayer, timeUnit string, method domain.IndexingMethod) error {
	return w.writeLayer(ctx, name, layer, timeUnit, method)
}

func (w *objectWriter) writeLayer(ctx context.Context, name string, layer *domain.TileLayer, timeUnit string, method domain.IndexingMethod) error {
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
	if err := w.attrs.WriteMetadata(ctx, layer.Type, id, record); err != nil {
		return err
	}

	header, err := encodeHeader(layer.Type, timeUnit, method)
	if err != nil {
		return err
	}
	if err := w.attrs.fs.write(ctx, headerPath(id), header); err != nil {
		return &domain.BackendError{Backend: w.attrs.scheme, Operation: "write header", Err: err}
	}

	for _, kt := range layer.Tiles {
		data, err := raster.Encode(kt.Tile)
		if err != nil {
			return fmt.Errorf("encoding tile %s: %w", kt.Key, err)
		}
		path := tileDir(id) + "/" + tileName(kt.Key, kt.Time)
		if err := w.attrs.fs.write(ctx, path, data); err != nil {
			return &domain.BackendError{Backend: w.attrs.scheme, Operation: "write tile", Err: err}
		}
	}

	return nil
}

// sortTiles orders tiles row-major, then by instant, for deterministic
// reads across backends.
func sortTiles(tiles []domain.KeyedTile) {
	sort.Slice(tiles, func(i, j int) bool {
		a, b := tiles[i], tiles[j]
		if a.Key.Row != b.Key.Row {
			return a.Key.Row < b.Key.Row
		}
		if a.Key.Col != b.Key.Col {
			return a.Key.Col < b.Key.Col
		}
		return a.Time.Before(b.Time)
	})
}

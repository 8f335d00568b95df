package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stratumgis/stratum/internal/domain"
	"github.com/stratumgis/stratum/internal/ports/output"
	"github.com/stratumgis/stratum/internal/raster"
)

func newTestBundle(t *testing.T) *output.Bundle {
	t.Helper()
	bundle, err := newFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("newFileBackend: %v", err)
	}
	return bundle
}

// testMetadata lays a 10x10 grid over a 0..100 square, row 0 at the north.
func testMetadata() *domain.Metadata {
	extent := domain.Extent{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}
	return &domain.Metadata{
		CRS:      "EPSG:3857",
		CellType: "float64",
		Extent:   extent,
		Layout: domain.LayoutDefinition{
			Extent:     extent,
			LayoutCols: 10,
			LayoutRows: 10,
			TileCols:   4,
			TileRows:   4,
		},
	}
}

func testTile(fill float64) *raster.Tile {
	tile := raster.NewTile(4, 4, 1, "float64")
	for i := range tile.Bands[0] {
		tile.Bands[0][i] = fill
	}
	return tile
}

func spatialTestLayer(name string, zoom int, keys []domain.Key) *domain.TileLayer {
	layer := &domain.TileLayer{
		Type:     domain.Spatial,
		Name:     name,
		Zoom:     zoom,
		Metadata: testMetadata(),
	}
	for i, key := range keys {
		layer.Tiles = append(layer.Tiles, domain.KeyedTile{
			Key:  key,
			Tile: testTile(float64(i)),
		})
	}
	return layer
}

func TestFileBackendSpatialRoundTrip(t *testing.T) {
	ctx := context.Background()
	bundle := newTestBundle(t)

	keys := []domain.Key{{Col: 3, Row: 2}, {Col: 2, Row: 2}, {Col: 4, Row: 5}}
	written := spatialTestLayer("elevation", 5, keys)
	if err := bundle.Writer.WriteSpatial(ctx, "elevation", written, domain.IndexZOrder); err != nil {
		t.Fatalf("WriteSpatial: %v", err)
	}

	id := domain.LayerID{Name: "elevation", Zoom: 5}
	layer, err := bundle.Reader.Read(ctx, domain.Spatial, id, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if layer.TileCount() != 3 {
		t.Fatalf("TileCount = %d, want 3", layer.TileCount())
	}

	// Tiles come back row-major regardless of write order.
	wantOrder := []domain.Key{{Col: 2, Row: 2}, {Col: 3, Row: 2}, {Col: 4, Row: 5}}
	for i, kt := range layer.Tiles {
		if kt.Key != wantOrder[i] {
			t.Errorf("tile %d key = %v, want %v", i, kt.Key, wantOrder[i])
		}
	}

	// The stored metadata carries the recomputed key bounds.
	raw, err := bundle.Attributes.ReadMetadata(ctx, domain.Spatial, id)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	md, err := domain.ParseMetadata(raw)
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}
	wantBounds := domain.Bounds{MinKey: domain.Key{Col: 2, Row: 2}, MaxKey: domain.Key{Col: 4, Row: 5}}
	if md.Bounds != wantBounds {
		t.Errorf("stored bounds = %+v, want %+v", md.Bounds, wantBounds)
	}
}

func TestFileBackendReadTile(t *testing.T) {
	ctx := context.Background()
	bundle := newTestBundle(t)

	layer := spatialTestLayer("ndvi", 3, []domain.Key{{Col: 1, Row: 1}})
	layer.Tiles[0] = domain.KeyedTile{Key: domain.Key{Col: 1, Row: 1}, Tile: testTile(7)}
	if err := bundle.Writer.WriteSpatial(ctx, "ndvi", layer, domain.IndexZOrder); err != nil {
		t.Fatalf("WriteSpatial: %v", err)
	}

	id := domain.LayerID{Name: "ndvi", Zoom: 3}
	data, err := bundle.Values.ReadTile(ctx, domain.Spatial, id, 1, 1, "")
	if err != nil {
		t.Fatalf("ReadTile: %v", err)
	}
	tile, err := raster.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := tile.Bands[0][0]; got != 7 {
		t.Errorf("cell value = %v, want 7", got)
	}

	_, err = bundle.Values.ReadTile(ctx, domain.Spatial, id, 9, 9, "")
	if !errors.Is(err, domain.ErrTileNotFound) {
		t.Errorf("ReadTile missing key: err = %v, want ErrTileNotFound", err)
	}
}

func TestFileBackendTemporal(t *testing.T) {
	ctx := context.Background()
	bundle := newTestBundle(t)

	jan := time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC)
	jun := time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)
	layer := &domain.TileLayer{
		Type:     domain.Spatiotemporal,
		Name:     "temperature",
		Zoom:     4,
		Metadata: testMetadata(),
		Tiles: []domain.KeyedTile{
			{Key: domain.Key{Col: 1, Row: 1}, Time: jan, Tile: testTile(1)},
			{Key: domain.Key{Col: 1, Row: 1}, Time: jun, Tile: testTile(2)},
		},
	}
	if err := bundle.Writer.WriteTemporal(ctx, "temperature", layer, "months", domain.IndexZOrder); err != nil {
		t.Fatalf("WriteTemporal: %v", err)
	}

	id := domain.LayerID{Name: "temperature", Zoom: 4}
	data, err := bundle.Values.ReadTile(ctx, domain.Spatiotemporal, id, 1, 1, jun.Format(time.RFC3339))
	if err != nil {
		t.Fatalf("ReadTile: %v", err)
	}
	tile, err := raster.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := tile.Bands[0][0]; got != 2 {
		t.Errorf("cell value = %v, want 2", got)
	}

	// An interval covering only January keeps one of the two instants.
	got, err := bundle.Reader.Query(ctx, domain.Spatiotemporal, id,
		extentWKB(t, domain.Extent{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}),
		[]string{"2023-01-01T00:00:00Z/2023-02-01T00:00:00Z"}, "", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got.TileCount() != 1 {
		t.Fatalf("TileCount = %d, want 1", got.TileCount())
	}
	if !got.Tiles[0].Time.Equal(jan) {
		t.Errorf("tile time = %v, want %v", got.Tiles[0].Time, jan)
	}
}

func TestFileBackendQueryExtent(t *testing.T) {
	ctx := context.Background()
	bundle := newTestBundle(t)

	// Keys (1,1) and (2,1) sit in the north-west quadrant, (8,8) far
	// outside the query window.
	keys := []domain.Key{{Col: 1, Row: 1}, {Col: 2, Row: 1}, {Col: 8, Row: 8}}
	layer := spatialTestLayer("landcover", 6, keys)
	if err := bundle.Writer.WriteSpatial(ctx, "landcover", layer, domain.IndexZOrder); err != nil {
		t.Fatalf("WriteSpatial: %v", err)
	}

	// World y 75..95 maps to grid rows 0..2; x 10..30 to cols 1..3.
	id := domain.LayerID{Name: "landcover", Zoom: 6}
	got, err := bundle.Reader.Query(ctx, domain.Spatial, id,
		extentWKB(t, domain.Extent{MinX: 10, MinY: 75, MaxX: 30, MaxY: 95}), nil, "", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got.TileCount() != 2 {
		t.Fatalf("TileCount = %d, want 2", got.TileCount())
	}
	for _, kt := range got.Tiles {
		if kt.Key == (domain.Key{Col: 8, Row: 8}) {
			t.Errorf("query returned out-of-window key %v", kt.Key)
		}
	}
}

func TestFileBackendQueryProjectionMismatch(t *testing.T) {
	ctx := context.Background()
	bundle := newTestBundle(t)

	layer := spatialTestLayer("imagery", 2, []domain.Key{{Col: 0, Row: 0}})
	if err := bundle.Writer.WriteSpatial(ctx, "imagery", layer, domain.IndexZOrder); err != nil {
		t.Fatalf("WriteSpatial: %v", err)
	}

	id := domain.LayerID{Name: "imagery", Zoom: 2}
	_, err := bundle.Reader.Query(ctx, domain.Spatial, id,
		extentWKB(t, domain.Extent{MinX: 0, MinY: 0, MaxX: 50, MaxY: 50}), nil, "EPSG:4326", 0)
	if !errors.Is(err, domain.ErrUnsupported) {
		t.Fatalf("Query with foreign projection: err = %v, want ErrUnsupported", err)
	}
	var qerr *domain.QueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("Query error type = %T, want *domain.QueryError", err)
	}
}

func TestFileBackendLayerIDs(t *testing.T) {
	ctx := context.Background()
	bundle := newTestBundle(t)

	for _, spec := range []struct {
		name string
		zoom int
	}{
		{"b-layer", 4},
		{"a-layer", 7},
		{"a-layer", 3},
	} {
		layer := spatialTestLayer(spec.name, spec.zoom, []domain.Key{{Col: 0, Row: 0}})
		if err := bundle.Writer.WriteSpatial(ctx, spec.name, layer, domain.IndexZOrder); err != nil {
			t.Fatalf("WriteSpatial %s: %v", spec.name, err)
		}
	}

	ids, err := bundle.Attributes.LayerIDs(ctx)
	if err != nil {
		t.Fatalf("LayerIDs: %v", err)
	}
	want := []domain.LayerID{
		{Name: "a-layer", Zoom: 3},
		{Name: "a-layer", Zoom: 7},
		{Name: "b-layer", Zoom: 4},
	}
	if len(ids) != len(want) {
		t.Fatalf("LayerIDs = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("LayerIDs[%d] = %v, want %v", i, ids[i], want[i])
		}
	}
}

func TestFileBackendMissingLayer(t *testing.T) {
	ctx := context.Background()
	bundle := newTestBundle(t)
	id := domain.LayerID{Name: "ghost", Zoom: 1}

	if _, err := bundle.Attributes.ReadMetadata(ctx, domain.Spatial, id); !errors.Is(err, domain.ErrLayerNotFound) {
		t.Errorf("ReadMetadata: err = %v, want ErrLayerNotFound", err)
	}
	if _, err := bundle.Reader.Read(ctx, domain.Spatial, id, 0); !errors.Is(err, domain.ErrLayerNotFound) {
		t.Errorf("Read: err = %v, want ErrLayerNotFound", err)
	}
}

func extentWKB(t *testing.T, e domain.Extent) []byte {
	t.Helper()
	payload, err := domain.NormalizeFilter(domain.ExtentFilter{Extent: e})
	if err != nil {
		t.Fatalf("NormalizeFilter: %v", err)
	}
	return payload
}

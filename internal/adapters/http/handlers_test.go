package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stratumgis/stratum/internal/config"
	"github.com/stratumgis/stratum/internal/domain"
	"github.com/stratumgis/stratum/internal/raster"
)

// mockCatalog implements input.TileCatalog for testing.
type mockCatalog struct {
	layers   []domain.LayerID
	metadata *domain.Metadata
	tile     *raster.Tile
	found    bool
	err      error
}

func (m *mockCatalog) Layers(_ context.Context, _ string) ([]domain.LayerID, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.layers, nil
}

func (m *mockCatalog) Metadata(_ context.Context, _ string, _ domain.SpatialType, _ domain.LayerID) (*domain.Metadata, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.metadata, nil
}

func (m *mockCatalog) ReadTile(_ context.Context, _ string, _ domain.SpatialType, _ domain.LayerID, _, _ int, _ string) (*raster.Tile, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	return m.tile, m.found, nil
}

func newTestServer(catalog *mockCatalog) *Server {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	return NewServer(
		config.ServerConfig{
			Host:         "localhost",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		catalog,
		"file:///tmp/catalog",
		domain.Spatial,
		logger,
	)
}

func testServerMetadata() *domain.Metadata {
	return &domain.Metadata{
		Bounds: domain.Bounds{
			MinKey: domain.Key{Col: 0, Row: 0},
			MaxKey: domain.Key{Col: 9, Row: 9},
		},
		CRS:      "EPSG:3857",
		CellType: "float64",
		Layout: domain.LayoutDefinition{
			Extent:     domain.Extent{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100},
			LayoutCols: 10,
			LayoutRows: 10,
			TileCols:   4,
			TileRows:   4,
		},
		Extent: domain.Extent{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100},
	}
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(&mockCatalog{
		layers: []domain.LayerID{{Name: "elevation", Zoom: 5}},
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("status = %v, want %q", resp["status"], "ok")
	}
}

func TestHandleHealthUnreachableCatalog(t *testing.T) {
	srv := newTestServer(&mockCatalog{err: domain.ErrBackendUnavailable})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleLiveness(t *testing.T) {
	srv := newTestServer(&mockCatalog{})

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rr := httptest.NewRecorder()

	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestHandleListLayers(t *testing.T) {
	srv := newTestServer(&mockCatalog{
		layers: []domain.LayerID{
			{Name: "elevation", Zoom: 5},
			{Name: "landcover", Zoom: 8},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/layers", nil)
	rr := httptest.NewRecorder()

	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp struct {
		Layers []struct {
			Name string `json:"name"`
			Zoom int    `json:"zoom"`
		} `json:"layers"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}
	if resp.Layers[0].Name != "elevation" || resp.Layers[0].Zoom != 5 {
		t.Errorf("layers[0] = %+v, want elevation@5", resp.Layers[0])
	}
}

func TestHandleMetadata(t *testing.T) {
	srv := newTestServer(&mockCatalog{metadata: testServerMetadata()})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/layers/elevation/5/metadata", nil)
	rr := httptest.NewRecorder()

	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp["name"] != "elevation" {
		t.Errorf("name = %v, want elevation", resp["name"])
	}
	if resp["crs"] != "EPSG:3857" {
		t.Errorf("crs = %v, want EPSG:3857", resp["crs"])
	}
}

func TestHandleMetadataNotFound(t *testing.T) {
	srv := newTestServer(&mockCatalog{err: domain.ErrLayerNotFound})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/layers/missing/5/metadata", nil)
	rr := httptest.NewRecorder()

	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestHandleMetadataInvalidZoom(t *testing.T) {
	srv := newTestServer(&mockCatalog{metadata: testServerMetadata()})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/layers/elevation/nope/metadata", nil)
	rr := httptest.NewRecorder()

	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleTileBinary(t *testing.T) {
	tile := raster.NewTile(4, 4, 1, "float64")
	tile.Bands[0][0] = 42

	srv := newTestServer(&mockCatalog{tile: tile, found: true})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/layers/elevation/5/tiles/3/4", nil)
	rr := httptest.NewRecorder()

	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("content type = %q, want application/octet-stream", ct)
	}

	want, err := raster.Encode(tile)
	if err != nil {
		t.Fatalf("encoding reference tile: %v", err)
	}
	if !bytes.Equal(rr.Body.Bytes(), want) {
		t.Error("response body does not match the encoded tile")
	}
}

func TestHandleTileJSON(t *testing.T) {
	tile := raster.NewTile(2, 2, 1, "float64")
	tile.Bands[0] = []float64{1, 2, 3, 4}

	srv := newTestServer(&mockCatalog{tile: tile, found: true})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/layers/elevation/5/tiles/3/4?format=json", nil)
	rr := httptest.NewRecorder()

	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp struct {
		Cols  int         `json:"cols"`
		Rows  int         `json:"rows"`
		Bands [][]float64 `json:"bands"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.Cols != 2 || resp.Rows != 2 {
		t.Errorf("dimensions = %dx%d, want 2x2", resp.Cols, resp.Rows)
	}
	if len(resp.Bands) != 1 || resp.Bands[0][3] != 4 {
		t.Errorf("bands = %v, want [[1 2 3 4]]", resp.Bands)
	}
}

func TestHandleTileAbsent(t *testing.T) {
	srv := newTestServer(&mockCatalog{found: false})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/layers/elevation/5/tiles/900/900", nil)
	rr := httptest.NewRecorder()

	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestHandleTileInvalidCoordinates(t *testing.T) {
	srv := newTestServer(&mockCatalog{})

	for _, path := range []string{
		"/api/v1/layers/elevation/5/tiles/x/4",
		"/api/v1/layers/elevation/5/tiles/3/y",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()

		srv.router.ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", path, rr.Code, http.StatusBadRequest)
		}
	}
}

func TestHandleOpenAPI(t *testing.T) {
	srv := newTestServer(&mockCatalog{})

	req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	rr := httptest.NewRecorder()

	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var spec map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &spec); err != nil {
		t.Fatalf("OpenAPI spec is not valid JSON: %v", err)
	}
	if spec["openapi"] == nil {
		t.Error("spec has no openapi version field")
	}
}

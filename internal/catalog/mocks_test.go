package catalog

import (
	"context"
	"fmt"

	"github.com/stratumgis/stratum/internal/domain"
	"github.com/stratumgis/stratum/internal/ports/output"
	"github.com/stratumgis/stratum/internal/raster"
	"github.com/stratumgis/stratum/internal/uri"
)

// mockBackend implements all four capability handles with call counting,
// so tests can assert on exactly which backend calls an operation makes.
type mockBackend struct {
	metadata map[domain.LayerID][]byte
	tiles    map[string][]byte

	connectErr error

	connectCalls  int
	metadataCalls int
	listCalls     int
	readCalls     int
	queryCalls    int
	tileCalls     int
	writeCalls    int

	// Captured arguments of the last filtered query.
	lastWKB        []byte
	lastIntervals  []string
	lastProjection string
	lastPartitions int

	// Captured arguments of the last write.
	lastWriteName     string
	lastWriteTimeUnit string
	lastWriteTemporal bool
}

func tileKey(id domain.LayerID, col, row int, timeLabel string) string {
	return fmt.Sprintf("%s/%d/%d/%d/%s", id.Name, id.Zoom, col, row, timeLabel)
}

func (m *mockBackend) setMetadata(id domain.LayerID, md *domain.Metadata) {
	raw, err := md.Encode()
	if err != nil {
		panic(err)
	}
	if m.metadata == nil {
		m.metadata = make(map[domain.LayerID][]byte)
	}
	m.metadata[id] = raw
}

func (m *mockBackend) setTile(id domain.LayerID, col, row int, timeLabel string, tile *raster.Tile) {
	data, err := raster.Encode(tile)
	if err != nil {
		panic(err)
	}
	if m.tiles == nil {
		m.tiles = make(map[string][]byte)
	}
	m.tiles[tileKey(id, col, row, timeLabel)] = data
}

// connect is the ConnectFunc under test injection. Each call yields a fresh
// bundle value wrapping this mock, so bundle identity distinguishes cached
// from re-constructed connections.
func (m *mockBackend) connect(_ context.Context, _ uri.Location, _ output.Options) (*output.Bundle, error) {
	m.connectCalls++
	if m.connectErr != nil {
		return nil, m.connectErr
	}
	return &output.Bundle{Attributes: m, Reader: m, Values: m, Writer: m}, nil
}

func (m *mockBackend) ReadMetadata(_ context.Context, _ domain.SpatialType, id domain.LayerID) ([]byte, error) {
	m.metadataCalls++
	raw, ok := m.metadata[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrLayerNotFound)
	}
	return raw, nil
}

func (m *mockBackend) WriteMetadata(_ context.Context, _ domain.SpatialType, id domain.LayerID, record []byte) error {
	if m.metadata == nil {
		m.metadata = make(map[domain.LayerID][]byte)
	}
	m.metadata[id] = record
	return nil
}

func (m *mockBackend) LayerIDs(_ context.Context) ([]domain.LayerID, error) {
	m.listCalls++
	ids := make([]domain.LayerID, 0, len(m.metadata))
	for id := range m.metadata {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *mockBackend) Read(_ context.Context, spatialType domain.SpatialType, id domain.LayerID, numPartitions int) (*domain.TileLayer, error) {
	m.readCalls++
	m.lastPartitions = numPartitions
	return &domain.TileLayer{Type: spatialType, Name: id.Name, Zoom: id.Zoom}, nil
}

func (m *mockBackend) Query(_ context.Context, spatialType domain.SpatialType, id domain.LayerID, geomWKB []byte, timeIntervals []string, projection string, numPartitions int) (*domain.TileLayer, error) {
	m.queryCalls++
	m.lastWKB = geomWKB
	m.lastIntervals = timeIntervals
	m.lastProjection = projection
	m.lastPartitions = numPartitions
	return &domain.TileLayer{Type: spatialType, Name: id.Name, Zoom: id.Zoom}, nil
}

func (m *mockBackend) ReadTile(_ context.Context, _ domain.SpatialType, id domain.LayerID, col, row int, timeLabel string) ([]byte, error) {
	m.tileCalls++
	data, ok := m.tiles[tileKey(id, col, row, timeLabel)]
	if !ok {
		return nil, fmt.Errorf("%s (%d,%d): %w", id, col, row, domain.ErrTileNotFound)
	}
	return data, nil
}

func (m *mockBackend) WriteSpatial(_ context.Context, name string, _ *domain.TileLayer, _ domain.IndexingMethod) error {
	m.writeCalls++
	m.lastWriteName = name
	m.lastWriteTemporal = false
	return nil
}

func (m *mockBackend) WriteTemporal(_ context.Context, name string, _ *domain.TileLayer, timeUnit string, _ domain.IndexingMethod) error {
	m.writeCalls++
	m.lastWriteName = name
	m.lastWriteTimeUnit = timeUnit
	m.lastWriteTemporal = true
	return nil
}

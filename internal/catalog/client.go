// Package catalog implements the multi-backend tiled-layer catalog access
// layer: location resolution, the process-wide connection cache, the bounds
// cache, filtered queries and layer writes.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/stratumgis/stratum/internal/adapters/backend"
	"github.com/stratumgis/stratum/internal/domain"
	"github.com/stratumgis/stratum/internal/ports/output"
	"github.com/stratumgis/stratum/internal/raster"
	"github.com/stratumgis/stratum/internal/uri"
)

// ConnectFunc constructs the four capability handles for a parsed location.
type ConnectFunc func(ctx context.Context, loc uri.Location, opts output.Options) (*output.Bundle, error)

// boundsKey identifies one bounds cache entry. The location is part of the
// key: the same layer name and zoom may exist in several catalogs.
type boundsKey struct {
	location string
	name     string
	zoom     int
}

// bundleEntry guards one connection bundle construction. The once ensures
// exactly one factory run per distinct location string under concurrent
// first access.
type bundleEntry struct {
	once   sync.Once
	bundle *output.Bundle
	err    error
}

// Client is the catalog access facade. Connection bundles are cached by
// exact location string, compared without normalization: two syntactically
// different strings addressing the same storage produce two bundles.
type Client struct {
	mu      sync.Mutex
	bundles map[string]*bundleEntry

	bounds  *lru.Cache[boundsKey, domain.Bounds]
	connect ConnectFunc
	metrics output.MetricsCollector
	logger  *slog.Logger

	defaultPartitions int
}

// Config holds configuration for the catalog client.
type Config struct {
	// Connect overrides the backend factory; nil selects the built-in
	// backend dispatch.
	Connect ConnectFunc

	// DefaultPartitions is the partition hint applied to reads that do
	// not carry one.
	DefaultPartitions int

	// BoundsCacheSize caps the number of cached (location, name, zoom)
	// bounds entries.
	BoundsCacheSize int
}

// Defaults applied when the corresponding Config field is zero.
const (
	DefaultPartitions     = 8
	DefaultBoundsCacheMax = 1024
)

// NewClient creates a catalog client.
func NewClient(metrics output.MetricsCollector, logger *slog.Logger, cfg Config) (*Client, error) {
	if cfg.Connect == nil {
		cfg.Connect = backend.Connect
	}
	if cfg.DefaultPartitions <= 0 {
		cfg.DefaultPartitions = DefaultPartitions
	}
	if cfg.BoundsCacheSize <= 0 {
		cfg.BoundsCacheSize = DefaultBoundsCacheMax
	}
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	bounds, err := lru.New[boundsKey, domain.Bounds](cfg.BoundsCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating bounds cache: %w", err)
	}

	return &Client{
		bundles:           make(map[string]*bundleEntry),
		bounds:            bounds,
		connect:           cfg.Connect,
		metrics:           metrics,
		logger:            logger,
		defaultPartitions: cfg.DefaultPartitions,
	}, nil
}

// Resolve returns the connection bundle for a location, constructing and
// caching it on first use. Construction failures are not cached: a later
// call with the same location retries.
func (c *Client) Resolve(ctx context.Context, location string, opts output.Options) (*output.Bundle, error) {
	c.mu.Lock()
	entry, ok := c.bundles[location]
	if !ok {
		entry = &bundleEntry{}
		c.bundles[location] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		loc, err := uri.Parse(location)
		if err != nil {
			entry.err = err
			return
		}

		start := time.Now()
		entry.bundle, entry.err = c.connect(ctx, loc, opts)
		c.metrics.ObserveBackendDuration(string(loc.Kind), "connect", time.Since(start))
		c.metrics.IncBackendOperations(string(loc.Kind), "connect", entry.err == nil)

		if entry.err == nil {
			c.logger.Info("catalog connected", "location", location, "backend", string(loc.Kind))
		}
	})

	if entry.err != nil {
		c.mu.Lock()
		// Racing callers observing the same entry all fail with the
		// construction error; dropping it re-arms the retry.
		if c.bundles[location] == entry {
			delete(c.bundles, location)
		}
		c.mu.Unlock()
		return nil, entry.err
	}

	c.mu.Lock()
	c.metrics.SetCatalogsConnected(len(c.bundles))
	c.mu.Unlock()
	return entry.bundle, nil
}

// Metadata returns the parsed metadata of one layer and zoom.
func (c *Client) Metadata(ctx context.Context, location string, spatialType domain.SpatialType, id domain.LayerID) (*domain.Metadata, error) {
	return c.MetadataWithOptions(ctx, location, spatialType, id, nil)
}

// MetadataWithOptions is Metadata with backend options forwarded to a
// first-time connection.
func (c *Client) MetadataWithOptions(ctx context.Context, location string, spatialType domain.SpatialType, id domain.LayerID, opts output.Options) (*domain.Metadata, error) {
	bundle, err := c.Resolve(ctx, location, opts)
	if err != nil {
		return nil, err
	}

	raw, err := bundle.Attributes.ReadMetadata(ctx, spatialType, id)
	if err != nil {
		return nil, err
	}
	return domain.ParseMetadata(raw)
}

// Layers lists all layer identifiers at the location.
func (c *Client) Layers(ctx context.Context, location string) ([]domain.LayerID, error) {
	return c.LayersWithOptions(ctx, location, nil)
}

// LayersWithOptions is Layers with backend options forwarded to a
// first-time connection.
func (c *Client) LayersWithOptions(ctx context.Context, location string, opts output.Options) ([]domain.LayerID, error) {
	bundle, err := c.Resolve(ctx, location, opts)
	if err != nil {
		return nil, err
	}
	return bundle.Attributes.LayerIDs(ctx)
}

// layerBounds returns the cached key bounds of a layer, fetching and
// caching them on a miss.
func (c *Client) layerBounds(ctx context.Context, location string, spatialType domain.SpatialType, id domain.LayerID, opts output.Options) (domain.Bounds, error) {
	key := boundsKey{location: location, name: id.Name, zoom: id.Zoom}
	if bounds, ok := c.bounds.Get(key); ok {
		c.metrics.IncBoundsCache(true)
		return bounds, nil
	}
	c.metrics.IncBoundsCache(false)

	md, err := c.MetadataWithOptions(ctx, location, spatialType, id, opts)
	if err != nil {
		return domain.Bounds{}, err
	}
	c.bounds.Add(key, md.Bounds)
	return md.Bounds, nil
}

// InvalidateBounds drops the cached bounds of one layer. Writes through
// this client do it automatically; it is exposed for callers reacting to
// out-of-process catalog changes.
func (c *Client) InvalidateBounds(location string, id domain.LayerID) {
	c.bounds.Remove(boundsKey{location: location, name: id.Name, zoom: id.Zoom})
}

// ReadTile reads a single tile by coordinate. The boolean is false when the
// tile is absent, which is an expected result rather than an error. A
// coordinate outside the layer's key bounds is absent without any backend
// read.
func (c *Client) ReadTile(ctx context.Context, location string, spatialType domain.SpatialType, id domain.LayerID, col, row int, timeLabel string) (*raster.Tile, bool, error) {
	return c.ReadTileWithOptions(ctx, location, spatialType, id, col, row, timeLabel, nil)
}

// ReadTileWithOptions is ReadTile with backend options forwarded to a
// first-time connection.
func (c *Client) ReadTileWithOptions(ctx context.Context, location string, spatialType domain.SpatialType, id domain.LayerID, col, row int, timeLabel string, opts output.Options) (*raster.Tile, bool, error) {
	bounds, err := c.layerBounds(ctx, location, spatialType, id, opts)
	if err != nil {
		c.metrics.IncTileRead(id.Name, output.TileReadError)
		return nil, false, err
	}
	if !bounds.Contains(col, row) {
		c.metrics.IncTileRead(id.Name, output.TileReadOutOfBounds)
		return nil, false, nil
	}

	bundle, err := c.Resolve(ctx, location, opts)
	if err != nil {
		c.metrics.IncTileRead(id.Name, output.TileReadError)
		return nil, false, err
	}

	data, err := bundle.Values.ReadTile(ctx, spatialType, id, col, row, timeLabel)
	if err != nil {
		if errors.Is(err, domain.ErrTileNotFound) {
			c.metrics.IncTileRead(id.Name, output.TileReadMissing)
			return nil, false, nil
		}
		c.metrics.IncTileRead(id.Name, output.TileReadError)
		return nil, false, err
	}

	tile, err := raster.Decode(data)
	if err != nil {
		c.metrics.IncTileRead(id.Name, output.TileReadError)
		return nil, false, fmt.Errorf("decoding tile %s %s: %w", id, domain.Key{Col: col, Row: row}, err)
	}

	c.metrics.IncTileRead(id.Name, output.TileReadServed)
	return tile, true, nil
}

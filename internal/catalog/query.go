package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/stratumgis/stratum/internal/domain"
	"github.com/stratumgis/stratum/internal/ports/output"
)

// QueryOptions carries the optional parameters of a layer query. The zero
// value reads the full layer.
type QueryOptions struct {
	// Filter restricts the query spatially. Nil means the whole layer.
	Filter domain.SpatialFilter

	// TimeIntervals restricts a spatiotemporal query to ISO 8601
	// "start/end" intervals. Empty means the full time range.
	TimeIntervals []string

	// Projection names the reference system of the filter geometry, e.g.
	// "EPSG:3857". Empty means the layer's stored reference system.
	Projection string

	// ProjectionCode is the integer form of Projection; a nonzero code is
	// rewritten to "EPSG:<code>". Projection, when set, wins.
	ProjectionCode int

	// Partitions hints how backends chunk the read. Zero applies the
	// client default.
	Partitions int

	// Backend carries backend options forwarded to a first-time
	// connection.
	Backend output.Options
}

// projection resolves the projection string passed to the backend.
func (o QueryOptions) projection() string {
	if o.Projection != "" {
		return o.Projection
	}
	if o.ProjectionCode != 0 {
		return fmt.Sprintf("EPSG:%d", o.ProjectionCode)
	}
	return ""
}

// Query reads a layer, optionally restricted by a spatial filter, time
// intervals and a projection. Without a filter the full layer is returned.
func (c *Client) Query(ctx context.Context, location string, spatialType domain.SpatialType, id domain.LayerID, opts QueryOptions) (*domain.TileLayer, error) {
	start := time.Now()
	layer, err := c.doQuery(ctx, location, spatialType, id, opts)
	c.metrics.ObserveQueryDuration(id.Name, time.Since(start))
	c.metrics.IncQueryCount(id.Name, err == nil)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("layer query",
		"location", location,
		"layer", id.Name,
		"zoom", id.Zoom,
		"tiles", layer.TileCount(),
		"duration", time.Since(start))
	return layer, nil
}

func (c *Client) doQuery(ctx context.Context, location string, spatialType domain.SpatialType, id domain.LayerID, opts QueryOptions) (*domain.TileLayer, error) {
	// Filter normalization happens before any backend work so shape
	// errors surface synchronously.
	payload, err := domain.NormalizeFilter(opts.Filter)
	if err != nil {
		return nil, err
	}

	bundle, err := c.Resolve(ctx, location, opts.Backend)
	if err != nil {
		return nil, err
	}

	partitions := opts.Partitions
	if partitions <= 0 {
		partitions = c.defaultPartitions
	}

	if payload == nil {
		return bundle.Reader.Read(ctx, spatialType, id, partitions)
	}

	intervals := opts.TimeIntervals
	if intervals == nil {
		intervals = []string{}
	}
	return bundle.Reader.Query(ctx, spatialType, id, payload, intervals, opts.projection(), partitions)
}

// Write persists a full layer under the given name, dispatching on the
// layer's spatial type. The cached bounds of the written layer and zoom are
// dropped so later single-tile reads see the new extent.
func (c *Client) Write(ctx context.Context, location string, name string, layer *domain.TileLayer, method domain.IndexingMethod, timeUnit domain.TimeUnit) error {
	return c.WriteWithOptions(ctx, location, name, layer, method, timeUnit, nil)
}

// WriteWithOptions is Write with backend options forwarded to a first-time
// connection.
func (c *Client) WriteWithOptions(ctx context.Context, location string, name string, layer *domain.TileLayer, method domain.IndexingMethod, timeUnit domain.TimeUnit, opts output.Options) error {
	if layer == nil {
		return fmt.Errorf("writing layer %s: nil layer: %w", name, domain.ErrInvalidInput)
	}
	if !layer.Type.Valid() {
		return fmt.Errorf("writing layer %s: unknown spatial type %q: %w", name, layer.Type, domain.ErrInvalidInput)
	}

	bundle, err := c.Resolve(ctx, location, opts)
	if err != nil {
		return err
	}

	start := time.Now()
	if layer.Type.Temporal() {
		err = bundle.Writer.WriteTemporal(ctx, name, layer, string(timeUnit), method)
	} else {
		err = bundle.Writer.WriteSpatial(ctx, name, layer, method)
	}
	if err != nil {
		return err
	}

	c.InvalidateBounds(location, domain.LayerID{Name: name, Zoom: layer.Zoom})
	c.logger.Info("layer written",
		"location", location,
		"layer", name,
		"zoom", layer.Zoom,
		"tiles", layer.TileCount(),
		"method", string(method),
		"duration", time.Since(start))
	return nil
}

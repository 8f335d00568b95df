// Package app provides application initialization and wiring.
package app

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"

	httpAdapter "github.com/stratumgis/stratum/internal/adapters/http"
	"github.com/stratumgis/stratum/internal/adapters/metrics"
	"github.com/stratumgis/stratum/internal/adapters/tilecache"
	tlsAdapter "github.com/stratumgis/stratum/internal/adapters/tls"
	"github.com/stratumgis/stratum/internal/adapters/watcher"
	"github.com/stratumgis/stratum/internal/catalog"
	"github.com/stratumgis/stratum/internal/config"
	"github.com/stratumgis/stratum/internal/domain"
	"github.com/stratumgis/stratum/internal/ports/input"
	"github.com/stratumgis/stratum/internal/ports/output"
	"github.com/stratumgis/stratum/internal/raster"
	"github.com/stratumgis/stratum/internal/uri"
)

// App holds all application components.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Metrics    *metrics.Collector
	Catalog    *catalog.Client
	TileCache  *tilecache.Cache
	HTTPServer *httpAdapter.Server
	Watcher    *watcher.Watcher

	tlsConfig *tls.Config
	location  string
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config:   cfg,
		Logger:   logger,
		location: cfg.Catalog.Location,
	}

	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("stratum")
		metricsCollector = app.Metrics
	}

	client, err := catalog.NewClient(metricsCollector, logger, catalog.Config{
		DefaultPartitions: cfg.Catalog.DefaultPartitions,
		BoundsCacheSize:   cfg.Catalog.BoundsCacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing catalog client: %w", err)
	}
	app.Catalog = client

	// Backend options from configuration ride along on every catalog call.
	var served input.TileCatalog = &configuredCatalog{
		client:  app.Catalog,
		options: output.Options(cfg.Catalog.Options),
	}

	if cfg.Cache.Enabled {
		cache, err := tilecache.New(ctx, tilecache.Config{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			TTL:      cfg.Cache.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing tile cache: %w", err)
		}
		app.TileCache = cache
		served = tilecache.NewCatalog(served, cache, logger)
	}

	app.HTTPServer = httpAdapter.NewServer(
		cfg.Server,
		served,
		cfg.Catalog.Location,
		domain.SpatialType(cfg.Catalog.SpatialType),
		logger,
	)

	if app.Metrics != nil {
		app.HTTPServer.Router().Use(app.Metrics.Middleware)
		app.HTTPServer.Router().Handle(cfg.Metrics.Path, metrics.Handler())
	}

	if cfg.TLS.Enabled {
		tlsConfig, err := tlsAdapter.Configure(cfg.TLS, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing TLS: %w", err)
		}
		app.tlsConfig = tlsConfig
	}

	// Bounds invalidation on out-of-process writes is only observable for
	// file catalogs.
	if cfg.Catalog.Watch {
		if err := app.initWatcher(); err != nil {
			logger.Warn("failed to initialize catalog watcher", "error", err)
		}
	}

	return app, nil
}

// Start starts all application components.
func (a *App) Start(ctx context.Context) error {
	// Connect eagerly so a bad location fails at startup, not on the
	// first request.
	if _, err := a.Catalog.Resolve(ctx, a.location, output.Options(a.Config.Catalog.Options)); err != nil {
		return fmt.Errorf("connecting to catalog: %w", err)
	}

	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start catalog watcher", "error", err)
		}
	}

	if a.Config.TLS.Enabled && a.tlsConfig != nil {
		return a.HTTPServer.StartTLS(a.tlsConfig)
	}
	return a.HTTPServer.Start()
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}

	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", "error", err)
	}

	if a.TileCache != nil {
		if err := a.TileCache.Close(); err != nil {
			a.Logger.Error("tile cache close error", "error", err)
		}
	}

	return nil
}

// initWatcher wires a filesystem watcher that drops cached layer bounds
// when another process rewrites the catalog's metadata records.
func (a *App) initWatcher() error {
	loc, err := uri.Parse(a.location)
	if err != nil {
		return err
	}
	if loc.Kind != uri.KindFile {
		return fmt.Errorf("watch requires a file catalog, got %s", loc.Kind)
	}

	w, err := watcher.New(
		watcher.Config{Dir: filepath.Join(loc.Path, "attributes")},
		a.handleMetadataEvent,
		a.Logger,
	)
	if err != nil {
		return err
	}
	a.Watcher = w
	return nil
}

// handleMetadataEvent invalidates cached bounds for a rewritten layer.
func (a *App) handleMetadataEvent(_ context.Context, event watcher.Event) error {
	a.Catalog.InvalidateBounds(a.location, event.Layer)
	return nil
}

// configuredCatalog binds the configured backend options to every call on
// the underlying client.
type configuredCatalog struct {
	client  *catalog.Client
	options output.Options
}

func (c *configuredCatalog) Layers(ctx context.Context, location string) ([]domain.LayerID, error) {
	return c.client.LayersWithOptions(ctx, location, c.options)
}

func (c *configuredCatalog) Metadata(ctx context.Context, location string, spatialType domain.SpatialType, id domain.LayerID) (*domain.Metadata, error) {
	return c.client.MetadataWithOptions(ctx, location, spatialType, id, c.options)
}

func (c *configuredCatalog) ReadTile(ctx context.Context, location string, spatialType domain.SpatialType, id domain.LayerID, col, row int, timeLabel string) (*raster.Tile, bool, error) {
	return c.client.ReadTileWithOptions(ctx, location, spatialType, id, col, row, timeLabel, c.options)
}

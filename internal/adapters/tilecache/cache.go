// Package tilecache provides a Redis-backed read-through cache for
// single-tile reads.
package tilecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stratumgis/stratum/internal/domain"
	"github.com/stratumgis/stratum/internal/ports/input"
	"github.com/stratumgis/stratum/internal/raster"
)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Cache is a thin wrapper over one Redis client.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Cache{rdb: rdb, ttl: cfg.TTL}, nil
}

// Close releases the Redis connection pool.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// Get returns the cached payload for a key. The boolean is false on a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %s: %w", key, err)
	}
	return data, true, nil
}

// Set stores a payload under a key with the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, data []byte) error {
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

// Catalog decorates a TileCatalog with read-through tile caching. Layer
// listing and metadata pass through uncached.
type Catalog struct {
	next   input.TileCatalog
	cache  *Cache
	logger *slog.Logger
}

// NewCatalog wraps a catalog with the cache.
func NewCatalog(next input.TileCatalog, cache *Cache, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{next: next, cache: cache, logger: logger}
}

// Layers implements input.TileCatalog.
func (c *Catalog) Layers(ctx context.Context, location string) ([]domain.LayerID, error) {
	return c.next.Layers(ctx, location)
}

// Metadata implements input.TileCatalog.
func (c *Catalog) Metadata(ctx context.Context, location string, spatialType domain.SpatialType, id domain.LayerID) (*domain.Metadata, error) {
	return c.next.Metadata(ctx, location, spatialType, id)
}

// ReadTile implements input.TileCatalog. Served tiles are cached in their
// encoded form; absent results are not cached, so a later write becomes
// visible within one TTL at most. Cache failures degrade to the backend
// read.
func (c *Catalog) ReadTile(ctx context.Context, location string, spatialType domain.SpatialType, id domain.LayerID, col, row int, timeLabel string) (*raster.Tile, bool, error) {
	key := tileKey(location, id, col, row, timeLabel)

	data, hit, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("tile cache read failed", "key", key, "error", err)
	} else if hit {
		tile, err := raster.Decode(data)
		if err == nil {
			return tile, true, nil
		}
		c.logger.Warn("tile cache held undecodable payload", "key", key, "error", err)
	}

	tile, found, err := c.next.ReadTile(ctx, location, spatialType, id, col, row, timeLabel)
	if err != nil || !found {
		return tile, found, err
	}

	if encoded, err := raster.Encode(tile); err == nil {
		if err := c.cache.Set(ctx, key, encoded); err != nil {
			c.logger.Warn("tile cache write failed", "key", key, "error", err)
		}
	}
	return tile, true, nil
}

func tileKey(location string, id domain.LayerID, col, row int, timeLabel string) string {
	return fmt.Sprintf("tile:%s:%s:%d:%d:%d:%s", location, id.Name, id.Zoom, col, row, timeLabel)
}

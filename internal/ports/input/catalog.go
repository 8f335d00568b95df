// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/stratumgis/stratum/internal/domain"
	"github.com/stratumgis/stratum/internal/raster"
)

// TileCatalog defines the primary port for catalog reads, as consumed by
// the HTTP tile API and the CLI.
type TileCatalog interface {
	// Layers lists all layer identifiers at the location.
	Layers(ctx context.Context, location string) ([]domain.LayerID, error)

	// Metadata returns the parsed metadata of one layer and zoom.
	Metadata(ctx context.Context, location string, spatialType domain.SpatialType, id domain.LayerID) (*domain.Metadata, error)

	// ReadTile reads a single tile. The boolean is false when the tile is
	// absent, which is an expected result rather than an error.
	ReadTile(ctx context.Context, location string, spatialType domain.SpatialType, id domain.LayerID, col, row int, timeLabel string) (*raster.Tile, bool, error)
}

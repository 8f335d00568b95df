// Package output defines the secondary/driven ports of the catalog layer.
package output

import (
	"context"

	"github.com/stratumgis/stratum/internal/domain"
)

// Options is backend-specific configuration forwarded opaquely to backend
// factories. Recognized keys depend on the backend kind; unrecognized keys
// are ignored.
type Options map[string]string

// Option keys recognized by the built-in backends.
const (
	// OptionMaster overrides the HBase master address.
	OptionMaster = "master"
	// OptionRegion overrides the AWS region for s3 locations.
	OptionRegion = "region"
	// OptionEndpoint overrides the S3 endpoint (for S3-compatible stores).
	OptionEndpoint = "endpoint"
	// OptionAccessKeyID and OptionSecretAccessKey carry explicit AWS
	// credentials; when absent the default provider chain is used.
	OptionAccessKeyID     = "access_key_id"
	OptionSecretAccessKey = "secret_access_key"
	// OptionAccountName and OptionAccountKey carry Azure credentials.
	OptionAccountName = "account_name"
	OptionAccountKey  = "account_key"
)

// AttributeStore is the backend capability responsible for layer metadata.
type AttributeStore interface {
	// ReadMetadata returns the raw metadata record for one layer and zoom.
	// Absence of the record is domain.ErrLayerNotFound.
	ReadMetadata(ctx context.Context, spatialType domain.SpatialType, id domain.LayerID) ([]byte, error)

	// WriteMetadata persists the raw metadata record for one layer and zoom.
	WriteMetadata(ctx context.Context, spatialType domain.SpatialType, id domain.LayerID, record []byte) error

	// LayerIDs lists all (name, zoom) identifiers known to the catalog.
	LayerIDs(ctx context.Context) ([]domain.LayerID, error)
}

// LayerReader is the backend capability for bulk and filtered layer reads.
type LayerReader interface {
	// Read returns the full layer. numPartitions is a hint for backends
	// that chunk their reads; others ignore it.
	Read(ctx context.Context, spatialType domain.SpatialType, id domain.LayerID, numPartitions int) (*domain.TileLayer, error)

	// Query returns the part of the layer intersecting the WKB geometry
	// and, for spatiotemporal layers, the given time intervals. An empty
	// interval list means the full time range.
	Query(ctx context.Context, spatialType domain.SpatialType, id domain.LayerID, geomWKB []byte, timeIntervals []string, projection string, numPartitions int) (*domain.TileLayer, error)
}

// ValueReader is the backend capability for single-tile reads.
type ValueReader interface {
	// ReadTile returns the encoded payload of one tile. A missing tile is
	// domain.ErrTileNotFound. timeLabel is empty for spatial layers.
	ReadTile(ctx context.Context, spatialType domain.SpatialType, id domain.LayerID, col, row int, timeLabel string) ([]byte, error)
}

// LayerWriter is the backend capability for bulk layer writes.
type LayerWriter interface {
	// WriteSpatial persists a spatial layer under the given name and the
	// layer's zoom using the chosen indexing method.
	WriteSpatial(ctx context.Context, name string, layer *domain.TileLayer, method domain.IndexingMethod) error

	// WriteTemporal persists a spatiotemporal layer. timeUnit may be empty.
	WriteTemporal(ctx context.Context, name string, layer *domain.TileLayer, timeUnit string, method domain.IndexingMethod) error
}

// Bundle is the set of four capability handles bound to one catalog
// location. A bundle is constructed once per distinct location string and
// lives for the process lifetime.
type Bundle struct {
	Attributes AttributeStore
	Reader     LayerReader
	Values     ValueReader
	Writer     LayerWriter
}

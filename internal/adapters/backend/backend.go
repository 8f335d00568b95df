// Package backend provides the storage backend adapters behind the four
// catalog capability handles.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stratumgis/stratum/internal/domain"
	"github.com/stratumgis/stratum/internal/ports/output"
	"github.com/stratumgis/stratum/internal/uri"
)

// Connect constructs the four capability handles for a parsed location.
// The attribute store is built first; the other handles share its state
// where the backend requires it. A failure here is a backend-construction
// error: the caller must not cache the location, so a later call can retry.
func Connect(ctx context.Context, loc uri.Location, opts output.Options) (*output.Bundle, error) {
	switch loc.Kind {
	case uri.KindFile:
		return newFileBackend(loc.Path)

	case uri.KindHDFS:
		return newHDFSBackend(loc)

	case uri.KindS3:
		return newS3Backend(ctx, loc, opts)

	case uri.KindAzure:
		return newAzureBackend(loc, opts)

	case uri.KindCassandra:
		return newCassandraBackend(loc.Cassandra)

	case uri.KindHBase:
		return newHBaseBackend(loc.HBase, opts[output.OptionMaster])

	case uri.KindMBTiles:
		return newMBTilesBackend(loc.Path)

	case uri.KindAccumulo:
		// Parsed for address compatibility; no maintained native Go
		// client exists for Accumulo.
		return nil, &domain.BackendError{
			Backend:   string(uri.KindAccumulo),
			Operation: "connect",
			Err:       fmt.Errorf("no accumulo client available: %w", domain.ErrBackendUnavailable),
		}

	default:
		return nil, &domain.BackendError{
			Backend:   string(loc.Kind),
			Operation: "connect",
			Err:       domain.ErrUnsupportedBackend,
		}
	}
}

// encodeHeader serializes the per-layer write record shared by all backends.
func encodeHeader(st domain.SpatialType, timeUnit string, method domain.IndexingMethod) ([]byte, error) {
	return json.Marshal(layerHeader{
		Format:         headerFormat,
		SpatialType:    st,
		IndexingMethod: string(method),
		TimeUnit:       timeUnit,
	})
}

// isNotFound reports whether an error means the object is absent.
func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

// parseTimeLabel parses an RFC 3339 time label. The empty label is the zero
// time, used for spatial keys and for unrestricted temporal reads.
func parseTimeLabel(label string) (time.Time, error) {
	if label == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, label)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time label %q: %w", label, err)
	}
	return t, nil
}

// instantOf encodes a key time as unix milliseconds, 0 for the zero time.
func instantOf(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// timeOfInstant decodes a unix-millisecond instant, zero time for 0.
func timeOfInstant(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

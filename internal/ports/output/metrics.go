package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncTileRead increments the single-tile read counter.
	IncTileRead(layer string, outcome string)

	// IncQueryCount increments the layer query counter.
	IncQueryCount(layer string, success bool)

	// ObserveQueryDuration records layer query duration.
	ObserveQueryDuration(layer string, duration time.Duration)

	// IncBoundsCache counts bounds cache lookups by hit/miss.
	IncBoundsCache(hit bool)

	// SetCatalogsConnected sets the number of cached connection bundles.
	SetCatalogsConnected(count int)

	// IncBackendOperations increments the backend operation counter.
	IncBackendOperations(backend, operation string, success bool)

	// ObserveBackendDuration records backend operation duration.
	ObserveBackendDuration(backend, operation string, duration time.Duration)
}

// Tile read outcomes.
const (
	TileReadServed      = "served"
	TileReadOutOfBounds = "out_of_bounds"
	TileReadMissing     = "missing"
	TileReadError       = "error"
)

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncTileRead implements MetricsCollector.
func (n *NoOpMetrics) IncTileRead(_ string, _ string) {}

// IncQueryCount implements MetricsCollector.
func (n *NoOpMetrics) IncQueryCount(_ string, _ bool) {}

// ObserveQueryDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveQueryDuration(_ string, _ time.Duration) {}

// IncBoundsCache implements MetricsCollector.
func (n *NoOpMetrics) IncBoundsCache(_ bool) {}

// SetCatalogsConnected implements MetricsCollector.
func (n *NoOpMetrics) SetCatalogsConnected(_ int) {}

// IncBackendOperations implements MetricsCollector.
func (n *NoOpMetrics) IncBackendOperations(_, _ string, _ bool) {}

// ObserveBackendDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveBackendDuration(_, _ string, _ time.Duration) {}

package domain

import (
	"time"

	"github.com/stratumgis/stratum/internal/raster"
)

// IndexingMethod is the spatial-curve strategy used to linearize
// multi-dimensional keys for storage. Validity of a method for a given
// layer and backend is decided by the backend.
type IndexingMethod string

// Indexing methods.
const (
	IndexZOrder   IndexingMethod = "zorder"
	IndexHilbert  IndexingMethod = "hilbert"
	IndexRowMajor IndexingMethod = "rowmajor"
)

// TimeUnit is the temporal bucket granularity used when writing a
// spatiotemporal layer. Ignored for spatial layers.
type TimeUnit string

// Time units.
const (
	UnitMillis  TimeUnit = "millis"
	UnitSeconds TimeUnit = "seconds"
	UnitMinutes TimeUnit = "minutes"
	UnitHours   TimeUnit = "hours"
	UnitDays    TimeUnit = "days"
	UnitMonths  TimeUnit = "months"
	UnitYears   TimeUnit = "years"
)

// KeyedTile pairs a tile with its key. Time is the zero value for tiles of
// spatial layers.
type KeyedTile struct {
	Key  Key
	Time time.Time
	Tile *raster.Tile
}

// TileLayer is a named, zoom-leveled collection of spatially indexed tiles
// sharing one spatial type.
type TileLayer struct {
	Type     SpatialType
	Name     string
	Zoom     int
	Metadata *Metadata
	Tiles    []KeyedTile
}

// TileCount returns the number of tiles in the layer.
func (l *TileLayer) TileCount() int {
	return len(l.Tiles)
}

// KeyBounds computes the key range actually present in the layer. The
// second return value is false for an empty layer.
func (l *TileLayer) KeyBounds() (Bounds, bool) {
	if len(l.Tiles) == 0 {
		return Bounds{}, false
	}
	b := Bounds{MinKey: l.Tiles[0].Key, MaxKey: l.Tiles[0].Key}
	for _, kt := range l.Tiles[1:] {
		if kt.Key.Col < b.MinKey.Col {
			b.MinKey.Col = kt.Key.Col
		}
		if kt.Key.Row < b.MinKey.Row {
			b.MinKey.Row = kt.Key.Row
		}
		if kt.Key.Col > b.MaxKey.Col {
			b.MaxKey.Col = kt.Key.Col
		}
		if kt.Key.Row > b.MaxKey.Row {
			b.MaxKey.Row = kt.Key.Row
		}
	}
	if l.Type.Temporal() {
		b.MinTime = l.Tiles[0].Time
		b.MaxTime = l.Tiles[0].Time
		for _, kt := range l.Tiles[1:] {
			if kt.Time.Before(b.MinTime) {
				b.MinTime = kt.Time
			}
			if kt.Time.After(b.MaxTime) {
				b.MaxTime = kt.Time
			}
		}
	}
	return b, true
}

// Package domain contains the core catalog entities and value objects.
package domain

import (
	"fmt"
	"time"
)

// SpatialType tags a layer as purely spatial or spatiotemporal. Every tile
// within one layer shares the tag; mixing is disallowed by contract.
type SpatialType string

// Spatial type values.
const (
	Spatial        SpatialType = "spatial"
	Spatiotemporal SpatialType = "spacetime"
)

// Valid reports whether the spatial type is one of the known values.
func (t SpatialType) Valid() bool {
	return t == Spatial || t == Spatiotemporal
}

// Temporal reports whether keys of this type carry a time component.
func (t SpatialType) Temporal() bool {
	return t == Spatiotemporal
}

// LayerID identifies one zoom level of one named layer within a catalog.
type LayerID struct {
	Name string `json:"name"`
	Zoom int    `json:"zoom"`
}

// String returns a string representation of the layer identifier.
func (id LayerID) String() string {
	return fmt.Sprintf("%s@%d", id.Name, id.Zoom)
}

// Key addresses one tile within a layer's layout. Cols run west to east,
// rows run north to south.
type Key struct {
	Col int `json:"col"`
	Row int `json:"row"`
}

// String returns a string representation of the key.
func (k Key) String() string {
	return fmt.Sprintf("(%d,%d)", k.Col, k.Row)
}

// Bounds is the minimum and maximum key present in a layer, defining its
// valid addressable range. For spatiotemporal layers the time range is set.
type Bounds struct {
	MinKey  Key       `json:"minKey"`
	MaxKey  Key       `json:"maxKey"`
	MinTime time.Time `json:"minTime,omitempty"`
	MaxTime time.Time `json:"maxTime,omitempty"`
}

// Contains reports whether (col, row) falls inside the bounds on both axes.
func (b Bounds) Contains(col, row int) bool {
	if col < b.MinKey.Col || row < b.MinKey.Row {
		return false
	}
	if col > b.MaxKey.Col || row > b.MaxKey.Row {
		return false
	}
	return true
}

// IsValid reports whether the bounds describe a non-empty key range.
func (b Bounds) IsValid() bool {
	return b.MinKey.Col <= b.MaxKey.Col && b.MinKey.Row <= b.MaxKey.Row
}

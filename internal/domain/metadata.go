package domain

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Extent represents a spatial bounding box in world coordinates.
type Extent struct {
	MinX float64 `json:"xmin"`
	MinY float64 `json:"ymin"`
	MaxX float64 `json:"xmax"`
	MaxY float64 `json:"ymax"`
}

// IsValid checks if the extent has valid dimensions.
func (e Extent) IsValid() bool {
	return e.MinX <= e.MaxX && e.MinY <= e.MaxY
}

// Width returns the width of the extent.
func (e Extent) Width() float64 {
	return math.Abs(e.MaxX - e.MinX)
}

// Height returns the height of the extent.
func (e Extent) Height() float64 {
	return math.Abs(e.MaxY - e.MinY)
}

// Bound returns the extent as an orb bound.
func (e Extent) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{e.MinX, e.MinY},
		Max: orb.Point{e.MaxX, e.MaxY},
	}
}

// ToPolygon returns the extent as a closed polygon ring.
func (e Extent) ToPolygon() orb.Polygon {
	return e.Bound().ToPolygon()
}

// LayoutDefinition describes how a layer's world extent is carved into a
// grid of uniformly sized tiles.
type LayoutDefinition struct {
	Extent     Extent `json:"extent"`
	LayoutCols int    `json:"layoutCols"`
	LayoutRows int    `json:"layoutRows"`
	TileCols   int    `json:"tileCols"`
	TileRows   int    `json:"tileRows"`
}

// KeyRange maps a world-coordinate bound onto the smallest key range that
// covers it, clamped to the layout grid. Grid row 0 sits at the extent's
// north edge.
func (l LayoutDefinition) KeyRange(b orb.Bound) (Key, Key) {
	cellW := l.Extent.Width() / float64(l.LayoutCols)
	cellH := l.Extent.Height() / float64(l.LayoutRows)

	minCol := int(math.Floor((b.Min[0] - l.Extent.MinX) / cellW))
	maxCol := int(math.Floor((b.Max[0] - l.Extent.MinX) / cellW))
	minRow := int(math.Floor((l.Extent.MaxY - b.Max[1]) / cellH))
	maxRow := int(math.Floor((l.Extent.MaxY - b.Min[1]) / cellH))

	clamp := func(v, lo, hi int) int {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}

	minKey := Key{
		Col: clamp(minCol, 0, l.LayoutCols-1),
		Row: clamp(minRow, 0, l.LayoutRows-1),
	}
	maxKey := Key{
		Col: clamp(maxCol, 0, l.LayoutCols-1),
		Row: clamp(maxRow, 0, l.LayoutRows-1),
	}
	return minKey, maxKey
}

// Metadata is an immutable snapshot of a stored layer's metadata record.
type Metadata struct {
	Bounds   Bounds           `json:"bounds"`
	CRS      string           `json:"crs"`
	CellType string           `json:"cellType"`
	Layout   LayoutDefinition `json:"layoutDefinition"`
	Extent   Extent           `json:"extent"`
}

// ParseMetadata parses a raw metadata record as stored by the attribute
// store into a Metadata value.
func ParseMetadata(raw []byte) (*Metadata, error) {
	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("parsing layer metadata: %w", err)
	}
	if !md.Bounds.IsValid() {
		return nil, fmt.Errorf("parsing layer metadata: empty key bounds: %w", ErrInvalidInput)
	}
	return &md, nil
}

// Encode serializes the metadata into its stored record form.
func (m *Metadata) Encode() ([]byte, error) {
	return json.Marshal(m)
}

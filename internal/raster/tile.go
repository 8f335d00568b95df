// Package raster provides the in-memory tile representation and its wire
// encoding.
package raster

import "fmt"

// Tile is a multiband raster tile. Band cells are stored row-major as
// float64 regardless of the declared cell type; CellType records the
// storage type the backend persisted.
type Tile struct {
	Cols     int
	Rows     int
	CellType string
	NoData   float64
	Bands    [][]float64
}

// NewTile allocates a tile with the given dimensions and band count.
func NewTile(cols, rows, bands int, cellType string) *Tile {
	t := &Tile{
		Cols:     cols,
		Rows:     rows,
		CellType: cellType,
		Bands:    make([][]float64, bands),
	}
	for i := range t.Bands {
		t.Bands[i] = make([]float64, cols*rows)
	}
	return t
}

// BandCount returns the number of bands.
func (t *Tile) BandCount() int {
	return len(t.Bands)
}

// Get returns the cell value at (col, row) in the given band.
func (t *Tile) Get(band, col, row int) (float64, error) {
	if band < 0 || band >= len(t.Bands) {
		return 0, fmt.Errorf("band %d out of range [0,%d)", band, len(t.Bands))
	}
	if col < 0 || col >= t.Cols || row < 0 || row >= t.Rows {
		return 0, fmt.Errorf("cell (%d,%d) out of range %dx%d", col, row, t.Cols, t.Rows)
	}
	return t.Bands[band][row*t.Cols+col], nil
}

// Set writes the cell value at (col, row) in the given band.
func (t *Tile) Set(band, col, row int, v float64) error {
	if band < 0 || band >= len(t.Bands) {
		return fmt.Errorf("band %d out of range [0,%d)", band, len(t.Bands))
	}
	if col < 0 || col >= t.Cols || row < 0 || row >= t.Rows {
		return fmt.Errorf("cell (%d,%d) out of range %dx%d", col, row, t.Cols, t.Rows)
	}
	t.Bands[band][row*t.Cols+col] = v
	return nil
}

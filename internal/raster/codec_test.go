package raster

import (
	"errors"
	"testing"
)

func testTile() *Tile {
	t := NewTile(4, 3, 2, "float64")
	t.NoData = -9999
	for band := 0; band < 2; band++ {
		for row := 0; row < 3; row++ {
			for col := 0; col < 4; col++ {
				_ = t.Set(band, col, row, float64(band*100+row*10+col))
			}
		}
	}
	return t
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tile := testTile()

	data, err := Encode(tile)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if got.Cols != tile.Cols || got.Rows != tile.Rows {
		t.Errorf("dimensions = %dx%d, want %dx%d", got.Cols, got.Rows, tile.Cols, tile.Rows)
	}
	if got.BandCount() != tile.BandCount() {
		t.Errorf("BandCount() = %d, want %d", got.BandCount(), tile.BandCount())
	}
	if got.CellType != "float64" {
		t.Errorf("CellType = %q, want %q", got.CellType, "float64")
	}
	if got.NoData != -9999 {
		t.Errorf("NoData = %f, want -9999", got.NoData)
	}

	v, err := got.Get(1, 3, 2)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v != 123 {
		t.Errorf("Get(1,3,2) = %f, want 123", v)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	data, err := Encode(testTile())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	data[0] = 'X'

	if _, err := Decode(data); !errors.Is(err, ErrBadMagic) {
		t.Errorf("Decode error = %v, want ErrBadMagic", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	data, err := Encode(testTile())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if _, err := Decode(data[:len(data)-8]); !errors.Is(err, ErrTruncated) {
		t.Errorf("Decode error = %v, want ErrTruncated", err)
	}
}

func TestEncodeEmptyTile(t *testing.T) {
	if _, err := Encode(nil); !errors.Is(err, ErrEmptyTile) {
		t.Errorf("Encode(nil) error = %v, want ErrEmptyTile", err)
	}
	if _, err := Encode(&Tile{Cols: 4, Rows: 4}); !errors.Is(err, ErrEmptyTile) {
		t.Errorf("Encode(no bands) error = %v, want ErrEmptyTile", err)
	}
}

func TestCellAccessBounds(t *testing.T) {
	tile := NewTile(2, 2, 1, "int16")

	if _, err := tile.Get(1, 0, 0); err == nil {
		t.Error("Get with bad band should fail")
	}
	if err := tile.Set(0, 2, 0, 1); err == nil {
		t.Error("Set with out-of-range col should fail")
	}
}

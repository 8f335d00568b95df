package domain

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
)

func testLayout() LayoutDefinition {
	return LayoutDefinition{
		Extent:     Extent{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100},
		LayoutCols: 10,
		LayoutRows: 10,
		TileCols:   4,
		TileRows:   4,
	}
}

func TestExtentIsValid(t *testing.T) {
	if !(Extent{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}).IsValid() {
		t.Error("unit extent should be valid")
	}
	if (Extent{MinX: 2, MinY: 0, MaxX: 1, MaxY: 1}).IsValid() {
		t.Error("inverted extent should be invalid")
	}
	if !(Extent{}).IsValid() {
		t.Error("degenerate zero extent is still valid")
	}
}

func TestKeyRange(t *testing.T) {
	layout := testLayout()

	tests := []struct {
		name   string
		bound  orb.Bound
		minKey Key
		maxKey Key
	}{
		{
			name:   "northwest corner cell",
			bound:  orb.Bound{Min: orb.Point{1, 91}, Max: orb.Point{9, 99}},
			minKey: Key{Col: 0, Row: 0},
			maxKey: Key{Col: 0, Row: 0},
		},
		{
			name:   "southeast corner cell",
			bound:  orb.Bound{Min: orb.Point{91, 1}, Max: orb.Point{99, 9}},
			minKey: Key{Col: 9, Row: 9},
			maxKey: Key{Col: 9, Row: 9},
		},
		{
			name:   "row zero is the north edge",
			bound:  orb.Bound{Min: orb.Point{10, 75}, Max: orb.Point{30, 95}},
			minKey: Key{Col: 1, Row: 0},
			maxKey: Key{Col: 3, Row: 2},
		},
		{
			name:   "bound outside the extent clamps to the grid",
			bound:  orb.Bound{Min: orb.Point{-50, -50}, Max: orb.Point{150, 150}},
			minKey: Key{Col: 0, Row: 0},
			maxKey: Key{Col: 9, Row: 9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			minKey, maxKey := layout.KeyRange(tt.bound)
			if minKey != tt.minKey || maxKey != tt.maxKey {
				t.Errorf("KeyRange = %v..%v, want %v..%v", minKey, maxKey, tt.minKey, tt.maxKey)
			}
		})
	}
}

func TestBoundsContains(t *testing.T) {
	b := Bounds{MinKey: Key{Col: 2, Row: 3}, MaxKey: Key{Col: 5, Row: 7}}

	for _, in := range []Key{{2, 3}, {5, 7}, {3, 5}} {
		if !b.Contains(in.Col, in.Row) {
			t.Errorf("Contains(%v) = false, want true", in)
		}
	}
	for _, out := range []Key{{1, 3}, {6, 7}, {2, 2}, {5, 8}} {
		if b.Contains(out.Col, out.Row) {
			t.Errorf("Contains(%v) = true, want false", out)
		}
	}
}

func TestParseMetadataRoundTrip(t *testing.T) {
	md := &Metadata{
		Bounds: Bounds{
			MinKey: Key{Col: 0, Row: 0},
			MaxKey: Key{Col: 9, Row: 9},
		},
		CRS:      "EPSG:3857",
		CellType: "float64",
		Layout:   testLayout(),
		Extent:   Extent{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100},
	}

	raw, err := md.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	parsed, err := ParseMetadata(raw)
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}
	if *parsed != *md {
		t.Errorf("parsed = %+v, want %+v", parsed, md)
	}
}

func TestParseMetadataRejectsBadInput(t *testing.T) {
	if _, err := ParseMetadata([]byte("{not json")); err == nil {
		t.Error("malformed JSON should fail")
	}

	// A record whose key bounds are inverted is not a usable layer.
	raw, err := (&Metadata{
		Bounds: Bounds{MinKey: Key{Col: 5, Row: 5}, MaxKey: Key{Col: 1, Row: 1}},
		Layout: testLayout(),
		Extent: Extent{MaxX: 100, MaxY: 100},
	}).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := ParseMetadata(raw); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Wire format: 4-byte magic, 1-byte version, then big-endian header fields
// (cols, rows, bands as uint32, nodata as float64, cell-type string with
// uint16 length prefix) followed by bands*cols*rows float64 cells.
var magic = [4]byte{'S', 'T', 'R', '1'}

const codecVersion = 1

// Common codec errors.
var (
	ErrBadMagic    = errors.New("raster: bad magic")
	ErrBadVersion  = errors.New("raster: unsupported codec version")
	ErrTruncated   = errors.New("raster: truncated payload")
	ErrEmptyTile   = errors.New("raster: empty tile")
	ErrTileTooBig  = errors.New("raster: tile dimensions too large")
)

// maxDim bounds decoded dimensions so a corrupt header cannot drive a
// multi-gigabyte allocation.
const maxDim = 1 << 16

// Encode serializes a tile into its wire form.
func Encode(t *Tile) ([]byte, error) {
	if t == nil || t.Cols <= 0 || t.Rows <= 0 || len(t.Bands) == 0 {
		return nil, ErrEmptyTile
	}
	if len(t.CellType) > math.MaxUint16 {
		return nil, fmt.Errorf("raster: cell type name too long: %d bytes", len(t.CellType))
	}

	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(codecVersion)

	hdr := []interface{}{
		uint32(t.Cols),
		uint32(t.Rows),
		uint32(len(t.Bands)),
		t.NoData,
		uint16(len(t.CellType)),
	}
	for _, v := range hdr {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	buf.WriteString(t.CellType)

	cells := t.Cols * t.Rows
	for _, band := range t.Bands {
		if len(band) != cells {
			return nil, fmt.Errorf("raster: band has %d cells, want %d", len(band), cells)
		}
		if err := binary.Write(&buf, binary.BigEndian, band); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses a wire payload back into a tile.
func Decode(data []byte) (*Tile, error) {
	r := bytes.NewReader(data)

	var m [4]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return nil, ErrTruncated
	}
	if m != magic {
		return nil, ErrBadMagic
	}

	ver, err := r.ReadByte()
	if err != nil {
		return nil, ErrTruncated
	}
	if ver != codecVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, ver)
	}

	var cols, rows, bands uint32
	var noData float64
	var ctLen uint16
	for _, v := range []interface{}{&cols, &rows, &bands, &noData, &ctLen} {
		if err := binary.Read(r, binary.BigEndian, v); err != nil {
			return nil, ErrTruncated
		}
	}
	if cols == 0 || rows == 0 || bands == 0 {
		return nil, ErrEmptyTile
	}
	if cols > maxDim || rows > maxDim || bands > 1024 {
		return nil, ErrTileTooBig
	}

	ct := make([]byte, ctLen)
	if _, err := io.ReadFull(r, ct); err != nil {
		return nil, ErrTruncated
	}

	t := NewTile(int(cols), int(rows), int(bands), string(ct))
	t.NoData = noData
	for i := range t.Bands {
		if err := binary.Read(r, binary.BigEndian, t.Bands[i]); err != nil {
			return nil, ErrTruncated
		}
	}

	return t, nil
}

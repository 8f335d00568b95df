package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// SpatialFilter restricts a query to a spatial region. The union is closed:
// only GeometryFilter, ExtentFilter and RawWKBFilter satisfy it. A nil
// filter means the whole layer.
type SpatialFilter interface {
	spatialFilter()
}

// GeometryFilter filters by a point, polygon or multipolygon geometry.
// Any other geometry type is rejected during normalization.
type GeometryFilter struct {
	Geometry orb.Geometry
}

func (GeometryFilter) spatialFilter() {}

// ExtentFilter filters by a rectangular extent, converted to its polygon
// form before being sent to a backend.
type ExtentFilter struct {
	Extent Extent
}

func (ExtentFilter) spatialFilter() {}

// RawWKBFilter is a pre-serialized well-known-binary geometry payload,
// passed through to the backend unchanged.
type RawWKBFilter []byte

func (RawWKBFilter) spatialFilter() {}

// NormalizeFilter turns a spatial filter into its well-known-binary payload.
// A nil filter yields a nil payload. Geometries other than Point, Polygon
// and MultiPolygon fail with a FilterError.
func NormalizeFilter(f SpatialFilter) ([]byte, error) {
	switch v := f.(type) {
	case nil:
		return nil, nil
	case GeometryFilter:
		switch v.Geometry.(type) {
		case orb.Point, orb.Polygon, orb.MultiPolygon:
			return wkb.Marshal(v.Geometry)
		default:
			return nil, &FilterError{Value: v.Geometry}
		}
	case ExtentFilter:
		return wkb.Marshal(v.Extent.ToPolygon())
	case RawWKBFilter:
		return []byte(v), nil
	default:
		return nil, &FilterError{Value: f}
	}
}

// TimeInterval is a closed date-time range parsed from an ISO 8601
// "start/end" interval string.
type TimeInterval struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the interval, inclusive.
func (i TimeInterval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && !t.After(i.End)
}

// ParseTimeInterval parses an interval string of the form
// "2020-01-01T00:00:00Z/2020-12-31T00:00:00Z". A bare instant is treated
// as a degenerate interval.
func ParseTimeInterval(s string) (TimeInterval, error) {
	parts := strings.SplitN(s, "/", 2)
	start, err := time.Parse(time.RFC3339, parts[0])
	if err != nil {
		return TimeInterval{}, fmt.Errorf("parsing time interval %q: %w", s, err)
	}
	if len(parts) == 1 {
		return TimeInterval{Start: start, End: start}, nil
	}
	end, err := time.Parse(time.RFC3339, parts[1])
	if err != nil {
		return TimeInterval{}, fmt.Errorf("parsing time interval %q: %w", s, err)
	}
	if end.Before(start) {
		return TimeInterval{}, fmt.Errorf("parsing time interval %q: end before start: %w", s, ErrInvalidInput)
	}
	return TimeInterval{Start: start, End: end}, nil
}

// ParseTimeIntervals parses a list of interval strings. An empty list means
// the full time range.
func ParseTimeIntervals(ss []string) ([]TimeInterval, error) {
	intervals := make([]TimeInterval, 0, len(ss))
	for _, s := range ss {
		iv, err := ParseTimeInterval(s)
		if err != nil {
			return nil, err
		}
		intervals = append(intervals, iv)
	}
	return intervals, nil
}

// AnyIntervalContains reports whether t is inside at least one interval.
// An empty interval list matches every instant.
func AnyIntervalContains(intervals []TimeInterval, t time.Time) bool {
	if len(intervals) == 0 {
		return true
	}
	for _, iv := range intervals {
		if iv.Contains(t) {
			return true
		}
	}
	return false
}

// Package geo provides the geometric predicates the extraction pipeline
// relies on: polygon bounds, even-odd point-in-polygon, geographic extents
// in meters, and a stable spatial fingerprint for boundary polygons.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	h3 "github.com/uber/h3-go/v4"

	"github.com/slopecraft/terrain-cache/internal/core/model"
)

var ErrInvalidBoundary = errors.New("boundary requires at least 3 points")

// meters per degree of latitude under the equirectangular approximation;
// longitude scales with cos(latitude).
const metersPerDegLat = 111320.0

// fingerprint H3 resolution; ~5 km cells, coarse enough that a boundary's
// centroid cell is stable against sub-meter drawing jitter.
const fingerprintRes = 7

// PolygonBounds computes the axis-aligned bounding rectangle of a boundary.
// It fails for boundaries with fewer than 3 points or a degenerate (zero
// width or height) rectangle.
func PolygonBounds(b model.Boundary) (model.Bounds, error) {
	if len(b) < 3 {
		return model.Bounds{}, ErrInvalidBoundary
	}
	minLat, maxLat := b[0].Lat, b[0].Lat
	minLng, maxLng := b[0].Lng, b[0].Lng
	for _, c := range b[1:] {
		minLat = math.Min(minLat, c.Lat)
		maxLat = math.Max(maxLat, c.Lat)
		minLng = math.Min(minLng, c.Lng)
		maxLng = math.Max(maxLng, c.Lng)
	}
	out := model.Bounds{
		NorthEast: model.Coordinate{Lat: maxLat, Lng: maxLng},
		SouthWest: model.Coordinate{Lat: minLat, Lng: minLng},
	}
	if !out.Valid() {
		return model.Bounds{}, fmt.Errorf("%w: degenerate bounding rectangle", ErrInvalidBoundary)
	}
	return out, nil
}

// Contains reports whether p lies inside the boundary using the even-odd
// edge-crossing rule. Boundary vertices themselves count as inside.
func Contains(b model.Boundary, p model.Coordinate) bool {
	if len(b) < 3 {
		return false
	}
	for _, v := range b {
		if v.Lat == p.Lat && v.Lng == p.Lng {
			return true
		}
	}
	inside := false
	j := len(b) - 1
	for i := 0; i < len(b); i++ {
		vi, vj := b[i], b[j]
		if (vi.Lat > p.Lat) != (vj.Lat > p.Lat) {
			x := (vj.Lng-vi.Lng)*(p.Lat-vi.Lat)/(vj.Lat-vi.Lat) + vi.Lng
			if p.Lng < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// ExtentMeters converts the width and height of a geographic rectangle to
// meters using the equirectangular approximation at its mean latitude. The
// error is acceptable at ski-area scales of a few kilometers.
func ExtentMeters(b model.Bounds) (width, height float64) {
	meanLat := (b.NorthEast.Lat + b.SouthWest.Lat) / 2 * math.Pi / 180
	width = (b.NorthEast.Lng - b.SouthWest.Lng) * metersPerDegLat * math.Cos(meanLat)
	height = (b.NorthEast.Lat - b.SouthWest.Lat) * metersPerDegLat
	return width, height
}

// DistanceMeters is the equirectangular distance between two coordinates.
func DistanceMeters(a, b model.Coordinate) float64 {
	meanLat := (a.Lat + b.Lat) / 2 * math.Pi / 180
	dx := (b.Lng - a.Lng) * metersPerDegLat * math.Cos(meanLat)
	dy := (b.Lat - a.Lat) * metersPerDegLat
	return math.Sqrt(dx*dx + dy*dy)
}

// Fingerprint derives a stable identity for a boundary polygon: the H3 cell
// of its bounding-rectangle center at a coarse resolution, combined with an
// xxhash over the quantized vertices. Two geometrically identical boundaries
// always produce the same fingerprint regardless of request framing.
func Fingerprint(b model.Boundary) (string, error) {
	bounds, err := PolygonBounds(b)
	if err != nil {
		return "", err
	}
	c := bounds.Center()
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: c.Lat, Lng: c.Lng}, fingerprintRes)
	if err != nil {
		return "", fmt.Errorf("h3 cell for boundary center: %w", err)
	}

	d := xxhash.New()
	var buf [16]byte
	for _, v := range b {
		// quantize to ~1e-6 degrees (about 10 cm) so float noise does not
		// split otherwise identical boundaries
		putInt64(buf[0:8], int64(math.Round(v.Lat*1e6)))
		putInt64(buf[8:16], int64(math.Round(v.Lng*1e6)))
		_, _ = d.Write(buf[:])
	}
	return fmt.Sprintf("%s-%016x", cell.String(), d.Sum64()), nil
}

func putInt64(b []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
}

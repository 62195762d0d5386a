// Package extract clips and resamples full-area fields to the output grid
// implied by a boundary polygon.
package extract

import (
	"errors"
	"fmt"

	"github.com/slopecraft/terrain-cache/internal/core/model"
	"github.com/slopecraft/terrain-cache/internal/geo"
)

var (
	ErrInvalidBoundary    = geo.ErrInvalidBoundary
	ErrSourceAreaMismatch = errors.New("source field has zero dimensions")
)

// Elevation resamples a full-area elevation field onto a size x size grid
// spanning the boundary's bounding rectangle. Cells inside the polygon are
// sampled from the source field (nearest cell, clamped); cells of the output
// rectangle that fall outside a non-rectangular polygon take the sampled
// value of the nearest boundary vertex so the grid stays fully populated.
// The nearest-vertex fallback is a known approximation for concave
// boundaries; it biases edge values toward the silhouette.
func Elevation(src *model.ElevationField, srcBounds model.Bounds, boundary model.Boundary, size model.GridSize) (*model.ElevationField, error) {
	bb, err := geo.PolygonBounds(boundary)
	if err != nil {
		return nil, fmt.Errorf("boundary bounds: %w", err)
	}
	if src.Empty() {
		return nil, ErrSourceAreaMismatch
	}

	sample := func(c model.Coordinate) float64 {
		x, y := sourceIndex(c, srcBounds, src.Width, src.Height)
		return src.At(x, y)
	}

	n := int(size)
	out := model.NewElevationField(n, n)
	forEachCell(bb, boundary, n, func(x, y int, c model.Coordinate, inside bool) {
		if !inside {
			c = nearestVertex(boundary, c)
		}
		out.Set(x, y, sample(c))
	})
	return out, nil
}

// Surface is the SurfaceField analogue of Elevation.
func Surface(src *model.SurfaceField, srcBounds model.Bounds, boundary model.Boundary, size model.GridSize) (*model.SurfaceField, error) {
	bb, err := geo.PolygonBounds(boundary)
	if err != nil {
		return nil, fmt.Errorf("boundary bounds: %w", err)
	}
	if src.Empty() {
		return nil, ErrSourceAreaMismatch
	}

	sample := func(c model.Coordinate) model.SurfaceType {
		x, y := sourceIndex(c, srcBounds, src.Width, src.Height)
		return src.At(x, y)
	}

	n := int(size)
	out := model.NewSurfaceField(n, n)
	forEachCell(bb, boundary, n, func(x, y int, c model.Coordinate, inside bool) {
		if !inside {
			c = nearestVertex(boundary, c)
		}
		out.Set(x, y, sample(c))
	})
	return out, nil
}

// Synthetic produces a flat field at the midpoint of the area's stated
// elevation range. Used when upstream data is degenerate or missing, since
// partial terrain is preferable to no terrain.
func Synthetic(area model.SourceArea, size model.GridSize) *model.ElevationField {
	n := int(size)
	out := model.NewElevationField(n, n)
	mid := area.Elevation.Mid()
	for i := range out.Values {
		out.Values[i] = mid
	}
	return out
}

// forEachCell walks the output grid, mapping each cell to its geographic
// coordinate by linear interpolation across the boundary's bounding
// rectangle and classifying it against the polygon.
func forEachCell(bb model.Bounds, boundary model.Boundary, n int, fn func(x, y int, c model.Coordinate, inside bool)) {
	latSpan := bb.NorthEast.Lat - bb.SouthWest.Lat
	lngSpan := bb.NorthEast.Lng - bb.SouthWest.Lng
	for y := 0; y < n; y++ {
		fy := float64(y) / float64(n-1)
		for x := 0; x < n; x++ {
			fx := float64(x) / float64(n-1)
			c := model.Coordinate{
				Lat: bb.SouthWest.Lat + fy*latSpan,
				Lng: bb.SouthWest.Lng + fx*lngSpan,
			}
			fn(x, y, c, geo.Contains(boundary, c))
		}
	}
}

// sourceIndex maps a coordinate into the source field's index space by
// linear interpolation across the source area's bounds, nearest cell,
// clamped to the field extents.
func sourceIndex(c model.Coordinate, b model.Bounds, w, h int) (int, int) {
	fx := (c.Lng - b.SouthWest.Lng) / (b.NorthEast.Lng - b.SouthWest.Lng)
	fy := (c.Lat - b.SouthWest.Lat) / (b.NorthEast.Lat - b.SouthWest.Lat)
	x := clamp(int(fx*float64(w-1)+0.5), 0, w-1)
	y := clamp(int(fy*float64(h-1)+0.5), 0, h-1)
	return x, y
}

// nearestVertex picks the boundary vertex geodesically closest to c.
// Comparing in meters matters away from the equator, where a degree of
// longitude is shorter than a degree of latitude.
func nearestVertex(boundary model.Boundary, c model.Coordinate) model.Coordinate {
	best := boundary[0]
	bestD := geo.DistanceMeters(best, c)
	for _, v := range boundary[1:] {
		if d := geo.DistanceMeters(v, c); d < bestD {
			best, bestD = v, d
		}
	}
	return best
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

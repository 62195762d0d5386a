// Package classify assigns surface labels from slope and elevation analysis
// when the upstream data source supplies no labeled classification.
package classify

import (
	"math"

	"github.com/slopecraft/terrain-cache/internal/core/model"
)

// Slope thresholds in degrees and the powder band as a fraction of the
// source area's elevation range. Heuristic, not a physical simulation.
const (
	rockSlopeDeg   = 35.0
	mogulSlopeDeg  = 25.0
	powderElevFrac = 0.8
)

// Surface labels every cell of an elevation field. cellSize is the
// inter-cell spacing in meters. Pure and deterministic for a given input.
func Surface(elev *model.ElevationField, rng model.ElevationRange, cellSize float64) *model.SurfaceField {
	out := model.NewSurfaceField(elev.Width, elev.Height)
	if cellSize <= 0 {
		cellSize = 1
	}
	powderFloor := rng.Min + (rng.Max-rng.Min)*powderElevFrac

	for y := 0; y < elev.Height; y++ {
		for x := 0; x < elev.Width; x++ {
			slope := slopeDeg(elev, x, y, cellSize)
			switch {
			case slope > rockSlopeDeg:
				out.Set(x, y, model.SurfaceRock)
			case slope > mogulSlopeDeg:
				out.Set(x, y, model.SurfaceMogul)
			case elev.At(x, y) >= powderFloor:
				out.Set(x, y, model.SurfacePowder)
			default:
				out.Set(x, y, model.SurfaceGroomed)
			}
		}
	}
	return out
}

// slopeDeg estimates local slope as the maximum elevation difference to the
// 4-connected neighbors over the cell spacing, in degrees.
func slopeDeg(f *model.ElevationField, x, y int, cellSize float64) float64 {
	here := f.At(x, y)
	maxDiff := 0.0
	if x > 0 {
		maxDiff = math.Max(maxDiff, math.Abs(here-f.At(x-1, y)))
	}
	if x < f.Width-1 {
		maxDiff = math.Max(maxDiff, math.Abs(here-f.At(x+1, y)))
	}
	if y > 0 {
		maxDiff = math.Max(maxDiff, math.Abs(here-f.At(x, y-1)))
	}
	if y < f.Height-1 {
		maxDiff = math.Max(maxDiff, math.Abs(here-f.At(x, y+1)))
	}
	return math.Atan(maxDiff/cellSize) * 180 / math.Pi
}
